package segmentation

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// smoothProfile convolves p with a normalized Gaussian truncated at 4 sigma,
// reflecting the signal at both ends. The convolution runs in the frequency
// domain.
func smoothProfile(p []float64, sigma float64) []float64 {
	n := len(p)
	if n == 0 {
		return nil
	}

	r := int(math.Ceil(4 * sigma))
	kernel := make([]float64, 2*r+1)
	var sum float64
	for i := range kernel {
		x := float64(i - r)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	// reflected copy: d c b a | a b c d | d c b a
	padded := n + 2*r
	size := padded + len(kernel) - 1
	signal := make([]float64, size)
	for j := 0; j < padded; j++ {
		signal[j] = p[mirror(j-r, n)]
	}
	filter := make([]float64, size)
	copy(filter, kernel)

	fft := fourier.NewFFT(size)
	cs := fft.Coefficients(nil, signal)
	cf := fft.Coefficients(nil, filter)
	for i := range cs {
		cs[i] *= cf[i]
	}
	full := fft.Sequence(nil, cs)

	out := make([]float64, n)
	for i := range out {
		out[i] = full[i+2*r] / float64(size)
	}
	return out
}

// mirror folds an index into [0, n) with edge-repeating reflection.
func mirror(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// jointPlane returns the deepest strict local minimum of the profile within
// its middle third, or the midpoint when there is none.
func jointPlane(profile []float64) int {
	n := len(profile)
	start, end := n/3, 2*n/3
	best := -1
	for j := max(start, 1); j < end && j < n-1; j++ {
		if profile[j] < profile[j-1] && profile[j] < profile[j+1] {
			if best < 0 || profile[j] < profile[best] {
				best = j
			}
		}
	}
	if best < 0 {
		return n / 2
	}
	return best
}
