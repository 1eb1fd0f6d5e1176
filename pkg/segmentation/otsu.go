package segmentation

import (
	"iter"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"kneeseg/internal/models"
)

// errNoValues is returned when there is nothing to threshold.
var errNoValues = errors.New("otsu: no values")

// OtsuThreshold returns the intensity that maximizes the between-class
// variance of a bins-bucket histogram of values. Voxels strictly above the
// threshold belong to the bright class. The threshold is the center of the
// last bin of the dark class.
func OtsuThreshold(values []float64, bins int) (float64, error) {
	return otsu(slices.Values(values), bins)
}

// otsu computes the threshold over values in two passes, one for the range
// and one for the histogram, so callers can filter without copying.
func otsu(values iter.Seq[float64], bins int) (float64, error) {
	if bins < 2 {
		return 0, errors.Errorf("otsu: need at least 2 bins, got %d", bins)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}
	if lo > hi {
		return 0, errNoValues
	}
	if lo == hi {
		return lo, nil
	}

	edges := make([]float64, bins+1)
	floats.Span(edges, lo, hi)
	width := (hi - lo) / float64(bins)

	counts := make([]float64, bins)
	for v := range values {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
	}

	centers := make([]float64, bins)
	for i := range centers {
		centers[i] = (edges[i] + edges[i+1]) / 2
	}

	total := floats.Sum(counts)
	sumAll := floats.Dot(counts, centers)

	var wDark, sumDark float64
	best, bestVar := 0, -1.0
	for i := 0; i < bins-1; i++ {
		wDark += counts[i]
		sumDark += counts[i] * centers[i]
		wBright := total - wDark
		if wDark == 0 || wBright == 0 {
			continue
		}
		meanDark := sumDark / wDark
		meanBright := (sumAll - sumDark) / wBright
		d := meanDark - meanBright
		if v := wDark * wBright * d * d; v > bestVar {
			best, bestVar = i, v
		}
	}

	return centers[best], nil
}

// bodyValues yields the intensities of vol above floor. Air around the limb
// is excluded so the threshold separates bone from soft tissue.
func bodyValues(vol *models.Volume, floor float64) iter.Seq[float64] {
	return func(yield func(float64) bool) {
		for _, v := range vol.All() {
			if v > floor && !yield(v) {
				return
			}
		}
	}
}
