package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is an invertible 4x4 voxel-to-physical transform.
// The zero value is not usable; construct with NewAffine or DiagonalAffine.
type Affine struct {
	m   *mat.Dense
	inv *mat.Dense
}

// NewAffine builds a transform from a row-major 4x4 matrix.
// The bottom row must be (0, 0, 0, 1) and the matrix must be invertible.
func NewAffine(rows [4][4]float64) (Affine, error) {
	if rows[3] != [4]float64{0, 0, 0, 1} {
		return Affine{}, fmt.Errorf("affine bottom row must be (0 0 0 1), got %v", rows[3])
	}

	data := make([]float64, 0, 16)
	for _, r := range rows {
		for _, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Affine{}, fmt.Errorf("affine contains non-finite value %v", v)
			}
			data = append(data, v)
		}
	}

	m := mat.NewDense(4, 4, data)
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Affine{}, fmt.Errorf("affine is not invertible: %w", err)
	}

	return Affine{m: m, inv: &inv}, nil
}

// DiagonalAffine builds a scale-and-offset transform: mm = voxel*spacing + origin.
func DiagonalAffine(spacing [3]float64, origin Point) (Affine, error) {
	return NewAffine([4][4]float64{
		{spacing[0], 0, 0, origin[0]},
		{0, spacing[1], 0, origin[1]},
		{0, 0, spacing[2], origin[2]},
		{0, 0, 0, 1},
	})
}

// Apply maps a (possibly fractional) voxel coordinate to millimeters.
func (a Affine) Apply(p Point) Point {
	return transform(a.m, p)
}

// Invert maps a physical coordinate back to voxel space.
func (a Affine) Invert(p Point) Point {
	return transform(a.inv, p)
}

// Spacing returns the voxel size along each axis, taken as the norm of
// each column of the rotation-scale block.
func (a Affine) Spacing() [3]float64 {
	var s [3]float64
	for c := 0; c < 3; c++ {
		var sum float64
		for r := 0; r < 3; r++ {
			v := a.m.At(r, c)
			sum += v * v
		}
		s[c] = math.Sqrt(sum)
	}
	return s
}

// Matrix returns the transform as a row-major array.
func (a Affine) Matrix() [4][4]float64 {
	var out [4][4]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r][c] = a.m.At(r, c)
		}
	}
	return out
}

func transform(m *mat.Dense, p Point) Point {
	in := mat.NewVecDense(4, []float64{p[0], p[1], p[2], 1})
	var out mat.VecDense
	out.MulVec(m, in)
	return Point{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}
