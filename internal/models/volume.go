package models

import (
	"fmt"
	"iter"
)

// Shape is the size of a voxel grid along x, y and z.
// Voxels are stored x fastest, then y, then z.
type Shape [3]int

// Index is an integer voxel coordinate (x, y, z).
type Index [3]int

// Point is a physical coordinate in millimeters.
type Point [3]float64

// Len returns the number of voxels in the grid.
func (s Shape) Len() int {
	return s[0] * s[1] * s[2]
}

// Offset returns the linear offset of a voxel index.
func (s Shape) Offset(i Index) int {
	return (i[2]*s[1]+i[1])*s[0] + i[0]
}

// Coord is the inverse of Offset.
func (s Shape) Coord(off int) Index {
	x := off % s[0]
	y := (off / s[0]) % s[1]
	z := off / (s[0] * s[1])
	return Index{x, y, z}
}

// Contains reports whether the index lies inside the grid.
func (s Shape) Contains(i Index) bool {
	for a := 0; a < 3; a++ {
		if i[a] < 0 || i[a] >= s[a] {
			return false
		}
	}
	return true
}

// Valid reports whether every extent is positive.
func (s Shape) Valid() bool {
	return s[0] > 0 && s[1] > 0 && s[2] > 0
}

// Volume is a single-channel 3D intensity grid with its voxel-to-physical transform.
// A Volume is immutable once constructed.
type Volume struct {
	// data holds the intensities, x fastest
	data []float64

	// shape is the grid size
	shape Shape

	// affine maps voxel indices to millimeters
	affine Affine
}

// NewVolume creates a volume from intensities laid out x fastest.
// The slice is copied so the caller may reuse it.
func NewVolume(data []float64, shape Shape, affine Affine) (*Volume, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("invalid volume shape %v", shape)
	}
	if len(data) != shape.Len() {
		return nil, fmt.Errorf("volume data has %d values, shape %v needs %d", len(data), shape, shape.Len())
	}
	if affine.m == nil {
		return nil, fmt.Errorf("volume affine is not initialized")
	}

	owned := make([]float64, len(data))
	copy(owned, data)

	return &Volume{data: owned, shape: shape, affine: affine}, nil
}

// Shape returns the grid size.
func (v *Volume) Shape() Shape { return v.shape }

// Affine returns the voxel-to-physical transform.
func (v *Volume) Affine() Affine { return v.affine }

// Spacing returns the voxel size in mm along each axis.
func (v *Volume) Spacing() [3]float64 { return v.affine.Spacing() }

// At returns the intensity at a voxel.
func (v *Volume) At(i Index) float64 {
	return v.data[v.shape.Offset(i)]
}

// All iterates over the voxels as (linear offset, intensity) pairs without
// copying the grid.
func (v *Volume) All() iter.Seq2[int, float64] {
	return func(yield func(int, float64) bool) {
		for off, x := range v.data {
			if !yield(off, x) {
				return
			}
		}
	}
}

// ToPhysical maps a voxel index to millimeters.
func (v *Volume) ToPhysical(i Index) Point {
	return v.affine.Apply(Point{float64(i[0]), float64(i[1]), float64(i[2])})
}
