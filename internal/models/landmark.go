package models

// LandmarkRecord holds the medial and lateral lowest tibia points of one mask variant.
type LandmarkRecord struct {
	MaskName string

	MedialVoxel  Index
	LateralVoxel Index

	MedialMM  Point
	LateralMM Point
}

// Orientation describes how anatomical directions map onto grid axes.
type Orientation struct {
	// SuperiorInferiorAxis is the grid axis running from foot to head.
	SuperiorInferiorAxis int `yaml:"superiorInferiorAxis"`

	// MedialLateralAxis is the horizontal axis across the knee.
	MedialLateralAxis int `yaml:"medialLateralAxis"`

	// SuperiorAtHighIndex is true when larger indices along the SI axis are more superior.
	SuperiorAtHighIndex bool `yaml:"superiorAtHighIndex"`

	// LateralAtLowIndex is true when the lower-index half along the ML axis is lateral.
	LateralAtLowIndex bool `yaml:"lateralAtLowIndex"`
}

// DefaultOrientation is z superior-inferior, x medial-lateral, lower x lateral.
func DefaultOrientation() Orientation {
	return Orientation{
		SuperiorInferiorAxis: 2,
		MedialLateralAxis:    0,
		SuperiorAtHighIndex:  true,
		LateralAtLowIndex:    true,
	}
}

// Valid reports whether both axes are distinct grid axes.
func (o Orientation) Valid() bool {
	in := func(a int) bool { return a >= 0 && a < 3 }
	return in(o.SuperiorInferiorAxis) && in(o.MedialLateralAxis) && o.SuperiorInferiorAxis != o.MedialLateralAxis
}

// AnteriorPosteriorAxis returns the remaining grid axis.
func (o Orientation) AnteriorPosteriorAxis() int {
	return 3 - o.SuperiorInferiorAxis - o.MedialLateralAxis
}

// MoreInferior reports whether SI coordinate a lies below b.
func (o Orientation) MoreInferior(a, b int) bool {
	if o.SuperiorAtHighIndex {
		return a < b
	}
	return a > b
}
