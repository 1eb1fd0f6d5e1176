package models

import (
	"fmt"
)

// Label is the anatomical class of a voxel in a LabeledMask.
type Label uint8

const (
	Background Label = 0
	Femur      Label = 1
	Tibia      Label = 2
)

// String returns the lowercase label name.
func (l Label) String() string {
	switch l {
	case Background:
		return "background"
	case Femur:
		return "femur"
	case Tibia:
		return "tibia"
	default:
		return fmt.Sprintf("label(%d)", uint8(l))
	}
}

// Bones lists the non-background labels in processing order.
var Bones = []Label{Femur, Tibia}

// Canonical mask variant names.
const (
	MaskOriginal    = "original"
	MaskExpanded2mm = "expanded_2mm"
	MaskExpanded4mm = "expanded_4mm"
	MaskRandom1     = "random_1"
	MaskRandom2     = "random_2"
)

// LabeledMask is a named label grid sharing the shape and affine of its source volume.
// It is never modified after construction; derive new masks instead.
type LabeledMask struct {
	name   string
	shape  Shape
	labels []Label
	affine Affine
}

// NewLabeledMask validates and wraps a label grid.
// The mask takes ownership of labels; callers must not modify the slice afterwards.
func NewLabeledMask(name string, shape Shape, labels []Label, affine Affine) (*LabeledMask, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("mask %q: invalid shape %v", name, shape)
	}
	if len(labels) != shape.Len() {
		return nil, fmt.Errorf("mask %q: %d labels for shape %v", name, len(labels), shape)
	}
	for i, l := range labels {
		if l > Tibia {
			return nil, fmt.Errorf("mask %q: label %d at voxel %v is outside {0,1,2}", name, l, shape.Coord(i))
		}
	}
	return &LabeledMask{name: name, shape: shape, labels: labels, affine: affine}, nil
}

// EmptyMask returns an all-background mask.
func EmptyMask(name string, shape Shape, affine Affine) *LabeledMask {
	return &LabeledMask{name: name, shape: shape, labels: make([]Label, shape.Len()), affine: affine}
}

// Name returns the variant identifier.
func (m *LabeledMask) Name() string { return m.name }

// Shape returns the grid size.
func (m *LabeledMask) Shape() Shape { return m.shape }

// Affine returns the transform inherited from the source volume.
func (m *LabeledMask) Affine() Affine { return m.affine }

// Len returns the number of voxels.
func (m *LabeledMask) Len() int { return len(m.labels) }

// At returns the label at a voxel index.
func (m *LabeledMask) At(i Index) Label {
	return m.labels[m.shape.Offset(i)]
}

// LabelAt returns the label at a linear offset.
func (m *LabeledMask) LabelAt(off int) Label {
	return m.labels[off]
}

// Labels returns a copy of the label grid.
func (m *LabeledMask) Labels() []Label {
	out := make([]Label, len(m.labels))
	copy(out, m.labels)
	return out
}

// Count returns the number of voxels carrying label l.
func (m *LabeledMask) Count(l Label) int {
	n := 0
	for _, v := range m.labels {
		if v == l {
			n++
		}
	}
	return n
}

// Offsets returns the linear offsets of all voxels carrying label l, ascending.
func (m *LabeledMask) Offsets(l Label) []int {
	var out []int
	for i, v := range m.labels {
		if v == l {
			out = append(out, i)
		}
	}
	return out
}

// Rename returns a copy of the mask under a new name.
func (m *LabeledMask) Rename(name string) *LabeledMask {
	return &LabeledMask{name: name, shape: m.shape, labels: m.Labels(), affine: m.affine}
}

// Equal reports whether two masks have identical shape and labels. Names are ignored.
func (m *LabeledMask) Equal(o *LabeledMask) bool {
	if m.shape != o.shape {
		return false
	}
	for i := range m.labels {
		if m.labels[i] != o.labels[i] {
			return false
		}
	}
	return true
}
