// Package morphology implements stateless binary-volume primitives: connected
// components, dilation, erosion, closing, hole filling and distance transforms.
//
// Every function takes its inputs explicitly and returns a freshly allocated
// result; no input grid is modified.
package morphology

import (
	"kneeseg/internal/models"
)

// Grid is a binary volume laid out like models.Volume (x fastest).
type Grid struct {
	Shape models.Shape
	Data  []bool
}

// New returns an all-false grid.
func New(shape models.Shape) *Grid {
	return &Grid{Shape: shape, Data: make([]bool, shape.Len())}
}

// FromMask selects the voxels of m carrying any of the given labels.
func FromMask(m *models.LabeledMask, labels ...models.Label) *Grid {
	g := New(m.Shape())
	for i := range g.Data {
		l := m.LabelAt(i)
		for _, want := range labels {
			if l == want {
				g.Data[i] = true
				break
			}
		}
	}
	return g
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := New(g.Shape)
	copy(out.Data, g.Data)
	return out
}

// Count returns the number of set voxels.
func (g *Grid) Count() int {
	n := 0
	for _, v := range g.Data {
		if v {
			n++
		}
	}
	return n
}

// Not returns the complement.
func Not(g *Grid) *Grid {
	out := New(g.Shape)
	for i, v := range g.Data {
		out.Data[i] = !v
	}
	return out
}

// AndNot returns a minus b.
func AndNot(a, b *Grid) *Grid {
	out := New(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] && !b.Data[i]
	}
	return out
}

// BoundingBox returns the inclusive bounds of the set voxels.
func BoundingBox(g *Grid) (lo, hi models.Index, ok bool) {
	lo = models.Index{g.Shape[0], g.Shape[1], g.Shape[2]}
	hi = models.Index{-1, -1, -1}
	for off, v := range g.Data {
		if !v {
			continue
		}
		c := g.Shape.Coord(off)
		for a := 0; a < 3; a++ {
			if c[a] < lo[a] {
				lo[a] = c[a]
			}
			if c[a] > hi[a] {
				hi[a] = c[a]
			}
		}
		ok = true
	}
	return lo, hi, ok
}

// Pad widens inclusive bounds by r voxels, clipped to the grid.
func Pad(shape models.Shape, lo, hi models.Index, r int) (models.Index, models.Index) {
	for a := 0; a < 3; a++ {
		lo[a] = max(lo[a]-r, 0)
		hi[a] = min(hi[a]+r, shape[a]-1)
	}
	return lo, hi
}

// Crop copies the inclusive box [lo, hi] into a new grid.
func Crop(g *Grid, lo, hi models.Index) *Grid {
	sub := New(models.Shape{hi[0] - lo[0] + 1, hi[1] - lo[1] + 1, hi[2] - lo[2] + 1})
	for z := 0; z < sub.Shape[2]; z++ {
		for y := 0; y < sub.Shape[1]; y++ {
			src := g.Shape.Offset(models.Index{lo[0], lo[1] + y, lo[2] + z})
			dst := sub.Shape.Offset(models.Index{0, y, z})
			copy(sub.Data[dst:dst+sub.Shape[0]], g.Data[src:src+sub.Shape[0]])
		}
	}
	return sub
}

// Uncrop places sub at lo inside an otherwise empty grid of the given shape.
func Uncrop(sub *Grid, shape models.Shape, lo models.Index) *Grid {
	out := New(shape)
	for z := 0; z < sub.Shape[2]; z++ {
		for y := 0; y < sub.Shape[1]; y++ {
			src := sub.Shape.Offset(models.Index{0, y, z})
			dst := shape.Offset(models.Index{lo[0], lo[1] + y, lo[2] + z})
			copy(out.Data[dst:dst+sub.Shape[0]], sub.Data[src:src+sub.Shape[0]])
		}
	}
	return out
}

// Neighborhood returns the offsets of the face (6) or full (26) neighbourhood.
func Neighborhood(connectivity int) []models.Index {
	var out []models.Index
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				n := abs(dx) + abs(dy) + abs(dz)
				if n == 0 || (connectivity == 6 && n > 1) {
					continue
				}
				out = append(out, models.Index{dx, dy, dz})
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
