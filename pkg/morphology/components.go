package morphology

import (
	"sort"

	"kneeseg/internal/models"
)

// Component is one connected region of a Grid.
type Component struct {
	// Label is the 1-based component id in the Components label grid
	Label int32

	// Size is the voxel count
	Size int

	// First is the smallest linear offset in the component
	First int
}

// Components labels the connected regions of g. Labels are assigned in
// ascending order of each component's first voxel, so the result is
// deterministic. The returned grid holds 0 for unset voxels.
func Components(g *Grid, connectivity int) ([]int32, []Component) {
	labels := make([]int32, len(g.Data))
	nbrs := Neighborhood(connectivity)
	var comps []Component
	var queue []int

	for start, set := range g.Data {
		if !set || labels[start] != 0 {
			continue
		}

		id := int32(len(comps) + 1)
		labels[start] = id
		queue = append(queue[:0], start)
		size := 0

		for len(queue) > 0 {
			off := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			size++

			c := g.Shape.Coord(off)
			for _, d := range nbrs {
				n := models.Index{c[0] + d[0], c[1] + d[1], c[2] + d[2]}
				if !g.Shape.Contains(n) {
					continue
				}
				no := g.Shape.Offset(n)
				if g.Data[no] && labels[no] == 0 {
					labels[no] = id
					queue = append(queue, no)
				}
			}
		}

		comps = append(comps, Component{Label: id, Size: size, First: start})
	}

	return labels, comps
}

// Select returns the voxels of one component.
func Select(shape models.Shape, labels []int32, id int32) *Grid {
	out := New(shape)
	for i, l := range labels {
		out.Data[i] = l == id
	}
	return out
}

// RemoveSmall drops components with fewer than minSize voxels.
func RemoveSmall(g *Grid, minSize, connectivity int) *Grid {
	labels, comps := Components(g, connectivity)
	keep := make([]bool, len(comps)+1)
	for _, c := range comps {
		keep[c.Label] = c.Size >= minSize
	}

	out := New(g.Shape)
	for i, l := range labels {
		out.Data[i] = l != 0 && keep[l]
	}
	return out
}

// BySize orders components largest first; equal sizes keep first-voxel order.
func BySize(comps []Component) []Component {
	out := make([]Component, len(comps))
	copy(out, comps)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].First < out[j].First
	})
	return out
}

// KeepLargest keeps only the largest component of g.
func KeepLargest(g *Grid, connectivity int) *Grid {
	labels, comps := Components(g, connectivity)
	if len(comps) == 0 {
		return New(g.Shape)
	}
	return Select(g.Shape, labels, BySize(comps)[0].Label)
}
