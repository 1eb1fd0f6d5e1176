package morphology

import (
	"math"

	"kneeseg/internal/models"
)

// Ellipsoid returns the offsets of an ellipsoidal structuring element with
// per-axis radii in voxels. An axis with radius 0 is not dilated.
func Ellipsoid(radii [3]int) []models.Index {
	var out []models.Index
	for dz := -radii[2]; dz <= radii[2]; dz++ {
		for dy := -radii[1]; dy <= radii[1]; dy++ {
			for dx := -radii[0]; dx <= radii[0]; dx++ {
				if norm(dx, radii[0])+norm(dy, radii[1])+norm(dz, radii[2]) <= 1+1e-9 {
					out = append(out, models.Index{dx, dy, dz})
				}
			}
		}
	}
	return out
}

func norm(d, r int) float64 {
	if r == 0 {
		return 0
	}
	v := float64(d) / float64(r)
	return v * v
}

// Cube returns the offsets of a (2r+1)^3 box.
func Cube(r int) []models.Index {
	var out []models.Index
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				out = append(out, models.Index{dx, dy, dz})
			}
		}
	}
	return out
}

// Boundary returns the offsets of set voxels with at least one unset
// face neighbour inside the grid, in ascending order.
func Boundary(g *Grid) []int {
	nbrs := Neighborhood(6)
	var out []int
	for off, v := range g.Data {
		if !v {
			continue
		}
		c := g.Shape.Coord(off)
		for _, d := range nbrs {
			n := models.Index{c[0] + d[0], c[1] + d[1], c[2] + d[2]}
			if g.Shape.Contains(n) && !g.Data[g.Shape.Offset(n)] {
				out = append(out, off)
				break
			}
		}
	}
	return out
}

// Dilate grows g by a symmetric structuring element whose offsets are
// monotone per axis (boxes and ellipsoids). Only boundary voxels are
// painted, which yields the same result as painting every voxel for such
// elements. Voxels pushed outside the grid are clipped.
func Dilate(g *Grid, se []models.Index) *Grid {
	out := g.Clone()
	for _, off := range Boundary(g) {
		c := g.Shape.Coord(off)
		for _, d := range se {
			n := models.Index{c[0] + d[0], c[1] + d[1], c[2] + d[2]}
			if g.Shape.Contains(n) {
				out.Data[g.Shape.Offset(n)] = true
			}
		}
	}
	return out
}

// Erode shrinks g by a symmetric structuring element. Voxels outside the
// grid count as set, so erosion never eats in from the volume border.
func Erode(g *Grid, se []models.Index) *Grid {
	return Not(Dilate(Not(g), se))
}

// Close is dilation followed by erosion with a (2r+1)^3 cube. The result
// always contains g.
func Close(g *Grid, r int) *Grid {
	if r <= 0 {
		return g.Clone()
	}
	se := Cube(r)
	return Erode(Dilate(g, se), se)
}

// FillHoles sets every unset voxel that is not face-connected to the grid border.
func FillHoles(g *Grid) *Grid {
	outside := make([]bool, len(g.Data))
	var queue []int
	for off, v := range g.Data {
		if v {
			continue
		}
		c := g.Shape.Coord(off)
		for a := 0; a < 3; a++ {
			if c[a] == 0 || c[a] == g.Shape[a]-1 {
				outside[off] = true
				queue = append(queue, off)
				break
			}
		}
	}

	nbrs := Neighborhood(6)
	for len(queue) > 0 {
		off := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		c := g.Shape.Coord(off)
		for _, d := range nbrs {
			n := models.Index{c[0] + d[0], c[1] + d[1], c[2] + d[2]}
			if !g.Shape.Contains(n) {
				continue
			}
			no := g.Shape.Offset(n)
			if !g.Data[no] && !outside[no] {
				outside[no] = true
				queue = append(queue, no)
			}
		}
	}

	out := New(g.Shape)
	for i := range out.Data {
		out.Data[i] = !outside[i]
	}
	return out
}

// FillHolesSlices fills holes independently in every 2D slice perpendicular to axis.
// Marrow cavities open at the cut ends of a bone are closed within each slice
// even though they reach the volume border in 3D.
func FillHolesSlices(g *Grid, axis int) *Grid {
	u, v := (axis+1)%3, (axis+2)%3
	out := g.Clone()
	nu, nv := g.Shape[u], g.Shape[v]
	outside := make([]bool, nu*nv)
	var queue []int

	for s := 0; s < g.Shape[axis]; s++ {
		at := func(i, j int) int {
			var idx models.Index
			idx[axis], idx[u], idx[v] = s, i, j
			return g.Shape.Offset(idx)
		}
		for k := range outside {
			outside[k] = false
		}
		queue = queue[:0]
		for i := 0; i < nu; i++ {
			for j := 0; j < nv; j++ {
				if (i == 0 || j == 0 || i == nu-1 || j == nv-1) && !g.Data[at(i, j)] {
					outside[i*nv+j] = true
					queue = append(queue, i*nv+j)
				}
			}
		}
		for len(queue) > 0 {
			k := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			i, j := k/nv, k%nv
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				ni, nj := i+d[0], j+d[1]
				if ni < 0 || nj < 0 || ni >= nu || nj >= nv {
					continue
				}
				nk := ni*nv + nj
				if !outside[nk] && !g.Data[at(ni, nj)] {
					outside[nk] = true
					queue = append(queue, nk)
				}
			}
		}
		for i := 0; i < nu; i++ {
			for j := 0; j < nv; j++ {
				if !outside[i*nv+j] {
					out.Data[at(i, j)] = true
				}
			}
		}
	}
	return out
}

// DistanceTransform returns, for every set voxel, the Euclidean distance in
// mm to the nearest unset voxel; unset voxels get 0. Distances are exact and
// respect anisotropic spacing. A grid with no unset voxel yields +Inf.
func DistanceTransform(g *Grid, spacing [3]float64) []float64 {
	f := make([]float64, len(g.Data))
	for i, v := range g.Data {
		if v {
			f[i] = math.Inf(1)
		}
	}

	s := g.Shape
	longest := max(s[0], s[1], s[2])
	line := make([]float64, longest)
	out := make([]float64, longest)
	v := make([]int, longest)
	z := make([]float64, longest+1)

	for axis := 0; axis < 3; axis++ {
		u, w := (axis+1)%3, (axis+2)%3
		n := s[axis]
		for i := 0; i < s[u]; i++ {
			for j := 0; j < s[w]; j++ {
				var idx models.Index
				idx[u], idx[w] = i, j
				for k := 0; k < n; k++ {
					idx[axis] = k
					line[k] = f[s.Offset(idx)]
				}
				edt1D(line[:n], spacing[axis], out[:n], v, z)
				for k := 0; k < n; k++ {
					idx[axis] = k
					f[s.Offset(idx)] = out[k]
				}
			}
		}
	}

	for i := range f {
		f[i] = math.Sqrt(f[i])
	}
	return f
}

// edt1D computes the lower envelope of parabolas rooted at finite samples
// (Felzenszwalb & Huttenlocher), with sample positions k*step.
func edt1D(f []float64, step float64, d []float64, v []int, z []float64) {
	n := len(f)
	pos := func(q int) float64 { return float64(q) * step }
	meet := func(a, b int) float64 {
		pa, pb := pos(a), pos(b)
		return ((f[b] + pb*pb) - (f[a] + pa*pa)) / (2 * (pb - pa))
	}

	k := -1
	for q := 0; q < n; q++ {
		if math.IsInf(f[q], 1) {
			continue
		}
		s := math.Inf(-1)
		for k >= 0 {
			s = meet(v[k], q)
			if s > z[k] {
				break
			}
			k--
			s = math.Inf(-1)
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	if k < 0 {
		for q := range d {
			d[q] = math.Inf(1)
		}
		return
	}

	j := 0
	for q := 0; q < n; q++ {
		for z[j+1] < pos(q) {
			j++
		}
		dp := pos(q) - pos(v[j])
		d[q] = dp*dp + f[v[j]]
	}
}

// MaxFilter returns the running maximum of values over a (2r+1)^3 box,
// computed separably.
func MaxFilter(values []float64, shape models.Shape, r int) []float64 {
	cur := make([]float64, len(values))
	copy(cur, values)
	next := make([]float64, len(values))

	for axis := 0; axis < 3; axis++ {
		n := shape[axis]
		for off := range cur {
			c := shape.Coord(off)
			m := math.Inf(-1)
			lo, hi := max(c[axis]-r, 0), min(c[axis]+r, n-1)
			for k := lo; k <= hi; k++ {
				idx := c
				idx[axis] = k
				if v := cur[shape.Offset(idx)]; v > m {
					m = v
				}
			}
			next[off] = m
		}
		cur, next = next, cur
	}
	return cur
}
