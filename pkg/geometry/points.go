// Package geometry provides nearest-neighbour queries over physical voxel positions.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Point3D represents a 3D point in millimeters
type Point3D struct {
	X, Y, Z float64
}

// Compare implements the kdtree.Comparable interface
func (p Point3D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point3D)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Point3D) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p Point3D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point3D)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// Points3D is a collection of Point3D that satisfies kdtree.Interface
type Points3D []Point3D

func (p Points3D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points3D) Len() int                              { return len(p) }
func (p Points3D) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points3D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points3D: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{Points3D: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points3D
type pointPlane struct {
	Points3D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points3D[i].X < p.Points3D[j].X
	case 1:
		return p.Points3D[i].Y < p.Points3D[j].Y
	case 2:
		return p.Points3D[i].Z < p.Points3D[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points3D: p.Points3D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points3D[i], p.Points3D[j] = p.Points3D[j], p.Points3D[i]
}

// Scaled converts a voxel index to a point using per-axis spacing.
func Scaled(x, y, z int, spacing [3]float64) Point3D {
	return Point3D{float64(x) * spacing[0], float64(y) * spacing[1], float64(z) * spacing[2]}
}

// Index answers nearest-distance queries over a fixed point set.
type Index struct {
	tree *kdtree.Tree
}

// NewIndex builds a tree over pts. The slice is reordered in place.
func NewIndex(pts Points3D) *Index {
	if len(pts) == 0 {
		return &Index{}
	}
	return &Index{tree: kdtree.New(pts, false)}
}

// Nearest returns the Euclidean distance from q to the closest indexed point,
// or +Inf when the index is empty.
func (ix *Index) Nearest(q Point3D) float64 {
	if ix.tree == nil {
		return math.Inf(1)
	}
	_, d := ix.tree.Nearest(q)
	return math.Sqrt(d)
}

// Suppressor accepts points greedily and rejects any point within a radius
// of an already accepted one. Callers feed candidates strongest first.
type Suppressor struct {
	radius float64
	tree   *kdtree.Tree
	n      int
}

// NewSuppressor creates a suppressor with the given exclusion radius in mm.
func NewSuppressor(radius float64) *Suppressor {
	return &Suppressor{radius: radius}
}

// Accept records p and returns true if no accepted point lies within the radius.
func (s *Suppressor) Accept(p Point3D) bool {
	if s.tree == nil {
		s.tree = kdtree.New(Points3D{p}, false)
		s.n = 1
		return true
	}
	if s.radius > 0 {
		_, d := s.tree.Nearest(p)
		if d < s.radius*s.radius {
			return false
		}
	}
	s.tree.Insert(p, false)
	s.n++
	return true
}

// Len returns the number of accepted points.
func (s *Suppressor) Len() int { return s.n }
