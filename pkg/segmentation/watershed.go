package segmentation

import (
	"container/heap"
	"sort"

	"kneeseg/internal/models"
	"kneeseg/pkg/geometry"
	"kneeseg/pkg/morphology"
)

// findMarkers returns watershed seeds: local maxima of the distance map
// within a (2r+1)^3 footprint, strongest first, with any seed closer than
// sepMM to a stronger one suppressed.
func findMarkers(dist []float64, shape models.Shape, r int, sepMM float64, spacing [3]float64) []int {
	peaks := morphology.MaxFilter(dist, shape, r)

	var cands []int
	for off, d := range dist {
		if d > 0 && d == peaks[off] {
			cands = append(cands, off)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return dist[cands[i]] > dist[cands[j]]
	})

	sup := geometry.NewSuppressor(sepMM)
	var markers []int
	for _, off := range cands {
		c := shape.Coord(off)
		if sup.Accept(geometry.Scaled(c[0], c[1], c[2], spacing)) {
			markers = append(markers, off)
		}
	}
	return markers
}

type floodItem struct {
	off  int
	prio float64
	seq  int
}

// floodQueue pops the highest distance first; equal distances pop in push order.
type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].prio != q[j].prio {
		return q[i].prio > q[j].prio
	}
	return q[i].seq < q[j].seq
}
func (q floodQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() interface{} {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// flood grows one basin per marker over the bone mask, descending the
// distance map. Marker i gets basin id i+1; unreached voxels stay 0.
func flood(dist []float64, bone *morphology.Grid, markers []int) []int32 {
	shape := bone.Shape
	basins := make([]int32, len(bone.Data))
	q := &floodQueue{}
	seq := 0

	for i, off := range markers {
		basins[off] = int32(i + 1)
		heap.Push(q, floodItem{off: off, prio: dist[off], seq: seq})
		seq++
	}

	nbrs := morphology.Neighborhood(6)
	for q.Len() > 0 {
		it := heap.Pop(q).(floodItem)
		c := shape.Coord(it.off)
		for _, d := range nbrs {
			n := models.Index{c[0] + d[0], c[1] + d[1], c[2] + d[2]}
			if !shape.Contains(n) {
				continue
			}
			no := shape.Offset(n)
			if !bone.Data[no] || basins[no] != 0 {
				continue
			}
			basins[no] = basins[it.off]
			heap.Push(q, floodItem{off: no, prio: dist[no], seq: seq})
			seq++
		}
	}
	return basins
}

type basinEdge struct {
	a, b   int32
	saddle float64
}

// mergeBasins joins adjacent basins separated by a shallow saddle: the pair
// is merged when the highest distance along their shared boundary reaches
// ratio times the smaller of the two peaks. Long bones produce several
// seeds along the shaft with high saddles between them; the joint between
// femur and tibia is a narrow neck with a low saddle. Returns the relabeled
// grid (ids compacted from 1 in order of first voxel) and the region count.
func mergeBasins(basins []int32, dist []float64, shape models.Shape, markers []int, ratio float64) ([]int32, int) {
	n := len(markers)
	peak := make([]float64, n+1)
	for i, off := range markers {
		peak[i+1] = dist[off]
	}

	saddles := map[[2]int32]float64{}
	for off, a := range basins {
		if a == 0 {
			continue
		}
		c := shape.Coord(off)
		for axis := 0; axis < 3; axis++ {
			nb := c
			nb[axis]++
			if nb[axis] >= shape[axis] {
				continue
			}
			no := shape.Offset(nb)
			b := basins[no]
			if b == 0 || b == a {
				continue
			}
			key := [2]int32{min(a, b), max(a, b)}
			s := min(dist[off], dist[no])
			if s > saddles[key] {
				saddles[key] = s
			}
		}
	}

	edges := make([]basinEdge, 0, len(saddles))
	for k, s := range saddles {
		edges = append(edges, basinEdge{a: k[0], b: k[1], saddle: s})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].saddle != edges[j].saddle {
			return edges[i].saddle > edges[j].saddle
		}
		if edges[i].a != edges[j].a {
			return edges[i].a < edges[j].a
		}
		return edges[i].b < edges[j].b
	})

	parent := make([]int32, n+1)
	for i := range parent {
		parent[i] = int32(i)
	}
	var find func(int32) int32
	find = func(x int32) int32 {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		if ra == rb {
			continue
		}
		if e.saddle >= ratio*min(peak[ra], peak[rb]) {
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
			peak[ra] = max(peak[ra], peak[rb])
		}
	}

	remap := map[int32]int32{}
	out := make([]int32, len(basins))
	for off, a := range basins {
		if a == 0 {
			continue
		}
		r := find(a)
		id, ok := remap[r]
		if !ok {
			id = int32(len(remap) + 1)
			remap[r] = id
		}
		out[off] = id
	}
	return out, len(remap)
}
