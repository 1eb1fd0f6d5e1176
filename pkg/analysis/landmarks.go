// Package analysis locates the medial and lateral lowest points of the tibia.
package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kneeseg/internal/models"
	"kneeseg/internal/monitoring"
)

// Stage is the event stage name used by this package.
const Stage = "analysis"

// AnalysisError reports a mask variant whose landmarks cannot be located.
// Other variants are unaffected.
type AnalysisError struct {
	Mask   string
	Half   string
	Reason string
}

func (e *AnalysisError) Error() string {
	if e.Half != "" {
		return fmt.Sprintf("mask %s: %s half: %s", e.Mask, e.Half, e.Reason)
	}
	return fmt.Sprintf("mask %s: %s", e.Mask, e.Reason)
}

// Outcome is the landmark result of one mask variant.
type Outcome struct {
	Record models.LandmarkRecord

	// Err is non-nil when the variant failed; Record then carries only MaskName
	Err error
}

// half collects the tibia voxels on one side of the medial-lateral midline.
type half struct {
	name    string
	offsets []int
	sum     [3]float64
}

func (h *half) add(off int, c models.Index) {
	h.offsets = append(h.offsets, off)
	for a := 0; a < 3; a++ {
		h.sum[a] += float64(c[a])
	}
}

// lowest returns the voxel at the inferior extreme of the half. Among voxels
// on the same extreme slice, the one nearest the half's centroid wins, then
// the lowest linear offset.
func (h *half) lowest(shape models.Shape, o models.Orientation) models.Index {
	si := o.SuperiorInferiorAxis
	n := float64(len(h.offsets))
	centroid := [3]float64{h.sum[0] / n, h.sum[1] / n, h.sum[2] / n}

	best := -1
	var bestC models.Index
	var bestD float64
	for _, off := range h.offsets {
		c := shape.Coord(off)
		var d float64
		for a := 0; a < 3; a++ {
			dd := float64(c[a]) - centroid[a]
			d += dd * dd
		}
		switch {
		case best < 0,
			o.MoreInferior(c[si], bestC[si]),
			c[si] == bestC[si] && d < bestD:
			// offsets ascend, so equal distances keep the earlier voxel
			best, bestC, bestD = off, c, d
		}
	}
	return bestC
}

// LocateLandmarks finds the lowest tibia point on each side of the
// medial-lateral midline. The midline is halfway between the tibia's extreme
// ML indices; voxels strictly below it form the low half and the rest the
// high half. Which half is lateral is set by o.LateralAtLowIndex. Physical
// coordinates come from the volume's affine.
func LocateLandmarks(mask *models.LabeledMask, vol *models.Volume, o models.Orientation) (models.LandmarkRecord, error) {
	rec := models.LandmarkRecord{MaskName: mask.Name()}
	if mask.Shape() != vol.Shape() {
		return rec, &AnalysisError{Mask: mask.Name(), Reason: fmt.Sprintf("mask shape %v does not match volume %v", mask.Shape(), vol.Shape())}
	}

	shape := mask.Shape()
	ml := o.MedialLateralAxis
	tibia := mask.Offsets(models.Tibia)
	if len(tibia) == 0 {
		return rec, &AnalysisError{Mask: mask.Name(), Reason: "no tibia voxels"}
	}

	lo, hi := shape[ml], -1
	for _, off := range tibia {
		v := shape.Coord(off)[ml]
		lo, hi = min(lo, v), max(hi, v)
	}
	mid := float64(lo+hi) / 2

	low, high := &half{name: "low"}, &half{name: "high"}
	for _, off := range tibia {
		c := shape.Coord(off)
		if float64(c[ml]) < mid {
			low.add(off, c)
		} else {
			high.add(off, c)
		}
	}

	lateral, medial := low, high
	if !o.LateralAtLowIndex {
		lateral, medial = high, low
	}
	lateral.name, medial.name = "lateral", "medial"

	for _, h := range []*half{medial, lateral} {
		if len(h.offsets) == 0 {
			return rec, &AnalysisError{Mask: mask.Name(), Half: h.name, Reason: "no tibia voxels on this side of the midline"}
		}
	}

	rec.MedialVoxel = medial.lowest(shape, o)
	rec.LateralVoxel = lateral.lowest(shape, o)
	rec.MedialMM = vol.ToPhysical(rec.MedialVoxel)
	rec.LateralMM = vol.ToPhysical(rec.LateralVoxel)
	return rec, nil
}

// LocateAll runs LocateLandmarks on every mask concurrently, with at most
// workers analyses at once (no limit when workers < 1). Outcomes are
// returned in the order of masks. A failed variant records its error and
// does not stop the others; only context cancellation aborts the run.
func LocateAll(ctx context.Context, masks []*models.LabeledMask, vol *models.Volume, o models.Orientation, workers int, sink monitoring.Sink) ([]Outcome, error) {
	sink = monitoring.OrDiscard(sink)
	out := make([]Outcome, len(masks))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, m := range masks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := LocateLandmarks(m, vol, o)
			if err != nil {
				monitoring.Errorf(sink, Stage, err, "%s: landmarks not found", m.Name())
			} else {
				monitoring.Infof(sink, Stage, "%s: medial %v lateral %v", m.Name(), rec.MedialVoxel, rec.LateralVoxel)
			}
			out[i] = Outcome{Record: rec, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
