// Package segmentation turns a CT intensity volume into a femur/tibia label mask.
//
// Bone is separated from soft tissue with an Otsu threshold computed over
// body voxels only, so the air around the limb does not pull the threshold
// down to the skin. The bone mask is split into regions by a marker-based
// watershed on its distance map, each region is cleaned up morphologically,
// and the two largest surviving components are labelled by their position
// along the superior-inferior axis. When fewer than two components survive,
// a joint-plane split of the bone profile can be used instead.
package segmentation

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"kneeseg/internal/models"
	"kneeseg/internal/monitoring"
	"kneeseg/pkg/config"
	"kneeseg/pkg/morphology"
)

// Stage is the event stage name used by the segmenter.
const Stage = "segmentation"

// ErrInsufficientBone is attached to warnings about small or missing bones.
var ErrInsufficientBone = errors.New("insufficient bone volume")

// Params holds the segmentation parameters.
type Params struct {
	config.Segmentation

	// Orientation decides which component is the femur
	Orientation models.Orientation
}

// Segmenter labels femur and tibia in a volume.
type Segmenter struct {
	params Params
	sink   monitoring.Sink
}

// NewSegmenter creates a segmenter. A nil sink discards events.
func NewSegmenter(params Params, sink monitoring.Sink) *Segmenter {
	return &Segmenter{params: params, sink: monitoring.OrDiscard(sink)}
}

// Segment is shorthand for NewSegmenter(p, sink).Segment(vol).
func Segment(vol *models.Volume, p Params, sink monitoring.Sink) (*models.LabeledMask, error) {
	return NewSegmenter(p, sink).Segment(vol)
}

// bone is one candidate component, as ascending linear offsets.
type bone struct {
	offsets []int
}

// Segment returns the "original" mask of vol. It fails with a
// *SegmentationError when femur and tibia cannot both be found.
func (s *Segmenter) Segment(vol *models.Volume) (*models.LabeledMask, error) {
	p := s.params
	shape := vol.Shape()
	spacing := vol.Spacing()
	si := p.Orientation.SuperiorInferiorAxis

	thr, err := otsu(bodyValues(vol, p.BodyThresholdHU), p.HistogramBins)
	if errors.Is(err, errNoValues) {
		return nil, &SegmentationError{Step: "threshold", Detail: "no voxel above the body threshold"}
	}
	if err != nil {
		return nil, errors.Wrap(err, "threshold")
	}
	mask := morphology.New(shape)
	for off, v := range vol.All() {
		mask.Data[off] = v > thr
	}
	monitoring.Infof(s.sink, Stage, "otsu threshold %.2f, %d bone voxels", thr, mask.Count())
	if mask.Count() == 0 {
		return nil, &SegmentationError{Step: "threshold", Detail: "no voxel above the bone threshold"}
	}

	// marrow cavities would otherwise split a bone into a cortical shell
	filled := morphology.FillHolesSlices(mask, si)
	dist := morphology.DistanceTransform(filled, spacing)

	markers := findMarkers(dist, shape, p.MarkerRadius, p.MinPeakSeparationMM, spacing)
	basins := flood(dist, filled, markers)
	regions, n := mergeBasins(basins, dist, shape, markers, p.MergeRatio)
	monitoring.Infof(s.sink, Stage, "%d watershed seeds merged into %d regions", len(markers), n)

	var cands []bone
	for r := int32(1); r <= int32(n); r++ {
		cands = append(cands, s.cleanRegion(morphology.Select(shape, regions, r))...)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if len(cands[i].offsets) != len(cands[j].offsets) {
			return len(cands[i].offsets) > len(cands[j].offsets)
		}
		return cands[i].offsets[0] < cands[j].offsets[0]
	})

	if len(cands) < 2 {
		monitoring.Warnf(s.sink, Stage, ErrInsufficientBone, "watershed found %d bone component(s)", len(cands))
		if !p.JointFallback {
			return nil, &SegmentationError{Step: "watershed", Components: len(cands)}
		}
		return s.fallback(filled, vol)
	}

	return s.label(cands[0], cands[1], vol)
}

// cleanRegion removes small fragments from one watershed region, closes and
// fills it, and returns its remaining 26-connected components. Work is done
// on a padded crop around the region.
func (s *Segmenter) cleanRegion(region *morphology.Grid) []bone {
	lo, hi, ok := morphology.BoundingBox(region)
	if !ok {
		return nil
	}
	lo, hi = morphology.Pad(region.Shape, lo, hi, s.params.ClosingRadius+1)
	sub := morphology.Crop(region, lo, hi)

	sub = morphology.RemoveSmall(sub, s.params.MinComponentVoxels, 26)
	sub = morphology.Close(sub, s.params.ClosingRadius)
	sub = morphology.FillHoles(sub)

	full := morphology.Uncrop(sub, region.Shape, lo)
	labels, comps := morphology.Components(full, 26)
	out := make([]bone, len(comps))
	for i := range out {
		out[i].offsets = make([]int, 0, comps[i].Size)
	}
	for off, l := range labels {
		if l != 0 {
			out[l-1].offsets = append(out[l-1].offsets, off)
		}
	}
	return out
}

// label paints two components into a mask. The component whose centroid
// lies further superior becomes the femur. Where the two overlap, the voxel
// keeps the label painted first.
func (s *Segmenter) label(a, b bone, vol *models.Volume) (*models.LabeledMask, error) {
	o := s.params.Orientation
	shape := vol.Shape()

	ca, cb := s.centroid(a, shape), s.centroid(b, shape)
	femur, tibia := a, b
	if (o.SuperiorAtHighIndex && cb > ca) || (!o.SuperiorAtHighIndex && cb < ca) {
		femur, tibia = b, a
	}

	labels := make([]models.Label, shape.Len())
	for _, off := range femur.offsets {
		labels[off] = models.Femur
	}
	for _, off := range tibia.offsets {
		if labels[off] == models.Background {
			labels[off] = models.Tibia
		}
	}

	mask, err := models.NewLabeledMask(models.MaskOriginal, shape, labels, vol.Affine())
	if err != nil {
		return nil, errors.Wrap(err, "label")
	}
	s.checkVolume(mask)
	return mask, nil
}

// centroid returns the mean SI coordinate of a component.
func (s *Segmenter) centroid(b bone, shape models.Shape) float64 {
	axis := s.params.Orientation.SuperiorInferiorAxis
	coords := make([]float64, len(b.offsets))
	for i, off := range b.offsets {
		coords[i] = float64(shape.Coord(off)[axis])
	}
	return stat.Mean(coords, nil)
}

// checkVolume warns about labels with fewer voxels than MinBoneVoxels.
func (s *Segmenter) checkVolume(mask *models.LabeledMask) {
	for _, l := range models.Bones {
		n := mask.Count(l)
		monitoring.Infof(s.sink, Stage, "%s: %d voxels", l, n)
		if n < s.params.MinBoneVoxels {
			monitoring.Warnf(s.sink, Stage, ErrInsufficientBone, "%s has %d voxels, expected at least %d", l, n, s.params.MinBoneVoxels)
		}
	}
}

// fallback splits the bone mask at the joint plane: the slice along the SI
// axis where the smoothed bone profile has its deepest minimum. The superior
// side becomes the femur and the rest the tibia.
func (s *Segmenter) fallback(mask *morphology.Grid, vol *models.Volume) (*models.LabeledMask, error) {
	o := s.params.Orientation
	shape := mask.Shape
	si := o.SuperiorInferiorAxis

	profile := make([]float64, shape[si])
	for off, v := range mask.Data {
		if v {
			profile[shape.Coord(off)[si]]++
		}
	}
	plane := jointPlane(smoothProfile(profile, s.params.FallbackSigma))
	monitoring.Infof(s.sink, Stage, "joint-plane fallback splits at slice %d", plane)

	sup, inf := morphology.New(shape), morphology.New(shape)
	for off, v := range mask.Data {
		if !v {
			continue
		}
		if o.MoreInferior(plane, shape.Coord(off)[si]) {
			sup.Data[off] = true
		} else {
			inf.Data[off] = true
		}
	}

	parts := make([]bone, 2)
	for i, g := range []*morphology.Grid{sup, inf} {
		g = morphology.RemoveSmall(g, s.params.MinComponentVoxels, 26)
		g = morphology.Close(g, s.params.ClosingRadius)
		g = morphology.KeepLargest(g, 26)
		for off, v := range g.Data {
			if v {
				parts[i].offsets = append(parts[i].offsets, off)
			}
		}
	}

	found := 0
	for _, b := range parts {
		if len(b.offsets) > 0 {
			found++
		}
	}
	if found < 2 {
		return nil, &SegmentationError{Step: "joint-plane fallback", Components: found, Detail: "bone on one side of the joint plane is missing"}
	}
	return s.label(parts[0], parts[1], vol)
}
