// Package variants derives expanded and randomized copies of a bone mask.
//
// Expansions grow femur and tibia by a physical distance; randomized variants
// keep a seeded random share of the voxels an expansion added. Every variant
// keeps the original bone voxels unchanged.
package variants

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"kneeseg/internal/models"
	"kneeseg/internal/monitoring"
	"kneeseg/pkg/config"
	"kneeseg/pkg/geometry"
	"kneeseg/pkg/morphology"
)

// Stage is the event stage name used by this package.
const Stage = "variants"

// ExpandedName returns the canonical name of an expansion by mm millimeters.
func ExpandedName(mm float64) string {
	return "expanded_" + strconv.FormatFloat(mm, 'f', -1, 64) + "mm"
}

// RandomName returns the canonical name of the i-th (0-based) randomized variant.
func RandomName(i int) string {
	return fmt.Sprintf("random_%d", i+1)
}

// Radius converts a physical distance to per-axis voxel radii.
func Radius(mm float64, spacing [3]float64) [3]int {
	var r [3]int
	for a := range r {
		r[a] = int(math.Ceil(mm / spacing[a]))
	}
	return r
}

// Expand grows femur and tibia of mask by mm millimeters using an
// ellipsoidal element scaled to the voxel spacing. Original bone voxels keep
// their label. A background voxel reached by both bones goes to the one whose
// original surface is nearer in mm; exact ties go to the tibia.
//
// A distance that rounds to a zero radius on every axis returns a copy of
// the mask and emits an ExpansionWarning. Negative or non-finite distances
// fail with a *config.ConfigurationError.
func Expand(mask *models.LabeledMask, mm float64, spacing [3]float64, name string, sink monitoring.Sink) (*models.LabeledMask, error) {
	sink = monitoring.OrDiscard(sink)
	if err := config.ValidateDistance(mm); err != nil {
		return nil, err
	}

	radius := Radius(mm, spacing)
	if radius == [3]int{} {
		monitoring.Warnf(sink, Stage, &ExpansionWarning{Name: name, MM: mm, Radius: radius}, "%s: nothing to expand", name)
		return mask.Rename(name), nil
	}

	se := morphology.Ellipsoid(radius)
	femur := morphology.FromMask(mask, models.Femur)
	tibia := morphology.FromMask(mask, models.Tibia)
	grownFemur := morphology.Dilate(femur, se)
	grownTibia := morphology.Dilate(tibia, se)

	shape := mask.Shape()
	labels := mask.Labels()
	var femurSurface, tibiaSurface *geometry.Index
	collisions := 0

	for off, l := range labels {
		if l != models.Background {
			continue
		}
		f, t := grownFemur.Data[off], grownTibia.Data[off]
		switch {
		case f && t:
			if femurSurface == nil {
				femurSurface = surfaceIndex(femur, spacing)
				tibiaSurface = surfaceIndex(tibia, spacing)
			}
			c := shape.Coord(off)
			p := geometry.Scaled(c[0], c[1], c[2], spacing)
			if femurSurface.Nearest(p) < tibiaSurface.Nearest(p) {
				labels[off] = models.Femur
			} else {
				labels[off] = models.Tibia
			}
			collisions++
		case f:
			labels[off] = models.Femur
		case t:
			labels[off] = models.Tibia
		}
	}

	out, err := models.NewLabeledMask(name, shape, labels, mask.Affine())
	if err != nil {
		return nil, errors.Wrapf(err, "expand %s", name)
	}
	monitoring.Infof(sink, Stage, "%s: radius %v voxels, femur %d, tibia %d, %d contested voxels",
		name, radius, out.Count(models.Femur), out.Count(models.Tibia), collisions)
	return out, nil
}

// surfaceIndex indexes the surface voxels of g in mm.
func surfaceIndex(g *morphology.Grid, spacing [3]float64) *geometry.Index {
	offs := morphology.Boundary(g)
	pts := make(geometry.Points3D, len(offs))
	for i, off := range offs {
		c := g.Shape.Coord(off)
		pts[i] = geometry.Scaled(c[0], c[1], c[2], spacing)
	}
	return geometry.NewIndex(pts)
}
