package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"kneeseg/internal/models"
	"kneeseg/pkg/analysis"
)

// markerColors cycles through variants in landmark plots.
var markerColors = []color.RGBA{
	{R: 255, G: 60, B: 60, A: 255},
	{R: 60, G: 200, B: 60, A: 255},
	{R: 60, G: 120, B: 255, A: 255},
	{R: 255, G: 200, B: 0, A: 255},
	{R: 200, G: 0, B: 200, A: 255},
}

var axisNames = [3]string{"x", "y", "z"}

// PlotLandmarks draws the medial (cross) and lateral (ring) landmarks of
// every successful outcome over a slice and saves the plot as PNG. Landmarks
// are projected onto the slice plane.
func (v *Viewer) PlotLandmarks(filename string, background image.Image, outcomes []analysis.Outcome, axis int) error {
	shape := v.vol.Shape()
	u, w := Plane(axis)

	p := plot.New()
	p.Title.Text = "Tibia landmarks"
	p.X.Label.Text = axisNames[u] + " (voxel)"
	p.Y.Label.Text = axisNames[w] + " (voxel)"
	p.Add(plotter.NewImage(background, 0, 0, float64(shape[u]), float64(shape[w])))

	for i, o := range outcomes {
		if o.Err != nil {
			continue
		}
		col := markerColors[i%len(markerColors)]
		for _, lm := range []struct {
			side  string
			at    models.Index
			shape draw.GlyphDrawer
		}{
			{"medial", o.Record.MedialVoxel, draw.CrossGlyph{}},
			{"lateral", o.Record.LateralVoxel, draw.RingGlyph{}},
		} {
			s, err := plotter.NewScatter(plotter.XYs{{X: float64(lm.at[u]) + 0.5, Y: float64(lm.at[w]) + 0.5}})
			if err != nil {
				return errors.Wrap(err, "landmark scatter")
			}
			s.GlyphStyle.Color = col
			s.GlyphStyle.Radius = vg.Points(5)
			s.GlyphStyle.Shape = lm.shape
			p.Add(s)
			p.Legend.Add(fmt.Sprintf("%s %s", o.Record.MaskName, lm.side), s)
		}
	}
	p.Legend.Top = true

	return errors.Wrapf(p.Save(6*vg.Inch, 6*vg.Inch, filename), "saving %s", filename)
}

// Render writes one overlay per mask and a combined landmark plot into dir,
// using the slice perpendicular to the anterior-posterior axis that passes
// through the mean landmark position. It returns the written file paths.
func Render(dir string, vol *models.Volume, masks []*models.LabeledMask, outcomes []analysis.Outcome, o models.Orientation) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating plot directory")
	}

	v := NewViewer(vol)
	axis := o.AnteriorPosteriorAxis()
	pos := slicePosition(vol.Shape(), axis, outcomes)

	var written []string
	for _, m := range masks {
		img, err := v.Overlay(m, axis, pos)
		if err != nil {
			return written, errors.Wrapf(err, "overlay %s", m.Name())
		}
		name := filepath.Join(dir, m.Name()+"_overlay.png")
		if err := SavePNG(img, name); err != nil {
			return written, err
		}
		written = append(written, name)
	}

	bg, err := v.ExtractSlice(axis, pos)
	if err != nil {
		return written, err
	}
	name := filepath.Join(dir, "tibia_points_all_masks.png")
	if err := v.PlotLandmarks(name, bg, outcomes, axis); err != nil {
		return written, err
	}
	return append(written, name), nil
}

// slicePosition is the mean landmark coordinate along axis, or the middle
// slice when no landmark was found.
func slicePosition(shape models.Shape, axis int, outcomes []analysis.Outcome) int {
	var coords []float64
	for _, o := range outcomes {
		if o.Err == nil {
			coords = append(coords, float64(o.Record.MedialVoxel[axis]), float64(o.Record.LateralVoxel[axis]))
		}
	}
	if len(coords) == 0 {
		return shape[axis] / 2
	}
	pos := int(stat.Mean(coords, nil) + 0.5)
	return max(0, min(pos, shape[axis]-1))
}
