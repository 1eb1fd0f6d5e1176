// Package visualization renders CT slices, mask overlays and landmark plots.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/pkg/errors"

	"kneeseg/internal/models"
)

// DefaultWindow is the intensity window, in HU, used to display bone and soft tissue.
var DefaultWindow = [2]float64{-300, 1500}

// Overlay colors.
var (
	FemurColor = color.RGBA{R: 255, A: 255}
	TibiaColor = color.RGBA{G: 255, A: 255}
)

// overlayAlpha is the weight of a label color over the gray slice.
const overlayAlpha = 0.45

// Viewer extracts 2D views from a volume.
type Viewer struct {
	// vol is the volume being viewed
	vol *models.Volume

	// Window maps intensities to gray levels; values outside are clipped
	Window [2]float64
}

// NewViewer creates a viewer with the default window.
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{vol: vol, Window: DefaultWindow}
}

// Plane returns the grid axes spanning a slice perpendicular to axis. Axis u
// runs left to right and axis v bottom to top in rendered images.
func Plane(axis int) (u, v int) {
	switch axis {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// planeIndex maps image pixel (px, py) of a slice to a voxel index.
func planeIndex(shape models.Shape, axis, pos, px, py int) models.Index {
	u, v := Plane(axis)
	var idx models.Index
	idx[axis] = pos
	idx[u] = px
	idx[v] = shape[v] - 1 - py
	return idx
}

func (v *Viewer) checkSlice(axis, pos int) error {
	if axis < 0 || axis > 2 {
		return fmt.Errorf("invalid axis %d (must be 0, 1 or 2)", axis)
	}
	if pos < 0 || pos >= v.vol.Shape()[axis] {
		return fmt.Errorf("position %d outside axis %d of size %d", pos, axis, v.vol.Shape()[axis])
	}
	return nil
}

// ExtractSlice returns the windowed gray image of one slice.
func (v *Viewer) ExtractSlice(axis, pos int) (*image.Gray, error) {
	if err := v.checkSlice(axis, pos); err != nil {
		return nil, err
	}
	shape := v.vol.Shape()
	pu, pv := Plane(axis)
	img := image.NewGray(image.Rect(0, 0, shape[pu], shape[pv]))

	lo, hi := v.Window[0], v.Window[1]
	for py := 0; py < shape[pv]; py++ {
		for px := 0; px < shape[pu]; px++ {
			val := v.vol.At(planeIndex(shape, axis, pos, px, py))
			g := (math.Max(lo, math.Min(hi, val)) - lo) / (hi - lo)
			img.SetGray(px, py, color.Gray{Y: uint8(math.Round(g * 255))})
		}
	}
	return img, nil
}

// Overlay blends the femur and tibia labels of mask over a slice.
func (v *Viewer) Overlay(mask *models.LabeledMask, axis, pos int) (*image.RGBA, error) {
	if mask.Shape() != v.vol.Shape() {
		return nil, fmt.Errorf("mask %s shape %v does not match volume %v", mask.Name(), mask.Shape(), v.vol.Shape())
	}
	gray, err := v.ExtractSlice(axis, pos)
	if err != nil {
		return nil, err
	}

	shape := v.vol.Shape()
	b := gray.Bounds()
	out := image.NewRGBA(b)
	for py := 0; py < b.Dy(); py++ {
		for px := 0; px < b.Dx(); px++ {
			g := gray.GrayAt(px, py).Y
			c := color.RGBA{R: g, G: g, B: g, A: 255}
			switch mask.At(planeIndex(shape, axis, pos, px, py)) {
			case models.Femur:
				c = blend(c, FemurColor)
			case models.Tibia:
				c = blend(c, TibiaColor)
			}
			out.SetRGBA(px, py, c)
		}
	}
	return out, nil
}

func blend(base, over color.RGBA) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round((1-overlayAlpha)*float64(a) + overlayAlpha*float64(b)))
	}
	return color.RGBA{R: mix(base.R, over.R), G: mix(base.G, over.G), B: mix(base.B, over.B), A: 255}
}

// SavePNG writes an image as PNG.
func SavePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "creating image")
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return errors.Wrapf(err, "encoding %s", filename)
	}
	return errors.Wrap(file.Close(), filename)
}
