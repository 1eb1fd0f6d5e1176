package visualization

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kneeseg/internal/models"
	"kneeseg/pkg/analysis"
)

// ramp builds a volume whose intensity grows along z from -300 to 1500.
func ramp(t *testing.T, shape models.Shape) *models.Volume {
	t.Helper()
	data := make([]float64, shape.Len())
	for off := range data {
		z := shape.Coord(off)[2]
		data[off] = -300 + 1800*float64(z)/float64(shape[2]-1)
	}
	aff, err := models.DiagonalAffine([3]float64{1, 1, 2}, models.Point{})
	require.NoError(t, err)
	vol, err := models.NewVolume(data, shape, aff)
	require.NoError(t, err)
	return vol
}

func TestPlane(t *testing.T) {
	for axis, want := range [][2]int{{1, 2}, {0, 2}, {0, 1}} {
		u, v := Plane(axis)
		if u != want[0] || v != want[1] {
			t.Errorf("Plane(%d) = %d, %d; want %v", axis, u, v, want)
		}
	}
}

// TestExtractSlice verifies windowing and that superior slices are drawn at the top
func TestExtractSlice(t *testing.T) {
	shape := models.Shape{8, 6, 10}
	v := NewViewer(ramp(t, shape))

	img, err := v.ExtractSlice(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 10, img.Bounds().Dy())

	// top row is the highest z, i.e. the top of the window
	assert.Equal(t, uint8(255), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), img.GrayAt(0, 9).Y)

	v.Window = [2]float64{0, 100}
	img, err = v.ExtractSlice(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, uint8(0), img.GrayAt(0, 8).Y, "clipped below the window")
	assert.Equal(t, uint8(255), img.GrayAt(0, 2).Y, "clipped above the window")
}

func TestExtractSliceBounds(t *testing.T) {
	v := NewViewer(ramp(t, models.Shape{4, 4, 4}))

	tests := []struct {
		axis, pos int
	}{
		{-1, 0}, {3, 0}, {0, -1}, {2, 4},
	}
	for _, tt := range tests {
		if _, err := v.ExtractSlice(tt.axis, tt.pos); err == nil {
			t.Errorf("ExtractSlice(%d, %d) should fail", tt.axis, tt.pos)
		}
	}
}

func kneeMask(t *testing.T, vol *models.Volume) *models.LabeledMask {
	t.Helper()
	shape := vol.Shape()
	labels := make([]models.Label, shape.Len())
	for off := range labels {
		switch z := shape.Coord(off)[2]; {
		case z >= 6:
			labels[off] = models.Femur
		case z <= 3:
			labels[off] = models.Tibia
		}
	}
	m, err := models.NewLabeledMask(models.MaskOriginal, shape, labels, vol.Affine())
	require.NoError(t, err)
	return m
}

func TestOverlay(t *testing.T) {
	vol := ramp(t, models.Shape{8, 6, 10})
	v := NewViewer(vol)
	v.Window = [2]float64{1e6, 2e6} // everything renders black

	img, err := v.Overlay(kneeMask(t, vol), 1, 2)
	require.NoError(t, err)

	top := img.RGBAAt(0, 0) // z=9, femur
	assert.Greater(t, top.R, uint8(100))
	assert.Zero(t, top.G)

	bottom := img.RGBAAt(0, 9) // z=0, tibia
	assert.Greater(t, bottom.G, uint8(100))
	assert.Zero(t, bottom.R)

	gap := img.RGBAAt(0, 5) // z=4, background
	assert.Zero(t, gap.R)
	assert.Zero(t, gap.G)

	other := models.EmptyMask("m", models.Shape{2, 2, 2}, vol.Affine())
	_, err = v.Overlay(other, 1, 2)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	vol := ramp(t, models.Shape{12, 8, 10})
	mask := kneeMask(t, vol)
	outcomes, err := analysis.LocateAll(t.Context(), []*models.LabeledMask{mask}, vol, models.DefaultOrientation(), 1, nil)
	require.NoError(t, err)
	outcomes = append(outcomes, analysis.Outcome{
		Record: models.LandmarkRecord{MaskName: models.MaskRandom1},
		Err:    &analysis.AnalysisError{Mask: models.MaskRandom1, Reason: "no tibia voxels"},
	})

	dir := filepath.Join(t.TempDir(), "plots")
	files, err := Render(dir, vol, []*models.LabeledMask{mask}, outcomes, models.DefaultOrientation())
	require.NoError(t, err)
	require.Len(t, files, 2)

	for _, name := range files {
		f, err := os.Open(name)
		require.NoError(t, err)
		_, err = png.Decode(f)
		f.Close()
		assert.NoError(t, err, name)
	}
}

func TestSlicePosition(t *testing.T) {
	shape := models.Shape{10, 10, 10}
	assert.Equal(t, 5, slicePosition(shape, 1, nil))

	outcomes := []analysis.Outcome{
		{Record: models.LandmarkRecord{MedialVoxel: models.Index{0, 2, 0}, LateralVoxel: models.Index{0, 4, 0}}},
		{Err: os.ErrNotExist, Record: models.LandmarkRecord{MedialVoxel: models.Index{0, 9, 0}}},
	}
	assert.Equal(t, 3, slicePosition(shape, 1, outcomes))
}
