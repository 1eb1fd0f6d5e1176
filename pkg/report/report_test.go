package report

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kneeseg/internal/models"
	"kneeseg/pkg/analysis"
)

func outcomes() []analysis.Outcome {
	return []analysis.Outcome{
		{Record: models.LandmarkRecord{
			MaskName:     models.MaskOriginal,
			MedialVoxel:  models.Index{7, 4, 0},
			LateralVoxel: models.Index{2, 4, 0},
			MedialMM:     models.Point{3.5, 3.2, 5},
			LateralMM:    models.Point{1, 3.2, 5},
		}},
		{
			Record: models.LandmarkRecord{MaskName: models.MaskRandom1},
			Err:    &analysis.AnalysisError{Mask: models.MaskRandom1, Reason: "no tibia voxels"},
		},
		{Record: models.LandmarkRecord{
			MaskName:     models.MaskExpanded2mm,
			MedialVoxel:  models.Index{7, 4, 1},
			LateralVoxel: models.Index{2, 4, 0},
			MedialMM:     models.Point{3.5, 3.2, 7},
			LateralMM:    models.Point{1, 3.2, 5},
		}},
	}
}

func TestWriteLandmarks(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLandmarks(&buf, outcomes()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, LandmarkHeader, rows[0])
	assert.Equal(t, []string{
		"original", "3.5000", "3.2000", "5.0000", "1.0000", "3.2000", "5.0000",
		"7", "4", "0", "2", "4", "0", "",
	}, rows[1])

	failed := rows[2]
	assert.Equal(t, "random_1", failed[0])
	for _, v := range failed[1:13] {
		assert.Empty(t, v)
	}
	assert.Contains(t, failed[13], "no tibia voxels")
}

func testMask(t *testing.T, name string, femur, tibia int, spacing [3]float64) *models.LabeledMask {
	t.Helper()
	shape := models.Shape{10, 10, 10}
	labels := make([]models.Label, shape.Len())
	for i := 0; i < femur; i++ {
		labels[i] = models.Femur
	}
	for i := 0; i < tibia; i++ {
		labels[shape.Len()-1-i] = models.Tibia
	}
	aff, err := models.DiagonalAffine(spacing, models.Point{})
	require.NoError(t, err)
	m, err := models.NewLabeledMask(name, shape, labels, aff)
	require.NoError(t, err)
	return m
}

func TestSummarize(t *testing.T) {
	sp := [3]float64{0.5, 0.5, 2}
	stats := Summarize([]*models.LabeledMask{
		testMask(t, models.MaskOriginal, 100, 50, sp),
		testMask(t, models.MaskExpanded2mm, 150, 100, sp),
	})
	require.Len(t, stats, 2)

	assert.Equal(t, VolumeStats{
		Mask: models.MaskOriginal, FemurVoxels: 100, TibiaVoxels: 50,
		FemurMM3: 50, TibiaMM3: 25, FemurRatio: 1, TibiaRatio: 1,
	}, stats[0])
	assert.Equal(t, 1.5, stats[1].FemurRatio)
	assert.Equal(t, 2.0, stats[1].TibiaRatio)

	empty := Summarize([]*models.LabeledMask{testMask(t, "e", 0, 0, sp)})
	assert.True(t, math.IsNaN(empty[0].FemurRatio))
	assert.Nil(t, Summarize(nil))

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, stats))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, SummaryHeader, rows[0])
	assert.Equal(t, []string{"expanded_2mm", "150", "100", "75.00", "50.00", "1.5000", "2.0000"}, rows[2])
}

func TestVoxelVolumeOblique(t *testing.T) {
	aff, err := models.NewAffine([4][4]float64{
		{0, -2, 0, 5},
		{1, 0, 0, 0},
		{0, 0, 3, 0},
		{0, 0, 0, 1},
	})
	require.NoError(t, err)
	assert.InDelta(t, 6, VoxelVolume(aff), 1e-12)
}

func TestLandmarkSpread(t *testing.T) {
	s := LandmarkSpread(outcomes())
	assert.Equal(t, 2, s.Variants)
	assert.Equal(t, [3]float64{}, s.Lateral)
	assert.InDelta(t, math.Sqrt(2), s.Medial[2], 1e-12)

	assert.Equal(t, Spread{Variants: 1}, LandmarkSpread(outcomes()[:1]))
}

func TestSaveFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tibia_points_summary.csv")
	require.NoError(t, SaveLandmarks(path, outcomes()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Medial_X_mm")

	assert.Error(t, SaveSummary(filepath.Join(dir, "missing", "s.csv"), nil))
}
