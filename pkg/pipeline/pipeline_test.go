package pipeline

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kneeseg/internal/models"
	"kneeseg/internal/monitoring"
	"kneeseg/pkg/config"
	"kneeseg/pkg/nifti"
	"kneeseg/pkg/segmentation"
)

// kneePhantom has a femur block above a tibia block in soft tissue.
func kneePhantom(t *testing.T, joined bool) *models.Volume {
	t.Helper()
	shape := models.Shape{20, 20, 40}
	data := make([]float64, shape.Len())
	for off := range data {
		c := shape.Coord(off)
		data[off] = 40
		inPlane := c[0] >= 4 && c[0] <= 15 && c[1] >= 4 && c[1] <= 15
		if inPlane && (c[2] >= 2 && c[2] <= 17 || c[2] >= 22 && c[2] <= 37 || joined && c[2] > 17 && c[2] < 22) {
			data[off] = 1200
		}
	}
	aff, err := models.DiagonalAffine([3]float64{1, 1, 1}, models.Point{-10, -10, 0})
	require.NoError(t, err)
	vol, err := models.NewVolume(data, shape, aff)
	require.NoError(t, err)
	return vol
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Processing.NumWorkers = 2
	cfg.Segmentation.MarkerRadius = 2
	cfg.Segmentation.MinPeakSeparationMM = 5
	cfg.Segmentation.MinComponentVoxels = 50
	cfg.Segmentation.MinBoneVoxels = 100
	cfg.Output.Dir = dir
	return cfg
}

func TestProcess(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "knee.nii.gz")
	require.NoError(t, nifti.SaveVolume(input, kneePhantom(t, false)))

	outDir := filepath.Join(dir, "out")
	rec := &monitoring.Recorder{}
	p, err := NewPipeline(&Params{InputFile: input, Config: testConfig(outDir), Sink: rec, Progress: io.Discard})
	require.NoError(t, err)

	res, err := p.Process(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Failed())
	require.Len(t, res.Masks, 5)
	require.Len(t, res.Outcomes, 5)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)

	for _, f := range res.Files {
		_, err := os.Stat(f)
		assert.NoError(t, err, f)
	}
	for _, name := range []string{"original_mask.nii.gz", "random_2_mask.nii.gz", SummaryFile, ManifestFile,
		filepath.Join(PlotDir, "tibia_points_all_masks.png")} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	f, err := os.Open(filepath.Join(outDir, "tibia_points_summary.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "original", rows[1][0])
	assert.Equal(t, "random_2", rows[5][0])
	assert.Empty(t, rows[1][13])

	saved, err := nifti.Load(filepath.Join(outDir, "original_mask.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, float64(models.Tibia), saved.At(models.Index{10, 10, 10}))

	m, err := LoadManifest(filepath.Join(outDir, ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, res.RunID, m.RunID)
	assert.Equal(t, []string{"original", "expanded_2mm", "expanded_4mm", "random_1", "random_2"}, m.Variants)
	assert.Empty(t, m.Failed)
	assert.Equal(t, uint64(42), m.Config.Variants.Seed)
}

func TestProcessVolumeLandmarks(t *testing.T) {
	cfg := testConfig(t.TempDir())
	p, err := NewPipeline(&Params{Config: cfg, Progress: io.Discard})
	require.NoError(t, err)

	res, err := p.ProcessVolume(context.Background(), kneePhantom(t, false))
	require.NoError(t, err)

	orig := res.Outcomes[0].Record
	require.NoError(t, res.Outcomes[0].Err)
	assert.Equal(t, 2, orig.LateralVoxel[2])
	assert.Equal(t, 2, orig.MedialVoxel[2])
	assert.Less(t, orig.LateralVoxel[0], 10)
	assert.GreaterOrEqual(t, orig.MedialVoxel[0], 10)
	assert.Equal(t, models.Point{float64(orig.MedialVoxel[0]) - 10, float64(orig.MedialVoxel[1]) - 10, 2}, orig.MedialMM)

	// expansions reach further down than the original
	exp4 := res.Outcomes[2].Record
	assert.Equal(t, models.MaskExpanded4mm, exp4.MaskName)
	assert.Less(t, exp4.MedialVoxel[2], orig.MedialVoxel[2])

	assert.Equal(t, 1.0, res.Summary[0].FemurRatio)
	assert.Greater(t, res.Summary[2].TibiaRatio, res.Summary[1].TibiaRatio)
	assert.Equal(t, 5, res.Spread.Variants)
}

func TestProcessVolumeSegmentationFailure(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Segmentation.JointFallback = false
	rec := &monitoring.Recorder{}
	p, err := NewPipeline(&Params{Config: cfg, Sink: rec, Progress: io.Discard})
	require.NoError(t, err)

	// one tall block with no joint gap is a single component
	vol := kneePhantom(t, true)
	_, err = p.ProcessVolume(context.Background(), vol)

	var segErr *segmentation.SegmentationError
	require.True(t, errors.As(err, &segErr))
	assert.NotEmpty(t, rec.Filter(Stage, monitoring.Error))
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Variants.Expansions[0].RandomFraction = 1.5

	_, err := NewPipeline(&Params{Config: cfg})
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "variants.expansions[0].randomFraction", cfgErr.Field)
}

func TestProcessMissingInput(t *testing.T) {
	p, err := NewPipeline(&Params{InputFile: filepath.Join(t.TempDir(), "none.nii"), Config: testConfig(t.TempDir()), Progress: io.Discard})
	require.NoError(t, err)
	_, err = p.Process(context.Background())
	assert.Error(t, err)
}

func TestProcessCancelled(t *testing.T) {
	p, err := NewPipeline(&Params{Config: testConfig(t.TempDir()), Progress: io.Discard})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.ProcessVolume(ctx, kneePhantom(t, false))
	assert.ErrorIs(t, err, context.Canceled)
}
