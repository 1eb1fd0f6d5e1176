// Package pipeline runs the knee CT workflow end to end: segmentation, mask
// variants, tibia landmarks and the output files that go with them.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"kneeseg/internal/models"
	"kneeseg/internal/monitoring"
	"kneeseg/pkg/analysis"
	"kneeseg/pkg/config"
	"kneeseg/pkg/nifti"
	"kneeseg/pkg/report"
	"kneeseg/pkg/segmentation"
	"kneeseg/pkg/variants"
	"kneeseg/pkg/visualization"
)

// Stage is the event stage name used by the pipeline itself.
const Stage = "pipeline"

// File names written into the output directory.
const (
	SummaryFile  = "volume_summary.csv"
	ManifestFile = "run.yaml"
	PlotDir      = "plots"
)

// Params holds the run parameters.
type Params struct {
	// InputFile is the CT volume in NIfTI format (.nii or .nii.gz)
	InputFile string

	// Config holds every tunable; it is validated before any work starts
	Config *config.Config

	// Sink receives diagnostic events from every stage; nil discards them
	Sink monitoring.Sink

	// Progress receives the step banner lines; nil writes to stdout
	Progress io.Writer
}

// Result is everything a run produced.
type Result struct {
	RunID string

	// Masks are the variants in canonical order, starting with the original
	Masks []*models.LabeledMask

	// Outcomes hold one landmark result per mask, in the same order
	Outcomes []analysis.Outcome

	Summary []report.VolumeStats
	Spread  report.Spread

	// Files lists the paths of every file written
	Files []string
}

// Failed returns the names of variants whose landmarks could not be located.
func (r *Result) Failed() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Record.MaskName)
		}
	}
	return out
}

// Pipeline runs one knee CT through every stage.
type Pipeline struct {
	params *Params
	cfg    *config.Config
	sink   monitoring.Sink
	out    io.Writer
	runID  uuid.UUID
}

// NewPipeline validates the configuration and prepares a run.
func NewPipeline(params *Params) (*Pipeline, error) {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := params.Progress
	if out == nil {
		out = os.Stdout
	}
	return &Pipeline{
		params: params,
		cfg:    cfg,
		sink:   monitoring.OrDiscard(params.Sink),
		out:    out,
		runID:  uuid.New(),
	}, nil
}

// RunID identifies this run in logs and the manifest.
func (p *Pipeline) RunID() string { return p.runID.String() }

// Process loads the input volume, runs every stage and writes the outputs.
// A segmentation failure aborts the run; landmark failures of individual
// variants are reported and do not.
func (p *Pipeline) Process(ctx context.Context) (*Result, error) {
	started := time.Now()

	fmt.Fprintln(p.out, "Step 1: Loading CT volume...")
	vol, err := nifti.Load(p.params.InputFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load volume")
	}
	monitoring.Infof(p.sink, Stage, "run %s: loaded %s, shape %v, spacing %v", p.RunID(), p.params.InputFile, vol.Shape(), vol.Spacing())

	res, err := p.ProcessVolume(ctx, vol)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(p.out, "Step 5: Writing outputs...")
	if err := p.writeOutputs(ctx, vol, res); err != nil {
		return res, err
	}

	m := newManifest(p, res, started)
	path := filepath.Join(p.cfg.Output.Dir, ManifestFile)
	if err := m.Save(path); err != nil {
		return res, err
	}
	res.Files = append(res.Files, path)
	return res, nil
}

// ProcessVolume runs segmentation, variant generation and landmark analysis
// on an in-memory volume without touching the filesystem.
func (p *Pipeline) ProcessVolume(ctx context.Context, vol *models.Volume) (*Result, error) {
	cfg := p.cfg
	res := &Result{RunID: p.RunID()}

	fmt.Fprintln(p.out, "Step 2: Segmenting femur and tibia...")
	seg := segmentation.NewSegmenter(segmentation.Params{
		Segmentation: cfg.Segmentation,
		Orientation:  cfg.Orientation,
	}, p.sink)
	original, err := seg.Segment(vol)
	if err != nil {
		monitoring.Errorf(p.sink, Stage, err, "segmentation failed")
		return nil, errors.Wrap(err, "segmentation")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fmt.Fprintln(p.out, "Step 3: Generating mask variants...")
	res.Masks, err = variants.Generate(ctx, original, vol.Spacing(), variants.Params{
		Expansions: cfg.Variants.Expansions,
		Seed:       cfg.Variants.Seed,
		Workers:    cfg.Processing.NumWorkers,
	}, p.sink)
	if err != nil {
		return nil, errors.Wrap(err, "variants")
	}

	fmt.Fprintln(p.out, "Step 4: Locating tibia landmarks...")
	res.Outcomes, err = analysis.LocateAll(ctx, res.Masks, vol, cfg.Orientation, cfg.Processing.NumWorkers, p.sink)
	if err != nil {
		return nil, errors.Wrap(err, "analysis")
	}

	res.Summary = report.Summarize(res.Masks)
	for _, s := range res.Summary {
		monitoring.Infof(p.sink, Stage, "%s: femur %d voxels (x%.3f), tibia %d voxels (x%.3f)",
			s.Mask, s.FemurVoxels, s.FemurRatio, s.TibiaVoxels, s.TibiaRatio)
	}
	res.Spread = report.LandmarkSpread(res.Outcomes)
	if failed := res.Failed(); len(failed) > 0 {
		monitoring.Warnf(p.sink, Stage, nil, "%d of %d variants have no landmarks: %v", len(failed), len(res.Outcomes), failed)
	}
	return res, nil
}

// writeOutputs saves reports, masks and plots. Mask and plot failures are
// logged as warnings; report failures are returned.
func (p *Pipeline) writeOutputs(ctx context.Context, vol *models.Volume, res *Result) error {
	out := p.cfg.Output
	if err := os.MkdirAll(out.Dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	csvPath := filepath.Join(out.Dir, out.CSVName)
	if err := report.SaveLandmarks(csvPath, res.Outcomes); err != nil {
		return errors.Wrap(err, "failed to write landmark report")
	}
	res.Files = append(res.Files, csvPath)

	sumPath := filepath.Join(out.Dir, SummaryFile)
	if err := report.SaveSummary(sumPath, res.Summary); err != nil {
		return errors.Wrap(err, "failed to write volume summary")
	}
	res.Files = append(res.Files, sumPath)

	if out.SaveMasks {
		for _, m := range res.Masks {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(out.Dir, m.Name()+"_mask.nii.gz")
			if err := nifti.SaveMask(path, m); err != nil {
				monitoring.Warnf(p.sink, Stage, err, "failed to save mask %s", m.Name())
				continue
			}
			res.Files = append(res.Files, path)
		}
	}

	if out.RenderPlots {
		files, err := visualization.Render(filepath.Join(out.Dir, PlotDir), vol, res.Masks, res.Outcomes, p.cfg.Orientation)
		res.Files = append(res.Files, files...)
		if err != nil {
			monitoring.Warnf(p.sink, Stage, err, "failed to render plots")
		}
	}
	return nil
}
