// Package report exports landmark outcomes and mask volume summaries as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"kneeseg/internal/models"
	"kneeseg/pkg/analysis"
)

// LandmarkHeader is the column layout of the landmark report.
var LandmarkHeader = []string{
	"Mask",
	"Medial_X_mm", "Medial_Y_mm", "Medial_Z_mm",
	"Lateral_X_mm", "Lateral_Y_mm", "Lateral_Z_mm",
	"Medial_X_voxel", "Medial_Y_voxel", "Medial_Z_voxel",
	"Lateral_X_voxel", "Lateral_Y_voxel", "Lateral_Z_voxel",
	"Error",
}

// SummaryHeader is the column layout of the volume summary.
var SummaryHeader = []string{
	"Mask", "Femur_voxels", "Tibia_voxels", "Femur_mm3", "Tibia_mm3", "Femur_ratio", "Tibia_ratio",
}

// WriteLandmarks writes one row per outcome. Failed variants keep their name,
// leave the coordinates empty and carry the error text in the last column.
func WriteLandmarks(w io.Writer, outcomes []analysis.Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LandmarkHeader); err != nil {
		return errors.Wrap(err, "writing header")
	}

	for _, o := range outcomes {
		row := make([]string, len(LandmarkHeader))
		row[0] = o.Record.MaskName
		if o.Err != nil {
			row[len(row)-1] = o.Err.Error()
		} else {
			r := o.Record
			for a := 0; a < 3; a++ {
				row[1+a] = formatMM(r.MedialMM[a])
				row[4+a] = formatMM(r.LateralMM[a])
				row[7+a] = strconv.Itoa(r.MedialVoxel[a])
				row[10+a] = strconv.Itoa(r.LateralVoxel[a])
			}
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "writing row %s", o.Record.MaskName)
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing landmarks")
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// VolumeStats is the size of one mask variant.
type VolumeStats struct {
	Mask string

	FemurVoxels int
	TibiaVoxels int

	FemurMM3 float64
	TibiaMM3 float64

	// FemurRatio and TibiaRatio compare against the first summarized mask; NaN when it has none
	FemurRatio float64
	TibiaRatio float64
}

// VoxelVolume returns the volume of one voxel in cubic millimeters.
func VoxelVolume(a models.Affine) float64 {
	m := a.Matrix()
	block := mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
	return math.Abs(mat.Det(block))
}

// Summarize counts femur and tibia voxels of each mask. Ratios are relative
// to masks[0], which is expected to be the original segmentation.
func Summarize(masks []*models.LabeledMask) []VolumeStats {
	if len(masks) == 0 {
		return nil
	}
	baseFemur := float64(masks[0].Count(models.Femur))
	baseTibia := float64(masks[0].Count(models.Tibia))

	out := make([]VolumeStats, len(masks))
	for i, m := range masks {
		vv := VoxelVolume(m.Affine())
		f, t := m.Count(models.Femur), m.Count(models.Tibia)
		out[i] = VolumeStats{
			Mask:        m.Name(),
			FemurVoxels: f,
			TibiaVoxels: t,
			FemurMM3:    float64(f) * vv,
			TibiaMM3:    float64(t) * vv,
			FemurRatio:  ratio(float64(f), baseFemur),
			TibiaRatio:  ratio(float64(t), baseTibia),
		}
	}
	return out
}

func ratio(v, base float64) float64 {
	if base == 0 {
		return math.NaN()
	}
	return v / base
}

// WriteSummary writes volume statistics as CSV.
func WriteSummary(w io.Writer, stats []VolumeStats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return errors.Wrap(err, "writing header")
	}
	for _, s := range stats {
		row := []string{
			s.Mask,
			strconv.Itoa(s.FemurVoxels),
			strconv.Itoa(s.TibiaVoxels),
			fmt.Sprintf("%.2f", s.FemurMM3),
			fmt.Sprintf("%.2f", s.TibiaMM3),
			fmt.Sprintf("%.4f", s.FemurRatio),
			fmt.Sprintf("%.4f", s.TibiaRatio),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "writing row %s", s.Mask)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing summary")
}

// Spread is the per-axis standard deviation, in mm, of the medial and lateral
// landmarks across the successful variants.
type Spread struct {
	Variants int
	Medial   [3]float64
	Lateral  [3]float64
}

// LandmarkSpread measures how far the landmarks move between variants.
// Fewer than two successful variants give a zero spread.
func LandmarkSpread(outcomes []analysis.Outcome) Spread {
	var medial, lateral [3][]float64
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		n++
		for a := 0; a < 3; a++ {
			medial[a] = append(medial[a], o.Record.MedialMM[a])
			lateral[a] = append(lateral[a], o.Record.LateralMM[a])
		}
	}

	s := Spread{Variants: n}
	if n < 2 {
		return s
	}
	for a := 0; a < 3; a++ {
		s.Medial[a] = stat.StdDev(medial[a], nil)
		s.Lateral[a] = stat.StdDev(lateral[a], nil)
	}
	return s
}

// SaveLandmarks writes the landmark report to path.
func SaveLandmarks(path string, outcomes []analysis.Outcome) error {
	return saveCSV(path, func(w io.Writer) error { return WriteLandmarks(w, outcomes) })
}

// SaveSummary writes the volume summary to path.
func SaveSummary(path string, stats []VolumeStats) error {
	return saveCSV(path, func(w io.Writer) error { return WriteSummary(w, stats) })
}

func saveCSV(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating report")
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrap(err, path)
	}
	return errors.Wrap(f.Close(), path)
}
