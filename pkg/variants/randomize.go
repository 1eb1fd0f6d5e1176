package variants

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"kneeseg/internal/models"
	"kneeseg/internal/monitoring"
	"kneeseg/pkg/config"
	"kneeseg/pkg/morphology"
)

// Randomize keeps a random share of the voxels that expanded added to
// original. For each bone the shell is every voxel carrying the bone's label
// in expanded and background in original. Exactly round(fraction*|shell|)
// shell voxels are drawn without replacement and added to a copy of
// original. The same seed always selects the same voxels.
func Randomize(original, expanded *models.LabeledMask, fraction float64, seed uint64, name string, sink monitoring.Sink) (*models.LabeledMask, error) {
	sink = monitoring.OrDiscard(sink)
	if err := config.ValidateFraction(fraction); err != nil {
		return nil, err
	}
	if original.Shape() != expanded.Shape() {
		return nil, errors.Errorf("randomize %s: shape %v does not match %v", name, expanded.Shape(), original.Shape())
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	labels := original.Labels()

	bone := morphology.FromMask(original, models.Bones...)
	for _, l := range models.Bones {
		var shell []int
		for off, v := range morphology.AndNot(morphology.FromMask(expanded, l), bone).Data {
			if v {
				shell = append(shell, off)
			}
		}
		if len(shell) == 0 {
			monitoring.Warnf(sink, Stage, ErrEmptyShell, "%s: %s shell of %s is empty, keeping original", name, l, expanded.Name())
			continue
		}

		k := int(math.Round(fraction * float64(len(shell))))
		for i := 0; i < k; i++ {
			j := i + rng.IntN(len(shell)-i)
			shell[i], shell[j] = shell[j], shell[i]
			labels[shell[i]] = l
		}
		monitoring.Infof(sink, Stage, "%s: kept %d of %d %s shell voxels", name, k, len(shell), l)
	}

	out, err := models.NewLabeledMask(name, original.Shape(), labels, original.Affine())
	if err != nil {
		return nil, errors.Wrapf(err, "randomize %s", name)
	}
	return out, nil
}
