package variants

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"kneeseg/internal/models"
	"kneeseg/internal/monitoring"
	"kneeseg/pkg/config"
)

// Params controls variant generation.
type Params struct {
	// Expansions are processed as groups; group i yields one expanded and one randomized mask
	Expansions []config.Expansion

	// Seed of group 0; group i uses Seed+i
	Seed uint64

	// Workers bounds the number of groups processed at once
	Workers int
}

// Generate derives every variant of original. The result is in canonical
// order: original, the expanded masks in group order, then the randomized
// masks in group order. Groups run concurrently and share only read-only
// inputs.
func Generate(ctx context.Context, original *models.LabeledMask, spacing [3]float64, p Params, sink monitoring.Sink) ([]*models.LabeledMask, error) {
	n := len(p.Expansions)
	expanded := make([]*models.LabeledMask, n)
	random := make([]*models.LabeledMask, n)

	g, ctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}

	for i, e := range p.Expansions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			exp, err := Expand(original, e.MM, spacing, ExpandedName(e.MM), sink)
			if err != nil {
				return errors.Wrapf(err, "expansion %d", i)
			}
			rnd, err := Randomize(original, exp, e.RandomFraction, p.Seed+uint64(i), RandomName(i), sink)
			if err != nil {
				return errors.Wrapf(err, "randomization %d", i)
			}
			expanded[i], random[i] = exp, rnd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*models.LabeledMask, 0, 1+2*n)
	out = append(out, original)
	out = append(out, expanded...)
	out = append(out, random...)
	return out, nil
}
