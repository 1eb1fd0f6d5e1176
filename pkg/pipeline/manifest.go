package pipeline

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"kneeseg/pkg/config"
)

// Manifest records what a run did, for reproducing it later.
type Manifest struct {
	RunID    string    `yaml:"runId"`
	Input    string    `yaml:"input"`
	Started  time.Time `yaml:"started"`
	Finished time.Time `yaml:"finished"`

	// Variants lists every mask name in output order
	Variants []string `yaml:"variants"`

	// Failed maps variants without landmarks to the reason
	Failed map[string]string `yaml:"failed,omitempty"`

	Files  []string       `yaml:"files"`
	Config *config.Config `yaml:"config"`
}

func newManifest(p *Pipeline, res *Result, started time.Time) *Manifest {
	m := &Manifest{
		RunID:    p.RunID(),
		Input:    p.params.InputFile,
		Started:  started.UTC(),
		Finished: time.Now().UTC(),
		Files:    res.Files,
		Config:   p.cfg,
	}
	for _, mask := range res.Masks {
		m.Variants = append(m.Variants, mask.Name())
	}
	for _, o := range res.Outcomes {
		if o.Err == nil {
			continue
		}
		if m.Failed == nil {
			m.Failed = map[string]string{}
		}
		m.Failed[o.Record.MaskName] = o.Err.Error()
	}
	return m
}

// Save writes the manifest as YAML.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "error marshaling manifest")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "error writing manifest")
}

// LoadManifest reads a manifest written by Save.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading manifest")
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "error parsing manifest")
	}
	return m, nil
}
