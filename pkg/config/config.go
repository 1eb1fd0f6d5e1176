// Package config provides configuration loading and management for kneeseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"kneeseg/internal/models"
)

// ConfigurationError reports a parameter that cannot be used.
// It is returned before any computation starts.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Expansion describes one deterministic expansion and its randomized partial variant.
type Expansion struct {
	// MM is the physical dilation distance in millimeters
	MM float64 `yaml:"mm"`

	// RandomFraction is the share of the expansion shell kept by the randomized variant
	RandomFraction float64 `yaml:"randomFraction"`
}

// Segmentation holds the bone segmentation parameters.
type Segmentation struct {
	// HistogramBins is the number of bins for Otsu thresholding
	HistogramBins int `yaml:"histogramBins"`

	// BodyThresholdHU excludes air at or below this intensity from the Otsu histogram
	BodyThresholdHU float64 `yaml:"bodyThresholdHU"`

	// MarkerRadius is the half-width in voxels of the local-maximum footprint
	MarkerRadius int `yaml:"markerRadius"`

	// MinPeakSeparationMM suppresses watershed seeds closer than this to a stronger seed
	MinPeakSeparationMM float64 `yaml:"minPeakSeparationMM"`

	// MergeRatio merges adjacent basins whose saddle reaches this share of the smaller peak
	MergeRatio float64 `yaml:"mergeRatio"`

	// MinComponentVoxels discards connected components smaller than this
	MinComponentVoxels int `yaml:"minComponentVoxels"`

	// ClosingRadius is the half-width of the cubic closing element
	ClosingRadius int `yaml:"closingRadius"`

	// MinBoneVoxels triggers an "insufficient bone volume" warning
	MinBoneVoxels int `yaml:"minBoneVoxels"`

	// JointFallback enables the joint-plane split when the watershed finds fewer than two bones
	JointFallback bool `yaml:"jointFallback"`

	// FallbackSigma is the Gaussian sigma, in slices, used to smooth the bone profile
	FallbackSigma float64 `yaml:"fallbackSigma"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers bounds concurrent variant generation and analysis
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	Segmentation Segmentation `yaml:"segmentation"`

	// Variant generation parameters
	Variants struct {
		// Seed drives the randomized variants; variant i uses Seed+i
		Seed uint64 `yaml:"seed"`

		// Expansions lists the expansion groups in output order
		Expansions []Expansion `yaml:"expansions"`
	} `yaml:"variants"`

	Orientation models.Orientation `yaml:"orientation"`

	// Output parameters
	Output struct {
		// Dir is the directory receiving masks, reports and plots
		Dir string `yaml:"dir"`

		// SaveMasks writes every mask variant as NIfTI
		SaveMasks bool `yaml:"saveMasks"`

		// RenderPlots writes PNG overlays and landmark plots
		RenderPlots bool `yaml:"renderPlots"`

		// CSVName is the landmark report file name inside Dir
		CSVName string `yaml:"csvName"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()

	cfg.Segmentation = Segmentation{
		HistogramBins:       256,
		BodyThresholdHU:     -500,
		MarkerRadius:        3,
		MinPeakSeparationMM: 15,
		MergeRatio:          0.7,
		MinComponentVoxels:  1000,
		ClosingRadius:       1,
		MinBoneVoxels:       1000,
		JointFallback:       true,
		FallbackSigma:       5,
	}

	cfg.Variants.Seed = 42
	cfg.Variants.Expansions = []Expansion{
		{MM: 2, RandomFraction: 0.65},
		{MM: 4, RandomFraction: 0.40},
	}

	cfg.Orientation = models.DefaultOrientation()

	cfg.Output.Dir = "output"
	cfg.Output.SaveMasks = true
	cfg.Output.RenderPlots = true
	cfg.Output.CSVName = "tibia_points_summary.csv"
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks every parameter that would otherwise fail mid-run.
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 1 {
		return &ConfigurationError{"processing.numWorkers", c.Processing.NumWorkers, "must be at least 1"}
	}

	s := c.Segmentation
	switch {
	case s.HistogramBins < 2:
		return &ConfigurationError{"segmentation.histogramBins", s.HistogramBins, "must be at least 2"}
	case !finite(s.BodyThresholdHU):
		return &ConfigurationError{"segmentation.bodyThresholdHU", s.BodyThresholdHU, "must be a finite intensity"}
	case s.MarkerRadius < 1:
		return &ConfigurationError{"segmentation.markerRadius", s.MarkerRadius, "must be at least 1"}
	case s.MinPeakSeparationMM < 0 || !finite(s.MinPeakSeparationMM):
		return &ConfigurationError{"segmentation.minPeakSeparationMM", s.MinPeakSeparationMM, "must be a non-negative distance"}
	case s.MergeRatio <= 0 || s.MergeRatio > 1:
		return &ConfigurationError{"segmentation.mergeRatio", s.MergeRatio, "must be in (0, 1]"}
	case s.MinComponentVoxels < 0:
		return &ConfigurationError{"segmentation.minComponentVoxels", s.MinComponentVoxels, "must not be negative"}
	case s.ClosingRadius < 0:
		return &ConfigurationError{"segmentation.closingRadius", s.ClosingRadius, "must not be negative"}
	case s.FallbackSigma <= 0 || !finite(s.FallbackSigma):
		return &ConfigurationError{"segmentation.fallbackSigma", s.FallbackSigma, "must be positive"}
	}

	if len(c.Variants.Expansions) == 0 {
		return &ConfigurationError{"variants.expansions", c.Variants.Expansions, "at least one expansion is required"}
	}
	seen := make(map[float64]int, len(c.Variants.Expansions))
	for i, e := range c.Variants.Expansions {
		if j, dup := seen[e.MM]; dup {
			return &ConfigurationError{fmt.Sprintf("variants.expansions[%d].mm", i), e.MM, fmt.Sprintf("duplicates expansions[%d]", j)}
		}
		seen[e.MM] = i
		if err := ValidateDistance(e.MM); err != nil {
			return &ConfigurationError{fmt.Sprintf("variants.expansions[%d].mm", i), e.MM, err.(*ConfigurationError).Reason}
		}
		if e.MM == 0 {
			return &ConfigurationError{fmt.Sprintf("variants.expansions[%d].mm", i), e.MM, "a configured expansion must be positive"}
		}
		if err := ValidateFraction(e.RandomFraction); err != nil {
			return &ConfigurationError{fmt.Sprintf("variants.expansions[%d].randomFraction", i), e.RandomFraction, err.(*ConfigurationError).Reason}
		}
	}

	if !c.Orientation.Valid() {
		return &ConfigurationError{"orientation", c.Orientation, "axes must be distinct values in 0..2"}
	}

	if c.Output.Dir == "" {
		return &ConfigurationError{"output.dir", c.Output.Dir, "must not be empty"}
	}
	if c.Output.CSVName == "" {
		return &ConfigurationError{"output.csvName", c.Output.CSVName, "must not be empty"}
	}

	return nil
}

// ValidateDistance rejects expansion distances that are negative or not finite.
// Zero is allowed and leaves a mask unchanged.
func ValidateDistance(mm float64) error {
	if !finite(mm) || mm < 0 {
		return &ConfigurationError{"mm", mm, "expansion distance must be a non-negative number"}
	}
	return nil
}

// ValidateFraction rejects random fractions outside (0, 1].
func ValidateFraction(f float64) error {
	if !finite(f) || f <= 0 || f > 1 {
		return &ConfigurationError{"fraction", f, "random fraction must be in (0, 1]"}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
