package application

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-quorum/infrastructure/combiner"
	"github.com/ahrav/go-quorum/internal/ports"
)

// PipelineConfig is the yaml document describing one ensembling pipeline:
// which screens run, how the combiner is configured, and which id columns
// carry location and time. It is the primary configuration entry point for
// a forecasting hub's recurring round.
type PipelineConfig struct {
	// Version is the configuration schema version.
	Version string `yaml:"version" validate:"required"`

	// Metadata describes the pipeline for operators and reports.
	Metadata Metadata `yaml:"metadata"`

	// Columns names the id columns the screens and combiner consult.
	Columns ColumnsConfig `yaml:"columns"`

	// Screens lists the eligibility screens to run, in declaration order.
	Screens []ScreenConfig `yaml:"screens" validate:"required,min=1,dive"`

	// Combiner configures the weighted-median combination step.
	Combiner CombinerConfig `yaml:"combiner"`
}

// Metadata provides descriptive information about a pipeline.
type Metadata struct {
	// Name is the human-readable identifier for this pipeline.
	Name string `yaml:"name" validate:"max=255"`

	// Description explains the pipeline's purpose.
	Description string `yaml:"description" validate:"max=1000"`
}

// ColumnsConfig names the id columns shared across screens. Individual
// screens may still override them through their parameters.
type ColumnsConfig struct {
	// Location is the id column holding the location code.
	// Defaults to "location".
	Location string `yaml:"location"`

	// Time is the id column holding the target end date.
	// Defaults to "target_end_date".
	Time string `yaml:"time"`
}

// ScreenConfig defines one screen instance within the pipeline.
type ScreenConfig struct {
	// ID is the unique identifier for this screen within the pipeline.
	ID string `yaml:"id" validate:"required,min=1,max=100"`

	// Type selects the screen implementation to instantiate
	// (missingness, plausibility, monotonicity, dispersion, or a
	// custom registered type).
	Type string `yaml:"type" validate:"required,min=1,max=100"`

	// Parameters holds type-specific configuration as flexible yaml,
	// validated by the screen's own constructor.
	Parameters yaml.Node `yaml:"parameters"`
}

// CombinerConfig configures the weighted-median combiner.
type CombinerConfig struct {
	// ID names the combiner instance. Defaults to "ensemble".
	ID string `yaml:"id"`

	// BandwidthMode selects the Silverman dispersion estimate
	// (unweighted or weighted).
	BandwidthMode string `yaml:"bandwidth_mode" validate:"omitempty,oneof=unweighted weighted"`

	// MaxConcurrency caps parallel case combination; zero uses the
	// available CPUs.
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=0"`

	// EnsembleModel is the model name carried by the combined output.
	EnsembleModel string `yaml:"ensemble_model"`
}

// ConfigLoader parses and validates pipeline configuration documents and
// assembles runnable pipelines from them.
type ConfigLoader struct {
	validate *validator.Validate
	registry *ScreenRegistry
}

// NewConfigLoader creates a loader backed by the given screen registry.
func NewConfigLoader(registry *ScreenRegistry) *ConfigLoader {
	return &ConfigLoader{
		validate: validator.New(),
		registry: registry,
	}
}

// Parse unmarshals and validates a pipeline configuration document
// without instantiating anything, for pre-flight validation tooling.
func (l *ConfigLoader) Parse(data []byte) (*PipelineConfig, error) {
	var config PipelineConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing pipeline config: %w", err)
	}
	if err := l.validate.Struct(config); err != nil {
		return nil, fmt.Errorf("validating pipeline config: %w", err)
	}

	seen := make(map[string]struct{}, len(config.Screens))
	for _, sc := range config.Screens {
		if _, dup := seen[sc.ID]; dup {
			return nil, fmt.Errorf("duplicate screen ID %q", sc.ID)
		}
		seen[sc.ID] = struct{}{}
	}
	return &config, nil
}

// LoadPipeline parses a configuration document and builds the pipeline it
// describes: screens instantiated through the registry and a configured
// weighted-median combiner.
func (l *ConfigLoader) LoadPipeline(data []byte, opts ...Option) (*Pipeline, error) {
	config, err := l.Parse(data)
	if err != nil {
		return nil, err
	}
	return l.buildPipeline(config, opts...)
}

func (l *ConfigLoader) buildPipeline(config *PipelineConfig, opts ...Option) (*Pipeline, error) {
	built := make([]ports.Screen, 0, len(config.Screens))
	for _, sc := range config.Screens {
		params := sc.Parameters
		screen, err := l.registry.CreateScreen(sc.Type, sc.ID, &params)
		if err != nil {
			return nil, err
		}
		built = append(built, screen)
	}

	combinerID := config.Combiner.ID
	if combinerID == "" {
		combinerID = "ensemble"
	}
	comb, err := combiner.New(combinerID, combiner.Config{
		BandwidthMode:  combiner.BandwidthMode(config.Combiner.BandwidthMode),
		MaxConcurrency: config.Combiner.MaxConcurrency,
		EnsembleModel:  config.Combiner.EnsembleModel,
	})
	if err != nil {
		return nil, fmt.Errorf("building combiner: %w", err)
	}

	if config.Columns.Location != "" {
		opts = append(opts, WithLocationColumn(config.Columns.Location))
	}
	return NewPipeline(built, comb, opts...)
}
