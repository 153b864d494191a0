package screens

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Screen = (*MissingnessScreen)(nil)

// MissingnessScreen flags a model ineligible at a location when, within a
// trailing window of recent forecast weeks, it is missing any required
// quantile cell for any case in that window. Incomplete submissions cannot
// be combined fairly, so a single missing cell anywhere in the window
// excludes the whole (location, model) pair.
//
// A window size of zero checks only the most recent time point. When the
// matrix holds fewer distinct time points than the window asks for, the
// available points are the window; short history alone never flags a model.
//
// The screen is stateless and safe for concurrent execution.
type MissingnessScreen struct {
	name   string
	config MissingnessConfig
}

// MissingnessConfig defines the configuration parameters for the
// MissingnessScreen. All fields are validated during screen creation.
type MissingnessConfig struct {
	// WindowSize is the number of time points before the most recent one
	// to include in the completeness check, so the window spans
	// WindowSize+1 distinct target end dates. Zero checks only the most
	// recent point.
	WindowSize int `yaml:"window_size" json:"window_size" validate:"min=0"`

	// LocationColumn overrides the id column holding the location code.
	// Defaults to DefaultLocationColumn.
	LocationColumn string `yaml:"location_column" json:"location_column"`

	// TimeColumn overrides the id column holding the target end date.
	// Defaults to DefaultTimeColumn.
	TimeColumn string `yaml:"time_column" json:"time_column"`
}

// NewMissingnessScreen creates a MissingnessScreen with the given
// configuration, applying column defaults and validating the rest.
func NewMissingnessScreen(name string, config MissingnessConfig) (*MissingnessScreen, error) {
	if name == "" {
		return nil, ErrEmptyScreenName
	}
	if config.LocationColumn == "" {
		config.LocationColumn = DefaultLocationColumn
	}
	if config.TimeColumn == "" {
		config.TimeColumn = DefaultTimeColumn
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &MissingnessScreen{name: name, config: config}, nil
}

// Name returns the unique identifier for this screen instance.
func (ms *MissingnessScreen) Name() string { return ms.name }

// Validate checks that the screen is properly configured.
func (ms *MissingnessScreen) Validate() error {
	if ms.name == "" {
		return ErrEmptyScreenName
	}
	if err := validate.Struct(ms.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Evaluate checks completeness of every model over the trailing window at
// each location and returns one verdict per (location, model) pair.
func (ms *MissingnessScreen) Evaluate(ctx context.Context, input ports.Input) ([]domain.EligibilityVerdict, error) {
	if input.Forecasts == nil {
		return nil, ErrNilForecasts
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := input.Forecasts
	grouped, locations, err := groupCasesByLocation(m, ms.config.LocationColumn, ms.config.TimeColumn)
	if err != nil {
		return nil, fmt.Errorf("screen %s: %w", ms.name, err)
	}

	models := m.Models()
	levels := m.QuantileLevels()
	verdicts := make([]domain.EligibilityVerdict, 0, len(locations)*len(models))
	for _, loc := range locations {
		window := trailingWindow(grouped[loc], ms.config.WindowSize+1)
		for mi, model := range models {
			status := domain.StatusEligible
			for _, ic := range window {
				if !ms.complete(m, ic.idx, mi, len(levels)) {
					status = ReasonMissingForecasts
					break
				}
			}
			verdicts = append(verdicts, verdictFor(ms.name, loc, model, status))
		}
	}
	return verdicts, nil
}

// complete reports whether the model has a value at every quantile level
// for the given case.
func (ms *MissingnessScreen) complete(m *domain.Matrix, caseIdx, modelIdx, numLevels int) bool {
	for li := 0; li < numLevels; li++ {
		if _, ok := m.ValueAt(caseIdx, modelIdx, li); !ok {
			return false
		}
	}
	return true
}

// trailingWindow returns the cases belonging to the most recent n distinct
// target end dates. The input must be sorted ascending by date; fewer than
// n distinct dates returns everything.
func trailingWindow(cases []indexedCase, n int) []indexedCase {
	if len(cases) == 0 || n <= 0 {
		return nil
	}
	distinct := make([]time.Time, 0, len(cases))
	for _, ic := range cases {
		if len(distinct) == 0 || !distinct[len(distinct)-1].Equal(ic.date) {
			distinct = append(distinct, ic.date)
		}
	}
	if n > len(distinct) {
		n = len(distinct)
	}
	cutoff := distinct[len(distinct)-n]
	start := 0
	for start < len(cases) && cases[start].date.Before(cutoff) {
		start++
	}
	return cases[start:]
}
