package screens

import (
	"context"
	"fmt"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Screen = (*PlausibilityScreen)(nil)

// PlausibilityScreen flags a model ineligible at a location when its
// minimum-horizon forecast's low quantile falls strictly below the most
// recently observed value there. A 0.1 quantile under the last observation
// implies near-certain decline that has not occurred, a common failure
// mode of miscalibrated models.
//
// Pairs the screen cannot judge stay eligible: a missing low-quantile cell
// is the missingness screen's concern, and a location with no observation
// history follows the proceed-with-available-history policy.
//
// The screen is stateless and safe for concurrent execution.
type PlausibilityScreen struct {
	name   string
	config PlausibilityConfig
}

// PlausibilityConfig defines the configuration parameters for the
// PlausibilityScreen.
type PlausibilityConfig struct {
	// QuantileLevel is the low quantile compared against the latest
	// observation. Defaults to 0.1, the hub convention this check is
	// named after.
	QuantileLevel float64 `yaml:"quantile_level" json:"quantile_level" validate:"gt=0,lt=1"`

	// LocationColumn overrides the id column holding the location code.
	// Defaults to DefaultLocationColumn.
	LocationColumn string `yaml:"location_column" json:"location_column"`

	// TimeColumn overrides the id column holding the target end date.
	// Defaults to DefaultTimeColumn.
	TimeColumn string `yaml:"time_column" json:"time_column"`
}

// NewPlausibilityScreen creates a PlausibilityScreen with the given
// configuration, applying defaults and validating the rest.
func NewPlausibilityScreen(name string, config PlausibilityConfig) (*PlausibilityScreen, error) {
	if name == "" {
		return nil, ErrEmptyScreenName
	}
	if config.QuantileLevel == 0 {
		config.QuantileLevel = 0.1
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
	return &PlausibilityScreen{name: name, config: config}, nil
}

// Name returns the unique identifier for this screen instance.
func (ps *PlausibilityScreen) Name() string { return ps.name }

// Validate checks that the screen is properly configured.
func (ps *PlausibilityScreen) Validate() error {
	if ps.name == "" {
		return ErrEmptyScreenName
	}
	if err := validate.Struct(ps.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Evaluate compares each model's minimum-horizon low quantile against the
// latest observation at or before the forecast date, returning one verdict
// per (location, model) pair.
func (ps *PlausibilityScreen) Evaluate(ctx context.Context, input ports.Input) ([]domain.EligibilityVerdict, error) {
	if input.Forecasts == nil {
		return nil, ErrNilForecasts
	}
	if input.Observed == nil {
		return nil, ErrNilObserved
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := input.Forecasts
	li, ok := m.QuantileLevelIndex(ps.config.QuantileLevel)
	if !ok {
		return nil, fmt.Errorf("screen %s: quantile level %g not present in matrix",
			ps.name, ps.config.QuantileLevel)
	}

	grouped, locations, err := groupCasesByLocation(m, ps.config.LocationColumn, ps.config.TimeColumn)
	if err != nil {
		return nil, fmt.Errorf("screen %s: %w", ps.name, err)
	}

	models := m.Models()
	verdicts := make([]domain.EligibilityVerdict, 0, len(locations)*len(models))
	for _, loc := range locations {
		horizon1 := minimumHorizonCase(grouped[loc], input)
		observed, haveObserved := input.Observed.LatestAt(loc, input.ForecastDate)
		for mi, model := range models {
			status := domain.StatusEligible
			if haveObserved {
				if v, present := m.ValueAt(horizon1.idx, mi, li); present && v < observed.Value {
					status = ReasonImplausibleLowQuantile
				}
			}
			verdicts = append(verdicts, verdictFor(ps.name, loc, model, status))
		}
	}
	return verdicts, nil
}

// minimumHorizonCase picks the case whose target end date is nearest the
// forecast date: the first one dated on or after it, falling back to the
// latest available when every target predates the forecast. The input must
// be sorted ascending by date and non-empty.
func minimumHorizonCase(cases []indexedCase, input ports.Input) indexedCase {
	for _, ic := range cases {
		if !ic.date.Before(input.ForecastDate) {
			return ic
		}
	}
	return cases[len(cases)-1]
}
