package screens

import (
	"context"
	"fmt"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Screen = (*MonotonicityScreen)(nil)

// MonotonicityScreen flags a model ineligible at a location when any of
// its quantile trajectories decreases across increasing target horizons.
// For cumulative-style targets a forecast whose fixed-level quantiles
// shrink over time is internally inconsistent, so a single strict decrease
// at any level excludes the (location, model) pair.
//
// Comparisons run over consecutive present values; missing cells are
// skipped rather than treated as decreases, leaving incomplete submissions
// to the missingness screen.
//
// The screen is stateless and safe for concurrent execution.
type MonotonicityScreen struct {
	name   string
	config MonotonicityConfig
}

// MonotonicityConfig defines the configuration parameters for the
// MonotonicityScreen.
type MonotonicityConfig struct {
	// LocationColumn overrides the id column holding the location code.
	// Defaults to DefaultLocationColumn.
	LocationColumn string `yaml:"location_column" json:"location_column"`

	// TimeColumn overrides the id column holding the target end date.
	// Defaults to DefaultTimeColumn.
	TimeColumn string `yaml:"time_column" json:"time_column"`
}

// NewMonotonicityScreen creates a MonotonicityScreen with the given
// configuration, applying column defaults.
func NewMonotonicityScreen(name string, config MonotonicityConfig) (*MonotonicityScreen, error) {
	if name == "" {
		return nil, ErrEmptyScreenName
	}
	if config.LocationColumn == "" {
		config.LocationColumn = DefaultLocationColumn
	}
	if config.TimeColumn == "" {
		config.TimeColumn = DefaultTimeColumn
	}
	return &MonotonicityScreen{name: name, config: config}, nil
}

// Name returns the unique identifier for this screen instance.
func (ns *MonotonicityScreen) Name() string { return ns.name }

// Validate checks that the screen is properly configured.
func (ns *MonotonicityScreen) Validate() error {
	if ns.name == "" {
		return ErrEmptyScreenName
	}
	return nil
}

// Evaluate verifies that every model's quantiles are non-decreasing across
// horizons at each fixed level, returning one verdict per (location,
// model) pair.
func (ns *MonotonicityScreen) Evaluate(ctx context.Context, input ports.Input) ([]domain.EligibilityVerdict, error) {
	if input.Forecasts == nil {
		return nil, ErrNilForecasts
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := input.Forecasts
	grouped, locations, err := groupCasesByLocation(m, ns.config.LocationColumn, ns.config.TimeColumn)
	if err != nil {
		return nil, fmt.Errorf("screen %s: %w", ns.name, err)
	}

	models := m.Models()
	numLevels := len(m.QuantileLevels())
	verdicts := make([]domain.EligibilityVerdict, 0, len(locations)*len(models))
	for _, loc := range locations {
		cases := grouped[loc]
		for mi, model := range models {
			status := domain.StatusEligible
			if decreasesOverHorizons(m, cases, mi, numLevels) {
				status = ReasonDecreasingQuantiles
			}
			verdicts = append(verdicts, verdictFor(ns.name, loc, model, status))
		}
	}
	return verdicts, nil
}

// decreasesOverHorizons reports whether any quantile level strictly
// decreases between consecutive present values across the date-ordered
// cases.
func decreasesOverHorizons(m *domain.Matrix, cases []indexedCase, modelIdx, numLevels int) bool {
	for li := 0; li < numLevels; li++ {
		havePrev := false
		prev := 0.0
		for _, ic := range cases {
			v, ok := m.ValueAt(ic.idx, modelIdx, li)
			if !ok {
				continue
			}
			if havePrev && v < prev {
				return true
			}
			prev, havePrev = v, true
		}
	}
	return false
}
