// Package screens provides the eligibility screens that decide which
// forecasting models may enter the ensemble, each implementing the
// ports.Screen interface.
package screens

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Default id-column names for hub-style submissions. Screens accept
// overrides through their configs for hubs with different schemas.
const (
	// DefaultLocationColumn is the id column holding the location code.
	DefaultLocationColumn = "location"

	// DefaultTimeColumn is the id column holding the target end date.
	DefaultTimeColumn = "target_end_date"
)

// DateLayout is the layout target end dates are parsed with.
const DateLayout = "2006-01-02"

// Fixed violation-reason strings carried by ineligible verdicts. Callers
// and downstream reports match on these literals, so they never change
// shape between releases.
const (
	// ReasonMissingForecasts flags a model missing any required quantile
	// cell inside the trailing window.
	ReasonMissingForecasts = "missing required forecasts"

	// ReasonImplausibleLowQuantile flags a minimum-horizon 0.1 quantile
	// below the most recently observed value.
	ReasonImplausibleLowQuantile = "quantile 0.1 of forecast for horizon 1 is less than most recent observed"

	// ReasonDecreasingQuantiles flags quantiles that decrease across
	// increasing target horizons.
	ReasonDecreasingQuantiles = "decreasing quantiles over time"
)

// Common errors returned by screen constructors and evaluation.
var (
	// ErrEmptyScreenName is returned when attempting to create a screen
	// with an empty name.
	ErrEmptyScreenName = errors.New("screen name cannot be empty")

	// ErrNilForecasts is returned when Evaluate receives no matrix.
	ErrNilForecasts = errors.New("forecast matrix is required")

	// ErrNilObserved is returned when a screen that consults ground truth
	// receives no observed series.
	ErrNilObserved = errors.New("observed series are required")
)

// Package-level validator instance for configuration validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = validator.New()

// indexedCase pairs a case with its ordinal in the source matrix and its
// parsed target end date, so screens can order horizons without re-parsing.
type indexedCase struct {
	idx  int
	c    domain.Case
	date time.Time
}

// groupCasesByLocation buckets the matrix's cases by location and sorts
// each bucket ascending by target end date (ties keep construction order).
// The returned location list preserves first-occurrence order. It fails
// when a case lacks the configured columns or carries an unparseable date.
func groupCasesByLocation(m *domain.Matrix, locationCol, timeCol string) (map[string][]indexedCase, []string, error) {
	grouped := make(map[string][]indexedCase)
	var order []string
	for idx, c := range m.Cases() {
		loc, ok := c.Field(locationCol)
		if !ok {
			return nil, nil, fmt.Errorf("case %s: missing id column %q", c, locationCol)
		}
		raw, ok := c.Field(timeCol)
		if !ok {
			return nil, nil, fmt.Errorf("case %s: missing id column %q", c, timeCol)
		}
		date, err := time.Parse(DateLayout, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("case %s: parsing %q: %w", c, timeCol, err)
		}
		if _, seen := grouped[loc]; !seen {
			order = append(order, loc)
		}
		grouped[loc] = append(grouped[loc], indexedCase{idx: idx, c: c, date: date})
	}
	for loc := range grouped {
		cases := grouped[loc]
		sort.SliceStable(cases, func(i, j int) bool {
			return cases[i].date.Before(cases[j].date)
		})
	}
	return grouped, order, nil
}

// verdictFor builds one verdict row in the screen's name.
func verdictFor(screen, location, model, status string) domain.EligibilityVerdict {
	return domain.EligibilityVerdict{
		Location: location,
		Model:    model,
		Screen:   screen,
		Status:   status,
	}
}
