package screens

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Screen = (*DispersionScreen)(nil)

// DispersionScreen flags a model ineligible at a location when its
// near-future median trajectory sits implausibly far from the recent
// observed trend, measured in units of recent observed variability. The
// default configuration excludes forecasts whose averaged medians fall
// more than four trailing standard deviations below the trailing observed
// mean; ExcludeAbove mirrors the check on the upside.
//
// Cutoff comparisons are strict on the raw value scale, so forecasts
// landing exactly on the cutoff stay eligible. Locations with fewer than
// two observations in the SD window cannot produce a variability estimate
// and stay eligible under the proceed-with-available-history policy.
//
// The screen is stateless and safe for concurrent execution.
type DispersionScreen struct {
	name   string
	config DispersionConfig
	reason string
}

// DispersionConfig defines the configuration parameters for the
// DispersionScreen.
type DispersionConfig struct {
	// NBackSD is the number of trailing observations the standard
	// deviation is computed over. Defaults to 14.
	NBackSD int `yaml:"n_back_sd" json:"n_back_sd" validate:"min=2"`

	// NBackMean is the number of trailing observations averaged into the
	// observed mean, and the number of forecast horizons averaged into
	// the forecast mean. Defaults to 7.
	NBackMean int `yaml:"n_back_mean" json:"n_back_mean" validate:"min=1"`

	// NSD is the number of standard deviations beyond the observed mean
	// at which a forecast becomes implausible. Defaults to 4.
	NSD float64 `yaml:"n_sd" json:"n_sd" validate:"gt=0"`

	// ExcludeAbove switches the check to flag forecasts implausibly far
	// above the observed trend instead of below it.
	ExcludeAbove bool `yaml:"exclude_above" json:"exclude_above"`

	// MedianLevel is the quantile level treated as the forecast median.
	// Defaults to 0.5.
	MedianLevel float64 `yaml:"median_level" json:"median_level" validate:"gt=0,lt=1"`

	// LocationColumn overrides the id column holding the location code.
	// Defaults to DefaultLocationColumn.
	LocationColumn string `yaml:"location_column" json:"location_column"`

	// TimeColumn overrides the id column holding the target end date.
	// Defaults to DefaultTimeColumn.
	TimeColumn string `yaml:"time_column" json:"time_column"`
}

// NewDispersionScreen creates a DispersionScreen with the given
// configuration, applying defaults and validating the rest.
func NewDispersionScreen(name string, config DispersionConfig) (*DispersionScreen, error) {
	if name == "" {
		return nil, ErrEmptyScreenName
	}
	if config.NBackSD == 0 {
		config.NBackSD = 14
	}
	if config.NBackMean == 0 {
		config.NBackMean = 7
	}
	if config.NSD == 0 {
		config.NSD = 4
	}
	if config.MedianLevel == 0 {
		config.MedianLevel = 0.5
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

	direction := "below"
	if config.ExcludeAbove {
		direction = "above"
	}
	reason := fmt.Sprintf(
		"mean of next %d forecasted medians more than %g times %dday SD %s mean of last %d observations",
		config.NBackMean, config.NSD, config.NBackSD, direction, config.NBackMean)

	return &DispersionScreen{name: name, config: config, reason: reason}, nil
}

// Name returns the unique identifier for this screen instance.
func (ds *DispersionScreen) Name() string { return ds.name }

// Reason returns the violation-reason string this screen attaches to
// ineligible verdicts, parameterized by its configuration.
func (ds *DispersionScreen) Reason() string { return ds.reason }

// Validate checks that the screen is properly configured.
func (ds *DispersionScreen) Validate() error {
	if ds.name == "" {
		return ErrEmptyScreenName
	}
	if err := validate.Struct(ds.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Evaluate compares each model's averaged near-future medians against the
// trailing observed mean and variability, returning one verdict per
// (location, model) pair.
func (ds *DispersionScreen) Evaluate(ctx context.Context, input ports.Input) ([]domain.EligibilityVerdict, error) {
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
	li, ok := m.QuantileLevelIndex(ds.config.MedianLevel)
	if !ok {
		return nil, fmt.Errorf("screen %s: quantile level %g not present in matrix",
			ds.name, ds.config.MedianLevel)
	}

	grouped, locations, err := groupCasesByLocation(m, ds.config.LocationColumn, ds.config.TimeColumn)
	if err != nil {
		return nil, fmt.Errorf("screen %s: %w", ds.name, err)
	}

	models := m.Models()
	verdicts := make([]domain.EligibilityVerdict, 0, len(locations)*len(models))
	for _, loc := range locations {
		sd, mean, haveStats := ds.observedStats(input, loc)
		for mi, model := range models {
			status := domain.StatusEligible
			if haveStats {
				if fmean, have := ds.forecastMean(m, grouped[loc], mi, li, input); have && ds.implausible(fmean, mean, sd) {
					status = ds.reason
				}
			}
			verdicts = append(verdicts, verdictFor(ds.name, loc, model, status))
		}
	}
	return verdicts, nil
}

// observedStats computes the trailing standard deviation and mean of
// recent observations. haveStats is false when fewer than two observations
// exist for the SD window, in which case the location cannot be screened.
func (ds *DispersionScreen) observedStats(input ports.Input, location string) (sd, mean float64, haveStats bool) {
	sdWindow := input.Observed.Trailing(location, input.ForecastDate, ds.config.NBackSD)
	if len(sdWindow) < 2 {
		return 0, 0, false
	}
	meanWindow := input.Observed.Trailing(location, input.ForecastDate, ds.config.NBackMean)

	sdValues := make([]float64, len(sdWindow))
	for i, obs := range sdWindow {
		sdValues[i] = obs.Value
	}
	meanValues := make([]float64, len(meanWindow))
	for i, obs := range meanWindow {
		meanValues[i] = obs.Value
	}
	return stat.StdDev(sdValues, nil), stat.Mean(meanValues, nil), true
}

// forecastMean averages the model's median forecasts over the next
// NBackMean horizons on or after the forecast date. have is false when no
// usable median exists there.
func (ds *DispersionScreen) forecastMean(m *domain.Matrix, cases []indexedCase, modelIdx, levelIdx int, input ports.Input) (fmean float64, have bool) {
	var medians []float64
	for _, ic := range cases {
		if ic.date.Before(input.ForecastDate) {
			continue
		}
		if v, ok := m.ValueAt(ic.idx, modelIdx, levelIdx); ok {
			medians = append(medians, v)
		}
		if len(medians) == ds.config.NBackMean {
			break
		}
	}
	if len(medians) == 0 {
		return 0, false
	}
	return stat.Mean(medians, nil), true
}

// implausible applies the strict cutoff comparison in the configured
// direction.
func (ds *DispersionScreen) implausible(forecastMean, observedMean, sd float64) bool {
	if ds.config.ExcludeAbove {
		return forecastMean > observedMean+ds.config.NSD*sd
	}
	return forecastMean < observedMean-ds.config.NSD*sd
}
