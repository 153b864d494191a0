// Package testutils provides utilities for testing, including synthetic
// forecast rounds and observation histories. These components are intended
// for internal use within the project's test suites and are not part of
// the public API.
package testutils

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Knockout names a forecast cell to leave missing in a generated round.
// Week indexes the forecast horizon (0 = first target date). A negative
// Level knocks out every quantile level for the (location, model, week)
// triple.
type Knockout struct {
	Location string
	Model    string
	Week     int
	Level    float64
}

// RoundSpec describes a synthetic forecast round. Zero values fall back
// to a small but complete round: three locations, three models, three
// weekly horizons, three quantile levels, and eight weeks of observation
// history per location.
type RoundSpec struct {
	Locations    []string
	Models       []string
	Weeks        int
	Levels       []float64
	HistoryWeeks int
	ForecastDate time.Time
	Knockouts    []Knockout
	Seed         int64
}

// Round bundles the inputs one pipeline run consumes.
type Round struct {
	Forecasts    *domain.Matrix
	Observed     *domain.ObservedSet
	ForecastDate time.Time
}

func (s *RoundSpec) applyDefaults() {
	if len(s.Locations) == 0 {
		s.Locations = []string{"US", "CA", "TX"}
	}
	if len(s.Models) == 0 {
		s.Models = []string{"modelA", "modelB", "modelC"}
	}
	if s.Weeks == 0 {
		s.Weeks = 3
	}
	if len(s.Levels) == 0 {
		s.Levels = []float64{0.1, 0.5, 0.9}
	}
	if s.HistoryWeeks == 0 {
		s.HistoryWeeks = 8
	}
	if s.ForecastDate.IsZero() {
		s.ForecastDate = time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	}
}

// GenerateRound creates a deterministic forecast round from spec. The
// seed controls the noise; identical specs produce identical rounds.
// Each model forecasts a location-specific signal with a model-specific
// bias, and quantile values are monotone in the level so that generated
// rounds pass a monotonicity screen unless a knockout or caller edit
// breaks them.
func GenerateRound(spec RoundSpec) (*Round, error) {
	spec.applyDefaults()
	rng := rand.New(rand.NewSource(spec.Seed))

	knocked := make(map[string]struct{}, len(spec.Knockouts))
	for _, k := range spec.Knockouts {
		level := k.Level
		if level < 0 {
			level = -1
		}
		knocked[knockoutKey(k.Location, k.Model, k.Week, level)] = struct{}{}
	}

	levels := append([]float64(nil), spec.Levels...)
	sort.Float64s(levels)

	var records []domain.Record
	var observations []domain.Observation
	for li, location := range spec.Locations {
		base := 40.0 + 15.0*float64(li)

		// Observation history ends the week before the forecast date.
		for w := spec.HistoryWeeks; w >= 1; w-- {
			date := spec.ForecastDate.AddDate(0, 0, -7*w)
			observations = append(observations, domain.Observation{
				Location:      location,
				TargetEndDate: date,
				Value:         base + 2.0*math.Sin(float64(w)) + rng.NormFloat64(),
			})
		}

		for mi, model := range spec.Models {
			bias := 1.5 * float64(mi)
			for week := 0; week < spec.Weeks; week++ {
				date := spec.ForecastDate.AddDate(0, 0, 7*week)
				center := base + bias + 1.2*float64(week) + rng.NormFloat64()
				spread := 4.0 + rng.Float64()

				for _, level := range levels {
					missing := isKnockedOut(knocked, location, model, week, level)
					value := 0.0
					if !missing {
						value = center + spread*(level-0.5)*2.0
					}
					records = append(records, domain.Record{
						Case: map[string]string{
							"location":        location,
							"target_end_date": date.Format("2006-01-02"),
						},
						Model:         model,
						QuantileLevel: level,
						Value:         value,
						Missing:       missing,
					})
				}
			}
		}
	}

	matrix, err := domain.Build(records, []string{"location", "target_end_date"})
	if err != nil {
		return nil, fmt.Errorf("testutils: building round matrix: %w", err)
	}
	return &Round{
		Forecasts:    matrix,
		Observed:     domain.NewObservedSet(observations),
		ForecastDate: spec.ForecastDate,
	}, nil
}

// MustGenerateRound is GenerateRound for test setup where the round
// description is known to be valid.
func MustGenerateRound(spec RoundSpec) *Round {
	round, err := GenerateRound(spec)
	if err != nil {
		panic(err)
	}
	return round
}

func knockoutKey(location, model string, week int, level float64) string {
	return fmt.Sprintf("%s|%s|%d|%.6f", location, model, week, level)
}

func isKnockedOut(knocked map[string]struct{}, location, model string, week int, level float64) bool {
	if _, ok := knocked[knockoutKey(location, model, week, level)]; ok {
		return true
	}
	_, ok := knocked[knockoutKey(location, model, week, -1)]
	return ok
}
