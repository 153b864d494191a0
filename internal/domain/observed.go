package domain

import (
	"sort"
	"time"
)

// Observation is one ground-truth value for a location on a target end
// date. Observations feed the plausibility and dispersion screens and the
// pinball-loss objective during weight fitting.
type Observation struct {
	// Location identifies where the value was observed.
	Location string

	// TargetEndDate is the date the observation covers.
	TargetEndDate time.Time

	// Value is the observed numeric value.
	Value float64
}

// ObservedSet holds per-location observation series sorted by date,
// supporting the two lookups the screens need: the most recent value at or
// before a date, and a trailing window of recent values. An ObservedSet is
// immutable after construction and safe for concurrent use.
type ObservedSet struct {
	byLocation map[string][]Observation
}

// NewObservedSet builds an ObservedSet from an unordered observation list.
// Within a location, observations are sorted ascending by date. When two
// observations share a (location, date) pair the later one in the input
// wins, matching revision semantics of surveillance data feeds.
func NewObservedSet(observations []Observation) *ObservedSet {
	byLocation := make(map[string][]Observation)
	for _, obs := range observations {
		series := byLocation[obs.Location]
		replaced := false
		for i := range series {
			if series[i].TargetEndDate.Equal(obs.TargetEndDate) {
				series[i] = obs
				replaced = true
				break
			}
		}
		if !replaced {
			series = append(series, obs)
		}
		byLocation[obs.Location] = series
	}
	for loc := range byLocation {
		series := byLocation[loc]
		sort.Slice(series, func(i, j int) bool {
			return series[i].TargetEndDate.Before(series[j].TargetEndDate)
		})
	}
	return &ObservedSet{byLocation: byLocation}
}

// Locations returns the locations with at least one observation, sorted
// for deterministic iteration.
func (s *ObservedSet) Locations() []string {
	locs := make([]string, 0, len(s.byLocation))
	for loc := range s.byLocation {
		locs = append(locs, loc)
	}
	sort.Strings(locs)
	return locs
}

// LatestAt returns the most recent observation at the location dated at or
// before asOf, and whether one exists.
func (s *ObservedSet) LatestAt(location string, asOf time.Time) (Observation, bool) {
	series := s.byLocation[location]
	i := sort.Search(len(series), func(i int) bool {
		return series[i].TargetEndDate.After(asOf)
	})
	if i == 0 {
		return Observation{}, false
	}
	return series[i-1], true
}

// Trailing returns up to n of the most recent observations at the location
// dated at or before asOf, in ascending date order. Fewer than n
// observations are returned when the history is short; callers follow the
// proceed-with-available-history policy rather than failing.
func (s *ObservedSet) Trailing(location string, asOf time.Time, n int) []Observation {
	if n <= 0 {
		return nil
	}
	series := s.byLocation[location]
	end := sort.Search(len(series), func(i int) bool {
		return series[i].TargetEndDate.After(asOf)
	})
	start := end - n
	if start < 0 {
		start = 0
	}
	out := make([]Observation, end-start)
	copy(out, series[start:end])
	return out
}

// ValueAt returns the observation exactly matching a (location, date) pair.
// It backs the weight-fitting objective, which needs the realized value for
// each training case.
func (s *ObservedSet) ValueAt(location string, date time.Time) (float64, bool) {
	series := s.byLocation[location]
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].TargetEndDate.Before(date)
	})
	if i < len(series) && series[i].TargetEndDate.Equal(date) {
		return series[i].Value, true
	}
	return 0, false
}
