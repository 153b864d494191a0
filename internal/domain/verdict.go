package domain

import "sort"

// StatusEligible is the status carried by a verdict whose (location, model)
// pair passed a screen. Anything else is one of the screens' fixed
// violation-reason strings.
const StatusEligible = "eligible"

// EligibilityVerdict is the outcome of one eligibility screen for one
// (location, model) pair. Verdicts are plain data: an ineligible model is
// an expected, common outcome, never an error. They are recomputed fresh
// for every ensembling round and never mutated.
type EligibilityVerdict struct {
	// Location is the grouping key the screen evaluated.
	Location string `json:"location"`

	// Model is the model the verdict applies to.
	Model string `json:"model"`

	// Screen names the screen that produced this verdict.
	Screen string `json:"screen"`

	// Status is StatusEligible or the screen's violation reason.
	Status string `json:"status"`
}

// Eligible reports whether the verdict passed its screen.
func (v EligibilityVerdict) Eligible() bool { return v.Status == StatusEligible }

// ModelEligibility is the intersection of all screens' verdicts for one
// (location, model) pair: eligible only when every screen agreed.
type ModelEligibility struct {
	// Location and Model identify the pair.
	Location string `json:"location"`
	Model    string `json:"model"`

	// Status is StatusEligible, or the first violation reason encountered
	// in screen order when any screen flagged the pair.
	Status string `json:"status"`

	// FailedScreens lists the screens that flagged the pair, in the order
	// their verdicts were supplied.
	FailedScreens []string `json:"failed_screens,omitempty"`
}

// Eligible reports whether every screen passed the pair.
func (e ModelEligibility) Eligible() bool { return e.Status == StatusEligible }

// CombineVerdicts intersects verdict tables from independent screens. A
// (location, model) pair is eligible only if no screen marked it
// ineligible; for flagged pairs the first failing reason wins and every
// failing screen is recorded. Pairs are returned sorted by location then
// model for deterministic output.
func CombineVerdicts(tables ...[]EligibilityVerdict) []ModelEligibility {
	type pairKey struct{ location, model string }

	combined := make(map[pairKey]*ModelEligibility)
	var order []pairKey
	for _, table := range tables {
		for _, v := range table {
			key := pairKey{v.Location, v.Model}
			entry, ok := combined[key]
			if !ok {
				entry = &ModelEligibility{
					Location: v.Location,
					Model:    v.Model,
					Status:   StatusEligible,
				}
				combined[key] = entry
				order = append(order, key)
			}
			if v.Eligible() {
				continue
			}
			if entry.Status == StatusEligible {
				entry.Status = v.Status
			}
			entry.FailedScreens = append(entry.FailedScreens, v.Screen)
		}
	}

	out := make([]ModelEligibility, 0, len(order))
	for _, key := range order {
		out = append(out, *combined[key])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// EligibleModelsByLocation reduces combined eligibilities to the model set
// that survives all screens at each location, preserving the order in
// which models appear in the input.
func EligibleModelsByLocation(eligibilities []ModelEligibility) map[string][]string {
	out := make(map[string][]string)
	for _, e := range eligibilities {
		if e.Eligible() {
			out[e.Location] = append(out[e.Location], e.Model)
		}
	}
	return out
}
