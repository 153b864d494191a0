package screens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Shared fixtures for the screen tests.

func fRec(location, date, model string, level, value float64) domain.Record {
	return domain.Record{
		Case: map[string]string{
			"location":        location,
			"target_end_date": date,
		},
		Model:         model,
		QuantileLevel: level,
		Value:         value,
	}
}

func missingRec(location, date, model string, level float64) domain.Record {
	r := fRec(location, date, model, level, 0)
	r.Missing = true
	return r
}

func buildMatrix(t *testing.T, records []domain.Record) *domain.Matrix {
	t.Helper()
	m, err := domain.Build(records, []string{"location", "target_end_date"})
	require.NoError(t, err)
	return m
}

func obs(location, date string, value float64) domain.Observation {
	return domain.Observation{
		Location:      location,
		TargetEndDate: testDay(date),
		Value:         value,
	}
}

func testDay(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

// verdictStatus finds the status for a (location, model) pair in a verdict
// table, failing the test when the pair is absent.
func verdictStatus(t *testing.T, verdicts []domain.EligibilityVerdict, location, model string) string {
	t.Helper()
	for _, v := range verdicts {
		if v.Location == location && v.Model == model {
			return v.Status
		}
	}
	t.Fatalf("no verdict for location %q model %q", location, model)
	return ""
}
