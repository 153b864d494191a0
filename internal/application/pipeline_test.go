package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/infrastructure/combiner"
	"github.com/ahrav/go-quorum/infrastructure/screens"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

// pipelineFixture builds a three-location round exercising the main
// outcomes in one run:
//   - location a: both models pass every screen,
//   - location b: m2 is missing its latest forecast and drops out,
//   - location c: both models decrease over horizons, so nothing survives.
func pipelineFixture(t *testing.T) ports.Input {
	t.Helper()
	prec := func(location, date, model string, value float64, missing bool) domain.Record {
		return domain.Record{
			Case: map[string]string{
				"location":        location,
				"target_end_date": date,
			},
			Model:         model,
			QuantileLevel: 0.5,
			Value:         value,
			Missing:       missing,
		}
	}

	m, err := domain.Build([]domain.Record{
		prec("a", "2024-01-13", "m1", 10, false),
		prec("a", "2024-01-20", "m1", 11, false),
		prec("a", "2024-01-13", "m2", 12, false),
		prec("a", "2024-01-20", "m2", 13, false),

		prec("b", "2024-01-13", "m1", 20, false),
		prec("b", "2024-01-20", "m1", 21, false),
		prec("b", "2024-01-13", "m2", 22, false),
		prec("b", "2024-01-20", "m2", 0, true),

		prec("c", "2024-01-13", "m1", 10, false),
		prec("c", "2024-01-20", "m1", 9, false),
		prec("c", "2024-01-13", "m2", 8, false),
		prec("c", "2024-01-20", "m2", 7, false),
	}, []string{"location", "target_end_date"})
	require.NoError(t, err)

	forecastDate, err := time.Parse("2006-01-02", "2024-01-06")
	require.NoError(t, err)
	return ports.Input{Forecasts: m, ForecastDate: forecastDate}
}

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	missingness, err := screens.NewMissingnessScreen("missingness", screens.MissingnessConfig{WindowSize: 1})
	require.NoError(t, err)
	monotonicity, err := screens.NewMonotonicityScreen("monotonicity", screens.MonotonicityConfig{})
	require.NoError(t, err)
	comb, err := combiner.New("ensemble", combiner.Config{})
	require.NoError(t, err)

	pipeline, err := NewPipeline([]ports.Screen{missingness, monotonicity}, comb, opts...)
	require.NoError(t, err)
	return pipeline
}

func TestPipeline_Run(t *testing.T) {
	pipeline := newTestPipeline(t)
	input := pipelineFixture(t)

	result, err := pipeline.Run(context.Background(), input, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Len(t, result.Verdicts, 12, "two screens over three locations and two models")
	assert.Len(t, result.Eligibility, 6)
	assert.Equal(t, []string{"c"}, result.SkippedLocations)
	assert.NoError(t, result.Degenerate)

	require.NotNil(t, result.Ensemble)
	assert.Equal(t, []string{"ensemble"}, result.Ensemble.Models())
	assert.Len(t, result.Ensemble.Cases(), 4,
		"two surviving locations with two horizons each")

	byKey := make(map[string]domain.Case)
	for _, c := range result.Ensemble.Cases() {
		loc, _ := c.Field("location")
		date, _ := c.Field("target_end_date")
		byKey[loc+"/"+date] = c
	}

	// Both models eligible at a: equal-weight symmetric mixture.
	v, ok := result.Ensemble.Value(byKey["a/2024-01-13"], "ensemble", 0.5)
	require.True(t, ok)
	assert.InDelta(t, 11.0, v, 1e-9)

	// Only m1 survives at b: the ensemble reproduces it.
	v, ok = result.Ensemble.Value(byKey["b/2024-01-13"], "ensemble", 0.5)
	require.True(t, ok)
	assert.InDelta(t, 20.0, v, 1e-9)
	v, ok = result.Ensemble.Value(byKey["b/2024-01-20"], "ensemble", 0.5)
	require.True(t, ok)
	assert.InDelta(t, 21.0, v, 1e-9)
}

func TestPipeline_RunWithExplicitWeights(t *testing.T) {
	pipeline := newTestPipeline(t)
	input := pipelineFixture(t)

	weights, err := domain.NewWeights([]string{"m1", "m2"}, []float64{1, 0})
	require.NoError(t, err)

	result, err := pipeline.Run(context.Background(), input, weights)
	require.NoError(t, err)

	byKey := make(map[string]domain.Case)
	for _, c := range result.Ensemble.Cases() {
		loc, _ := c.Field("location")
		date, _ := c.Field("target_end_date")
		byKey[loc+"/"+date] = c
	}
	v, ok := result.Ensemble.Value(byKey["a/2024-01-13"], "ensemble", 0.5)
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9, "all weight on m1 reproduces m1 at location a")
}

func TestPipeline_EligibilityDetails(t *testing.T) {
	pipeline := newTestPipeline(t)
	input := pipelineFixture(t)

	result, err := pipeline.Run(context.Background(), input, nil)
	require.NoError(t, err)

	statuses := make(map[string]domain.ModelEligibility)
	for _, e := range result.Eligibility {
		statuses[e.Location+"/"+e.Model] = e
	}

	assert.True(t, statuses["a/m1"].Eligible())
	assert.True(t, statuses["a/m2"].Eligible())
	assert.True(t, statuses["b/m1"].Eligible())
	assert.Equal(t, screens.ReasonMissingForecasts, statuses["b/m2"].Status)
	assert.Equal(t, screens.ReasonDecreasingQuantiles, statuses["c/m1"].Status)
	assert.Equal(t, screens.ReasonDecreasingQuantiles, statuses["c/m2"].Status)
}

type failingScreen struct{ name string }

func (f *failingScreen) Name() string    { return f.name }
func (f *failingScreen) Validate() error { return nil }
func (f *failingScreen) Evaluate(context.Context, ports.Input) ([]domain.EligibilityVerdict, error) {
	return nil, errors.New("backend unavailable")
}

func TestPipeline_ScreenErrorAborts(t *testing.T) {
	comb, err := combiner.New("ensemble", combiner.Config{})
	require.NoError(t, err)
	pipeline, err := NewPipeline([]ports.Screen{&failingScreen{name: "broken"}}, comb)
	require.NoError(t, err)

	_, err = pipeline.Run(context.Background(), pipelineFixture(t), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "backend unavailable")
}

func TestPipeline_NilForecasts(t *testing.T) {
	pipeline := newTestPipeline(t)
	_, err := pipeline.Run(context.Background(), ports.Input{}, nil)
	assert.Error(t, err)
}

func TestNewPipeline_Validation(t *testing.T) {
	comb, err := combiner.New("ensemble", combiner.Config{})
	require.NoError(t, err)
	screen, err := screens.NewMonotonicityScreen("mono", screens.MonotonicityConfig{})
	require.NoError(t, err)

	_, err = NewPipeline(nil, comb)
	assert.Error(t, err, "at least one screen is required")

	_, err = NewPipeline([]ports.Screen{screen}, nil)
	assert.Error(t, err, "a combiner is required")

	_, err = NewPipeline([]ports.Screen{screen, screen}, comb)
	assert.Error(t, err, "duplicate screen names are rejected")
}
