package combiner

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/domain"
)

func cRec(location, date, model string, level, value float64) domain.Record {
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

func cMissing(location, date, model string, level float64) domain.Record {
	r := cRec(location, date, model, level, 0)
	r.Missing = true
	return r
}

func cMatrix(t *testing.T, records []domain.Record) *domain.Matrix {
	t.Helper()
	m, err := domain.Build(records, []string{"location", "target_end_date"})
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		combineName string
		config      Config
		wantErr     bool
	}{
		{name: "defaults", combineName: "ensemble", config: Config{}},
		{name: "weighted bandwidth", combineName: "ensemble", config: Config{BandwidthMode: BandwidthWeighted}},
		{name: "empty name", combineName: "", config: Config{}, wantErr: true},
		{name: "unknown bandwidth mode", combineName: "ensemble", config: Config{BandwidthMode: "gaussian"}, wantErr: true},
		{name: "negative concurrency", combineName: "ensemble", config: Config{MaxConcurrency: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.combineName, tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.combineName, c.Name())
			assert.NoError(t, c.Validate())
		})
	}
}

func TestCombine_OneHotWeightsReproduceTheModel(t *testing.T) {
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.25, 8),
		cRec("a", "2024-01-13", "modelA", 0.75, 12),
		cRec("a", "2024-01-13", "modelB", 0.25, 20),
		cRec("a", "2024-01-13", "modelB", 0.75, 30),
	})
	weights, err := domain.NewWeights([]string{"modelA", "modelB"}, []float64{1, 0})
	require.NoError(t, err)

	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	out, err := c.Combine(context.Background(), m, weights)
	require.NoError(t, err)

	assert.Equal(t, []string{"ensemble"}, out.Models())
	for level, want := range map[float64]float64{0.25: 8, 0.75: 12} {
		v, ok := out.Value(out.Cases()[0], "ensemble", level)
		require.True(t, ok)
		assert.InDelta(t, want, v, 1e-9,
			"all weight on one model must reproduce its value at level %g", level)
	}
}

func TestCombine_SymmetricValuesGiveCentralMedian(t *testing.T) {
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 8),
		cRec("a", "2024-01-13", "modelB", 0.5, 10),
		cRec("a", "2024-01-13", "modelC", 0.5, 12),
	})
	weights, err := domain.NewUniformWeights([]string{"modelA", "modelB", "modelC"})
	require.NoError(t, err)

	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	out, err := c.Combine(context.Background(), m, weights)
	require.NoError(t, err)

	v, ok := out.Value(out.Cases()[0], "ensemble", 0.5)
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)
}

func TestCombine_WeightedBandwidthStaysFinite(t *testing.T) {
	// Cell weights are renormalized to unit mass before the kernel is
	// sized; the weighted dispersion estimate must survive that without
	// blowing up to an infinite width.
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 10),
		cRec("a", "2024-01-13", "modelB", 0.5, 20),
	})
	weights, err := domain.NewUniformWeights([]string{"modelA", "modelB"})
	require.NoError(t, err)

	c, err := New("ensemble", Config{BandwidthMode: BandwidthWeighted})
	require.NoError(t, err)

	out, err := c.Combine(context.Background(), m, weights)
	require.NoError(t, err)

	v, ok := out.Value(out.Cases()[0], "ensemble", 0.5)
	require.True(t, ok)
	require.False(t, math.IsInf(v, 0) || math.IsNaN(v))
	assert.InDelta(t, 15.0, v, 1e-9,
		"equal mass on a symmetric pair puts the median at the midpoint")
}

func TestCombine_ShiftingWeightShiftsTheMedian(t *testing.T) {
	records := []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 0),
		cRec("a", "2024-01-13", "modelB", 0.5, 10),
	}
	m := cMatrix(t, records)
	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	combineWith := func(wA, wB float64) float64 {
		weights, err := domain.NewWeights([]string{"modelA", "modelB"}, []float64{wA, wB})
		require.NoError(t, err)
		out, err := c.Combine(context.Background(), m, weights)
		require.NoError(t, err)
		v, ok := out.Value(out.Cases()[0], "ensemble", 0.5)
		require.True(t, ok)
		return v
	}

	low := combineWith(0.9, 0.1)
	mid := combineWith(0.5, 0.5)
	high := combineWith(0.1, 0.9)
	assert.Less(t, low, mid, "mass toward the lower value pulls the median down")
	assert.Less(t, mid, high, "mass toward the higher value pulls the median up")
}

func TestCombine_RandomizedWeightShiftMovesTowardFavoredModel(t *testing.T) {
	// Interpolating the weight vector from uniform toward a one-hot on a
	// single model interpolates the mixture CDF pointwise, so the combined
	// median must move monotonically toward that model's value.
	rng := rand.New(rand.NewSource(17))
	models := []string{"modelA", "modelB", "modelC"}

	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	for trial := 0; trial < 10; trial++ {
		t.Run(fmt.Sprintf("trial_%d", trial), func(t *testing.T) {
			values := make([]float64, len(models))
			records := make([]domain.Record, len(models))
			for i, name := range models {
				values[i] = rng.Float64() * 100
				records[i] = cRec("a", "2024-01-13", name, 0.5, values[i])
			}
			m := cMatrix(t, records)

			target := rng.Intn(len(models))
			uniform := 1.0 / float64(len(models))
			steps := []float64{0, rng.Float64() * 0.5, 0.5 + rng.Float64()*0.5, 1}

			medians := make([]float64, len(steps))
			for si, frac := range steps {
				w := make([]float64, len(models))
				for i := range w {
					w[i] = (1 - frac) * uniform
				}
				w[target] += frac
				weights, err := domain.NewWeights(models, w)
				require.NoError(t, err)

				out, err := c.Combine(context.Background(), m, weights)
				require.NoError(t, err)
				v, ok := out.Value(out.Cases()[0], "ensemble", 0.5)
				require.True(t, ok)
				require.False(t, math.IsInf(v, 0) || math.IsNaN(v))
				medians[si] = v
			}

			rising := values[target] >= medians[0]
			for si := 1; si < len(medians); si++ {
				if rising {
					assert.GreaterOrEqual(t, medians[si], medians[si-1]-1e-9,
						"median must not move away from the favored model (step %d)", si)
				} else {
					assert.LessOrEqual(t, medians[si], medians[si-1]+1e-9,
						"median must not move away from the favored model (step %d)", si)
				}
			}
			assert.InDelta(t, values[target], medians[len(medians)-1], 1e-9,
				"all mass on one model reproduces its value")
		})
	}
}

func TestCombine_IdenticalValuesFallBackToDiscrete(t *testing.T) {
	// Zero dispersion collapses the kernel; the discrete weighted
	// quantile returns the shared value.
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 7),
		cRec("a", "2024-01-13", "modelB", 0.5, 7),
	})
	weights, err := domain.NewUniformWeights([]string{"modelA", "modelB"})
	require.NoError(t, err)

	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	out, err := c.Combine(context.Background(), m, weights)
	require.NoError(t, err)

	v, ok := out.Value(out.Cases()[0], "ensemble", 0.5)
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestCombine_RenormalizesOverPresentModels(t *testing.T) {
	// modelB is missing at this cell; its weight redistributes and the
	// remaining single kernel reproduces modelA's value.
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 6),
		cMissing("a", "2024-01-13", "modelB", 0.5),
	})
	weights, err := domain.NewWeights([]string{"modelA", "modelB"}, []float64{0.3, 0.7})
	require.NoError(t, err)

	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	out, err := c.Combine(context.Background(), m, weights)
	require.NoError(t, err)

	v, ok := out.Value(out.Cases()[0], "ensemble", 0.5)
	require.True(t, ok)
	assert.Equal(t, 6.0, v)
}

func TestCombine_DegenerateCellStaysMissing(t *testing.T) {
	// Every model is missing at the 0.5 cell of the second case; the
	// ensemble keeps the gap and reports it, while the healthy cells
	// still combine.
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 6),
		cRec("a", "2024-01-13", "modelB", 0.5, 8),
		cMissing("a", "2024-01-20", "modelA", 0.5),
		cMissing("a", "2024-01-20", "modelB", 0.5),
	})
	weights, err := domain.NewUniformWeights([]string{"modelA", "modelB"})
	require.NoError(t, err)

	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	out, err := c.Combine(context.Background(), m, weights)
	require.NotNil(t, out, "partial results accompany degenerate-cell errors")
	require.Error(t, err)

	var degErr *domain.DegenerateInputError
	require.ErrorAs(t, err, &degErr)
	assert.ErrorIs(t, err, ErrNoValues)

	cases := out.Cases()
	_, ok := out.Value(cases[1], "ensemble", 0.5)
	assert.False(t, ok, "the degenerate cell must stay missing, never zero")
	v, ok := out.Value(cases[0], "ensemble", 0.5)
	require.True(t, ok)
	assert.InDelta(t, 7.0, v, 1e-9)
}

func TestCombine_WeightsMustCoverAllModels(t *testing.T) {
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 6),
		cRec("a", "2024-01-13", "modelB", 0.5, 8),
	})
	weights, err := domain.NewWeights([]string{"modelA"}, []float64{1})
	require.NoError(t, err)

	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	_, err = c.Combine(context.Background(), m, weights)
	assert.ErrorIs(t, err, domain.ErrNoWeights,
		"a matrix model without a weight is a caller error")
}

func TestCombine_ExtraWeightedModelsAreIgnored(t *testing.T) {
	// The weight set covers a model the matrix no longer carries, as
	// happens after eligibility filtering; its mass renormalizes away.
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 6),
	})
	weights, err := domain.NewWeights([]string{"modelA", "modelGone"}, []float64{0.4, 0.6})
	require.NoError(t, err)

	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	out, err := c.Combine(context.Background(), m, weights)
	require.NoError(t, err)

	v, ok := out.Value(out.Cases()[0], "ensemble", 0.5)
	require.True(t, ok)
	assert.Equal(t, 6.0, v)
}

func TestCombine_CustomEnsembleModelName(t *testing.T) {
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 6),
	})
	weights, err := domain.NewWeights([]string{"modelA"}, []float64{1})
	require.NoError(t, err)

	c, err := New("ensemble", Config{EnsembleModel: "hub-ensemble"})
	require.NoError(t, err)

	out, err := c.Combine(context.Background(), m, weights)
	require.NoError(t, err)
	assert.Equal(t, []string{"hub-ensemble"}, out.Models())
}

func TestCombine_NilInputs(t *testing.T) {
	c, err := New("ensemble", Config{})
	require.NoError(t, err)

	_, err = c.Combine(context.Background(), nil, nil)
	assert.Error(t, err)

	m := cMatrix(t, []domain.Record{cRec("a", "2024-01-13", "modelA", 0.5, 6)})
	_, err = c.Combine(context.Background(), m, nil)
	assert.ErrorIs(t, err, domain.ErrNoWeights)
}

func TestCombine_ContextCancellation(t *testing.T) {
	m := cMatrix(t, []domain.Record{
		cRec("a", "2024-01-13", "modelA", 0.5, 6),
	})
	weights, err := domain.NewWeights([]string{"modelA"}, []float64{1})
	require.NoError(t, err)

	c, err := New("ensemble", Config{MaxConcurrency: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Combine(ctx, m, weights)
	assert.ErrorIs(t, err, context.Canceled)
}
