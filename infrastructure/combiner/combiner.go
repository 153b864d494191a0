package combiner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-quorum/internal/domain"
)

// ErrEmptyCombinerName is returned when attempting to create a combiner
// with an empty name.
var ErrEmptyCombinerName = errors.New("combiner name cannot be empty")

// Package-level validator instance for configuration validation.
var validate = validator.New()

// DefaultEnsembleModel is the model name carried by the combined output
// matrix when none is configured.
const DefaultEnsembleModel = "ensemble"

// Config defines the configuration parameters for the
// WeightedMedianCombiner.
type Config struct {
	// BandwidthMode selects the dispersion estimate feeding Silverman's
	// rule. Defaults to BandwidthUnweighted.
	BandwidthMode BandwidthMode `yaml:"bandwidth_mode" json:"bandwidth_mode" validate:"omitempty,oneof=unweighted weighted"`

	// MaxConcurrency caps the number of cases combined in parallel.
	// Zero uses the number of available CPUs.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=0"`

	// EnsembleModel is the model name the combined matrix carries.
	// Defaults to DefaultEnsembleModel.
	EnsembleModel string `yaml:"ensemble_model" json:"ensemble_model"`
}

// WeightedMedianCombiner produces one ensemble quantile value per (case,
// quantile level) by inverting a rectangular-kernel weighted mixture CDF
// at probability one half. It is stateless and safe for concurrent use.
type WeightedMedianCombiner struct {
	name   string
	config Config
}

// New creates a WeightedMedianCombiner with the given configuration,
// applying defaults and validating the rest.
func New(name string, config Config) (*WeightedMedianCombiner, error) {
	if name == "" {
		return nil, ErrEmptyCombinerName
	}
	if config.BandwidthMode == "" {
		config.BandwidthMode = BandwidthUnweighted
	}
	if config.EnsembleModel == "" {
		config.EnsembleModel = DefaultEnsembleModel
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &WeightedMedianCombiner{name: name, config: config}, nil
}

// Name returns the unique identifier for this combiner instance.
func (c *WeightedMedianCombiner) Name() string { return c.name }

// Validate checks that the combiner is properly configured.
func (c *WeightedMedianCombiner) Validate() error {
	if c.name == "" {
		return ErrEmptyCombinerName
	}
	if err := validate.Struct(c.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Combine produces the ensemble matrix for the eligible forecasts in m
// under the given weights. The output matrix shares m's cases and quantile
// levels and carries a single model, the configured ensemble name.
//
// Each (case, level) cell is independent of every other, so cells are
// combined in parallel across cases with a bounded worker pool. Weights
// renormalize over the models actually present for a cell. Cells that
// cannot be combined stay missing and are reported as joined
// *domain.DegenerateInputError values alongside the partial result; they
// are never defaulted to zero.
func (c *WeightedMedianCombiner) Combine(ctx context.Context, m *domain.Matrix, weights *domain.WeightSet) (*domain.Matrix, error) {
	if m == nil {
		return nil, fmt.Errorf("combiner %s: forecast matrix is required", c.name)
	}
	if weights == nil {
		return nil, fmt.Errorf("combiner %s: %w", c.name, domain.ErrNoWeights)
	}

	models := m.Models()
	if len(models) == 0 {
		return nil, fmt.Errorf("combiner %s: %w", c.name, domain.ErrNoModels)
	}
	levels := m.QuantileLevels()
	if len(levels) == 0 {
		return nil, fmt.Errorf("combiner %s: %w", c.name, domain.ErrNoQuantileLevels)
	}

	aligned, err := alignWeights(weights, models, levels)
	if err != nil {
		return nil, fmt.Errorf("combiner %s: %w", c.name, err)
	}

	cases := m.Cases()
	combined := make([][]float64, len(cases))
	cellErrs := make([][]error, len(cases))

	limit := c.config.MaxConcurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for ci := range cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row := make([]float64, len(levels))
			var rowErrs []error
			for li, level := range levels {
				value, err := combineCell(m, ci, li, aligned[li], c.config.BandwidthMode)
				if err != nil {
					row[li] = math.NaN()
					rowErrs = append(rowErrs,
						domain.NewDegenerateInputError(cases[ci].Key(), level, err))
					continue
				}
				row[li] = value
			}
			combined[ci] = row
			cellErrs[ci] = rowErrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("combiner %s: %w", c.name, err)
	}

	records := make([]domain.Record, 0, len(cases)*len(levels))
	var degenerate []error
	for ci, cs := range cases {
		for li, level := range levels {
			v := combined[ci][li]
			records = append(records, domain.Record{
				Case:          cs.Fields(),
				Model:         c.config.EnsembleModel,
				QuantileLevel: level,
				Value:         v,
				Missing:       math.IsNaN(v),
			})
		}
		degenerate = append(degenerate, cellErrs[ci]...)
	}
	out, err := domain.Build(records, m.IDColumns())
	if err != nil {
		return nil, fmt.Errorf("combiner %s: building ensemble matrix: %w", c.name, err)
	}
	return out, errors.Join(degenerate...)
}

// combineCell combines one (case, level) cell: gather the present model
// values, renormalize their weights, size the kernel, and invert the
// mixture CDF at one half.
func combineCell(m *domain.Matrix, caseIdx, levelIdx int, weights []float64, mode BandwidthMode) (float64, error) {
	values := make([]float64, 0, len(weights))
	mass := make([]float64, 0, len(weights))
	total := 0.0
	for mi, w := range weights {
		v, ok := m.ValueAt(caseIdx, mi, levelIdx)
		if !ok {
			continue
		}
		values = append(values, v)
		mass = append(mass, w)
		total += w
	}
	if len(values) == 0 {
		return 0, ErrNoValues
	}
	if total <= 0 {
		return 0, ErrZeroWeightMass
	}
	for i := range mass {
		mass[i] /= total
	}

	width := rectangleWidth(values, mass, mode)
	if width <= 0 {
		return discreteWeightedQuantile(values, mass, 0.5)
	}
	return newPiecewiseCDF(values, mass, width).invert(0.5)
}

// alignWeights resolves the weight vector for every quantile level and
// reorders it to the matrix's model order. Every matrix model must carry a
// weight; every level must resolve to a vector.
func alignWeights(ws *domain.WeightSet, models []string, levels []float64) ([][]float64, error) {
	position := make(map[string]int, len(models))
	for i, name := range models {
		position[name] = i
	}

	wsModels := ws.Models()
	aligned := make([][]float64, len(levels))
	for li, level := range levels {
		w, ok := ws.For(level)
		if !ok {
			return nil, fmt.Errorf("no weights for quantile level %g: %w", level, domain.ErrNoWeights)
		}
		row := make([]float64, len(models))
		seen := make([]bool, len(models))
		for wi, name := range wsModels {
			pos, ok := position[name]
			if !ok {
				// Weight for a model the matrix no longer carries; the
				// renormalization in combineCell handles the lost mass.
				continue
			}
			row[pos] = w[wi]
			seen[pos] = true
		}
		for mi, name := range models {
			if !seen[mi] {
				return nil, fmt.Errorf("model %q has no weight at level %g: %w",
					name, level, domain.ErrNoWeights)
			}
		}
		aligned[li] = row
	}
	return aligned, nil
}
