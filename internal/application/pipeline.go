package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-quorum/infrastructure/combiner"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

// Pipeline runs one ensembling round: every screen evaluates the forecast
// matrix independently, their verdicts are intersected per (location,
// model), and the surviving forecasts at each location are combined into
// ensemble quantiles. A Pipeline is immutable after construction and safe
// for concurrent rounds.
type Pipeline struct {
	screens        []ports.Screen
	combiner       *combiner.WeightedMedianCombiner
	locationColumn string
	logger         zerolog.Logger
	metrics        ports.MetricsCollector
}

// Option customizes pipeline construction.
type Option func(*Pipeline)

// WithLogger attaches a zerolog logger; the default discards output.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics attaches a metrics collector for round-level counters and
// latencies. Per-screen metrics belong to the middleware wrapping the
// screens themselves.
func WithMetrics(metrics ports.MetricsCollector) Option {
	return func(p *Pipeline) { p.metrics = metrics }
}

// WithLocationColumn overrides the id column the pipeline groups
// eligibility and combination by. Defaults to "location".
func WithLocationColumn(column string) Option {
	return func(p *Pipeline) { p.locationColumn = column }
}

// NewPipeline assembles a pipeline from validated screens and a combiner.
// Every screen's Validate must pass; duplicate screen names are rejected
// since verdict attribution depends on them.
func NewPipeline(screens []ports.Screen, comb *combiner.WeightedMedianCombiner, opts ...Option) (*Pipeline, error) {
	if len(screens) == 0 {
		return nil, fmt.Errorf("at least one screen is required")
	}
	if comb == nil {
		return nil, fmt.Errorf("combiner is required")
	}

	names := make(map[string]struct{}, len(screens))
	for _, s := range screens {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("screen %s: %w", s.Name(), err)
		}
		if _, dup := names[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate screen name %q", s.Name())
		}
		names[s.Name()] = struct{}{}
	}

	p := &Pipeline{
		screens:        screens,
		combiner:       comb,
		locationColumn: "location",
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Result is the outcome of one ensembling round.
type Result struct {
	// Ensemble holds one combined quantile value per (case, level) for
	// every location with at least one eligible model. It is nil when no
	// location survived screening.
	Ensemble *domain.Matrix

	// Verdicts are the raw per-screen verdict rows.
	Verdicts []domain.EligibilityVerdict

	// Eligibility is the per-(location, model) intersection of all
	// screens' verdicts.
	Eligibility []domain.ModelEligibility

	// SkippedLocations lists locations where every model was screened
	// out; no ensemble is produced there.
	SkippedLocations []string

	// Degenerate joins the per-cell combination failures. Cells named
	// here stay missing in the ensemble; it is nil when every cell
	// combined cleanly.
	Degenerate error
}

// Run executes one round. Screens evaluate concurrently; combination runs
// per location over the eligible model subset. A nil weight set falls back
// to uniform weights over each location's eligible models.
func (p *Pipeline) Run(ctx context.Context, input ports.Input, weights *domain.WeightSet) (*Result, error) {
	if input.Forecasts == nil {
		return nil, fmt.Errorf("pipeline: forecast matrix is required")
	}
	start := time.Now()

	tables := make([][]domain.EligibilityVerdict, len(p.screens))
	g, gctx := errgroup.WithContext(ctx)
	for i, screen := range p.screens {
		g.Go(func() error {
			verdicts, err := screen.Evaluate(gctx, input)
			if err != nil {
				return fmt.Errorf("screen %s: %w", screen.Name(), err)
			}
			tables[i] = verdicts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	result := &Result{}
	for _, table := range tables {
		result.Verdicts = append(result.Verdicts, table...)
	}
	result.Eligibility = domain.CombineVerdicts(tables...)
	eligibleByLoc := domain.EligibleModelsByLocation(result.Eligibility)

	locations, err := p.matrixLocations(input.Forecasts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	var (
		records    []domain.Record
		degenerate []error
	)
	for _, loc := range locations {
		eligible := eligibleByLoc[loc]
		if len(eligible) == 0 {
			result.SkippedLocations = append(result.SkippedLocations, loc)
			p.logger.Warn().Str("location", loc).
				Msg("no eligible models; skipping location")
			continue
		}

		sub := input.Forecasts.
			Filter(p.locationPredicate(loc)).
			FilterModels(eligible)

		locWeights := weights
		if locWeights == nil {
			locWeights, err = domain.NewUniformWeights(eligible)
			if err != nil {
				return nil, fmt.Errorf("pipeline: location %s: %w", loc, err)
			}
		}

		ensemble, err := p.combiner.Combine(ctx, sub, locWeights)
		if err != nil {
			var degErr *domain.DegenerateInputError
			if !errors.As(err, &degErr) {
				return nil, fmt.Errorf("pipeline: location %s: %w", loc, err)
			}
			degenerate = append(degenerate, err)
		}
		if ensemble != nil {
			records = append(records, ensemble.Records()...)
		}
	}

	if len(records) > 0 {
		ensemble, err := domain.Build(records, input.Forecasts.IDColumns())
		if err != nil {
			return nil, fmt.Errorf("pipeline: assembling ensemble: %w", err)
		}
		result.Ensemble = ensemble
	}
	result.Degenerate = errors.Join(degenerate...)

	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_run", elapsed, nil)
		p.metrics.RecordCounter("locations_skipped", float64(len(result.SkippedLocations)), nil)
	}
	p.logger.Info().
		Int("screens", len(p.screens)).
		Int("locations", len(locations)).
		Int("skipped", len(result.SkippedLocations)).
		Dur("elapsed", elapsed).
		Msg("ensembling round completed")
	return result, nil
}

// matrixLocations returns the distinct locations in first-occurrence
// order.
func (p *Pipeline) matrixLocations(m *domain.Matrix) ([]string, error) {
	seen := make(map[string]struct{})
	var locations []string
	for _, c := range m.Cases() {
		loc, ok := c.Field(p.locationColumn)
		if !ok {
			return nil, fmt.Errorf("case %s: missing id column %q", c, p.locationColumn)
		}
		if _, dup := seen[loc]; !dup {
			seen[loc] = struct{}{}
			locations = append(locations, loc)
		}
	}
	return locations, nil
}

// locationPredicate matches cases belonging to one location.
func (p *Pipeline) locationPredicate(location string) func(domain.Case) bool {
	return func(c domain.Case) bool {
		loc, _ := c.Field(p.locationColumn)
		return loc == location
	}
}
