package combiner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/ahrav/go-quorum/internal/domain"
)

// ErrNoTrainingData indicates that no forecast case could be paired with
// an observed value, leaving nothing to fit weights against.
var ErrNoTrainingData = errors.New("no training cases with observed values")

// armijoFactor is the sufficient-decrease constant for the backtracking
// line search.
const armijoFactor = 1e-4

// gradientStep is the perturbation used for central-difference gradients
// of the almost-everywhere differentiable pinball objective.
const gradientStep = 1e-6

// FitConfig defines the configuration parameters for weight fitting.
type FitConfig struct {
	// BandwidthMode selects the dispersion estimate feeding Silverman's
	// rule during loss evaluation. Defaults to BandwidthUnweighted, which
	// keeps the objective easier to descend.
	BandwidthMode BandwidthMode `yaml:"bandwidth_mode" json:"bandwidth_mode" validate:"omitempty,oneof=unweighted weighted"`

	// MaxIters bounds the number of gradient steps per quantile group.
	// Exhausting the budget is not an error; the best weights so far are
	// returned with Converged false. Defaults to 200.
	MaxIters int `yaml:"max_iters" json:"max_iters" validate:"min=0"`

	// Tolerance is the loss improvement below which a step counts as
	// converged. Defaults to 1e-6.
	Tolerance float64 `yaml:"tolerance" json:"tolerance" validate:"min=0"`

	// InitialStep is the starting step size for the backtracking line
	// search. Defaults to 0.5.
	InitialStep float64 `yaml:"initial_step" json:"initial_step" validate:"min=0"`

	// MinStep is the step size below which backtracking gives up for the
	// current iteration. Defaults to 1e-8.
	MinStep float64 `yaml:"min_step" json:"min_step" validate:"min=0"`

	// QuantileGroups partitions the quantile levels into groups that
	// share one fitted weight vector. Empty fits all levels jointly;
	// one singleton group per level fits each level independently.
	QuantileGroups [][]float64 `yaml:"quantile_groups" json:"quantile_groups"`

	// LocationColumn overrides the id column holding the location code.
	// Defaults to "location".
	LocationColumn string `yaml:"location_column" json:"location_column"`

	// TimeColumn overrides the id column holding the target end date,
	// used to pair cases with observed values. Defaults to
	// "target_end_date".
	TimeColumn string `yaml:"time_column" json:"time_column"`
}

// GroupFit reports the outcome of fitting one quantile-level group.
type GroupFit struct {
	// Levels are the quantile levels sharing this weight vector.
	Levels []float64 `json:"levels"`

	// Weights is the fitted simplex vector in matrix model order.
	Weights []float64 `json:"weights"`

	// Loss is the mean pinball loss at the fitted weights.
	Loss float64 `json:"loss"`

	// Iterations is the number of gradient steps taken.
	Iterations int `json:"iterations"`

	// Converged is false when the iteration budget ran out first.
	// It is a diagnostic flag, never an error.
	Converged bool `json:"converged"`
}

// FitResult carries the fitted weights and per-group convergence
// diagnostics.
type FitResult struct {
	// Weights holds the fitted per-level weight vectors.
	Weights *domain.WeightSet `json:"-"`

	// Models is the model order the weight vectors apply to.
	Models []string `json:"models"`

	// Groups reports per-group diagnostics in configuration order.
	Groups []GroupFit `json:"groups"`

	// Converged is true only when every group converged within budget.
	Converged bool `json:"converged"`
}

// trainingCase pairs a matrix case ordinal with its realized value.
type trainingCase struct {
	caseIdx  int
	observed float64
}

// FitWeights fits combination weights by minimizing mean pinball loss of
// the combined quantiles against observed values. The weight vector for
// each quantile group is parameterized on the softmax simplex: v in
// R^(M-1) with the final raw coordinate fixed at -sum(v) to remove the
// redundant degree of freedom. Descent is first-order with
// central-difference gradients and a backtracking line search; the
// piecewise-linear CDF makes the objective differentiable almost
// everywhere.
//
// Cases whose target end date has no observation are excluded from the
// objective. FitWeights fails when nothing remains to train on.
func FitWeights(ctx context.Context, m *domain.Matrix, observed *domain.ObservedSet, config FitConfig) (*FitResult, error) {
	if m == nil {
		return nil, fmt.Errorf("fit: forecast matrix is required")
	}
	if observed == nil {
		return nil, fmt.Errorf("fit: observed series are required")
	}
	applyFitDefaults(&config)
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("fit: configuration validation failed: %w", err)
	}

	models := m.Models()
	if len(models) == 0 {
		return nil, fmt.Errorf("fit: %w", domain.ErrNoModels)
	}

	training, err := collectTrainingCases(m, observed, config)
	if err != nil {
		return nil, err
	}

	groups, err := resolveGroups(m, config.QuantileGroups)
	if err != nil {
		return nil, err
	}

	result := &FitResult{Models: models, Converged: true}
	byLevel := make(map[float64][]float64)
	for _, levelIdxs := range groups {
		fit, err := fitGroup(ctx, m, training, levelIdxs, config)
		if err != nil {
			return nil, err
		}
		result.Groups = append(result.Groups, fit)
		result.Converged = result.Converged && fit.Converged
		for _, level := range fit.Levels {
			byLevel[level] = fit.Weights
		}
	}

	ws, err := domain.NewLevelWeights(models, byLevel)
	if err != nil {
		return nil, fmt.Errorf("fit: assembling weight set: %w", err)
	}
	result.Weights = ws
	return result, nil
}

func applyFitDefaults(config *FitConfig) {
	if config.BandwidthMode == "" {
		config.BandwidthMode = BandwidthUnweighted
	}
	if config.MaxIters == 0 {
		config.MaxIters = 200
	}
	if config.Tolerance == 0 {
		config.Tolerance = 1e-6
	}
	if config.InitialStep == 0 {
		config.InitialStep = 0.5
	}
	if config.MinStep == 0 {
		config.MinStep = 1e-8
	}
	if config.LocationColumn == "" {
		config.LocationColumn = "location"
	}
	if config.TimeColumn == "" {
		config.TimeColumn = "target_end_date"
	}
}

// collectTrainingCases pairs each matrix case with the observation for its
// location and target end date, skipping cases without ground truth.
func collectTrainingCases(m *domain.Matrix, observed *domain.ObservedSet, config FitConfig) ([]trainingCase, error) {
	var training []trainingCase
	for ci, c := range m.Cases() {
		loc, ok := c.Field(config.LocationColumn)
		if !ok {
			return nil, fmt.Errorf("fit: case %s: missing id column %q", c, config.LocationColumn)
		}
		raw, ok := c.Field(config.TimeColumn)
		if !ok {
			return nil, fmt.Errorf("fit: case %s: missing id column %q", c, config.TimeColumn)
		}
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("fit: case %s: parsing %q: %w", c, config.TimeColumn, err)
		}
		if y, ok := observed.ValueAt(loc, date); ok {
			training = append(training, trainingCase{caseIdx: ci, observed: y})
		}
	}
	if len(training) == 0 {
		return nil, ErrNoTrainingData
	}
	return training, nil
}

// resolveGroups maps the configured quantile groups to level ordinals,
// defaulting to one group spanning every level in the matrix.
func resolveGroups(m *domain.Matrix, groups [][]float64) ([][]int, error) {
	levels := m.QuantileLevels()
	if len(levels) == 0 {
		return nil, fmt.Errorf("fit: %w", domain.ErrNoQuantileLevels)
	}
	if len(groups) == 0 {
		all := make([]int, len(levels))
		for i := range all {
			all[i] = i
		}
		return [][]int{all}, nil
	}
	out := make([][]int, 0, len(groups))
	for _, group := range groups {
		idxs := make([]int, 0, len(group))
		for _, level := range group {
			li, ok := m.QuantileLevelIndex(level)
			if !ok {
				return nil, fmt.Errorf("fit: quantile level %g not present in matrix", level)
			}
			idxs = append(idxs, li)
		}
		out = append(out, idxs)
	}
	return out, nil
}

// fitGroup runs the descent for one quantile-level group and reports its
// fitted weights and diagnostics.
func fitGroup(ctx context.Context, m *domain.Matrix, training []trainingCase, levelIdxs []int, config FitConfig) (GroupFit, error) {
	levels := m.QuantileLevels()
	groupLevels := make([]float64, len(levelIdxs))
	for i, li := range levelIdxs {
		groupLevels[i] = levels[li]
	}

	numModels := len(m.Models())
	objective := func(v []float64) float64 {
		return groupLoss(m, training, levelIdxs, softmaxWeights(v, numModels), config.BandwidthMode)
	}

	// A single model needs no optimization: it owns the whole simplex.
	if numModels == 1 {
		return GroupFit{
			Levels:    groupLevels,
			Weights:   []float64{1},
			Loss:      objective(nil),
			Converged: true,
		}, nil
	}

	v := make([]float64, numModels-1)
	loss := objective(v)
	grad := make([]float64, len(v))
	candidate := make([]float64, len(v))
	step := config.InitialStep

	fit := GroupFit{Levels: groupLevels}
	for iter := 0; iter < config.MaxIters; iter++ {
		if err := ctx.Err(); err != nil {
			return fit, err
		}
		fit.Iterations = iter + 1

		centralGradient(objective, v, grad)
		gradNormSq := floats.Dot(grad, grad)
		if math.Sqrt(gradNormSq) < config.Tolerance {
			fit.Converged = true
			break
		}

		// Backtracking line search with Armijo sufficient decrease.
		s := step
		candLoss := math.Inf(1)
		for s >= config.MinStep {
			copy(candidate, v)
			floats.AddScaled(candidate, -s, grad)
			candLoss = objective(candidate)
			if candLoss <= loss-armijoFactor*s*gradNormSq {
				break
			}
			s /= 2
		}
		if candLoss >= loss {
			// No descent direction at the minimum step; the piecewise
			// objective has flattened out locally.
			fit.Converged = true
			break
		}

		improvement := loss - candLoss
		copy(v, candidate)
		loss = candLoss
		if s*2 <= config.InitialStep {
			step = s * 2
		} else {
			step = config.InitialStep
		}
		if improvement < config.Tolerance {
			fit.Converged = true
			break
		}
	}

	fit.Weights = softmaxWeights(v, numModels)
	fit.Loss = loss
	return fit, nil
}

// groupLoss is the mean pinball loss over the training cases and the
// group's levels under the given weights (matrix model order). Cells the
// combiner cannot produce are excluded from the mean; an empty mean is
// positive infinity so the optimizer never prefers degenerate regions.
func groupLoss(m *domain.Matrix, training []trainingCase, levelIdxs []int, weights []float64, mode BandwidthMode) float64 {
	levels := m.QuantileLevels()
	total, count := 0.0, 0
	for _, tc := range training {
		for _, li := range levelIdxs {
			q, err := combineCell(m, tc.caseIdx, li, weights, mode)
			if err != nil {
				continue
			}
			total += PinballLoss(levels[li], q, tc.observed)
			count++
		}
	}
	if count == 0 {
		return math.Inf(1)
	}
	return total / float64(count)
}

// softmaxWeights expands the unconstrained vector v in R^(M-1) into a
// point on the M-simplex. The final raw coordinate is fixed at -sum(v),
// removing the softmax's redundant degree of freedom; the subtraction of
// the running maximum keeps the exponentials stable.
func softmaxWeights(v []float64, numModels int) []float64 {
	raw := make([]float64, numModels)
	copy(raw, v)
	if numModels > 1 {
		raw[numModels-1] = -floats.Sum(v)
	}

	maxRaw := raw[0]
	for _, r := range raw[1:] {
		if r > maxRaw {
			maxRaw = r
		}
	}
	weights := make([]float64, numModels)
	sum := 0.0
	for i, r := range raw {
		weights[i] = math.Exp(r - maxRaw)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// centralGradient fills grad with the central-difference gradient of f at
// v.
func centralGradient(f func([]float64) float64, v, grad []float64) {
	for i := range v {
		orig := v[i]
		v[i] = orig + gradientStep
		plus := f(v)
		v[i] = orig - gradientStep
		minus := f(v)
		v[i] = orig
		grad[i] = (plus - minus) / (2 * gradientStep)
	}
}
