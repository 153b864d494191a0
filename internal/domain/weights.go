package domain

import "math"

// weightSumTolerance bounds how far a weight vector's sum may drift from
// one before it is rejected. Softmax-produced vectors land well inside it.
const weightSumTolerance = 1e-6

// WeightSet assigns one non-negative, sum-to-one weight per model, either
// shared across all quantile levels or specialized per level. A WeightSet
// is validated at construction and immutable afterwards, so it is safe to
// share across the combiner's parallel workers.
type WeightSet struct {
	models  []string
	shared  []float64
	byLevel map[float64][]float64
}

// NewUniformWeights creates a WeightSet giving every model equal weight at
// every quantile level. It is the standard initialization for weight
// fitting and the fallback "untrained ensemble" configuration.
func NewUniformWeights(models []string) (*WeightSet, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	w := make([]float64, len(models))
	for i := range w {
		w[i] = 1 / float64(len(models))
	}
	return NewWeights(models, w)
}

// NewWeights creates a WeightSet applying the same weight vector at every
// quantile level. The vector must match the model list in length, contain
// no negative entries, and sum to one within tolerance.
func NewWeights(models []string, weights []float64) (*WeightSet, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	if err := validateWeights(models, weights); err != nil {
		return nil, err
	}
	return &WeightSet{
		models: append([]string(nil), models...),
		shared: append([]float64(nil), weights...),
	}, nil
}

// NewLevelWeights creates a WeightSet with one weight vector per quantile
// level, as produced by per-level weight fitting. Every vector is
// validated independently. Lookups for levels without an entry fail.
func NewLevelWeights(models []string, byLevel map[float64][]float64) (*WeightSet, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	if len(byLevel) == 0 {
		return nil, ErrNoQuantileLevels
	}
	ws := &WeightSet{
		models:  append([]string(nil), models...),
		byLevel: make(map[float64][]float64, len(byLevel)),
	}
	for level, weights := range byLevel {
		if err := validateWeights(models, weights); err != nil {
			return nil, err
		}
		ws.byLevel[level] = append([]float64(nil), weights...)
	}
	return ws, nil
}

func validateWeights(models []string, weights []float64) error {
	if len(weights) != len(models) {
		return ErrWeightLength
	}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return ErrNegativeWeight
		}
		sum += w
	}
	if math.Abs(sum-1) > weightSumTolerance {
		return ErrWeightSum
	}
	return nil
}

// Models returns a copy of the model list the weights apply to, in weight
// vector order.
func (ws *WeightSet) Models() []string {
	out := make([]string, len(ws.models))
	copy(out, ws.models)
	return out
}

// For returns a copy of the weight vector applying at the given quantile
// level, and whether one exists. Level-specialized entries take precedence
// over the shared vector.
func (ws *WeightSet) For(level float64) ([]float64, bool) {
	for l, w := range ws.byLevel {
		if math.Abs(l-level) <= levelTolerance {
			out := make([]float64, len(w))
			copy(out, w)
			return out, true
		}
	}
	if ws.shared == nil {
		return nil, false
	}
	out := make([]float64, len(ws.shared))
	copy(out, ws.shared)
	return out, true
}

// Weight returns the weight of one model at one level, and whether both
// coordinates resolve.
func (ws *WeightSet) Weight(model string, level float64) (float64, bool) {
	w, ok := ws.For(level)
	if !ok {
		return 0, false
	}
	for i, name := range ws.models {
		if name == model {
			return w[i], true
		}
	}
	return 0, false
}
