package combiner

import (
	"errors"
	"sort"
)

// Errors reported when a cell's inputs cannot produce a combined quantile.
// They surface wrapped in a *domain.DegenerateInputError identifying the
// affected cell.
var (
	// ErrNoValues indicates that no model supplied a value for the cell.
	ErrNoValues = errors.New("no model values to combine")

	// ErrZeroWeightMass indicates that the weights over the present
	// models sum to zero, leaving no probability mass to invert.
	ErrZeroWeightMass = errors.New("zero weight mass over present models")

	// ErrMassBelowTarget indicates that accumulated probability never
	// reached the target, a numeric edge effect of ill-formed weights.
	ErrMassBelowTarget = errors.New("cumulative weight never reaches target probability")
)

// cumTolerance absorbs floating-point shortfall when the accumulated mass
// should reach the target probability exactly.
const cumTolerance = 1e-9

// piecewiseCDF is the weighted rectangular-kernel mixture CDF: each model
// contributes a ramp rising linearly from zero to its weight across
// [q - width/2, q + width/2]. The sum is piecewise linear, which is what
// makes closed-form inversion possible.
//
// xs holds the sorted distinct kernel edges (up to 2M breakpoints); cum
// holds the CDF value at each edge.
type piecewiseCDF struct {
	xs  []float64
	cum []float64
}

// newPiecewiseCDF builds the mixture CDF from model quantile values and
// their (normalized) weights. Width must be positive; zero-width kernels
// are handled by discreteWeightedQuantile instead.
func newPiecewiseCDF(values, weights []float64, width float64) piecewiseCDF {
	type edge struct {
		x          float64
		slopeDelta float64
	}
	edges := make([]edge, 0, 2*len(values))
	for i, v := range values {
		slope := weights[i] / width
		edges = append(edges,
			edge{x: v - width/2, slopeDelta: slope},
			edge{x: v + width/2, slopeDelta: -slope},
		)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].x < edges[j].x })

	// Integrate the running slope across distinct breakpoints.
	f := piecewiseCDF{
		xs:  make([]float64, 0, len(edges)),
		cum: make([]float64, 0, len(edges)),
	}
	slope, mass := 0.0, 0.0
	for i := 0; i < len(edges); {
		x := edges[i].x
		if len(f.xs) > 0 {
			mass += slope * (x - f.xs[len(f.xs)-1])
		}
		for i < len(edges) && edges[i].x == x {
			slope += edges[i].slopeDelta
			i++
		}
		f.xs = append(f.xs, x)
		f.cum = append(f.cum, mass)
	}
	return f
}

// invert returns the smallest x with CDF(x) >= p, the documented
// right-continuous convention for breakpoint ties. The containing segment
// is located by binary search over the cumulative values, keeping
// inversion logarithmic in the model count.
func (f piecewiseCDF) invert(p float64) (float64, error) {
	if len(f.xs) == 0 {
		return 0, ErrNoValues
	}
	if f.cum[len(f.cum)-1] < p-cumTolerance {
		return 0, ErrMassBelowTarget
	}
	i := sort.Search(len(f.cum), func(i int) bool { return f.cum[i] >= p })
	if i == 0 {
		return f.xs[0], nil
	}
	if i == len(f.cum) {
		// Shortfall within tolerance; the mass is all in by the last edge.
		return f.xs[len(f.xs)-1], nil
	}
	span := f.cum[i] - f.cum[i-1]
	frac := (p - f.cum[i-1]) / span
	return f.xs[i-1] + frac*(f.xs[i]-f.xs[i-1]), nil
}

// discreteWeightedQuantile handles the zero-width degenerate kernel: the
// mixture collapses to point masses and the combined quantile is the
// smallest value whose cumulative weight reaches p, the same
// right-continuous convention invert uses.
func discreteWeightedQuantile(values, weights []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoValues
	}
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return values[order[i]] < values[order[j]] })

	mass := 0.0
	for _, idx := range order {
		mass += weights[idx]
		if mass >= p-cumTolerance {
			return values[idx], nil
		}
	}
	return 0, ErrMassBelowTarget
}
