// Package combiner implements the rectangular-kernel weighted-median
// ensembling of quantile forecasts and the pinball-loss fitting of the
// combination weights.
package combiner

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// BandwidthMode selects which dispersion estimate feeds Silverman's rule
// when sizing the rectangular kernel.
type BandwidthMode string

// Supported bandwidth modes. The choice between them is deliberately left
// to the caller: the unweighted estimate is numerically easier to optimize
// through, the weighted one is more faithful to the mixture being built.
const (
	// BandwidthUnweighted derives the kernel width from the plain
	// standard deviation of the model quantile values.
	BandwidthUnweighted BandwidthMode = "unweighted"

	// BandwidthWeighted derives the kernel width from the standard
	// deviation weighted by the combination weights.
	BandwidthWeighted BandwidthMode = "weighted"
)

// rectangleWidth sizes the rectangular kernel for one (case, level) cell
// via Silverman's rule of thumb: bandwidth = 0.9 * sigma * M^(-1/5), then
// width = sqrt(12 * bandwidth^2) so the rectangle matches the bandwidth's
// variance. Fewer than two values, or zero dispersion, yield width zero;
// callers fall back to the discrete weighted quantile in that case.
func rectangleWidth(values, weights []float64, mode BandwidthMode) float64 {
	if len(values) < 2 {
		return 0
	}
	var sigma float64
	if mode == BandwidthWeighted {
		sigma = weightedStdDev(values, weights)
	} else {
		sigma = stat.StdDev(values, nil)
	}
	if math.IsNaN(sigma) || sigma <= 0 {
		return 0
	}
	bandwidth := 0.9 * sigma * math.Pow(float64(len(values)), -0.2)
	return bandwidth * math.Sqrt(12)
}

// weightedStdDev is the population-style weighted standard deviation,
// sqrt(sum(w_i*(x_i-mean)^2) / sum(w_i)). Unlike gonum's unbiased weighted
// estimate it is invariant to rescaling the weights, so it stays finite for
// the normalized weight vectors the combiner produces, whose mass sums to
// exactly one.
func weightedStdDev(values, weights []float64) float64 {
	mean := stat.Mean(values, weights)
	var sumW, sumSq float64
	for i, v := range values {
		w := weights[i]
		d := v - mean
		sumW += w
		sumSq += w * d * d
	}
	if sumW <= 0 {
		return math.NaN()
	}
	return math.Sqrt(sumSq / sumW)
}
