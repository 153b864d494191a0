package combiner

// PinballLoss scores one quantile prediction against an observed value:
// (1[y < q] - tau) * (q - y). It is non-negative, zero only when the
// prediction equals the observation, and penalizes under-prediction of
// high quantiles (and over-prediction of low ones) asymmetrically.
func PinballLoss(level, predicted, observed float64) float64 {
	indicator := 0.0
	if observed < predicted {
		indicator = 1.0
	}
	return (indicator - level) * (predicted - observed)
}
