// Package ports defines the interfaces that form the contract between the
// domain/application layers and the infrastructure layer. These interfaces
// enable dependency inversion and make the system testable.
package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Input carries everything an eligibility screen may consult: the forecast
// matrix under review, the observed ground-truth series, and the forecast
// date anchoring horizon and recency calculations. Inputs are read-only;
// screens must never mutate them.
type Input struct {
	// Forecasts is the quantile forecast matrix being screened.
	Forecasts *domain.Matrix

	// Observed holds ground-truth series for the screens that compare
	// forecasts against recent observations. Screens that do not consult
	// observations ignore it; it may be nil for those.
	Observed *domain.ObservedSet

	// ForecastDate is the date the forecasts were issued, used to anchor
	// "most recent observed" and trailing-window lookups.
	ForecastDate time.Time
}

// Screen is one independent eligibility rule. Each screen inspects the
// forecast matrix and emits one verdict per (location, model) pair; the
// caller intersects verdicts across screens to obtain the eligible model
// set. Screens must be stateless and safe for concurrent execution.
type Screen interface {
	// Name returns a unique identifier for this screen instance.
	// The name is used for logging, metrics, and verdict attribution.
	Name() string

	// Evaluate inspects the input and returns one verdict per
	// (location, model) pair. Ineligibility is data, not an error;
	// Evaluate returns an error only for malformed input or a cancelled
	// context.
	Evaluate(ctx context.Context, input Input) ([]domain.EligibilityVerdict, error)

	// Validate checks that the screen is properly configured and ready
	// for evaluation. It is called during pipeline construction.
	Validate() error
}
