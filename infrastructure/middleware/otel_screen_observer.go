package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Screen = (*ObservedScreen)(nil)

// tracerName identifies the ensembling engine's tracer.
const tracerName = "ensemble-screens"

// ObservedScreen decorates a ports.Screen with OpenTelemetry tracing and
// metrics collection. It creates one span per evaluation, annotates it
// with the screening outcome, and records verdict counts and latency
// through the MetricsCollector. The wrapped screen's behavior is otherwise
// unchanged.
type ObservedScreen struct {
	inner   ports.Screen
	metrics ports.MetricsCollector
}

// WithObservability wraps a screen with tracing and metrics. A nil metrics
// collector disables metric recording but keeps tracing.
func WithObservability(screen ports.Screen, metrics ports.MetricsCollector) *ObservedScreen {
	return &ObservedScreen{inner: screen, metrics: metrics}
}

// Name returns the wrapped screen's identifier.
func (o *ObservedScreen) Name() string { return o.inner.Name() }

// Validate delegates to the wrapped screen.
func (o *ObservedScreen) Validate() error { return o.inner.Validate() }

// Evaluate runs the wrapped screen inside a span, recording verdict
// counts by status and the evaluation latency.
func (o *ObservedScreen) Evaluate(ctx context.Context, input ports.Input) ([]domain.EligibilityVerdict, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Screen.Evaluate", trace.WithAttributes(
		attribute.String("screen.name", o.inner.Name()),
		attribute.String("screen.forecast_date", input.ForecastDate.Format("2006-01-02")),
	))
	defer span.End()

	start := time.Now()
	verdicts, err := o.inner.Evaluate(ctx, input)
	elapsed := time.Since(start)

	if o.metrics != nil {
		o.metrics.RecordLatency("screen_evaluate", elapsed, map[string]string{
			"screen": o.inner.Name(),
		})
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	flagged := 0
	for _, v := range verdicts {
		if !v.Eligible() {
			flagged++
		}
		if o.metrics != nil {
			o.metrics.RecordCounter("screen_verdicts", 1, map[string]string{
				"screen": o.inner.Name(),
				"status": v.Status,
			})
		}
	}
	span.AddEvent("screen.evaluated", trace.WithAttributes(
		attribute.Int("screen.verdicts", len(verdicts)),
		attribute.Int("screen.flagged", flagged),
	))
	span.SetStatus(codes.Ok, "screen evaluation completed")
	return verdicts, nil
}
