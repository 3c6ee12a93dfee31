// Package observability wires OTel metric instruments for the indexing
// pipeline and exposes them over a Prometheus scrape endpoint.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName identifies the instrumentation scope.
const meterName = "codedup"

// reasonKey labels skip counts with their cause.
const reasonKey = "reason"

// Metrics holds the pipeline instruments. It satisfies the engine's metrics
// sink and is safe for concurrent use.
type Metrics struct {
	indexed       metric.Int64Counter
	skipped       metric.Int64Counter
	storeWrites   metric.Int64Counter
	sketchSeconds metric.Float64Histogram
}

// NewMetrics creates the instrument set on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	builder := newMetricBuilder(meter)

	m := &Metrics{
		indexed: builder.counter("codedup.documents.indexed",
			"Documents written to the index.", "{document}"),
		skipped: builder.counter("codedup.documents.skipped",
			"Documents skipped during indexing, by reason.", "{document}"),
		storeWrites: builder.counter("codedup.store.writes",
			"Sketch and band write batches.", "{write}"),
		sketchSeconds: builder.histogram("codedup.sketch.duration",
			"Weighted MinHash sketch computation time.", "s",
			0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	}

	if builder.err != nil {
		return nil, builder.err
	}

	return m, nil
}

// DocumentIndexed counts one indexed document.
func (m *Metrics) DocumentIndexed(ctx context.Context) {
	m.indexed.Add(ctx, 1)
}

// DocumentSkipped counts one skipped document by reason.
func (m *Metrics) DocumentSkipped(ctx context.Context, reason string) {
	m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String(reasonKey, reason)))
}

// SketchComputed records one sketch duration.
func (m *Metrics) SketchComputed(ctx context.Context, seconds float64) {
	m.sketchSeconds.Record(ctx, seconds)
}

// StoreWrite counts one store write batch.
func (m *Metrics) StoreWrite(ctx context.Context) {
	m.storeWrites.Add(ctx, 1)
}
