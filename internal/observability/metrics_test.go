package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(provider.Meter(meterName))
	require.NoError(t, err)

	ctx := context.Background()
	m.DocumentIndexed(ctx)
	m.DocumentIndexed(ctx)
	m.DocumentSkipped(ctx, "sketch-empty")
	m.SketchComputed(ctx, 0.002)
	m.StoreWrite(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Metrics)
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		byName[metric.Name] = metric
	}

	indexed, ok := byName["codedup.documents.indexed"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, indexed.DataPoints, 1)
	assert.Equal(t, int64(2), indexed.DataPoints[0].Value)

	skipped, ok := byName["codedup.documents.skipped"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, skipped.DataPoints, 1)
	assert.Equal(t, int64(1), skipped.DataPoints[0].Value)

	assert.Contains(t, byName, "codedup.sketch.duration")
	assert.Contains(t, byName, "codedup.store.writes")
}

func TestNewPrometheus(t *testing.T) {
	t.Parallel()

	meter, handler, err := NewPrometheus()
	require.NoError(t, err)
	assert.NotNil(t, meter)
	assert.NotNil(t, handler)
}
