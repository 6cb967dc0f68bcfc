package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectMetricNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestMetricsRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec := NewMetricsRecorder()
	ctx := context.Background()

	rec.RecordNodeExecution(ctx, "search", 120*time.Millisecond, nil)
	rec.RecordNodeExecution(ctx, "rank", 80*time.Millisecond, errors.New("down"))
	rec.RecordRun(ctx, "succeeded", 450*time.Millisecond)
	rec.RecordArchive(ctx, "succeeded")

	names := collectMetricNames(t, reader)
	assert.True(t, names["workflow.node.executions"])
	assert.True(t, names["workflow.node.latency_ms"])
	assert.True(t, names["workflow.node.errors"])
	assert.True(t, names["workflow.runs"])
	assert.True(t, names["workflow.run.latency_ms"])
	assert.True(t, names["workflow.run.archives"])
}

func TestNoopMetricsIsSafe(t *testing.T) {
	var m NoopMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordNodeExecution(ctx, "search", time.Second, nil)
		m.RecordRun(ctx, "failed", time.Second)
		m.RecordArchive(ctx, "failed")
	})
}
