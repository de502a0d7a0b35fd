package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "vlab", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx, finish := p.TrackOperation(context.Background(), "adjudicate", RunAttrs("run-1", "ruleset-1.2")...)
	AnnotateVerdict(ctx, "PASS", "", false)
	p.RecordAdjudication(ctx, "ruleset-1.2", "PASS")
	p.RecordError(ctx, "BUNDLE_NOT_FOUND")
	p.RecordCacheHit(ctx, "ruleset-1.2")
	finish(errors.New("boom"))

	require.NoError(t, p.Shutdown(context.Background()))
}

func newTestProvider(t *testing.T) (*Provider, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewInMemoryExporter()
	cfg := DefaultConfig()
	cfg.BatchTimeout = time.Millisecond
	p, err := New(context.Background(), cfg, WithMetricReader(reader), WithSpanExporter(spans))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, reader, spans
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T", name, m.Data)
			var total int64
			for _, dp := range data.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestProvider_RecordsAdjudicationMetrics(t *testing.T) {
	p, reader, _ := newTestProvider(t)
	ctx := context.Background()

	p.RecordAdjudication(ctx, "ruleset-1.2", "PASS")
	p.RecordAdjudication(ctx, "ruleset-1.2", "FAIL")
	p.RecordError(ctx, "CLOSURE_VIOLATION")
	p.RecordCacheHit(ctx, "ruleset-1.2")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(2), sumOf(t, rm, "vlab.adjudications.total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "vlab.errors.total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "vlab.cache.hits"))
}

func TestProvider_TrackOperationEndsSpan(t *testing.T) {
	p, reader, spans := newTestProvider(t)
	ctx := context.Background()

	opCtx, finish := p.TrackOperation(ctx, "adjudicate", RunAttrs("run-1", "ruleset-1.1")...)
	AnnotateVerdict(opCtx, "FAIL", "REQ-FAIL-RQ-D1-01", false)
	AddSpanEvent(opCtx, "closure.checked")
	finish(nil)

	require.NoError(t, p.tracerProvider.ForceFlush(ctx))
	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "adjudicate", got[0].Name)
	assert.Len(t, got[0].Events, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(0), sumOf(t, rm, "vlab.operations.active"))
}
