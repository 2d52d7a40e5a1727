package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := New(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	switch data := agg.(type) {
	case metricdata.Sum[int64]:
		var total int64
		for _, dp := range data.DataPoints {
			total += dp.Value
		}
		return total
	case metricdata.Gauge[int64]:
		require.Len(t, data.DataPoints, 1)
		return data.DataPoints[0].Value
	default:
		t.Fatalf("unexpected aggregation %T", agg)
		return 0
	}
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordHTTPRequest(ctx, "GET", "/v1/keys/{key}", 200, 15*time.Millisecond)
	m.RecordHTTPRequest(ctx, "PUT", "/v1/keys/{key}", 204, 5*time.Millisecond)
	m.RecordCacheHit(ctx, "products")
	m.RecordCacheMiss(ctx, "products")
	m.RecordCacheMiss(ctx, "products")
	m.IncrementConnections(ctx)
	m.IncrementConnections(ctx)
	m.DecrementConnections(ctx)
	m.RecordOrderPublished(ctx, "orders")
	m.RecordOrdersConsumed(ctx, "orders", 3)
	m.RecordSnapshot(ctx, true)
	m.RecordSnapshot(ctx, false)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["kv_http_requests_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["kv_cache_hits_total"]))
	assert.Equal(t, int64(2), sumOf(t, got["kv_cache_misses_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["kv_websocket_connections"]))
	assert.Equal(t, int64(1), sumOf(t, got["kv_orders_published_total"]))
	assert.Equal(t, int64(3), sumOf(t, got["kv_orders_consumed_total"]))
	assert.Equal(t, int64(2), sumOf(t, got["kv_snapshots_written_total"]))

	hist, ok := got["kv_http_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestObserveEngine(t *testing.T) {
	m, reader := newTestMetrics(t)

	stats := EngineStats{Keys: 4, ReapedKeys: 2, Commits: 7, Conflicts: 1}
	require.NoError(t, m.ObserveEngine(func() EngineStats { return stats }))

	got := collect(t, reader)
	assert.Equal(t, int64(4), sumOf(t, got["kv_engine_keys"]))
	assert.Equal(t, int64(2), sumOf(t, got["kv_engine_reaped_keys_total"]))
	assert.Equal(t, int64(7), sumOf(t, got["kv_engine_tx_commits_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["kv_engine_tx_conflicts_total"]))

	stats.ReapedKeys = 5
	got = collect(t, reader)
	assert.Equal(t, int64(5), sumOf(t, got["kv_engine_reaped_keys_total"]))
}
