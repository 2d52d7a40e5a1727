package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	meter metric.Meter

	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter
	OrdersPublished   metric.Int64Counter
	OrdersConsumed    metric.Int64Counter
	SnapshotsWritten  metric.Int64Counter
}

// EngineStats is what the embedded engine reports on every collection
type EngineStats struct {
	Keys          int64
	ExpiredKeys   uint64
	ReapedKeys    uint64
	Commits       uint64
	Conflicts     uint64
	StreamAppends uint64
	Published     uint64
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := New(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.Handler()
	return m, handler, nil
}

// New creates the instruments on meter
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	m.HTTPRequests, err = meter.Int64Counter(
		"kv_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"kv_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"kv_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"kv_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"kv_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	m.OrdersPublished, err = meter.Int64Counter(
		"kv_orders_published_total",
		metric.WithDescription("Orders appended to the order stream"),
	)
	if err != nil {
		return nil, err
	}

	m.OrdersConsumed, err = meter.Int64Counter(
		"kv_orders_consumed_total",
		metric.WithDescription("Orders delivered to the order consumer"),
	)
	if err != nil {
		return nil, err
	}

	m.SnapshotsWritten, err = meter.Int64Counter(
		"kv_snapshots_written_total",
		metric.WithDescription("Snapshots persisted, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveEngine registers observable instruments read from stats on every
// collection
func (m *Metrics) ObserveEngine(stats func() EngineStats) error {
	keys, err := m.meter.Int64ObservableGauge(
		"kv_engine_keys",
		metric.WithDescription("Keys held by the engine, including expired keys not yet reaped"),
	)
	if err != nil {
		return err
	}
	expired, err := m.meter.Int64ObservableCounter(
		"kv_engine_expired_keys_total",
		metric.WithDescription("Keys removed lazily on access after expiring"),
	)
	if err != nil {
		return err
	}
	reaped, err := m.meter.Int64ObservableCounter(
		"kv_engine_reaped_keys_total",
		metric.WithDescription("Keys removed by the expiry reaper"),
	)
	if err != nil {
		return err
	}
	commits, err := m.meter.Int64ObservableCounter(
		"kv_engine_tx_commits_total",
		metric.WithDescription("Committed transactions"),
	)
	if err != nil {
		return err
	}
	conflicts, err := m.meter.Int64ObservableCounter(
		"kv_engine_tx_conflicts_total",
		metric.WithDescription("Transactions aborted by a watched key"),
	)
	if err != nil {
		return err
	}
	appends, err := m.meter.Int64ObservableCounter(
		"kv_engine_stream_appends_total",
		metric.WithDescription("Records appended to streams"),
	)
	if err != nil {
		return err
	}
	published, err := m.meter.Int64ObservableCounter(
		"kv_engine_pubsub_messages_total",
		metric.WithDescription("Pub/sub messages published"),
	)
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(keys, s.Keys)
		o.ObserveInt64(expired, int64(s.ExpiredKeys))
		o.ObserveInt64(reaped, int64(s.ReapedKeys))
		o.ObserveInt64(commits, int64(s.Commits))
		o.ObserveInt64(conflicts, int64(s.Conflicts))
		o.ObserveInt64(appends, int64(s.StreamAppends))
		o.ObserveInt64(published, int64(s.Published))
		return nil
	}, keys, expired, reaped, commits, conflicts, appends, published)
	return err
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

// RecordCacheHit and RecordCacheMiss are labeled by cache name, not by key,
// to keep cardinality bounded
func (m *Metrics) RecordCacheHit(ctx context.Context, cache string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cache)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, cache string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cache)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}

func (m *Metrics) RecordOrderPublished(ctx context.Context, stream string) {
	m.OrdersPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
}

func (m *Metrics) RecordOrdersConsumed(ctx context.Context, stream string, n int) {
	m.OrdersConsumed.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stream", stream)))
}

func (m *Metrics) RecordSnapshot(ctx context.Context, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.SnapshotsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
