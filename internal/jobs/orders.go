package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbi/kvengine/internal/metrics"
	"github.com/arbi/kvengine/pkg/kv"
)

// Order is one record of the order stream
type Order struct {
	ID     string
	Amount int64
	// StreamID is set on orders read back from the stream
	StreamID kv.StreamID
}

func (o Order) fields() []kv.Field {
	return []kv.Field{
		{Name: "id", Value: o.ID},
		{Name: "amount", Value: strconv.FormatInt(o.Amount, 10)},
	}
}

func orderFromRecord(r kv.StreamRecord) (Order, error) {
	o := Order{StreamID: r.ID}
	id, ok := r.Value("id")
	if !ok {
		return o, fmt.Errorf("record %s: missing id", r.ID)
	}
	o.ID = id
	if raw, ok := r.Value("amount"); ok {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return o, fmt.Errorf("record %s: bad amount %q: %w", r.ID, raw, err)
		}
		o.Amount = amount
	}
	return o, nil
}

type OrderPublisherConfig struct {
	Stream   string
	Interval time.Duration
	Amount   int64 // amount carried by every generated order
}

// DefaultOrderPublisherConfig publishes a 1000 order to "orders" every 10s
func DefaultOrderPublisherConfig() OrderPublisherConfig {
	return OrderPublisherConfig{
		Stream:   "orders",
		Interval: 10 * time.Second,
		Amount:   1000,
	}
}

// OrderPublisher appends a generated order to the stream on a fixed rate
type OrderPublisher struct {
	store   kv.Store
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	config  OrderPublisherConfig
	newID   func() string

	mu        sync.Mutex
	cancelCtx context.CancelFunc
	stopped   bool
}

// NewOrderPublisher creates a publisher. m may be nil.
func NewOrderPublisher(store kv.Store, logger *zap.SugaredLogger, m *metrics.Metrics, config OrderPublisherConfig) *OrderPublisher {
	return &OrderPublisher{
		store:   store,
		logger:  logger,
		metrics: m,
		config:  config,
		newID:   func() string { return uuid.NewString() },
	}
}

// Publish appends one order now
func (p *OrderPublisher) Publish(ctx context.Context) (Order, error) {
	order := Order{ID: p.newID(), Amount: p.config.Amount}
	id, err := p.store.XAdd(ctx, p.config.Stream, order.fields())
	if err != nil {
		return Order{}, fmt.Errorf("failed to publish order: %w", err)
	}
	order.StreamID = id
	if p.metrics != nil {
		p.metrics.RecordOrderPublished(ctx, p.config.Stream)
	}
	p.logger.Debugw("Published order", "stream", p.config.Stream, "id", order.ID, "record", id.String())
	return order, nil
}

// Start publishes every interval until ctx is done or Stop is called
func (p *OrderPublisher) Start(ctx context.Context) error {
	if p.config.Interval <= 0 {
		return fmt.Errorf("order publisher: interval must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelCtx = cancel
	if p.stopped {
		cancel()
	}
	p.mu.Unlock()
	defer cancel()

	p.logger.Infow("Starting order publisher", "stream", p.config.Stream, "interval", p.config.Interval)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Order publisher stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Publish(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warnw("Failed to publish order", "stream", p.config.Stream, "error", err)
			}
		}
	}
}

// Stop ends Start. Called before Start, it makes Start return at once.
func (p *OrderPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.cancelCtx != nil {
		p.cancelCtx()
	}
}

// OrderHandler processes one delivered order. An error is logged and the
// order is not redelivered.
type OrderHandler func(ctx context.Context, order Order) error

type OrderConsumerConfig struct {
	Stream       string
	Group        string
	Consumer     string
	PollInterval time.Duration
	BatchSize    int64
}

func DefaultOrderConsumerConfig() OrderConsumerConfig {
	return OrderConsumerConfig{
		Stream:       "orders",
		Group:        "order-group",
		Consumer:     "consumer-1",
		PollInterval: time.Second,
		BatchSize:    10,
	}
}

// OrderConsumer reads the order stream through a consumer group
type OrderConsumer struct {
	store   kv.Store
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	config  OrderConsumerConfig
	handler OrderHandler
}

// NewOrderConsumer creates a consumer. m may be nil.
func NewOrderConsumer(store kv.Store, logger *zap.SugaredLogger, m *metrics.Metrics, config OrderConsumerConfig, handler OrderHandler) *OrderConsumer {
	return &OrderConsumer{
		store:   store,
		logger:  logger,
		metrics: m,
		config:  config,
		handler: handler,
	}
}

// EnsureGroup creates the consumer group reading from the start of the
// stream. An existing group is left as is.
func (c *OrderConsumer) EnsureGroup(ctx context.Context) error {
	err := c.store.XGroupCreate(ctx, c.config.Stream, c.config.Group, "0")
	if err != nil && !errors.Is(err, kv.ErrGroupExists) {
		return fmt.Errorf("failed to create group %s on %s: %w", c.config.Group, c.config.Stream, err)
	}
	return nil
}

// Poll reads the next batch of undelivered orders and hands each to the
// handler. It returns how many records were delivered.
func (c *OrderConsumer) Poll(ctx context.Context) (int, error) {
	records, err := c.store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream:   c.config.Stream,
		Group:    c.config.Group,
		Consumer: c.config.Consumer,
		From:     kv.LastConsumed,
		Count:    c.config.BatchSize,
	})
	if errors.Is(err, kv.ErrNoGroup) {
		// the group vanished with the stream, e.g. after a flush
		if err := c.EnsureGroup(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read orders: %w", err)
	}

	for _, r := range records {
		order, err := orderFromRecord(r)
		if err != nil {
			c.logger.Warnw("Skipping malformed order", "stream", c.config.Stream, "error", err)
			continue
		}
		if err := c.handler(ctx, order); err != nil {
			c.logger.Warnw("Order handler failed", "id", order.ID, "record", r.ID.String(), "error", err)
		}
	}
	if c.metrics != nil && len(records) > 0 {
		c.metrics.RecordOrdersConsumed(ctx, c.config.Stream, len(records))
	}
	return len(records), nil
}

// Start provisions the group and polls until ctx is done. A full batch is
// followed immediately by another read.
func (c *OrderConsumer) Start(ctx context.Context) error {
	if c.config.PollInterval <= 0 {
		return fmt.Errorf("order consumer: poll interval must be positive")
	}
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	c.logger.Infow("Starting order consumer",
		"stream", c.config.Stream,
		"group", c.config.Group,
		"consumer", c.config.Consumer,
	)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Infow("Order consumer stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := c.Poll(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.logger.Warnw("Order poll failed", "stream", c.config.Stream, "error", err)
					}
					break
				}
				if c.config.BatchSize <= 0 || int64(n) < c.config.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}
