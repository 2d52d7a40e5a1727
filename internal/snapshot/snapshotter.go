// Package snapshot periodically persists the embedded engine's keyspace and
// restores it at boot
package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arbi/kvengine/internal/metrics"
	"github.com/arbi/kvengine/pkg/kv"
)

// Sink stores the most recent snapshot
type Sink interface {
	Save(ctx context.Context, entries []kv.SnapshotEntry) error
	Load(ctx context.Context) ([]kv.SnapshotEntry, error)
}

// Snapshotter copies the keyspace of source into sink on a fixed interval
type Snapshotter struct {
	source   kv.Snapshotter
	sink     Sink
	interval time.Duration
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// New creates a snapshotter. m may be nil.
func New(source kv.Snapshotter, sink Sink, interval time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *Snapshotter {
	return &Snapshotter{
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
}

// Restore loads the stored snapshot into source and returns the number of
// entries handed over
func (s *Snapshotter) Restore(ctx context.Context) (int, error) {
	entries, err := s.sink.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := s.source.Restore(ctx, entries); err != nil {
		return 0, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	s.logger.Infow("Restored snapshot", "entries", len(entries))
	return len(entries), nil
}

// SnapshotOnce takes one snapshot and saves it
func (s *Snapshotter) SnapshotOnce(ctx context.Context) (int, error) {
	start := time.Now()
	entries, err := s.source.Snapshot(ctx)
	if err == nil {
		err = s.sink.Save(ctx, entries)
	}
	if s.metrics != nil {
		s.metrics.RecordSnapshot(ctx, err == nil)
	}
	if err != nil {
		return 0, fmt.Errorf("snapshot failed: %w", err)
	}
	s.logger.Debugw("Saved snapshot", "entries", len(entries), "duration", time.Since(start))
	return len(entries), nil
}

// Start snapshots every interval until ctx is done, then takes a final
// snapshot so a clean shutdown loses nothing
func (s *Snapshotter) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("snapshotter: interval must be positive")
	}

	s.logger.Infow("Starting snapshotter", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if _, err := s.SnapshotOnce(final); err != nil {
				s.logger.Errorw("Final snapshot failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SnapshotOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warnw("Periodic snapshot failed", "error", err)
			}
		}
	}
}
