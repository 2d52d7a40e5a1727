package kv

import (
	"context"
	"encoding/json"
	"time"
)

// SnapshotEntry is the portable form of one key. Payload layout depends on
// Kind and is owned by the store that produced it.
type SnapshotEntry struct {
	Key       string          `json:"key"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Snapshotter is implemented by stores that can export and re-import their
// whole keyspace
type Snapshotter interface {
	// Snapshot returns a point-in-time copy of every live key
	Snapshot(ctx context.Context) ([]SnapshotEntry, error)
	// Restore writes entries back, overwriting keys that already exist.
	// Entries whose expiry has passed are skipped.
	Restore(ctx context.Context, entries []SnapshotEntry) error
}
