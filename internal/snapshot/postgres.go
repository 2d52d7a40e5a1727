package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbi/kvengine/pkg/kv"
)

const table = "kv_snapshot"

// PostgresSink keeps the latest snapshot in the kv_snapshot table
type PostgresSink struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

// NewPostgresSink connects to dsn and checks the connection
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewPostgresSinkFromPool(pool), nil
}

func NewPostgresSinkFromPool(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool, clock: time.Now}
}

// Save replaces the stored snapshot with entries in one transaction
func (s *PostgresSink) Save(ctx context.Context, entries []kv.SnapshotEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	takenAt := s.clock().UTC()
	rows := make([][]any, len(entries))
	for i, e := range entries {
		var expiresAt any
		if e.ExpiresAt != nil {
			expiresAt = e.ExpiresAt.UTC()
		}
		rows[i] = []any{e.Key, string(e.Kind), []byte(e.Payload), expiresAt, takenAt}
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{table},
		[]string{"key", "kind", "payload", "expires_at", "taken_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}
	if n != int64(len(entries)) {
		return fmt.Errorf("snapshot copy wrote %d of %d rows", n, len(entries))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, skipping entries that have expired
func (s *PostgresSink) Load(ctx context.Context) ([]kv.SnapshotEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, kind, payload, expires_at
		FROM kv_snapshot
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY key
	`, s.clock().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var entries []kv.SnapshotEntry
	for rows.Next() {
		var (
			e         kv.SnapshotEntry
			kind      string
			payload   []byte
			expiresAt *time.Time
		)
		if err := rows.Scan(&e.Key, &kind, &payload, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		e.Kind = kv.Kind(kind)
		e.Payload = json.RawMessage(payload)
		e.ExpiresAt = expiresAt
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return entries, nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}
