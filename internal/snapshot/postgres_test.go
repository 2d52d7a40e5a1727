package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbi/kvengine/pkg/kv"
	migrations "github.com/arbi/kvengine/sql"
)

func migrate(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	defer goose.SetBaseFS(nil)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "."))
}

func TestPostgresSink(t *testing.T) {
	dsn := os.Getenv("KV_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KV_TEST_POSTGRES_DSN not set, skipping Postgres tests")
	}
	migrate(t, dsn)

	ctx := context.Background()
	sink, err := NewPostgresSink(ctx, dsn)
	require.NoError(t, err)
	defer sink.Close()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.clock = func() time.Time { return now }

	live := now.Add(time.Hour)
	dead := now.Add(-time.Second)
	entries := []kv.SnapshotEntry{
		{Key: "b", Kind: kv.KindString, Payload: json.RawMessage(`"QXJiaQ=="`)},
		{Key: "a", Kind: kv.KindList, Payload: json.RawMessage(`["YQ=="]`), ExpiresAt: &live},
		{Key: "gone", Kind: kv.KindString, Payload: json.RawMessage(`"eA=="`), ExpiresAt: &dead},
	}
	require.NoError(t, sink.Save(ctx, entries))

	got, err := sink.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, kv.KindList, got[0].Kind)
	assert.JSONEq(t, `["YQ=="]`, string(got[0].Payload))
	require.NotNil(t, got[0].ExpiresAt)
	assert.True(t, live.Equal(*got[0].ExpiresAt))
	assert.Equal(t, "b", got[1].Key)
	assert.Nil(t, got[1].ExpiresAt)

	// a second save replaces the first
	require.NoError(t, sink.Save(ctx, entries[:1]))
	got, err = sink.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Key)
}
