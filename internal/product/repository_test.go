package product

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbi/kvengine/pkg/kv/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRepository(t *testing.T) (*Repository, *memory.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := memory.New(0, memory.WithClock(clock.Now))
	t.Cleanup(func() { store.Close() })
	return NewRepository(store, zap.NewNop().Sugar()), store, clock
}

func TestRepositorySaveWritesHash(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newRepository(t)

	p := Product{ID: "1", Name: "Mie Ayam Jakarta", Price: decimal.NewFromInt(20_000)}
	require.NoError(t, repo.Save(ctx, p))

	fields, err := store.HGetAll(ctx, "products:1")
	require.NoError(t, err)
	assert.Equal(t, "1", string(fields["id"]))
	assert.Equal(t, "Mie Ayam Jakarta", string(fields["name"]))
	assert.Equal(t, "20000", string(fields["price"]))

	got, err := repo.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, p.Price.Equal(got.Price))

	isMember, err := store.SIsMember(ctx, KeySpace, []byte("1"))
	require.NoError(t, err)
	assert.True(t, isMember)
}

func TestRepositoryTTL(t *testing.T) {
	ctx := context.Background()
	repo, store, clock := newRepository(t)

	p := Product{ID: "1", Name: "Mie Ayam Jakarta", Price: decimal.NewFromInt(20_000), TTL: 3 * time.Second}
	require.NoError(t, repo.Save(ctx, p))

	_, err := repo.FindByID(ctx, "1")
	require.NoError(t, err)

	ttl, err := store.TTL(ctx, "products:1")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, ttl)

	clock.Advance(5 * time.Second)
	_, err = repo.FindByID(ctx, "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryResaveClearsTTL(t *testing.T) {
	ctx := context.Background()
	repo, store, clock := newRepository(t)

	require.NoError(t, repo.Save(ctx, Product{ID: "1", Name: "a", TTL: time.Second}))
	require.NoError(t, repo.Save(ctx, Product{ID: "1", Name: "b"}))

	ttl, err := store.TTL(ctx, "products:1")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	clock.Advance(time.Minute)
	got, err := repo.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)
}

func TestRepositoryFindAllPrunesExpired(t *testing.T) {
	ctx := context.Background()
	repo, store, clock := newRepository(t)

	require.NoError(t, repo.Save(ctx, Product{ID: "2", Name: "Bakso", Price: decimal.RequireFromString("15000.50")}))
	require.NoError(t, repo.Save(ctx, Product{ID: "1", Name: "Soto", Price: decimal.NewFromInt(18_000)}))
	require.NoError(t, repo.Save(ctx, Product{ID: "3", Name: "Es Teh", TTL: time.Second}))

	clock.Advance(2 * time.Second)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID)
	assert.Equal(t, "2", all[1].ID)
	assert.Equal(t, "15000.5", all[1].Price.String())

	n, err := store.SCard(ctx, KeySpace)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newRepository(t)

	require.NoError(t, repo.Save(ctx, Product{ID: "1", Name: "Soto"}))

	existed, err := repo.Delete(ctx, "1")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = repo.FindByID(ctx, "1")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.SCard(ctx, KeySpace)
	require.NoError(t, err)
	assert.Zero(t, n)

	existed, err = repo.Delete(ctx, "1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRepositoryRejectsInvalidProducts(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newRepository(t)

	assert.ErrorIs(t, repo.Save(ctx, Product{Name: "no id"}), ErrInvalid)
	assert.ErrorIs(t, repo.Save(ctx, Product{ID: "1", Price: decimal.NewFromInt(-1)}), ErrInvalid)
	assert.ErrorIs(t, repo.Save(ctx, Product{ID: "1", TTL: -time.Second}), ErrInvalid)
}

func TestRepositoryBadPrice(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newRepository(t)

	require.NoError(t, store.HMSet(ctx, "products:9", map[string][]byte{"id": []byte("9"), "price": []byte("lots")}))
	_, err := repo.FindByID(ctx, "9")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
