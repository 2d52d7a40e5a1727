package product

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbi/kvengine/pkg/kv"
)

// KeySpace prefixes every product hash and names the id index set
const KeySpace = "products"

const (
	fieldID    = "id"
	fieldName  = "name"
	fieldPrice = "price"
)

type Repository struct {
	store  kv.Store
	logger *zap.SugaredLogger
}

func NewRepository(store kv.Store, logger *zap.SugaredLogger) *Repository {
	return &Repository{
		store:  store,
		logger: logger,
	}
}

func hashKey(id string) string {
	return KeySpace + ":" + id
}

// Save replaces the product hash, applies its TTL and indexes the id in one
// transaction
func (r *Repository) Save(ctx context.Context, p Product) error {
	if err := p.validate(); err != nil {
		return err
	}

	key := hashKey(p.ID)
	tx := r.store.Tx()
	if err := tx.Begin(); err != nil {
		return err
	}
	stage := []error{
		tx.Del(key),
		tx.HMSet(key, map[string][]byte{
			fieldID:    []byte(p.ID),
			fieldName:  []byte(p.Name),
			fieldPrice: []byte(p.Price.String()),
		}),
		tx.SAdd(KeySpace, []byte(p.ID)),
	}
	if p.TTL > 0 {
		stage = append(stage, tx.Expire(key, p.TTL))
	}
	if err := errors.Join(stage...); err != nil {
		_ = tx.Discard()
		return fmt.Errorf("failed to stage product %s: %w", p.ID, err)
	}

	if _, err := tx.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save product %s: %w", p.ID, err)
	}
	return nil
}

// FindByID returns ErrNotFound once the product hash has expired
func (r *Repository) FindByID(ctx context.Context, id string) (Product, error) {
	fields, err := r.store.HGetAll(ctx, hashKey(id))
	if err != nil {
		return Product{}, fmt.Errorf("failed to load product %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Product{}, ErrNotFound
	}
	return decode(id, fields)
}

// FindAll returns live products ordered by id. Index entries whose hash
// expired are pruned.
func (r *Repository) FindAll(ctx context.Context) ([]Product, error) {
	ids, err := r.store.SMembers(ctx, KeySpace)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	products := make([]Product, 0, len(ids))
	var stale [][]byte
	for _, raw := range ids {
		p, err := r.FindByID(ctx, string(raw))
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if len(stale) > 0 {
		if _, err := r.store.SRem(ctx, KeySpace, stale...); err != nil {
			r.logger.Warnw("Failed to prune product index", "count", len(stale), "error", err)
		}
	}

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

// Delete removes the product and its index entry; it reports whether the
// product existed
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.store.Del(ctx, hashKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to delete product %s: %w", id, err)
	}
	if _, err := r.store.SRem(ctx, KeySpace, []byte(id)); err != nil {
		return n > 0, fmt.Errorf("failed to unindex product %s: %w", id, err)
	}
	return n > 0, nil
}

func decode(id string, fields map[string][]byte) (Product, error) {
	p := Product{
		ID:   string(fields[fieldID]),
		Name: string(fields[fieldName]),
	}
	if p.ID == "" {
		p.ID = id
	}
	if raw, ok := fields[fieldPrice]; ok && len(raw) > 0 {
		price, err := decimal.NewFromString(string(raw))
		if err != nil {
			return Product{}, fmt.Errorf("product %s: bad price %q: %w", id, raw, err)
		}
		p.Price = price
	}
	return p, nil
}
