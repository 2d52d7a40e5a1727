package product

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/arbi/kvengine/internal/metrics"
	"github.com/arbi/kvengine/pkg/cache"
	"github.com/arbi/kvengine/pkg/kv"
)

// CacheName is the cache products are kept in
const CacheName = "products"

// Backing is the persistence the service reads through
type Backing interface {
	Save(ctx context.Context, p Product) error
	FindByID(ctx context.Context, id string) (Product, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Service serves products cache-aside: reads go through the products cache
// and fall back to the repository on a miss
type Service struct {
	backing Backing
	cache   *cache.Cache[string, Product]
	logger  *zap.SugaredLogger
}

// NewService caches products in store for cacheTTL. m may be nil.
func NewService(backing Backing, store kv.Store, cacheTTL time.Duration, m *metrics.Metrics, logger *zap.SugaredLogger) *Service {
	opts := []cache.Option{
		cache.WithTTL(cacheTTL),
		cache.WithLogger(func(msg string, fields ...any) { logger.Warnw(msg, fields...) }),
	}
	if m != nil {
		opts = append(opts, cache.WithHooks(
			func(ctx context.Context, _ string) { m.RecordCacheHit(ctx, CacheName) },
			func(ctx context.Context, _ string) { m.RecordCacheMiss(ctx, CacheName) },
		))
	}
	return &Service{
		backing: backing,
		cache:   cache.New[string, Product](store, CacheName, opts...),
		logger:  logger,
	}
}

// GetProduct returns the cached product or loads it from the repository
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	return s.cache.GetOrCompute(ctx, id, func(ctx context.Context) (Product, error) {
		s.logger.Infow("Loading product", "id", id)
		return s.backing.FindByID(ctx, id)
	})
}

// Save persists p and refreshes its cache entry
func (s *Service) Save(ctx context.Context, p Product) (Product, error) {
	s.logger.Infow("Saving product", "id", p.ID, "name", p.Name)
	if err := s.backing.Save(ctx, p); err != nil {
		return Product{}, err
	}
	if err := s.cache.Put(ctx, p.ID, p); err != nil {
		// the repository is authoritative; a stale entry would outlive the write
		s.logger.Warnw("Failed to cache product, evicting", "id", p.ID, "error", err)
		if err := s.cache.Evict(ctx, p.ID); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Remove evicts the cached copy of id; the stored product is kept
func (s *Service) Remove(ctx context.Context, id string) error {
	s.logger.Infow("Evicting product", "id", id)
	return s.cache.Evict(ctx, id)
}

// Delete removes the product from the repository and the cache
func (s *Service) Delete(ctx context.Context, id string) error {
	existed, err := s.backing.Delete(ctx, id)
	if err != nil {
		return err
	}
	if err := s.cache.Evict(ctx, id); err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err means the product does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
