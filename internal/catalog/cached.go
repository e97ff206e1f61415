package catalog

import (
	"context"
	"time"

	"storefront-assistant/internal/cache"
	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/models"
)

const (
	productsKey   = "products:available"
	categoriesKey = "categories:all"
)

// CachedCatalog memoizes catalog reads. Cache backend failures degrade to a
// direct read instead of failing the caller.
type CachedCatalog struct {
	inner      Catalog
	products   cache.Store[[]models.Product]
	categories cache.Store[[]models.Category]
	ttl        time.Duration
	logger     logger.Logger
}

func NewCachedCatalog(
	inner Catalog,
	products cache.Store[[]models.Product],
	categories cache.Store[[]models.Category],
	ttl time.Duration,
	log logger.Logger,
) *CachedCatalog {
	if ttl <= 0 {
		ttl = cache.DefaultCatalogTTL
	}
	return &CachedCatalog{
		inner:      inner,
		products:   products,
		categories: categories,
		ttl:        ttl,
		logger:     log.With(map[string]interface{}{"component": "catalog-cache"}),
	}
}

func (c *CachedCatalog) ListAvailableProducts(ctx context.Context) ([]models.Product, error) {
	return readThrough(ctx, c, c.products, productsKey, c.inner.ListAvailableProducts)
}

func (c *CachedCatalog) ListCategories(ctx context.Context) ([]models.Category, error) {
	return readThrough(ctx, c, c.categories, categoriesKey, c.inner.ListCategories)
}

// Invalidate drops cached product and category lists.
func (c *CachedCatalog) Invalidate(ctx context.Context) (int, error) {
	n1, err := c.ClearPrefix(ctx, "products")
	if err != nil {
		return n1, err
	}
	n2, err := c.ClearPrefix(ctx, "categories")
	return n1 + n2, err
}

// ClearPrefix removes matching keys from both underlying stores.
func (c *CachedCatalog) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	n1, err := c.products.ClearPrefix(ctx, prefix)
	if err != nil {
		return n1, err
	}
	n2, err := c.categories.ClearPrefix(ctx, prefix)
	return n1 + n2, err
}

func readThrough[T any](
	ctx context.Context,
	c *CachedCatalog,
	store cache.Store[T],
	key string,
	load func(context.Context) (T, error),
) (T, error) {
	if v, ok, err := store.Get(ctx, key); err != nil {
		c.logger.Warn("catalog cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
	} else if ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if err := store.Set(ctx, key, v, c.ttl); err != nil {
		c.logger.Warn("catalog cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
	return v, nil
}
