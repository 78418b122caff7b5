// Package category summarizes the catalog by its product categories.
package category

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/storefront/cache"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

const (
	listCacheKey = "categories"
	listCacheTTL = 30 * time.Minute

	listCategoriesSQL = `
SELECT category, count(*)
FROM products
WHERE category <> ''
GROUP BY category
ORDER BY category`
)

var _ Repository = (*repository)(nil)

type Repository interface {
	List(ctx context.Context, tx pgx.Tx) ([]models.CategorySummary, error)
	Invalidate(ctx context.Context)
}

type repository struct {
	conn   driver.PostgresPool
	cache  *cache.Cache
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, cache *cache.Cache, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		cache:  cache,
		logger: logger,
	}
}

func (r *repository) List(ctx context.Context, tx pgx.Tx) ([]models.CategorySummary, error) {
	var categories []models.CategorySummary

	// 嘗試從快取中獲取
	found, err := r.cache.Get(ctx, listCacheKey, &categories)
	if err != nil {
		r.logger.Warn("Failed to get categories from cache", zap.Error(err))
	}
	if found {
		return categories, nil
	}

	rows, err := driver.Use(r.conn, tx).Query(ctx, listCategoriesSQL)
	if err != nil {
		r.logger.Error("Failed to list categories", zap.Error(err))
		return nil, err
	}

	categories, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CategorySummary, error) {
		var c models.CategorySummary
		err := row.Scan(&c.Key, &c.ProductCount)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan categories: %w", err)
	}

	// 更新快取
	if err = r.cache.Set(ctx, listCacheKey, categories, listCacheTTL); err != nil {
		r.logger.Warn("Failed to cache categories", zap.Error(err))
	}

	return categories, nil
}

// Invalidate drops the cached summary after a product write.
func (r *repository) Invalidate(ctx context.Context) {
	if err := r.cache.Delete(ctx, listCacheKey); err != nil {
		r.logger.Warn("Failed to invalidate category cache", zap.Error(err))
	}
}
