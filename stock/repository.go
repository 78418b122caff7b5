// Package stock moves units in and out of products.count_in_stock.
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/storefront/cache"
	"goflare.io/storefront/driver"
)

// ErrInsufficientStock is returned when a reservation exceeds the units left.
var ErrInsufficientStock = errors.New("insufficient stock")

var _ Repository = (*repository)(nil)

type Repository interface {
	ReserveStock(ctx context.Context, tx pgx.Tx, params []ReserveStockParams) error
	ReleaseStock(ctx context.Context, tx pgx.Tx, params []ReleaseStockParams) error
	SetStock(ctx context.Context, tx pgx.Tx, productID string, quantity int) error
}

const (
	reserveStockSQL = `
UPDATE products
SET count_in_stock = count_in_stock - $2, updated_at = now()
WHERE id = $1 AND count_in_stock >= $2`

	releaseStockSQL = `
UPDATE products
SET count_in_stock = count_in_stock + $2, updated_at = now()
WHERE id = $1`

	setStockSQL = `
UPDATE products
SET count_in_stock = $2, updated_at = now()
WHERE id = $1`
)

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

// ReserveStock decrements every product in one batch. Any product without
// enough units fails the whole call with ErrInsufficientStock; run it inside
// a transaction so earlier rows roll back.
func (r *repository) ReserveStock(ctx context.Context, tx pgx.Tx, params []ReserveStockParams) error {
	if len(params) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, param := range params {
		batch.Queue(reserveStockSQL, param.ProductID, param.Quantity)
	}

	results := r.sendBatch(ctx, tx, batch)
	defer r.closeBatch(results)

	for _, param := range params {
		tag, err := results.Exec()
		if err != nil {
			r.logger.Error("failed to reserve stock", zap.String("product_id", param.ProductID), zap.Error(err))
			return fmt.Errorf("failed to reserve stock for %s: %w", param.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w for product %s: requested %d", ErrInsufficientStock, param.ProductID, param.Quantity)
		}
		r.invalidateProductCache(ctx, tx, param.ProductID)
	}

	return nil
}

func (r *repository) ReleaseStock(ctx context.Context, tx pgx.Tx, params []ReleaseStockParams) error {
	if len(params) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, param := range params {
		batch.Queue(releaseStockSQL, param.ProductID, param.Quantity)
	}

	results := r.sendBatch(ctx, tx, batch)
	defer r.closeBatch(results)

	for _, param := range params {
		if _, err := results.Exec(); err != nil {
			r.logger.Error("failed to release stock", zap.String("product_id", param.ProductID), zap.Error(err))
			return fmt.Errorf("failed to release stock for %s: %w", param.ProductID, err)
		}
		r.invalidateProductCache(ctx, tx, param.ProductID)
	}

	return nil
}

func (r *repository) SetStock(ctx context.Context, tx pgx.Tx, productID string, quantity int) error {
	if _, err := driver.Use(r.conn, tx).Exec(ctx, setStockSQL, productID, quantity); err != nil {
		r.logger.Error("failed to set stock", zap.String("product_id", productID), zap.Error(err))
		return err
	}
	r.invalidateProductCache(ctx, tx, productID)
	return nil
}

func (r *repository) sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) pgx.BatchResults {
	if tx != nil {
		return tx.SendBatch(ctx, batch)
	}
	return r.conn.SendBatch(ctx, batch)
}

func (r *repository) closeBatch(results pgx.BatchResults) {
	if err := results.Close(); err != nil {
		r.logger.Error("failed to close batch", zap.Error(err))
	}
}

// invalidateProductCache drops the cached product once tx commits.
func (r *repository) invalidateProductCache(ctx context.Context, tx pgx.Tx, productID string) {
	driver.AfterCommit(tx, func() {
		if err := r.cache.Delete(ctx, cache.ProductKey(productID)); err != nil {
			r.logger.Warn("Failed to invalidate product cache", zap.String("product_id", productID), zap.Error(err))
		}
	})
}
