package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/storefront/cache"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

var (
	ErrNotFound        = errors.New("product not found")
	ErrAlreadyReviewed = errors.New("product already reviewed by this user")
)

const productCacheTTL = 30 * time.Minute

var _ Repository = (*repository)(nil)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, product *models.Product) error
	GetByID(ctx context.Context, tx pgx.Tx, id string) (*models.Product, error)
	Update(ctx context.Context, tx pgx.Tx, product *models.Product) error
	Delete(ctx context.Context, tx pgx.Tx, id string) error
	List(ctx context.Context, tx pgx.Tx) ([]*models.Product, error)
	Count(ctx context.Context, tx pgx.Tx) (int, error)

	CreateReview(ctx context.Context, tx pgx.Tx, review *models.Review) error
	UpdateRating(ctx context.Context, tx pgx.Tx, productID string, rating float64, numReviews int) error
}

const (
	productColumns = `id, name, description, price, category, image, count_in_stock, rating, num_reviews, created_at, updated_at`

	createProductSQL = `
INSERT INTO products (` + productColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC, id`

	updateProductSQL = `
UPDATE products
SET name = $2, description = $3, price = $4, category = $5, image = $6, updated_at = $7
WHERE id = $1`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	countProductsSQL = `SELECT count(*) FROM products`

	listReviewsSQL = `
SELECT id, product_id, user_id, name, rating, comment, created_at
FROM reviews
WHERE product_id = $1
ORDER BY created_at, id`

	createReviewSQL = `
INSERT INTO reviews (product_id, user_id, name, rating, comment, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

	updateRatingSQL = `
UPDATE products
SET rating = $2, num_reviews = $3, updated_at = now()
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

func (r *repository) Create(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	_, err := driver.Use(r.conn, tx).Exec(ctx, createProductSQL,
		product.ID, product.Name, product.Description, product.Price, product.Category, product.Image,
		product.CountInStock, product.Rating, product.NumReviews, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create product", zap.String("product_id", product.ID), zap.Error(err))
		return err
	}

	return nil
}

// GetByID returns the product with its reviews, reading through the cache.
func (r *repository) GetByID(ctx context.Context, tx pgx.Tx, id string) (*models.Product, error) {
	cacheKey := cache.ProductKey(id)
	var product models.Product

	// 嘗試從快取中獲取
	if tx == nil {
		found, err := r.cache.Get(ctx, cacheKey, &product)
		if err != nil {
			r.logger.Warn("Failed to get product from cache", zap.Error(err))
		}
		if found {
			return &product, nil
		}
	}

	q := driver.Use(r.conn, tx)
	p, err := scanProduct(q.QueryRow(ctx, getProductSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get product", zap.String("product_id", id), zap.Error(err))
		return nil, err
	}

	rows, err := q.Query(ctx, listReviewsSQL, id)
	if err != nil {
		r.logger.Error("Failed to list reviews", zap.String("product_id", id), zap.Error(err))
		return nil, err
	}
	reviews, err := pgx.CollectRows(rows, scanReview)
	if err != nil {
		return nil, fmt.Errorf("failed to scan reviews: %w", err)
	}
	p.Reviews = reviews

	// 更新快取
	if tx == nil {
		if err = r.cache.Set(ctx, cacheKey, p, productCacheTTL); err != nil {
			r.logger.Warn("Failed to cache product", zap.Error(err))
		}
	}

	return p, nil
}

// Update writes the descriptive fields. Stock is owned by the stock
// repository.
func (r *repository) Update(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	tag, err := driver.Use(r.conn, tx).Exec(ctx, updateProductSQL,
		product.ID, product.Name, product.Description, product.Price, product.Category, product.Image,
		product.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to update product", zap.String("product_id", product.ID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.invalidate(ctx, tx, product.ID)
	return nil
}

func (r *repository) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := driver.Use(r.conn, tx).Exec(ctx, deleteProductSQL, id)
	if err != nil {
		r.logger.Error("Failed to delete product", zap.String("product_id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.invalidate(ctx, tx, id)
	return nil
}

// List returns every product without reviews, newest first.
func (r *repository) List(ctx context.Context, tx pgx.Tx) ([]*models.Product, error) {
	rows, err := driver.Use(r.conn, tx).Query(ctx, listProductsSQL)
	if err != nil {
		r.logger.Error("Failed to list products", zap.Error(err))
		return nil, err
	}

	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan products: %w", err)
	}

	return products, nil
}

func (r *repository) Count(ctx context.Context, tx pgx.Tx) (int, error) {
	var n int
	if err := driver.Use(r.conn, tx).QueryRow(ctx, countProductsSQL).Scan(&n); err != nil {
		r.logger.Error("Failed to count products", zap.Error(err))
		return 0, err
	}
	return n, nil
}

func (r *repository) CreateReview(ctx context.Context, tx pgx.Tx, review *models.Review) error {
	err := driver.Use(r.conn, tx).QueryRow(ctx, createReviewSQL,
		review.ProductID, review.UserID, review.Name, review.Rating, review.Comment, review.CreatedAt,
	).Scan(&review.ID)
	if err != nil {
		r.logger.Error("Failed to create review", zap.String("product_id", review.ProductID), zap.Error(err))
		return err
	}

	r.invalidate(ctx, tx, review.ProductID)
	return nil
}

func (r *repository) UpdateRating(ctx context.Context, tx pgx.Tx, productID string, rating float64, numReviews int) error {
	if _, err := driver.Use(r.conn, tx).Exec(ctx, updateRatingSQL, productID, rating, numReviews); err != nil {
		r.logger.Error("Failed to update product rating", zap.String("product_id", productID), zap.Error(err))
		return err
	}

	r.invalidate(ctx, tx, productID)
	return nil
}

func (r *repository) invalidate(ctx context.Context, tx pgx.Tx, productID string) {
	driver.AfterCommit(tx, func() {
		if err := r.cache.Delete(ctx, cache.ProductKey(productID)); err != nil {
			r.logger.Warn("Failed to invalidate product cache", zap.String("product_id", productID), zap.Error(err))
		}
	})
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	if err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.Image,
		&p.CountInStock, &p.Rating, &p.NumReviews, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanReview(row pgx.CollectableRow) (models.Review, error) {
	var rv models.Review
	err := row.Scan(&rv.ID, &rv.ProductID, &rv.UserID, &rv.Name, &rv.Rating, &rv.Comment, &rv.CreatedAt)
	return rv, err
}
