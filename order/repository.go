// Package order persists placed orders and their line items.
package order

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
	"goflare.io/storefront/models/enum"
)

var ErrNotFound = errors.New("order not found")

const orderCacheTTL = 30 * time.Minute

var _ Repository = (*repository)(nil)

type Repository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error
	GetOrder(ctx context.Context, tx pgx.Tx, orderID uint64) (*models.Order, error)
	GetOrderByPaymentIntentID(ctx context.Context, tx pgx.Tx, paymentIntentID string) (*models.Order, error)
	ListOrders(ctx context.Context, tx pgx.Tx, userID string, limit, offset uint64) ([]*models.Order, error)
	ListAllOrders(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Order, error)
	UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID uint64, status enum.OrderStatus, updatedAt time.Time) error
	MarkPaid(ctx context.Context, tx pgx.Tx, orderID uint64, paidAt time.Time) error
	MarkDelivered(ctx context.Context, tx pgx.Tx, orderID uint64, deliveredAt time.Time) error
	SetPaymentIntentID(ctx context.Context, tx pgx.Tx, orderID uint64, paymentIntentID string) error
	DeleteOrder(ctx context.Context, tx pgx.Tx, orderID uint64) error
	Stats(ctx context.Context, tx pgx.Tx) (count int, revenue float64, err error)
}

const (
	orderColumns = `id, user_id, shipping_address, payment_method, total_price, status, is_paid, paid_at,
is_delivered, delivered_at, payment_intent_id, created_at, updated_at`

	createOrderSQL = `
INSERT INTO orders (user_id, shipping_address, payment_method, total_price, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
RETURNING id`

	addOrderItemSQL = `
INSERT INTO order_items (order_id, product_id, name, image, price, quantity)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByPaymentIntentSQL = `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	listAllOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	listOrderItemsSQL = `
SELECT id, order_id, product_id, name, image, price, quantity
FROM order_items
WHERE order_id = ANY($1)
ORDER BY order_id, id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	markPaidSQL = `UPDATE orders SET is_paid = true, paid_at = $2, updated_at = $2 WHERE id = $1`

	markDeliveredSQL = `UPDATE orders SET is_delivered = true, delivered_at = $2, updated_at = $2 WHERE id = $1`

	setPaymentIntentSQL = `UPDATE orders SET payment_intent_id = $2, updated_at = now() WHERE id = $1`

	deleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	orderStatsSQL = `
SELECT count(*), COALESCE(sum(total_price) FILTER (WHERE status <> 'cancelled'), 0)
FROM orders`
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

// CreateOrder inserts the order and its items, filling in the generated ids.
func (r *repository) CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error {
	q := driver.Use(r.conn, tx)

	err := q.QueryRow(ctx, createOrderSQL,
		order.UserID, order.ShippingAddress, string(order.PaymentMethod), order.TotalPrice,
		string(order.Status), order.CreatedAt,
	).Scan(&order.ID)
	if err != nil {
		r.logger.Error("Failed to create order", zap.Error(err))
		return err
	}
	order.UpdatedAt = order.CreatedAt

	if err = r.addOrderItems(ctx, tx, order); err != nil {
		return err
	}

	return nil
}

func (r *repository) addOrderItems(ctx context.Context, tx pgx.Tx, order *models.Order) (err error) {
	if len(order.Items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, item := range order.Items {
		batch.Queue(addOrderItemSQL, order.ID, item.ProductID, item.Name, item.Image, item.Price, item.Quantity)
	}

	var results pgx.BatchResults
	if tx != nil {
		results = tx.SendBatch(ctx, batch)
	} else {
		results = r.conn.SendBatch(ctx, batch)
	}
	defer func() {
		if closeErr := results.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for i := range order.Items {
		if err = results.QueryRow().Scan(&order.Items[i].ID); err != nil {
			r.logger.Error("Failed to add order item",
				zap.Uint64("order_id", order.ID),
				zap.String("product_id", order.Items[i].ProductID),
				zap.Error(err))
			return fmt.Errorf("failed to add order item %s: %w", order.Items[i].ProductID, err)
		}
		order.Items[i].OrderID = order.ID
	}

	return nil
}

func (r *repository) GetOrder(ctx context.Context, tx pgx.Tx, orderID uint64) (*models.Order, error) {
	cacheKey := orderCacheKey(orderID)

	// 嘗試從快取中獲取
	if tx == nil {
		var cached models.Order
		found, err := r.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			r.logger.Warn("Failed to get order from cache", zap.Error(err))
		}
		if found {
			return &cached, nil
		}
	}

	order, err := r.getOne(ctx, tx, getOrderSQL, orderID)
	if err != nil {
		return nil, err
	}

	// 更新快取
	if tx == nil {
		if err = r.cache.Set(ctx, cacheKey, order, orderCacheTTL); err != nil {
			r.logger.Warn("Failed to cache order", zap.Error(err))
		}
	}

	return order, nil
}

func (r *repository) GetOrderByPaymentIntentID(ctx context.Context, tx pgx.Tx, paymentIntentID string) (*models.Order, error) {
	return r.getOne(ctx, tx, getOrderByPaymentIntentSQL, paymentIntentID)
}

func (r *repository) ListOrders(ctx context.Context, tx pgx.Tx, userID string, limit, offset uint64) ([]*models.Order, error) {
	return r.list(ctx, tx, listOrdersByUserSQL, userID, int64(limit), int64(offset))
}

func (r *repository) ListAllOrders(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Order, error) {
	return r.list(ctx, tx, listAllOrdersSQL, int64(limit), int64(offset))
}

func (r *repository) UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID uint64, status enum.OrderStatus, updatedAt time.Time) error {
	return r.exec(ctx, tx, "update order status", orderID, updateOrderStatusSQL, orderID, string(status), updatedAt)
}

func (r *repository) MarkPaid(ctx context.Context, tx pgx.Tx, orderID uint64, paidAt time.Time) error {
	return r.exec(ctx, tx, "mark order paid", orderID, markPaidSQL, orderID, paidAt)
}

func (r *repository) MarkDelivered(ctx context.Context, tx pgx.Tx, orderID uint64, deliveredAt time.Time) error {
	return r.exec(ctx, tx, "mark order delivered", orderID, markDeliveredSQL, orderID, deliveredAt)
}

func (r *repository) SetPaymentIntentID(ctx context.Context, tx pgx.Tx, orderID uint64, paymentIntentID string) error {
	return r.exec(ctx, tx, "set payment intent", orderID, setPaymentIntentSQL, orderID, paymentIntentID)
}

func (r *repository) DeleteOrder(ctx context.Context, tx pgx.Tx, orderID uint64) error {
	q := driver.Use(r.conn, tx)
	if _, err := q.Exec(ctx, deleteOrderItemsSQL, orderID); err != nil {
		r.logger.Error("Failed to delete order items", zap.Uint64("order_id", orderID), zap.Error(err))
		return err
	}
	return r.exec(ctx, tx, "delete order", orderID, deleteOrderSQL, orderID)
}

func (r *repository) Stats(ctx context.Context, tx pgx.Tx) (count int, revenue float64, err error) {
	if err = driver.Use(r.conn, tx).QueryRow(ctx, orderStatsSQL).Scan(&count, &revenue); err != nil {
		r.logger.Error("Failed to compute order stats", zap.Error(err))
		return 0, 0, err
	}
	return count, revenue, nil
}

// exec runs a single-row write and maps "no row touched" to ErrNotFound.
func (r *repository) exec(ctx context.Context, tx pgx.Tx, action string, orderID uint64, sql string, args ...any) error {
	tag, err := driver.Use(r.conn, tx).Exec(ctx, sql, args...)
	if err != nil {
		r.logger.Error("Failed to "+action, zap.Uint64("order_id", orderID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	// 提交後才使相關的快取失效
	driver.AfterCommit(tx, func() { r.invalidateOrderCache(ctx, orderID) })
	return nil
}

func (r *repository) getOne(ctx context.Context, tx pgx.Tx, sql string, arg any) (*models.Order, error) {
	orders, err := r.list(ctx, tx, sql, arg)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	return orders[0], nil
}

func (r *repository) list(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]*models.Order, error) {
	q := driver.Use(r.conn, tx)

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		r.logger.Error("Failed to query orders", zap.Error(err))
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[uint64]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = int64(o.ID)
		byID[o.ID] = o
	}

	itemRows, err := q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		r.logger.Error("Failed to list order items", zap.Error(err))
		return nil, err
	}
	items, err := pgx.CollectRows(itemRows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("failed to scan order items: %w", err)
	}
	for _, item := range items {
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	return orders, nil
}

func (r *repository) invalidateOrderCache(ctx context.Context, orderID uint64) {
	key := orderCacheKey(orderID)
	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warn("Failed to invalidate order cache", zap.Error(err), zap.String("key", key))
	}
}

func orderCacheKey(orderID uint64) string {
	return fmt.Sprintf("order:%d", orderID)
}

func scanOrder(row pgx.CollectableRow) (*models.Order, error) {
	var (
		o               models.Order
		paymentMethod   string
		status          string
		paymentIntentID *string
	)
	if err := row.Scan(
		&o.ID, &o.UserID, &o.ShippingAddress, &paymentMethod, &o.TotalPrice, &status, &o.IsPaid, &o.PaidAt,
		&o.IsDelivered, &o.DeliveredAt, &paymentIntentID, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	o.PaymentMethod = enum.PaymentMethod(paymentMethod)
	o.Status = enum.OrderStatus(status)
	if paymentIntentID != nil {
		o.PaymentIntentID = *paymentIntentID
	}
	o.Items = make([]models.OrderItem, 0)
	return &o, nil
}

func scanOrderItem(row pgx.CollectableRow) (models.OrderItem, error) {
	var item models.OrderItem
	err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Image, &item.Price, &item.Quantity)
	return item, err
}
