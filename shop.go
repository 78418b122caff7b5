// Package storefront ties the catalog, the session cart, orders and payment
// events together behind one Service.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/storefront/cart"
	"goflare.io/storefront/catalog"
	"goflare.io/storefront/category"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/event"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/order"
	"goflare.io/storefront/stock"
)

var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrPaymentUnavailable      = errors.New("payment gateway is not configured")
	ErrCartUnavailable         = errors.New("cart sessions are not configured")
	ErrOutOfStock              = errors.New("product is out of stock")
)

const defaultWorkerPoolSize = 10

type Service interface {
	ListProducts(ctx context.Context) ([]*models.Product, error)
	SearchProducts(ctx context.Context, query catalog.Query) ([]*models.Product, error)
	TopProducts(ctx context.Context, limit int) ([]*models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error)
	UpdateProduct(ctx context.Context, product *models.Product) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	AddReview(ctx context.Context, productID string, review models.Review) (*models.Product, error)
	ListCategories(ctx context.Context) ([]models.CategorySummary, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	ListOrders(ctx context.Context, userID string, limit, offset uint64) ([]*models.Order, error)
	ListAllOrders(ctx context.Context, limit, offset uint64) ([]*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uint64, status enum.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID uint64) (*models.Order, error)
	MarkOrderDelivered(ctx context.Context, orderID uint64) (*models.Order, error)
	DeleteOrder(ctx context.Context, orderID uint64) error
	DashboardStats(ctx context.Context) (*models.DashboardStats, error)

	OpenCart(ctx context.Context, sessionID string) (*cart.Store, error)
	AddToCart(ctx context.Context, store *cart.Store, productID string, quantity int) error
	Checkout(ctx context.Context, store *cart.Store, req CheckoutRequest) (*CheckoutResult, error)

	SubscribeToPaymentEvents() error
	ProcessEvent(ctx context.Context, evt *stripe.Event) error
	Shutdown()
}

// OrderRequest 代表建立訂單所需的資料
type OrderRequest struct {
	UserID          string
	Items           []models.OrderItem
	ShippingAddress models.ShippingAddress
	PaymentMethod   enum.PaymentMethod
	TotalPrice      float64
}

// ServiceOption configures the service.
type ServiceOption func(*service)

// WithWorkerPoolSize sets how many payment events are handled concurrently.
func WithWorkerPoolSize(size int) ServiceOption {
	return func(s *service) {
		if size > 0 {
			s.workerPoolSize = size
		}
	}
}

// WithCarts enables OpenCart.
func WithCarts(sessions *cart.Sessions) ServiceOption {
	return func(s *service) {
		s.carts = sessions
	}
}

// WithClock replaces time.Now for timestamps written by the service.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	products   catalog.Repository
	categories category.Repository
	order      order.Repository
	stock      stock.Repository
	event      event.Repository

	carts              *cart.Sessions
	transactionManager driver.Transactor
	payments           PaymentGateway
	eventManager       *EventManager
	workerPool         *WorkerPool
	workerPoolSize     int

	now    func() time.Time
	logger *zap.Logger
}

func NewService(
	products catalog.Repository, categories category.Repository, order order.Repository, stock stock.Repository,
	event event.Repository, tm driver.Transactor, payments PaymentGateway, bus MessageBus,
	logger *zap.Logger, opts ...ServiceOption) Service {
	s := &service{
		products:           products,
		categories:         categories,
		order:              order,
		stock:              stock,
		event:              event,
		transactionManager: tm,
		payments:           payments,
		workerPoolSize:     defaultWorkerPoolSize,
		now:                time.Now,
		logger:             logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.eventManager = NewEventManager(bus, logger)
	s.workerPool = NewWorkerPool(s.workerPoolSize, defaultQueueSize, s, logger)
	s.registerEventHandlers()

	return s
}

func (s *service) ListProducts(ctx context.Context) ([]*models.Product, error) {
	products, err := s.products.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *service) SearchProducts(ctx context.Context, query catalog.Query) ([]*models.Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Filter(products, query), nil
}

func (s *service) TopProducts(ctx context.Context, limit int) ([]*models.Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.TopRated(products, limit), nil
}

func (s *service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	product, err := s.products.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	return product, nil
}

func (s *service) CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := product.Validate(); err != nil {
		return nil, err
	}

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := s.now()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Reviews = nil
	product.RecalculateRating()

	if err := s.products.Create(ctx, nil, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	s.categories.Invalidate(ctx)

	return product, nil
}

// UpdateProduct overwrites the admin-editable fields. Rating, reviews and
// creation time stay as stored.
func (s *service) UpdateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := product.Validate(); err != nil {
		return nil, err
	}

	var updated *models.Product
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		existing, err := s.products.GetByID(ctx, tx, product.ID)
		if err != nil {
			return fmt.Errorf("failed to get product: %w", err)
		}

		existing.Name = product.Name
		existing.Description = product.Description
		existing.Price = product.Price
		existing.Category = product.Category
		existing.Image = product.Image
		existing.CountInStock = product.CountInStock
		existing.UpdatedAt = s.now()

		if err = s.products.Update(ctx, tx, existing); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		if err = s.stock.SetStock(ctx, tx, existing.ID, existing.CountInStock); err != nil {
			return fmt.Errorf("failed to set stock: %w", err)
		}
		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.categories.Invalidate(ctx)
	return updated, nil
}

func (s *service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.products.Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete product %s: %w", id, err)
	}
	s.categories.Invalidate(ctx)
	return nil
}

// AddReview records one review per user and refreshes the product's mean
// rating and review count.
func (s *service) AddReview(ctx context.Context, productID string, review models.Review) (*models.Product, error) {
	if err := review.Validate(); err != nil {
		return nil, err
	}

	var product *models.Product
	err := s.transactionManager.ExecuteSerializableTransaction(ctx, func(tx pgx.Tx) error {
		// 1. 讀取商品與既有評價
		p, err := s.products.GetByID(ctx, tx, productID)
		if err != nil {
			return fmt.Errorf("failed to get product: %w", err)
		}

		// 2. 每位使用者只能評價一次
		if p.HasReviewFrom(review.UserID) {
			return catalog.ErrAlreadyReviewed
		}

		// 3. 新增評價
		rv := review
		rv.ProductID = productID
		rv.CreatedAt = s.now()
		if err = s.products.CreateReview(ctx, tx, &rv); err != nil {
			return fmt.Errorf("failed to create review: %w", err)
		}

		// 4. 重新計算平均評分
		p.AddReview(rv)
		if err = s.products.UpdateRating(ctx, tx, productID, p.Rating, p.NumReviews); err != nil {
			return fmt.Errorf("failed to update rating: %w", err)
		}

		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func (s *service) ListCategories(ctx context.Context) ([]models.CategorySummary, error) {
	categories, err := s.categories.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// PlaceOrder validates the request, reserves stock for every item and stores
// the order as pending.
func (s *service) PlaceOrder(ctx context.Context, req OrderRequest) (*models.Order, error) {
	now := s.now()
	newOrder := &models.Order{
		UserID:          req.UserID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		TotalPrice:      req.TotalPrice,
		Status:          enum.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// 1. 驗證訂單數據
	if err := newOrder.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order data: %w", err)
	}

	err := s.transactionManager.ExecuteSerializableTransaction(ctx, func(tx pgx.Tx) error {
		// 2. 扣減庫存
		if err := s.stock.ReserveStock(ctx, tx, reserveParams(newOrder.Items)); err != nil {
			return fmt.Errorf("failed to reserve stock: %w", err)
		}

		// 3. 建立訂單與訂單項目
		if err := s.order.CreateOrder(ctx, tx, newOrder); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order placed",
		zap.Uint64("order_id", newOrder.ID),
		zap.Int("items", len(newOrder.Items)),
		zap.Float64("total_price", newOrder.TotalPrice))
	s.eventManager.PublishOrderEvent(OrderEventPlaced, newOrder)

	return newOrder, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	o, err := s.order.GetOrder(ctx, nil, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, userID string, limit, offset uint64) ([]*models.Order, error) {
	orders, err := s.order.ListOrders(ctx, nil, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListAllOrders(ctx context.Context, limit, offset uint64) ([]*models.Order, error) {
	orders, err := s.order.ListAllOrders(ctx, nil, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, orderID uint64, status enum.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, status)
	}

	return s.updateOrder(ctx, orderID, func(tx pgx.Tx, o *models.Order) (bool, error) {
		if err := s.changeStatus(ctx, tx, o, status); err != nil {
			return false, err
		}
		if status == enum.OrderStatusDelivered {
			if err := s.markDelivered(ctx, tx, o); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

// CancelOrder cancels a pending or processing order and returns its stock.
func (s *service) CancelOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	return s.UpdateOrderStatus(ctx, orderID, enum.OrderStatusCancelled)
}

// MarkOrderPaid sets the paid flag and moves an unpaid order on to
// processing. Marking a paid order again changes nothing.
func (s *service) MarkOrderPaid(ctx context.Context, orderID uint64) (*models.Order, error) {
	return s.updateOrder(ctx, orderID, func(tx pgx.Tx, o *models.Order) (bool, error) {
		return s.markPaid(ctx, tx, o)
	})
}

// MarkOrderDelivered sets the delivered flag, passing through shipped when
// the order is still processing.
func (s *service) MarkOrderDelivered(ctx context.Context, orderID uint64) (*models.Order, error) {
	return s.updateOrder(ctx, orderID, func(tx pgx.Tx, o *models.Order) (bool, error) {
		if o.IsDelivered {
			return false, nil
		}
		if o.Status == enum.OrderStatusProcessing {
			if err := s.changeStatus(ctx, tx, o, enum.OrderStatusShipped); err != nil {
				return false, err
			}
		}
		if err := s.changeStatus(ctx, tx, o, enum.OrderStatusDelivered); err != nil {
			return false, err
		}
		if err := s.markDelivered(ctx, tx, o); err != nil {
			return false, err
		}
		return true, nil
	})
}

// DeleteOrder removes the order, returning stock it still holds.
func (s *service) DeleteOrder(ctx context.Context, orderID uint64) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		o, err := s.order.GetOrder(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("failed to get order: %w", err)
		}

		if holdsStock(o.Status) {
			if err = s.stock.ReleaseStock(ctx, tx, releaseParams(o.Items)); err != nil {
				return fmt.Errorf("failed to release stock: %w", err)
			}
		}

		if err = s.order.DeleteOrder(ctx, tx, orderID); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		return nil
	})
}

func (s *service) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var stats models.DashboardStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.products.Count(gctx, nil)
		if err != nil {
			return fmt.Errorf("failed to count products: %w", err)
		}
		stats.TotalProducts = n
		return nil
	})
	g.Go(func() error {
		n, revenue, err := s.order.Stats(gctx, nil)
		if err != nil {
			return fmt.Errorf("failed to compute order stats: %w", err)
		}
		stats.TotalOrders = n
		stats.TotalRevenue = revenue
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &stats, nil
}

func (s *service) Shutdown() {
	s.eventManager.Unsubscribe()
	s.workerPool.Shutdown()
}

// updateOrder loads the order in a transaction, applies fn and publishes a
// status change when fn reports one.
func (s *service) updateOrder(ctx context.Context, orderID uint64, fn func(tx pgx.Tx, o *models.Order) (bool, error)) (*models.Order, error) {
	var (
		updated *models.Order
		changed bool
	)
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		o, err := s.order.GetOrder(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("failed to get order: %w", err)
		}

		if changed, err = fn(tx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.eventManager.PublishOrderEvent(OrderEventStatusChanged, updated)
	}
	return updated, nil
}

// changeStatus moves o to status and returns reserved stock on cancellation.
func (s *service) changeStatus(ctx context.Context, tx pgx.Tx, o *models.Order, status enum.OrderStatus) error {
	if !o.AllowChangeStatus(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, status)
	}

	now := s.now()
	if err := s.order.UpdateOrderStatus(ctx, tx, o.ID, status, now); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if status == enum.OrderStatusCancelled {
		if err := s.stock.ReleaseStock(ctx, tx, releaseParams(o.Items)); err != nil {
			return fmt.Errorf("failed to release stock: %w", err)
		}
	}

	s.logger.Info("Order status changed",
		zap.Uint64("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(status)))

	o.Status = status
	o.UpdatedAt = now
	return nil
}

// markPaid refuses cancelled orders: their stock is already back on sale.
func (s *service) markPaid(ctx context.Context, tx pgx.Tx, o *models.Order) (bool, error) {
	if o.IsPaid {
		return false, nil
	}
	if o.Status == enum.OrderStatusCancelled {
		return false, fmt.Errorf("%w: order %d is cancelled", ErrInvalidStatusTransition, o.ID)
	}

	now := s.now()
	if err := s.order.MarkPaid(ctx, tx, o.ID, now); err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}
	o.IsPaid = true
	o.PaidAt = &now

	if o.Status == enum.OrderStatusFailed {
		if err := s.changeStatus(ctx, tx, o, enum.OrderStatusPending); err != nil {
			return false, err
		}
	}
	if o.Status == enum.OrderStatusPending {
		if err := s.changeStatus(ctx, tx, o, enum.OrderStatusProcessing); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *service) markDelivered(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	now := s.now()
	if err := s.order.MarkDelivered(ctx, tx, o.ID, now); err != nil {
		return fmt.Errorf("failed to mark order delivered: %w", err)
	}
	o.IsDelivered = true
	o.DeliveredAt = &now
	return nil
}

// holdsStock reports whether an order in status still has its items
// reserved.
func holdsStock(status enum.OrderStatus) bool {
	switch status {
	case enum.OrderStatusPending, enum.OrderStatusProcessing, enum.OrderStatusFailed:
		return true
	}
	return false
}

func reserveParams(items []models.OrderItem) []stock.ReserveStockParams {
	params := make([]stock.ReserveStockParams, 0, len(items))
	for _, item := range items {
		params = append(params, stock.ReserveStockParams{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return params
}

func releaseParams(items []models.OrderItem) []stock.ReleaseStockParams {
	params := make([]stock.ReleaseStockParams, 0, len(items))
	for _, item := range items {
		params = append(params, stock.ReleaseStockParams{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return params
}
