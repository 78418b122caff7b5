package storefront

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/stock"
)

type ProductRepoMock struct {
	mock.Mock
}

func (m *ProductRepoMock) Create(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	return m.Called(ctx, tx, product).Error(0)
}

func (m *ProductRepoMock) GetByID(ctx context.Context, tx pgx.Tx, id string) (*models.Product, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *ProductRepoMock) Update(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	return m.Called(ctx, tx, product).Error(0)
}

func (m *ProductRepoMock) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	return m.Called(ctx, tx, id).Error(0)
}

func (m *ProductRepoMock) List(ctx context.Context, tx pgx.Tx) ([]*models.Product, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Product), args.Error(1)
}

func (m *ProductRepoMock) Count(ctx context.Context, tx pgx.Tx) (int, error) {
	args := m.Called(ctx, tx)
	return args.Int(0), args.Error(1)
}

func (m *ProductRepoMock) CreateReview(ctx context.Context, tx pgx.Tx, review *models.Review) error {
	return m.Called(ctx, tx, review).Error(0)
}

func (m *ProductRepoMock) UpdateRating(ctx context.Context, tx pgx.Tx, productID string, rating float64, numReviews int) error {
	return m.Called(ctx, tx, productID, rating, numReviews).Error(0)
}

type CategoryRepoMock struct {
	mock.Mock
}

func (m *CategoryRepoMock) List(ctx context.Context, tx pgx.Tx) ([]models.CategorySummary, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CategorySummary), args.Error(1)
}

func (m *CategoryRepoMock) Invalidate(ctx context.Context) {
	m.Called(ctx)
}

type OrderRepoMock struct {
	mock.Mock
}

func (m *OrderRepoMock) CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error {
	return m.Called(ctx, tx, order).Error(0)
}

func (m *OrderRepoMock) GetOrder(ctx context.Context, tx pgx.Tx, orderID uint64) (*models.Order, error) {
	args := m.Called(ctx, tx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderRepoMock) GetOrderByPaymentIntentID(ctx context.Context, tx pgx.Tx, paymentIntentID string) (*models.Order, error) {
	args := m.Called(ctx, tx, paymentIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderRepoMock) ListOrders(ctx context.Context, tx pgx.Tx, userID string, limit, offset uint64) ([]*models.Order, error) {
	args := m.Called(ctx, tx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

func (m *OrderRepoMock) ListAllOrders(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Order, error) {
	args := m.Called(ctx, tx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

func (m *OrderRepoMock) UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID uint64, status enum.OrderStatus, updatedAt time.Time) error {
	return m.Called(ctx, tx, orderID, status, updatedAt).Error(0)
}

func (m *OrderRepoMock) MarkPaid(ctx context.Context, tx pgx.Tx, orderID uint64, paidAt time.Time) error {
	return m.Called(ctx, tx, orderID, paidAt).Error(0)
}

func (m *OrderRepoMock) MarkDelivered(ctx context.Context, tx pgx.Tx, orderID uint64, deliveredAt time.Time) error {
	return m.Called(ctx, tx, orderID, deliveredAt).Error(0)
}

func (m *OrderRepoMock) SetPaymentIntentID(ctx context.Context, tx pgx.Tx, orderID uint64, paymentIntentID string) error {
	return m.Called(ctx, tx, orderID, paymentIntentID).Error(0)
}

func (m *OrderRepoMock) DeleteOrder(ctx context.Context, tx pgx.Tx, orderID uint64) error {
	return m.Called(ctx, tx, orderID).Error(0)
}

func (m *OrderRepoMock) Stats(ctx context.Context, tx pgx.Tx) (int, float64, error) {
	args := m.Called(ctx, tx)
	return args.Int(0), args.Get(1).(float64), args.Error(2)
}

type StockRepoMock struct {
	mock.Mock
}

func (m *StockRepoMock) ReserveStock(ctx context.Context, tx pgx.Tx, params []stock.ReserveStockParams) error {
	return m.Called(ctx, tx, params).Error(0)
}

func (m *StockRepoMock) ReleaseStock(ctx context.Context, tx pgx.Tx, params []stock.ReleaseStockParams) error {
	return m.Called(ctx, tx, params).Error(0)
}

func (m *StockRepoMock) SetStock(ctx context.Context, tx pgx.Tx, productID string, quantity int) error {
	return m.Called(ctx, tx, productID, quantity).Error(0)
}

type EventRepoMock struct {
	mock.Mock
}

func (m *EventRepoMock) Create(ctx context.Context, event *models.Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *EventRepoMock) GetByID(ctx context.Context, id string) (*models.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *EventRepoMock) MarkAsProcessed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type PaymentGatewayMock struct {
	mock.Mock
}

func (m *PaymentGatewayMock) CreatePaymentIntent(ctx context.Context, o *models.Order, idempotencyKey string) (*stripe.PaymentIntent, error) {
	args := m.Called(ctx, o, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.PaymentIntent), args.Error(1)
}

// fakeTransactor runs the callback without a database transaction.
type fakeTransactor struct{}

func (fakeTransactor) ExecuteTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (fakeTransactor) ExecuteSerializableTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type publishedMessage struct {
	Subject string
	Event   models.OrderEvent
}

// fakeBus records publishes and keeps the last subscription handler.
type fakeBus struct {
	mu        sync.Mutex
	published []publishedMessage
	handler   nats.MsgHandler
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	var evt models.OrderEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{Subject: subject, Event: evt})
	return nil
}

func (b *fakeBus) Subscribe(_ string, handler nats.MsgHandler) (*nats.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil, nil
}

func (b *fakeBus) Messages() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testDeps struct {
	products   *ProductRepoMock
	categories *CategoryRepoMock
	orders     *OrderRepoMock
	stock      *StockRepoMock
	events     *EventRepoMock
	payments   *PaymentGatewayMock
	bus        *fakeBus
}

func newTestService(t *testing.T, opts ...ServiceOption) (*service, *testDeps) {
	t.Helper()

	deps := &testDeps{
		products:   new(ProductRepoMock),
		categories: new(CategoryRepoMock),
		orders:     new(OrderRepoMock),
		stock:      new(StockRepoMock),
		events:     new(EventRepoMock),
		payments:   new(PaymentGatewayMock),
		bus:        new(fakeBus),
	}

	svc := NewService(
		deps.products, deps.categories, deps.orders, deps.stock, deps.events,
		fakeTransactor{}, deps.payments, deps.bus, zap.NewNop(),
		append([]ServiceOption{
			WithWorkerPoolSize(2),
			WithClock(func() time.Time { return fixedNow }),
		}, opts...)...,
	)
	t.Cleanup(svc.Shutdown)

	s, ok := svc.(*service)
	require.True(t, ok)
	return s, deps
}

func (d *testDeps) AssertExpectations(t *testing.T) {
	t.Helper()
	d.products.AssertExpectations(t)
	d.categories.AssertExpectations(t)
	d.orders.AssertExpectations(t)
	d.stock.AssertExpectations(t)
	d.events.AssertExpectations(t)
	d.payments.AssertExpectations(t)
}
