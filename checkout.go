package storefront

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goflare.io/storefront/cart"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

// OpenCart returns the cart of sessionID. The store is usable even when the
// error wraps cart.ErrPersistenceUnavailable.
func (s *service) OpenCart(ctx context.Context, sessionID string) (*cart.Store, error) {
	if s.carts == nil {
		return nil, ErrCartUnavailable
	}
	return s.carts.Open(ctx, sessionID)
}

// AddToCart puts quantity units of the current catalog product into store.
// Sold-out products cannot be added.
func (s *service) AddToCart(ctx context.Context, store *cart.Store, productID string, quantity int) error {
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !p.InStock() {
		return fmt.Errorf("%w: %s", ErrOutOfStock, productID)
	}
	return store.AddItem(ctx, p, quantity)
}

// CheckoutRequest 代表結帳表單
type CheckoutRequest struct {
	UserID          string
	ShippingAddress models.ShippingAddress
	PaymentMethod   enum.PaymentMethod
}

// CheckoutResult is the placed order plus, for online card payments, the
// client secret the payment form confirms against.
type CheckoutResult struct {
	Order        *models.Order
	ClientSecret string
}

// Checkout turns the session cart into an order. The ordered lines leave
// the cart only after the order is stored; a rejected order leaves it
// untouched. A failed payment intent keeps the order pending and still
// empties the cart.
func (s *service) Checkout(ctx context.Context, store *cart.Store, req CheckoutRequest) (*CheckoutResult, error) {
	// 1. 檢查購物車
	if store.IsEmpty() {
		return nil, ErrEmptyCart
	}

	// 2. 建立訂單
	snapshot := store.Snapshot()
	placed, err := s.PlaceOrder(ctx, OrderRequest{
		UserID:          req.UserID,
		Items:           snapshot.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		TotalPrice:      snapshot.TotalPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	result := &CheckoutResult{Order: placed}

	// 3. 線上刷卡需要建立 PaymentIntent
	if req.PaymentMethod.RequiresOnlinePayment() {
		clientSecret, err := s.startPayment(ctx, placed)
		if err != nil {
			s.logger.Warn("Failed to start payment, order stays pending",
				zap.Uint64("order_id", placed.ID),
				zap.Error(err))
		}
		result.ClientSecret = clientSecret
	}

	// 4. 從購物車移除已下單的商品
	if err = store.RemoveOrdered(ctx, snapshot.Items); err != nil {
		s.logger.Warn("Failed to persist cart after checkout", zap.Uint64("order_id", placed.ID), zap.Error(err))
	}

	return result, nil
}

func (s *service) startPayment(ctx context.Context, o *models.Order) (string, error) {
	if s.payments == nil {
		return "", ErrPaymentUnavailable
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, o, paymentIdempotencyKey(o.ID))
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}

	if err = s.order.SetPaymentIntentID(ctx, nil, o.ID, intent.ID); err != nil {
		return "", fmt.Errorf("failed to attach payment intent: %w", err)
	}
	o.PaymentIntentID = intent.ID

	return intent.ClientSecret, nil
}

// paymentIdempotencyKey is stable per order so a retried checkout step never
// opens a second intent.
func paymentIdempotencyKey(orderID uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("storefront-order:%d", orderID))).String()
}
