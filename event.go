package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/event"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/order"
)

const (
	SubjectPaymentEvents = "payment.service.event.>"
	SubjectOrderPrefix   = "storefront.order."

	OrderEventPlaced        = "order.placed"
	OrderEventStatusChanged = "order.status_changed"
)

// MessageBus is the part of *nats.Conn the event manager needs.
type MessageBus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

var _ MessageBus = (*nats.Conn)(nil)

type EventHandler func(context.Context, *stripe.Event) error

type EventManager struct {
	bus          MessageBus
	handlers     map[stripe.EventType]EventHandler
	subscription *nats.Subscription
	logger       *zap.Logger
}

// NewEventManager returns a manager on bus. A nil bus disables publishing
// and subscribing.
func NewEventManager(bus MessageBus, logger *zap.Logger) *EventManager {
	return &EventManager{
		bus:      bus,
		handlers: make(map[stripe.EventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType stripe.EventType, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType stripe.EventType) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

// SubscribeToEvents decodes every payment event and hands it to wp.
func (em *EventManager) SubscribeToEvents(wp *WorkerPool) error {
	if em.bus == nil {
		return errors.New("no message bus configured")
	}

	sub, err := em.bus.Subscribe(SubjectPaymentEvents, func(msg *nats.Msg) {
		var evt stripe.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			em.logger.Error("Failed to unmarshal event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}

		if err := wp.Submit(context.Background(), &evt); err != nil {
			em.logger.Error("Failed to submit event", zap.String("event_id", evt.ID), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	em.subscription = sub
	return nil
}

func (em *EventManager) Unsubscribe() {
	if em.subscription == nil {
		return
	}
	if err := em.subscription.Unsubscribe(); err != nil {
		em.logger.Warn("Failed to unsubscribe from payment events", zap.Error(err))
	}
	em.subscription = nil
}

// PublishOrderEvent announces an order change on storefront.order.<kind>.
// Publishing is best effort; failures are logged.
func (em *EventManager) PublishOrderEvent(eventType string, o *models.Order) {
	if em.bus == nil {
		return
	}

	data, err := json.Marshal(models.OrderEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		TotalPrice: o.TotalPrice,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		em.logger.Error("Failed to marshal order event", zap.Error(err))
		return
	}

	subject := SubjectOrderPrefix + strings.TrimPrefix(eventType, "order.")
	if err = em.bus.Publish(subject, data); err != nil {
		em.logger.Warn("Failed to publish order event",
			zap.String("subject", subject),
			zap.Uint64("order_id", o.ID),
			zap.Error(err))
	}
}

func (s *service) SubscribeToPaymentEvents() error {
	if err := s.eventManager.SubscribeToEvents(s.workerPool); err != nil {
		return fmt.Errorf("failed to subscribe to payment events: %w", err)
	}
	return nil
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[stripe.EventType]EventHandler{
		// Payment Intent Events
		stripe.EventTypePaymentIntentSucceeded:     s.handlePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed: s.handlePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:      s.handlePaymentIntentCanceled,

		// Charge Events
		stripe.EventTypeChargeRefunded: s.handleChargeRefunded,
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

func (s *service) handlePaymentIntentSucceeded(ctx context.Context, evt *stripe.Event) error {
	s.logger.Info("Handling PaymentIntent succeeded event", zap.String("event_id", evt.ID))

	var paymentIntent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &paymentIntent); err != nil {
		s.logger.Error("Failed to unmarshal PaymentIntent", zap.Error(err))
		return err
	}

	return s.applyPaymentOutcome(ctx, paymentIntent.ID, func(tx pgx.Tx, o *models.Order) (bool, error) {
		changed, err := s.markPaid(ctx, tx, o)
		if errors.Is(err, ErrInvalidStatusTransition) {
			// 訂單已取消，款項需退回
			s.logger.Warn("Payment succeeded for cancelled order, refund required",
				zap.Uint64("order_id", o.ID),
				zap.String("payment_intent_id", paymentIntent.ID))
			return false, nil
		}
		return changed, err
	})
}

func (s *service) handlePaymentIntentPaymentFailed(ctx context.Context, evt *stripe.Event) error {
	s.logger.Info("Handling PaymentIntent payment failed event", zap.String("event_id", evt.ID))

	var paymentIntent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &paymentIntent); err != nil {
		s.logger.Error("Failed to unmarshal PaymentIntent", zap.Error(err))
		return err
	}

	return s.applyPaymentOutcome(ctx, paymentIntent.ID, func(tx pgx.Tx, o *models.Order) (bool, error) {
		return s.changeStatusIfAllowed(ctx, tx, o, enum.OrderStatusFailed)
	})
}

func (s *service) handlePaymentIntentCanceled(ctx context.Context, evt *stripe.Event) error {
	s.logger.Info("Handling PaymentIntent canceled event", zap.String("event_id", evt.ID))

	var paymentIntent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &paymentIntent); err != nil {
		s.logger.Error("Failed to unmarshal PaymentIntent", zap.Error(err))
		return err
	}

	// 取消訂單並恢復庫存
	return s.applyPaymentOutcome(ctx, paymentIntent.ID, func(tx pgx.Tx, o *models.Order) (bool, error) {
		return s.changeStatusIfAllowed(ctx, tx, o, enum.OrderStatusCancelled)
	})
}

func (s *service) handleChargeRefunded(ctx context.Context, evt *stripe.Event) error {
	s.logger.Info("Handling Charge refunded event", zap.String("event_id", evt.ID))

	var charge stripe.Charge
	if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
		s.logger.Error("Failed to unmarshal Charge", zap.Error(err))
		return err
	}
	if charge.PaymentIntent == nil {
		s.logger.Warn("Refunded charge has no payment intent", zap.String("charge_id", charge.ID))
		return nil
	}

	return s.applyPaymentOutcome(ctx, charge.PaymentIntent.ID, func(tx pgx.Tx, o *models.Order) (bool, error) {
		return s.changeStatusIfAllowed(ctx, tx, o, enum.OrderStatusCancelled)
	})
}

// applyPaymentOutcome runs fn on the order owning paymentIntentID. Intents
// that belong to no order are logged and skipped.
func (s *service) applyPaymentOutcome(ctx context.Context, paymentIntentID string, fn func(tx pgx.Tx, o *models.Order) (bool, error)) error {
	var (
		updated *models.Order
		changed bool
	)
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		o, err := s.order.GetOrderByPaymentIntentID(ctx, tx, paymentIntentID)
		if err != nil {
			return err
		}

		if changed, err = fn(tx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if errors.Is(err, order.ErrNotFound) {
		s.logger.Warn("Order not found for PaymentIntent", zap.String("payment_intent_id", paymentIntentID))
		return nil
	}
	if err != nil {
		return err
	}

	if changed {
		s.eventManager.PublishOrderEvent(OrderEventStatusChanged, updated)
	}
	return nil
}

// changeStatusIfAllowed ignores transitions the order can no longer make,
// such as a refund arriving after shipment.
func (s *service) changeStatusIfAllowed(ctx context.Context, tx pgx.Tx, o *models.Order, status enum.OrderStatus) (bool, error) {
	if !o.AllowChangeStatus(status) {
		s.logger.Warn("Ignoring payment event for order",
			zap.Uint64("order_id", o.ID),
			zap.String("status", string(o.Status)),
			zap.String("target", string(status)))
		return false, nil
	}
	if err := s.changeStatus(ctx, tx, o, status); err != nil {
		return false, err
	}
	return true, nil
}

// ProcessEvent runs the handler for evt once. An event whose handler failed
// earlier is retried on redelivery.
func (s *service) ProcessEvent(ctx context.Context, evt *stripe.Event) error {
	existing, err := s.event.GetByID(ctx, evt.ID)
	switch {
	case err == nil && existing.Processed:
		s.logger.Info("Event already processed", zap.String("event_id", evt.ID))
		return nil
	case err != nil && !errors.Is(err, event.ErrNotFound):
		return fmt.Errorf("failed to look up event: %w", err)
	}

	handler, exists := s.eventManager.GetHandler(evt.Type)
	if !exists {
		return fmt.Errorf("no handler registered for event type: %s", evt.Type)
	}

	if existing == nil {
		now := s.now()
		if err = s.event.Create(ctx, &models.Event{
			ID:        evt.ID,
			Type:      evt.Type,
			Processed: false,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
	}

	if err = handler(ctx, evt); err != nil {
		s.logger.Error("Failed to handle event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err),
		)
		return err
	}

	if err = s.event.MarkAsProcessed(ctx, evt.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	s.logger.Info("Stripe event processed", zap.String("event_id", evt.ID))
	return nil
}
