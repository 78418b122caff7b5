package storefront

import (
	"context"
	"math"
	"strconv"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

// PaymentGateway starts online card payments for orders.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, o *models.Order, idempotencyKey string) (*stripe.PaymentIntent, error)
}

var _ PaymentGateway = (*StripeGateway)(nil)

type StripeGateway struct {
	client   *client.API
	currency stripe.Currency
	logger   *zap.Logger
}

func NewStripeGateway(secretKey string, currency stripe.Currency, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{
		client:   client.New(secretKey, nil),
		currency: currency,
		logger:   logger,
	}
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, o *models.Order, idempotencyKey string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(o.TotalPrice)),
		Currency: stripe.String(string(g.currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	params.AddMetadata("order_id", strconv.FormatUint(o.ID, 10))
	if o.UserID != "" {
		params.AddMetadata("user_id", o.UserID)
	}

	intent, err := g.client.PaymentIntents.New(params)
	if err != nil {
		g.logger.Error("Failed to create payment intent", zap.Uint64("order_id", o.ID), zap.Error(err))
		return nil, err
	}

	g.logger.Info("Payment intent created",
		zap.Uint64("order_id", o.ID),
		zap.String("payment_intent_id", intent.ID))
	return intent, nil
}

// ToMinorUnits converts a price to the smallest currency unit, rounding to
// the nearest cent.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
