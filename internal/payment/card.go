package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/pricing"
)

// IntentSucceeded is the provider status of a captured card payment.
const IntentSucceeded = "succeeded"

// MetadataOrderNumber is the intent metadata key correlating intents and orders.
const MetadataOrderNumber = "orderNumber"

// Intent is the provider's view of a card payment.
type Intent struct {
	ID           string
	Status       string
	Amount       int64
	Currency     string
	ClientSecret string
	Metadata     map[string]string
}

// IntentParams describes a new card payment intent.
type IntentParams struct {
	Amount         int64
	Currency       string
	OrderNumber    string
	UserID         string
	Email          string
	IdempotencyKey string
}

// CardGateway is the card processor used by CardMethod.
type CardGateway interface {
	CreateIntent(ctx context.Context, p IntentParams) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
}

// CardMethod settles orders paid with a client-confirmed card payment intent.
// The intent is always re-read from the provider.
type CardMethod struct {
	Gateway CardGateway
	Timeout time.Duration
	Logger  zerolog.Logger
}

func (CardMethod) Name() string { return MethodCard }

func (m CardMethod) AttemptPayment(ctx context.Context, o order.Order, in Input) (Result, error) {
	if in.PaymentIntentID == "" {
		return Result{}, common.ValidationError("paymentIntentId is required for card payments")
	}
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	intent, err := m.Gateway.RetrieveIntent(ctx, in.PaymentIntentID)
	if err != nil {
		m.Logger.Error().Err(err).Str("order_number", o.Number).Str("payment_intent", in.PaymentIntentID).Msg("retrieve payment intent failed")
		return Result{Message: "payment provider unavailable"}, common.ExternalServiceError("payment provider unavailable", err)
	}
	if intent.Status != IntentSucceeded {
		return Result{Message: fmt.Sprintf("Payment not completed. Status: %s", intent.Status)}, nil
	}
	if want := pricing.Cents(o.Total); intent.Amount != want {
		m.Logger.Warn().
			Str("order_number", o.Number).
			Int64("intent_amount", intent.Amount).
			Int64("order_amount", want).
			Msg("payment intent amount does not match order")
		return Result{Message: "Payment amount does not match order total"}, nil
	}
	if ref := intent.Metadata[MetadataOrderNumber]; ref != "" && ref != o.Number {
		return Result{Message: "Payment intent belongs to another order"}, nil
	}
	return Result{
		Success:       true,
		TransactionID: intent.ID,
		PaymentStatus: order.PaymentSucceeded,
		OrderStatus:   order.StatusProcessing,
	}, nil
}
