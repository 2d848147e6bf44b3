package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway implements CardGateway with the Stripe PaymentIntents API.
type StripeGateway struct {
	API *client.API
}

// NewStripeGateway builds a gateway using httpClient for every API call.
func NewStripeGateway(secretKey string, httpClient *http.Client) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, stripe.NewBackends(httpClient))
	return &StripeGateway{API: api}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p IntentParams) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(strings.ToLower(p.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderNumber, p.OrderNumber)
	if p.UserID != "" {
		params.AddMetadata("userId", p.UserID)
	}
	if p.Email != "" {
		params.ReceiptEmail = stripe.String(p.Email)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	pi, err := g.API.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe create intent: %w", err)
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.API.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe retrieve intent: %w", err)
	}
	return intentFromStripe(pi), nil
}

func intentFromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
}

// Webhook event types handled by the reconciler.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	ID     string
	Type   string
	Intent *Intent

	// DecodeErr is set when the signed payload carried an intent that could
	// not be decoded. Intent is nil in that case.
	DecodeErr error
}

// WebhookVerifier authenticates and decodes a raw provider notification.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (WebhookEvent, error)
}

// StripeWebhookVerifier checks the Stripe-Signature header against the endpoint secret.
type StripeWebhookVerifier struct {
	Secret    string
	Tolerance time.Duration
}

func (v StripeWebhookVerifier) Verify(payload []byte, signature string) (WebhookEvent, error) {
	if v.Secret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.Secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := WebhookEvent{ID: ev.ID, Type: string(ev.Type)}
	if strings.HasPrefix(out.Type, "payment_intent.") && ev.Data != nil {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			out.DecodeErr = fmt.Errorf("decode payment intent: %w", err)
			return out, nil
		}
		intent := intentFromStripe(&pi)
		out.Intent = &intent
	}
	return out, nil
}
