package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/obs"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/pricing"
)

const maxWebhookBody = 256 << 10

// Reconciler applies verified provider notifications to orders.
type Reconciler struct {
	Verifier  WebhookVerifier
	Orders    *order.Manager
	Events    *events.Bus
	Replay    *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle serves POST /webhook/payment. Only a signature failure is reported to
// the provider; business failures are logged and acknowledged so the provider
// does not retry into an unrecoverable error.
func (h *Reconciler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	ev, err := h.Verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		obs.Inc(obs.PaymentWebhookTotal, "stripe", "invalid_signature")
		h.Logger.Warn().Err(err).Msg("webhook signature verification failed")
		common.JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature verification failed", nil)
		return
	}
	logger := h.Logger.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	key := "webhook:stripe:" + ev.ID
	if h.Replay != nil && ev.ID != "" {
		ttl := h.ReplayTTL
		if ttl <= 0 {
			ttl = 72 * time.Hour
		}
		fresh, err := h.Replay.SetNX(r.Context(), key, "1", ttl).Result()
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("webhook replay guard unavailable, processing anyway")
		case !fresh:
			obs.Inc(obs.PaymentWebhookTotal, "stripe", "duplicate")
			logger.Info().Msg("duplicate webhook delivery ignored")
			common.JSON(w, http.StatusOK, map[string]any{"received": true})
			return
		}
	}

	result, err := h.Reconcile(r.Context(), ev)
	if err != nil {
		obs.Inc(obs.PaymentWebhookTotal, "stripe", "error")
		logger.Error().Err(err).Msg("webhook reconciliation failed")
		if h.Replay != nil && ev.ID != "" {
			// Let a provider redelivery try again.
			_ = h.Replay.Del(context.WithoutCancel(r.Context()), key).Err()
		}
	} else {
		obs.Inc(obs.PaymentWebhookTotal, "stripe", result)
	}
	common.JSON(w, http.StatusOK, map[string]any{"received": true})
}

// Reconcile results, used as metric labels.
const (
	ReconcileApplied  = "applied"
	ReconcileNoop     = "noop"
	ReconcileIgnored  = "ignored"
	ReconcileMismatch = "mismatch"
)

// Reconcile applies a verified event. Settlement is a conditional update, so a
// redelivered event finds the order already settled and changes nothing.
func (h *Reconciler) Reconcile(ctx context.Context, ev WebhookEvent) (string, error) {
	if ev.Type != EventIntentSucceeded && ev.Type != EventIntentFailed {
		h.Logger.Debug().Str("event_type", ev.Type).Msg("unhandled webhook event type")
		return ReconcileIgnored, nil
	}
	if ev.Intent == nil {
		h.Logger.Warn().Err(ev.DecodeErr).Str("event_id", ev.ID).Msg("webhook event carries no usable payment intent")
		return ReconcileIgnored, nil
	}
	number := ev.Intent.Metadata[MetadataOrderNumber]
	if number == "" {
		h.Logger.Warn().Str("payment_intent", ev.Intent.ID).Msg("payment intent has no order number")
		return ReconcileIgnored, nil
	}
	o, err := h.Orders.GetByNumber(ctx, number)
	if err != nil {
		if common.HasCode(err, common.CodeNotFound) {
			// The intent was paid before checkout created the order; checkout
			// verifies the intent itself.
			h.Logger.Info().Str("order_number", number).Msg("webhook for unknown order ignored")
			return ReconcileIgnored, nil
		}
		return "", err
	}

	if ev.Type == EventIntentFailed {
		return h.failed(ctx, o)
	}
	return h.succeeded(ctx, o, *ev.Intent)
}

func (h *Reconciler) succeeded(ctx context.Context, o order.Order, intent Intent) (string, error) {
	if want := pricing.Cents(o.Total); intent.Amount != want {
		h.emit(ctx, events.TopicPaymentMismatch, o, fmt.Sprintf("payment intent %s amount %d does not match order amount %d", intent.ID, intent.Amount, want))
		return ReconcileMismatch, nil
	}
	updated, applied, err := h.Orders.MarkPaymentSucceeded(ctx, o.ID, intent.ID)
	if err != nil {
		return "", err
	}
	if applied {
		h.Logger.Info().Str("order_number", o.Number).Str("payment_intent", intent.ID).Msg("order paid via webhook")
		h.emit(ctx, events.TopicOrderPaid, updated, "")
		return ReconcileApplied, nil
	}
	if updated.Status == order.StatusCancelled || updated.Status == order.StatusFailed {
		h.emit(ctx, events.TopicPaymentMismatch, updated, fmt.Sprintf("payment %s succeeded for a %s order", intent.ID, updated.Status))
		return ReconcileMismatch, nil
	}
	return ReconcileNoop, nil
}

func (h *Reconciler) failed(ctx context.Context, o order.Order) (string, error) {
	updated, applied, err := h.Orders.MarkPaymentFailed(ctx, o.ID)
	if err != nil {
		return "", err
	}
	if !applied {
		return ReconcileNoop, nil
	}
	h.emit(ctx, events.TopicPaymentFailed, updated, "provider reported payment failure")
	h.emit(ctx, events.TopicOrderCanceled, updated, "payment failed")
	return ReconcileApplied, nil
}

func (h *Reconciler) emit(ctx context.Context, topic string, o order.Order, reason string) {
	Emit(ctx, h.Events, h.Logger, topic, o, reason)
}

// IsInvalidSignature reports whether err came from signature verification.
func IsInvalidSignature(err error) bool { return errors.Is(err, ErrInvalidSignature) }
