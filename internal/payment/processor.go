package payment

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/obs"
	"github.com/noah-isme/storefront-core/internal/order"
)

// Processor runs a payment method against a persisted order and records the
// outcome. Payment attempts are never retried here; the caller retries with a
// fresh intent.
type Processor struct {
	Orders  *order.Manager
	Methods *Registry
	Events  *events.Bus
	Logger  zerolog.Logger
}

// Pay attempts payment of o with the named method. On success the order is
// updated conditionally; when the webhook already settled it the stored order
// is returned unchanged.
func (p *Processor) Pay(ctx context.Context, o order.Order, method string, in Input) (order.Order, Result, error) {
	m, err := p.Methods.Lookup(method)
	if err != nil {
		return o, Result{}, err
	}
	res, err := m.AttemptPayment(ctx, o, in)
	if err != nil {
		obs.Inc(obs.PaymentAttemptTotal, m.Name(), "error")
		return o, res, err
	}
	if !res.Success {
		obs.Inc(obs.PaymentAttemptTotal, m.Name(), "declined")
		p.Logger.Info().Str("order_number", o.Number).Str("method", m.Name()).Str("reason", res.Message).Msg("payment not completed")
		return o, res, nil
	}

	updated, applied, err := p.Orders.ApplyPaymentOutcome(ctx, o.ID, res.Outcome())
	if err != nil {
		obs.Inc(obs.PaymentAttemptTotal, m.Name(), "error")
		return o, res, err
	}
	obs.Inc(obs.PaymentAttemptTotal, m.Name(), "ok")
	if !applied {
		p.Logger.Info().
			Str("order_number", o.Number).
			Str("status", string(updated.Status)).
			Str("payment_status", string(updated.PaymentStatus)).
			Msg("payment outcome already recorded")
		return updated, res, nil
	}
	switch {
	case updated.PaymentStatus == order.PaymentSucceeded:
		p.emit(ctx, events.TopicOrderPaid, updated, "")
	case updated.Status == order.StatusPendingPayment:
		p.emit(ctx, events.TopicOrderPendingPay, updated, "")
	}
	return updated, res, nil
}

func (p *Processor) emit(ctx context.Context, topic string, o order.Order, reason string) {
	Emit(ctx, p.Events, p.Logger, topic, o, reason)
}

// OrderEvent builds the payload shared by order and payment topics.
func OrderEvent(o order.Order, reason string) events.OrderPayload {
	return events.OrderPayload{
		OrderID:       o.ID.String(),
		OrderNumber:   o.Number,
		Email:         o.Email,
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		PaymentMethod: o.PaymentMethod,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		TransactionID: o.TransactionID,
		Reason:        reason,
	}
}

// Emit publishes an order event. Dispatch failures are logged; the order
// change they describe has already been committed.
func Emit(ctx context.Context, bus *events.Bus, logger zerolog.Logger, topic string, o order.Order, reason string) {
	if bus == nil {
		return
	}
	if _, err := bus.Emit(ctx, topic, o.ID.String(), OrderEvent(o, reason)); err != nil {
		logger.Warn().Err(err).Str("topic", topic).Str("order_number", o.Number).Msg("order event dispatch failed")
	}
}
