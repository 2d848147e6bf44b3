// Package checkout turns a session cart into a paid (or awaiting payment)
// order.
package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/cart"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/obs"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/payment"
	"github.com/noah-isme/storefront-core/internal/pricing"
)

// Carts is the part of the cart service checkout needs.
type Carts interface {
	Totals(ctx context.Context, sessionID string) (cart.State, pricing.Breakdown, error)
	Clear(ctx context.Context, sessionID string) error
	Release(ctx context.Context, sessionID string) error
}

// Input is the checkout request body.
type Input struct {
	ShippingAddress order.Address  `json:"shippingAddress"`
	BillingAddress  *order.Address `json:"billingAddress,omitempty"`
	Email           string         `json:"email,omitempty" validate:"omitempty,email,max=254"`
	PaymentMethod   string         `json:"paymentMethod" validate:"required,max=32"`
	PaymentIntentID string         `json:"paymentIntentId,omitempty" validate:"max=255"`
	WalletOrderID   string         `json:"walletOrderId,omitempty" validate:"max=255"`
}

// Output summarises the placed order.
type Output struct {
	OrderID       string              `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	Status        order.Status        `json:"status"`
	PaymentStatus order.PaymentStatus `json:"paymentStatus"`
	TransactionID string              `json:"transactionId,omitempty"`
	BankTransfer  *order.BankTransfer `json:"bankTransfer,omitempty"`
	Totals        pricing.View        `json:"totals"`
	Message       string              `json:"message,omitempty"`
}

// Service runs cart → pricing → order → payment → events.
type Service struct {
	Carts    Carts
	Orders   *order.Manager
	Payments *payment.Processor
	Events   *events.Bus
	Logger   zerolog.Logger
}

// Checkout places an order for the session cart and attempts payment. The
// order is persisted before payment is attempted; on a declined or failed
// attempt it stays pending and its id is returned in the error details so the
// client can retry through payment confirmation.
func (s *Service) Checkout(ctx context.Context, sessionID string, actor *common.Principal, in Input) (Output, error) {
	if sessionID == "" {
		return Output{}, common.ValidationError("cart session is required")
	}
	method, err := s.Payments.Methods.Lookup(in.PaymentMethod)
	if err != nil {
		return Output{}, err
	}
	pin := payment.Input{
		PaymentIntentID: strings.TrimSpace(in.PaymentIntentID),
		WalletOrderID:   strings.TrimSpace(in.WalletOrderID),
	}
	switch method.Name() {
	case payment.MethodCard:
		if pin.PaymentIntentID == "" {
			return Output{}, common.ValidationError("paymentIntentId is required for card payments")
		}
	case payment.MethodWallet:
		if pin.WalletOrderID == "" {
			return Output{}, common.ValidationError("walletOrderId is required for wallet payments")
		}
	}

	st, totals, err := s.Carts.Totals(ctx, sessionID)
	if err != nil {
		return Output{}, err
	}
	if st.IsEmpty() {
		obs.Inc(obs.CheckoutTotal, method.Name(), "empty_cart")
		return Output{}, common.ValidationError("Cart is empty")
	}

	create := order.CreateInput{
		Items:           snapshot(st.Items),
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		Email:           in.Email,
		PaymentMethod:   method.Name(),
		Totals:          totals,
		Owner:           actor,
		PaymentIntentID: pin.PaymentIntentID,
	}
	if method.Name() == payment.MethodCard && pin.PaymentIntentID == st.PaymentIntentID {
		create.OrderNumber = st.PendingOrderNumber
	}
	o, err := s.Orders.Create(ctx, create)
	if err != nil {
		obs.Inc(obs.CheckoutTotal, method.Name(), "error")
		return Output{}, err
	}
	payment.Emit(ctx, s.Events, s.Logger, events.TopicOrderCreated, o, "")

	logger := s.Logger.With().Str("order_number", o.Number).Str("method", method.Name()).Logger()
	if create.OrderNumber != "" {
		// The reserved number now belongs to this order; a retry must not reuse it.
		if err := s.Carts.Release(ctx, sessionID); err != nil {
			logger.Warn().Err(err).Msg("cart reservation not released")
		}
	}
	updated, res, err := s.Payments.Pay(ctx, o, method.Name(), pin)
	if err != nil {
		obs.Inc(obs.CheckoutTotal, method.Name(), "error")
		logger.Error().Err(err).Msg("payment attempt failed, order kept pending")
		return Output{}, withOrder(err, o)
	}
	if !res.Success {
		obs.Inc(obs.CheckoutTotal, method.Name(), "declined")
		return Output{}, withOrder(common.PaymentDeclined(res.Message), o)
	}

	if err := s.Carts.Clear(ctx, sessionID); err != nil {
		logger.Warn().Err(err).Msg("cart not cleared after checkout")
	}
	obs.Inc(obs.CheckoutTotal, method.Name(), "ok")
	logger.Info().
		Str("status", string(updated.Status)).
		Str("payment_status", string(updated.PaymentStatus)).
		Msg("checkout completed")

	return Output{
		OrderID:       updated.ID.String(),
		OrderNumber:   updated.Number,
		Status:        updated.Status,
		PaymentStatus: updated.PaymentStatus,
		TransactionID: updated.TransactionID,
		BankTransfer:  updated.BankTransfer,
		Totals:        totals.View(),
		Message:       res.Message,
	}, nil
}

func snapshot(items []cart.Item) []order.Item {
	out := make([]order.Item, len(items))
	for i, it := range items {
		out[i] = order.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Size:      it.Size,
			Image:     it.Image,
		}
	}
	return out
}

func withOrder(err error, o order.Order) error {
	details := map[string]any{"orderId": o.ID.String(), "orderNumber": o.Number}
	var appErr *common.AppError
	if errors.As(err, &appErr) && appErr.Details == nil {
		return appErr.WithDetails(details)
	}
	return err
}
