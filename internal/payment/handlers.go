package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/cart"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/obs"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/pricing"
)

// CartReserver prices a session cart and pins the reserved order number.
type CartReserver interface {
	Totals(ctx context.Context, sessionID string) (cart.State, pricing.Breakdown, error)
	Reserve(ctx context.Context, sessionID, orderNumber, intentID string) error
}

// OrderFinder reports whether an order number is already taken.
type OrderFinder interface {
	GetByNumber(ctx context.Context, number string) (order.Order, error)
}

// IntentHandler opens card payment intents for the session cart.
type IntentHandler struct {
	Carts    CartReserver
	Orders   OrderFinder
	Gateway  CardGateway
	Currency string
	Logger   zerolog.Logger
}

// Create handles POST /payment/intent. The order number reserved here is the
// one the eventual order is created with, so the webhook can find it.
func (h *IntentHandler) Create(w http.ResponseWriter, r *http.Request) {
	sid := cart.SessionID(r)
	if sid == "" {
		common.WriteError(w, common.ValidationError("cart session is required"))
		return
	}
	st, totals, err := h.Carts.Totals(r.Context(), sid)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if st.IsEmpty() {
		common.WriteError(w, common.ValidationError("Cart is empty"))
		return
	}
	amount := pricing.Cents(totals.Total)
	if amount <= 0 {
		common.WriteError(w, common.ValidationError("cart total must be positive"))
		return
	}
	number := st.PendingOrderNumber
	if number != "" && h.numberTaken(r.Context(), number) {
		number = ""
	}
	if number == "" {
		number = order.NewOrderNumber()
	}
	params := IntentParams{
		Amount:         amount,
		Currency:       h.Currency,
		OrderNumber:    number,
		IdempotencyKey: fmt.Sprintf("intent:%s:%d", number, amount),
	}
	if p, ok := common.PrincipalFrom(r.Context()); ok {
		params.UserID = p.UserID
		params.Email = p.Email
	}
	intent, err := h.Gateway.CreateIntent(r.Context(), params)
	if err != nil {
		obs.Inc(obs.PaymentIntentTotal, "stripe", "error")
		h.Logger.Error().Err(err).Str("order_number", number).Msg("create payment intent failed")
		common.WriteError(w, common.ExternalServiceError("Failed to create payment intent", err))
		return
	}
	obs.Inc(obs.PaymentIntentTotal, "stripe", "ok")
	if err := h.Carts.Reserve(r.Context(), sid, number, intent.ID); err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"clientSecret":    intent.ClientSecret,
		"paymentIntentId": intent.ID,
		"orderNumber":     number,
		"amount":          totals.View().Total,
	}})
}

// numberTaken reports whether an order already holds number. Lookup failures
// other than not-found are treated as taken so a fresh number is minted.
func (h *IntentHandler) numberTaken(ctx context.Context, number string) bool {
	if h.Orders == nil {
		return false
	}
	_, err := h.Orders.GetByNumber(ctx, number)
	if err == nil {
		return true
	}
	return !common.HasCode(err, common.CodeNotFound)
}

// ConfirmHandler settles a pending order with a client-confirmed card intent.
type ConfirmHandler struct {
	Orders    *order.Manager
	Processor *Processor
}

type confirmRequest struct {
	OrderID         string `json:"orderId" validate:"required,uuid"`
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
}

// Confirm handles POST /payment/confirm.
func (h *ConfirmHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	req.PaymentIntentID = strings.TrimSpace(req.PaymentIntentID)
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	id, err := uuid.Parse(req.OrderID)
	if err != nil {
		common.WriteError(w, common.ValidationError("invalid order id"))
		return
	}
	var actor *common.Principal
	if p, ok := common.PrincipalFrom(r.Context()); ok {
		actor = &p
	}
	o, err := h.Orders.Get(r.Context(), actor, id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if o.PaymentStatus != order.PaymentSucceeded {
		o, _, err = h.pay(r.Context(), o, req.PaymentIntentID)
		if err != nil {
			common.WriteError(w, err)
			return
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"orderId":       o.ID,
		"orderNumber":   o.Number,
		"status":        o.Status,
		"paymentStatus": o.PaymentStatus,
	}})
}

func (h *ConfirmHandler) pay(ctx context.Context, o order.Order, intentID string) (order.Order, Result, error) {
	updated, res, err := h.Processor.Pay(ctx, o, MethodCard, Input{PaymentIntentID: intentID})
	if err != nil {
		return o, res, err
	}
	if !res.Success {
		return o, res, common.PaymentDeclined(res.Message)
	}
	return updated, res, nil
}
