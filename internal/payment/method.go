// Package payment attempts payments through interchangeable methods and
// reconciles asynchronous provider notifications with order state.
package payment

import (
	"context"
	"sort"
	"strings"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/order"
)

// Method names accepted at checkout.
const (
	MethodCard         = "card"
	MethodBankTransfer = "bank-transfer"
	MethodWallet       = "wallet"
)

// Input carries the method specific references supplied by the client.
type Input struct {
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	WalletOrderID   string `json:"walletOrderId,omitempty"`
}

// Result is the uniform outcome of a payment attempt.
type Result struct {
	Success       bool
	TransactionID string
	PaymentStatus order.PaymentStatus
	OrderStatus   order.Status
	Message       string
	BankTransfer  *order.BankTransfer
}

// Outcome converts the result into the order manager's update.
func (r Result) Outcome() order.PaymentOutcome {
	return order.PaymentOutcome{
		Success:       r.Success,
		TransactionID: r.TransactionID,
		PaymentStatus: r.PaymentStatus,
		Status:        r.OrderStatus,
		BankTransfer:  r.BankTransfer,
	}
}

// Method attempts payment of an order. A returned error means the attempt
// could not be evaluated (provider down, bad input); a declined payment is a
// Result with Success=false and a nil error.
type Method interface {
	Name() string
	AttemptPayment(ctx context.Context, o order.Order, in Input) (Result, error)
}

// Registry resolves method names and aliases.
type Registry struct {
	methods map[string]Method
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: map[string]Method{}}
}

// Register adds m under its name and any aliases.
func (r *Registry) Register(m Method, aliases ...string) *Registry {
	for _, name := range append([]string{m.Name()}, aliases...) {
		r.methods[strings.ToLower(strings.TrimSpace(name))] = m
	}
	return r
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, error) {
	m, ok := r.methods[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, common.ValidationError("unsupported payment method").
			WithDetails(map[string]any{"paymentMethod": name, "supported": r.Names()})
	}
	return m, nil
}

// Names lists every registered name and alias.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.methods))
	for name := range r.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
