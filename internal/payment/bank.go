package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/order"
)

// BankAccount is the receiving account printed on transfer instructions.
type BankAccount struct {
	BankName        string
	AccountName     string
	AccountNumber   string
	RoutingNumber   string
	ReferencePrefix string
}

// InstructionNotifier delivers bank transfer instructions and the operations alert.
type InstructionNotifier interface {
	BankTransferInstructions(ctx context.Context, o order.Order) error
	AdminAlert(ctx context.Context, subject, body string) error
}

// BankTransferMethod leaves the order awaiting a manually reconciled transfer.
type BankTransferMethod struct {
	Account  BankAccount
	Notifier InstructionNotifier
	Logger   zerolog.Logger
}

func (BankTransferMethod) Name() string { return MethodBankTransfer }

func (m BankTransferMethod) AttemptPayment(ctx context.Context, o order.Order, _ Input) (Result, error) {
	prefix := strings.TrimSpace(m.Account.ReferencePrefix)
	if prefix == "" {
		prefix = "ROI"
	}
	amount := o.Total.StringFixed(2)
	bt := &order.BankTransfer{
		Reference:     prefix + "-" + o.Number,
		BankName:      m.Account.BankName,
		AccountName:   m.Account.AccountName,
		AccountNumber: m.Account.AccountNumber,
		RoutingNumber: m.Account.RoutingNumber,
	}
	bt.Instructions = fmt.Sprintf(
		"Please transfer %s %s to %s, account %s (%s), routing %s, quoting reference %s. "+
			"Your order will be processed once payment is confirmed, usually within 24 hours.",
		o.Currency, amount, bt.BankName, bt.AccountNumber, bt.AccountName, bt.RoutingNumber, bt.Reference)

	if m.Notifier != nil {
		withDetails := o
		withDetails.BankTransfer = bt
		if err := m.Notifier.BankTransferInstructions(ctx, withDetails); err != nil {
			m.Logger.Error().Err(err).Str("order_number", o.Number).Msg("bank transfer instructions not dispatched")
		}
		subject := "Bank Transfer Payment Pending"
		body := fmt.Sprintf("Order #%s is awaiting bank transfer payment. Amount: %s %s. Reference: %s",
			o.Number, o.Currency, amount, bt.Reference)
		if err := m.Notifier.AdminAlert(ctx, subject, body); err != nil {
			m.Logger.Error().Err(err).Str("order_number", o.Number).Msg("bank transfer admin alert not dispatched")
		}
	}
	return Result{
		Success:       true,
		PaymentStatus: order.PaymentPending,
		OrderStatus:   order.StatusPendingPayment,
		BankTransfer:  bt,
		Message:       "Bank transfer instructions sent. Order will be processed once payment is confirmed.",
	}, nil
}
