// Package notify renders and delivers transactional mail for domain events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/obs"
	"github.com/noah-isme/storefront-core/internal/order"
)

// OrderLookup enriches order mails with line items.
type OrderLookup interface {
	GetByNumber(ctx context.Context, number string) (order.Order, error)
}

// EmailNotifier sends transactional emails for selected topics. It also
// delivers the bank transfer instructions requested by the payment methods.
type EmailNotifier struct {
	Mail         common.EmailSender
	Templates    *Templates
	Orders       OrderLookup
	StoreName    string
	AdminEmail   string
	Enabled      bool
	TopicToggles map[string]bool
	Logger       zerolog.Logger
}

type mailData struct {
	StoreName string
	Order     events.OrderPayload
	Items     []order.Item
	Bank      *order.BankTransfer
	Subject   string
	Body      string
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(ctx context.Context, ev events.Event) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[ev.Topic]; ok && !enabled {
			return nil
		}
	}
	switch ev.Topic {
	case events.TopicOrderPaid:
		p, err := events.Decode[events.OrderPayload](ev)
		if err != nil {
			return fmt.Errorf("email notify: %w", err)
		}
		data := n.data(p)
		if n.Orders != nil {
			if o, err := n.Orders.GetByNumber(ctx, p.OrderNumber); err == nil {
				data.Items = o.Items
			}
		}
		return errors.Join(
			n.send(ev.Topic, p.Email, "Order Confirmation - #"+p.OrderNumber, tmplOrderConfirmation, data),
			n.send(ev.Topic, n.AdminEmail, "New Order Received - #"+p.OrderNumber, tmplAdminNewOrder, data),
		)
	case events.TopicPaymentFailed:
		p, err := events.Decode[events.OrderPayload](ev)
		if err != nil {
			return fmt.Errorf("email notify: %w", err)
		}
		return n.send(ev.Topic, p.Email, "Payment Failed - #"+p.OrderNumber, tmplPaymentFailed, n.data(p))
	case events.TopicPaymentMismatch:
		p, err := events.Decode[events.OrderPayload](ev)
		if err != nil {
			return fmt.Errorf("email notify: %w", err)
		}
		return n.AdminAlert(ctx, "Payment Requires Review - #"+p.OrderNumber, p.Reason)
	case events.TopicReviewReported:
		p, err := events.Decode[events.ReviewPayload](ev)
		if err != nil {
			return fmt.Errorf("email notify: %w", err)
		}
		body := fmt.Sprintf("Review %s on product %s was reported by %s: %s", p.ReviewID, p.ProductID, p.UserID, p.Reason)
		return n.AdminAlert(ctx, "Review Reported", body)
	}
	return nil
}

// BankTransferInstructions mails the payer how to settle o by wire.
func (n EmailNotifier) BankTransferInstructions(_ context.Context, o order.Order) error {
	if n.Mail == nil || o.BankTransfer == nil {
		return nil
	}
	data := n.data(events.OrderPayload{
		OrderNumber:   o.Number,
		Email:         o.Email,
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		PaymentMethod: o.PaymentMethod,
	})
	data.Items = o.Items
	data.Bank = o.BankTransfer
	return n.send("bank_instructions", o.Email, "Payment Instructions - Order #"+o.Number, tmplBankInstructions, data)
}

// AdminAlert mails operations. Without an admin address it only logs.
func (n EmailNotifier) AdminAlert(_ context.Context, subject, body string) error {
	if n.AdminEmail == "" || n.Mail == nil {
		n.Logger.Warn().Str("subject", subject).Str("body", body).Msg("admin alert not mailed: no admin address")
		return nil
	}
	return n.send("admin_alert", n.AdminEmail, subject, tmplAdminAlert, mailData{StoreName: n.storeName(), Subject: subject, Body: body})
}

func (n EmailNotifier) storeName() string {
	if n.StoreName == "" {
		return "Storefront"
	}
	return n.StoreName
}

func (n EmailNotifier) data(p events.OrderPayload) mailData {
	return mailData{StoreName: n.storeName(), Order: p}
}

func (n EmailNotifier) send(kind, to, subject, tmpl string, data mailData) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil
	}
	templates := n.Templates
	if templates == nil {
		templates = defaultTemplates
	}
	html, err := templates.Render(tmpl, data)
	if err != nil {
		obs.Inc(obs.NotificationTotal, kind, "error")
		return err
	}
	if err := n.Mail.Send(to, subject, html); err != nil {
		obs.Inc(obs.NotificationTotal, kind, "error")
		n.Logger.Error().Err(err).Str("kind", kind).Str("to", to).Msg("email not sent")
		return fmt.Errorf("send %s email: %w", kind, err)
	}
	obs.Inc(obs.NotificationTotal, kind, "ok")
	return nil
}

var defaultTemplates = MustParseTemplates()
