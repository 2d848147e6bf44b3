package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

const layout = `{{define "layout"}}<!doctype html>
<html><body style="font-family:Arial,sans-serif;color:#222;max-width:600px;margin:0 auto">
<h2>{{.StoreName}}</h2>
{{template "content" .}}
<p style="color:#888;font-size:12px">This message was sent by {{.StoreName}}.</p>
</body></html>{{end}}`

var pages = map[string]string{
	tmplOrderConfirmation: `{{define "content"}}
<p>Thank you for your order!</p>
<p>Order <strong>#{{.Order.OrderNumber}}</strong> has been paid and is being prepared.</p>
{{with .Items}}<table cellpadding="4">
<tr><th align="left">Item</th><th>Qty</th><th align="right">Price</th></tr>
{{range .}}<tr><td>{{.Name}}{{with .Size}} ({{.}}){{end}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.UnitPrice.StringFixed 2}}</td></tr>
{{end}}</table>{{end}}
<p>Total: <strong>{{.Order.Currency}} {{.Order.Total}}</strong></p>
{{end}}`,
	tmplBankInstructions: `{{define "content"}}
<p>Order <strong>#{{.Order.OrderNumber}}</strong> is awaiting your bank transfer.</p>
<p>Amount: <strong>{{.Order.Currency}} {{.Order.Total}}</strong></p>
<table cellpadding="4">
<tr><td>Bank</td><td>{{.Bank.BankName}}</td></tr>
<tr><td>Account name</td><td>{{.Bank.AccountName}}</td></tr>
<tr><td>Account number</td><td>{{.Bank.AccountNumber}}</td></tr>
{{with .Bank.RoutingNumber}}<tr><td>Routing number</td><td>{{.}}</td></tr>{{end}}
<tr><td>Reference</td><td><strong>{{.Bank.Reference}}</strong></td></tr>
</table>
<p>{{.Bank.Instructions}}</p>
{{end}}`,
	tmplPaymentFailed: `{{define "content"}}
<p>We could not process the payment for order <strong>#{{.Order.OrderNumber}}</strong> and it has been cancelled.</p>
<p>No charge was made. You are welcome to place the order again.</p>
{{end}}`,
	tmplAdminNewOrder: `{{define "content"}}
<p>New order <strong>#{{.Order.OrderNumber}}</strong> from {{.Order.Email}}.</p>
<p>Total: {{.Order.Currency}} {{.Order.Total}} via {{.Order.PaymentMethod}}{{with .Order.TransactionID}} ({{.}}){{end}}</p>
{{end}}`,
	tmplAdminAlert: `{{define "content"}}
<p><strong>{{.Subject}}</strong></p>
<p>{{.Body}}</p>
{{end}}`,
}

const (
	tmplOrderConfirmation = "order_confirmation"
	tmplBankInstructions  = "bank_instructions"
	tmplPaymentFailed     = "payment_failed"
	tmplAdminNewOrder     = "admin_new_order"
	tmplAdminAlert        = "admin_alert"
)

// Templates renders the transactional mail bodies.
type Templates struct {
	set map[string]*template.Template
}

// ParseTemplates compiles every mail template.
func ParseTemplates() (*Templates, error) {
	base, err := template.New("layout").Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("parse mail layout: %w", err)
	}
	t := &Templates{set: make(map[string]*template.Template, len(pages))}
	for name, body := range pages {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := clone.Parse(body); err != nil {
			return nil, fmt.Errorf("parse mail template %s: %w", name, err)
		}
		t.set[name] = clone
	}
	return t, nil
}

// MustParseTemplates is ParseTemplates for package initialisation.
func MustParseTemplates() *Templates {
	t, err := ParseTemplates()
	if err != nil {
		panic(err)
	}
	return t
}

// Render executes the named template.
func (t *Templates) Render(name string, data any) (string, error) {
	tmpl, ok := t.set[name]
	if !ok {
		return "", fmt.Errorf("unknown mail template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render mail template %s: %w", name, err)
	}
	return buf.String(), nil
}
