// Package pricing computes cart totals from line items, a discount code and a
// shipping destination.
package pricing

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/promo"
	"github.com/noah-isme/storefront-core/internal/shipping"
)

// Warnings attached to a breakdown that still produced a usable total.
const (
	WarningUnrecognizedCountry = "unrecognized_country"
	WarningInconsistentTotal   = "inconsistent_total"
)

var hundred = decimal.NewFromInt(100)

// Item describes a line item used for pricing calculation.
type Item struct {
	UnitPrice decimal.Decimal
	Qty       int
}

// Breakdown aggregates computed pricing components at full precision.
type Breakdown struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal

	DiscountCode    string
	DiscountPercent decimal.Decimal
	Quote           *shipping.Quote
	Warnings        []string
}

// Calculator prices carts against a promotion table and a shipping rate table.
type Calculator struct {
	Promos *promo.Table
	Rates  *shipping.Table
	Logger zerolog.Logger
}

// NewCalculator builds a calculator.
func NewCalculator(promos *promo.Table, rates *shipping.Table, logger zerolog.Logger) *Calculator {
	return &Calculator{Promos: promos, Rates: rates, Logger: logger.With().Str("component", "pricing").Logger()}
}

// Subtotal sums unit price times quantity, skipping non-positive quantities.
func Subtotal(items []Item) decimal.Decimal {
	subtotal := decimal.Zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return subtotal
}

// Compute calculates cart totals. An unknown discount code is a validation
// error. An empty country means no shipping and the default tax rate.
func (c *Calculator) Compute(items []Item, discountCode, country string) (Breakdown, error) {
	b := Breakdown{
		Subtotal: Subtotal(items),
		Discount: decimal.Zero,
		Shipping: decimal.Zero,
	}

	if discountCode != "" {
		d, err := c.Promos.Apply(discountCode, b.Subtotal)
		if err != nil {
			if errors.Is(err, promo.ErrUnknownCode) {
				return Breakdown{}, common.ValidationError("invalid discount code")
			}
			return Breakdown{}, err
		}
		b.Discount = d.Amount
		b.DiscountCode = d.Code
		b.DiscountPercent = d.Percent
	}

	taxRate := c.Rates.DefaultTaxRate()
	if country != "" {
		q, err := c.Rates.Quote(country, b.Subtotal)
		if err != nil {
			if errors.Is(err, shipping.ErrUnrecognizedCountry) {
				return Breakdown{}, common.ValidationError("unsupported shipping country")
			}
			return Breakdown{}, err
		}
		if q.Fallback {
			c.Logger.Warn().Str("country", country).Msg("shipping country not in rate table, using default tier")
			b.Warnings = append(b.Warnings, WarningUnrecognizedCountry)
		}
		b.Shipping = q.Cost
		b.Quote = &q
		taxRate = q.TaxRate
	}

	b.Tax = b.Subtotal.Mul(taxRate)
	total, clamped := Total(b.Subtotal, b.Shipping, b.Tax, b.Discount)
	b.Total = total
	if clamped {
		c.Logger.Warn().
			Str("subtotal", b.Subtotal.String()).
			Str("discount", b.Discount.String()).
			Msg("computed total below zero, clamping")
		b.Warnings = append(b.Warnings, WarningInconsistentTotal)
	}
	return b, nil
}

// Total is subtotal + shipping + tax - discount, floored at zero. clamped
// reports whether the floor applied.
func Total(subtotal, shipping, tax, discount decimal.Decimal) (total decimal.Decimal, clamped bool) {
	total = subtotal.Add(shipping).Add(tax).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero, true
	}
	return total, false
}

// Round returns amount rounded to two decimals for presentation.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Cents converts a total into provider minor units.
func Cents(amount decimal.Decimal) int64 {
	return amount.Round(2).Mul(hundred).IntPart()
}

// View is the rounded, wire-facing rendition of a breakdown.
type View struct {
	Subtotal        string          `json:"subtotal"`
	Discount        string          `json:"discountAmount"`
	Shipping        string          `json:"shippingCost"`
	Tax             string          `json:"tax"`
	Total           string          `json:"total"`
	DiscountCode    string          `json:"discountCode,omitempty"`
	DiscountPercent string          `json:"discountPercent,omitempty"`
	Quote           *shipping.Quote `json:"shippingQuote,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// View rounds every component to two decimals.
func (b Breakdown) View() View {
	v := View{
		Subtotal:     b.Subtotal.StringFixed(2),
		Discount:     b.Discount.StringFixed(2),
		Shipping:     b.Shipping.StringFixed(2),
		Tax:          b.Tax.StringFixed(2),
		Total:        b.Total.StringFixed(2),
		DiscountCode: b.DiscountCode,
		Quote:        b.Quote,
		Warnings:     b.Warnings,
	}
	if b.DiscountCode != "" {
		v.DiscountPercent = b.DiscountPercent.String()
	}
	return v
}
