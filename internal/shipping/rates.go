package shipping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnrecognizedCountry is returned in strict mode when a country has no rate.
	ErrUnrecognizedCountry = errors.New("unrecognized shipping country")
	// ErrInvalidRates is returned when a rate definition cannot be parsed.
	ErrInvalidRates = errors.New("invalid shipping rate definition")
)

// Rate describes the shipping cost and tax rate applied to a destination.
type Rate struct {
	Cost          decimal.Decimal
	FreeThreshold decimal.Decimal
	TaxRate       decimal.Decimal
}

// Quote is the computed shipping cost for a destination and subtotal.
type Quote struct {
	Country       string          `json:"country"`
	Cost          decimal.Decimal `json:"cost"`
	FreeThreshold decimal.Decimal `json:"freeThreshold"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	Free          bool            `json:"free"`
	// Fallback is set when the destination was not in the table and the default tier was used.
	Fallback bool `json:"fallback,omitempty"`
}

// Table is the per-country rate table. Lookups are case-insensitive.
type Table struct {
	rates    map[string]Rate
	fallback Rate
	strict   bool
}

// DefaultRates returns the storefront launch rates.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		"US": {Cost: decimal.RequireFromString("5.99"), FreeThreshold: decimal.NewFromInt(50), TaxRate: decimal.RequireFromString("0.08")},
		"CA": {Cost: decimal.RequireFromString("9.99"), FreeThreshold: decimal.NewFromInt(75), TaxRate: decimal.RequireFromString("0.10")},
		"UK": {Cost: decimal.RequireFromString("14.99"), FreeThreshold: decimal.NewFromInt(100), TaxRate: decimal.RequireFromString("0.10")},
	}
}

// DefaultFallback is the tier used for destinations missing from the table.
func DefaultFallback() Rate {
	return Rate{Cost: decimal.RequireFromString("24.99"), FreeThreshold: decimal.NewFromInt(150), TaxRate: decimal.RequireFromString("0.10")}
}

// NewTable builds a rate table.
func NewTable(rates map[string]Rate, fallback Rate, strict bool) *Table {
	t := &Table{rates: make(map[string]Rate, len(rates)), fallback: fallback, strict: strict}
	for country, rate := range rates {
		t.rates[normalize(country)] = rate
	}
	return t
}

// ParseRates reads "CC:cost:threshold:tax,..." entries. The special country
// "*" overrides the fallback tier. An empty definition yields the defaults.
func ParseRates(def string, strict bool) (*Table, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return NewTable(DefaultRates(), DefaultFallback(), strict), nil
	}
	rates := map[string]Rate{}
	fallback := DefaultFallback()
	for _, entry := range strings.Split(def, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("entry %q: %w", entry, ErrInvalidRates)
		}
		vals := make([]decimal.Decimal, 3)
		for i, raw := range parts[1:] {
			d, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil || d.IsNegative() {
				return nil, fmt.Errorf("entry %q: %w", entry, ErrInvalidRates)
			}
			vals[i] = d
		}
		rate := Rate{Cost: vals[0], FreeThreshold: vals[1], TaxRate: vals[2]}
		if strings.TrimSpace(parts[0]) == "*" {
			fallback = rate
			continue
		}
		rates[parts[0]] = rate
	}
	return NewTable(rates, fallback, strict), nil
}

// Lookup returns the rate for country. The boolean is false when the fallback
// tier was used. In strict mode an unknown country is an error instead.
func (t *Table) Lookup(country string) (Rate, bool, error) {
	rate, ok := t.rates[normalize(country)]
	if ok {
		return rate, true, nil
	}
	if t.strict {
		return Rate{}, false, fmt.Errorf("%s: %w", country, ErrUnrecognizedCountry)
	}
	return t.fallback, false, nil
}

// DefaultTaxRate is applied when no destination is known yet.
func (t *Table) DefaultTaxRate() decimal.Decimal {
	return t.fallback.TaxRate
}

// Quote computes shipping for subtotal to country. Shipping is free once the
// subtotal reaches the destination's threshold.
func (t *Table) Quote(country string, subtotal decimal.Decimal) (Quote, error) {
	rate, known, err := t.Lookup(country)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{
		Country:       normalize(country),
		Cost:          rate.Cost,
		FreeThreshold: rate.FreeThreshold,
		TaxRate:       rate.TaxRate,
		Fallback:      !known,
	}
	if subtotal.GreaterThanOrEqual(rate.FreeThreshold) {
		q.Cost = decimal.Zero
		q.Free = true
	}
	return q, nil
}

// Countries lists the configured destinations.
func (t *Table) Countries() []string {
	out := make([]string, 0, len(t.rates))
	for c := range t.rates {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func normalize(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}
