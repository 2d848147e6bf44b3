// Package promo resolves discount codes against the configured promotion table.
package promo

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCode is returned when the code is not in the table.
	ErrUnknownCode = errors.New("invalid discount code")
	// ErrInvalidTable is returned when a table definition cannot be parsed.
	ErrInvalidTable = errors.New("invalid promotion table")
)

var hundred = decimal.NewFromInt(100)

// Code is a single promotion entry.
type Code struct {
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
}

// Discount is the outcome of applying a code to a subtotal.
type Discount struct {
	Code    string          `json:"code"`
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
}

// Table is a read-only lookup of promotion codes keyed by upper-case code.
type Table struct {
	codes map[string]Code
}

// DefaultCodes mirrors the storefront launch promotions.
func DefaultCodes() []Code {
	return []Code{
		{Code: "WELCOME15", DiscountPercent: decimal.NewFromInt(15)},
		{Code: "SAVE10", DiscountPercent: decimal.NewFromInt(10)},
		{Code: "FIRSTORDER", DiscountPercent: decimal.NewFromInt(20)},
		{Code: "SUMMER25", DiscountPercent: decimal.NewFromInt(25)},
	}
}

// NewTable builds a table, normalising codes to upper case.
func NewTable(codes []Code) (*Table, error) {
	t := &Table{codes: make(map[string]Code, len(codes))}
	for _, c := range codes {
		key := normalize(c.Code)
		if key == "" {
			return nil, fmt.Errorf("empty code: %w", ErrInvalidTable)
		}
		if c.DiscountPercent.LessThanOrEqual(decimal.Zero) || c.DiscountPercent.GreaterThan(hundred) {
			return nil, fmt.Errorf("code %s percent %s out of range: %w", key, c.DiscountPercent, ErrInvalidTable)
		}
		c.Code = key
		t.codes[key] = c
	}
	return t, nil
}

// ParseTable reads a "CODE:PERCENT,CODE:PERCENT" definition. An empty
// definition yields the default codes.
func ParseTable(def string) (*Table, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return NewTable(DefaultCodes())
	}
	var codes []Code
	for _, entry := range strings.Split(def, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		code, pct, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("entry %q: %w", entry, ErrInvalidTable)
		}
		percent, err := decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, ErrInvalidTable)
		}
		codes = append(codes, Code{Code: code, DiscountPercent: percent})
	}
	return NewTable(codes)
}

// Lookup finds a code case-insensitively.
func (t *Table) Lookup(code string) (Code, error) {
	if t == nil {
		return Code{}, ErrUnknownCode
	}
	c, ok := t.codes[normalize(code)]
	if !ok {
		return Code{}, ErrUnknownCode
	}
	return c, nil
}

// Apply computes the discount for subtotal. The amount is kept at full precision.
func (t *Table) Apply(code string, subtotal decimal.Decimal) (Discount, error) {
	c, err := t.Lookup(code)
	if err != nil {
		return Discount{}, err
	}
	amount := subtotal.Mul(c.DiscountPercent).Div(hundred)
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return Discount{Code: c.Code, Percent: c.DiscountPercent, Amount: amount}, nil
}

// Codes lists the table sorted by code.
func (t *Table) Codes() []Code {
	out := make([]Code, 0, len(t.codes))
	for _, c := range t.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
