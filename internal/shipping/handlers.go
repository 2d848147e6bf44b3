package shipping

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-core/internal/common"
)

// Handler exposes the shipping quote endpoint.
type Handler struct {
	Rates *Table
}

// Quote returns the shipping cost for ?country=&subtotal=.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		common.WriteError(w, common.ValidationError("country is required"))
		return
	}
	subtotal := decimal.Zero
	if raw := r.URL.Query().Get("subtotal"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			common.WriteError(w, common.ValidationError("subtotal must be a non-negative number"))
			return
		}
		subtotal = parsed
	}
	q, err := h.Rates.Quote(country, subtotal)
	if err != nil {
		if errors.Is(err, ErrUnrecognizedCountry) {
			common.WriteError(w, common.ValidationError("unsupported shipping country"))
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"country":       q.Country,
			"cost":          q.Cost.StringFixed(2),
			"freeThreshold": q.FreeThreshold.StringFixed(2),
			"free":          q.Free,
			"fallback":      q.Fallback,
		},
	})
}

// Countries lists supported destinations.
func (h *Handler) Countries(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Rates.Countries()})
}
