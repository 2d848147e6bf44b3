package cart

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/pricing"
)

const (
	// SessionHeader carries the cart session for API clients.
	SessionHeader = "X-Cart-Session"
	sessionCookie = "cart_session"
)

// SessionID resolves the cart session of a request: explicit header, then
// cookie, then the authenticated user.
func SessionID(r *http.Request) string {
	if v := r.Header.Get(SessionHeader); v != "" {
		return v
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if uid, ok := common.UserID(r.Context()); ok {
		return "user:" + uid
	}
	return ""
}

// Handler wires cart services to HTTP.
type Handler struct {
	Svc          *Service
	CookieSecure bool
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) string {
	if sid := SessionID(r); sid != "" {
		return sid
	}
	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(SessionHeader, sid)
	return sid
}

type cartView struct {
	Items           []Item        `json:"items"`
	ItemCount       int           `json:"itemCount"`
	DiscountCode    string        `json:"discountCode,omitempty"`
	ShippingCountry string        `json:"shippingCountry,omitempty"`
	Totals          *pricing.View `json:"totals,omitempty"`
}

func render(st State, totals *pricing.Breakdown) cartView {
	v := cartView{
		Items:           st.Items,
		ItemCount:       st.Summary().ItemCount,
		DiscountCode:    st.DiscountCode,
		ShippingCountry: st.ShippingCountry,
	}
	if v.Items == nil {
		v.Items = []Item{}
	}
	if totals != nil {
		tv := totals.View()
		v.Totals = &tv
	}
	return v
}

// Get handles GET /cart and returns the cart with priced totals.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, totals, err := h.Svc.Totals(r.Context(), h.session(w, r))
	if err != nil {
		// a stale discount code must not hide the cart contents
		if common.HasCode(err, common.CodeValidation) {
			common.JSON(w, http.StatusOK, map[string]any{"data": render(st, nil)})
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(st, &totals)})
}

// Count handles GET /cart/count.
func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.Get(r.Context(), h.session(w, r))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	sum := st.Summary()
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"itemCount": sum.ItemCount,
		"subtotal":  sum.Subtotal.StringFixed(2),
	}})
}

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
	Size      string `json:"size" validate:"max=32"`
}

// AddItem handles POST /cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	st, err := h.Svc.Add(r.Context(), h.session(w, r), req.ProductID, req.Quantity, req.Size)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": render(st, nil)})
}

type updateItemRequest struct {
	Quantity int    `json:"quantity" validate:"min=0,max=100"`
	Size     string `json:"size" validate:"max=32"`
}

// UpdateItem handles PATCH /cart/items/{productId}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	st, err := h.Svc.Update(r.Context(), h.session(w, r), chi.URLParam(r, "productId"), req.Size, req.Quantity)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(st, nil)})
}

// RemoveItem handles DELETE /cart/items/{productId}?size=.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.Remove(r.Context(), h.session(w, r), chi.URLParam(r, "productId"), r.URL.Query().Get("size"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(st, nil)})
}

// Clear handles DELETE /cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Clear(r.Context(), h.session(w, r)); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyDiscount handles POST /cart/discount.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required,max=64"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	st, totals, err := h.Svc.ApplyDiscount(r.Context(), h.session(w, r), req.Code)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(st, &totals)})
}

// RemoveDiscount handles DELETE /cart/discount.
func (h *Handler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.RemoveDiscount(r.Context(), h.session(w, r))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(st, nil)})
}

// SetShipping handles POST /cart/shipping.
func (h *Handler) SetShipping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Country string `json:"country" validate:"required,min=2,max=3"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	st, totals, err := h.Svc.SetShippingCountry(r.Context(), h.session(w, r), req.Country)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(st, &totals)})
}
