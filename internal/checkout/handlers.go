package checkout

import (
	"net/http"

	"github.com/noah-isme/storefront-core/internal/cart"
	"github.com/noah-isme/storefront-core/internal/common"
)

type Handler struct {
	Svc *Service
}

// Checkout handles POST /api/v1/checkout. Guests may check out; an
// authenticated caller becomes the order owner.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	var payload Input
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(payload); err != nil {
		common.WriteError(w, err)
		return
	}
	var actor *common.Principal
	if p, ok := common.PrincipalFrom(r.Context()); ok {
		actor = &p
	}
	out, err := h.Svc.Checkout(r.Context(), cart.SessionID(r), actor, payload)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}
