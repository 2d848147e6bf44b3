package order

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/storefront-core/internal/common"
)

// Handler exposes customer order endpoints.
type Handler struct {
	Mgr *Manager
}

func principal(r *http.Request) (common.Principal, bool) {
	return common.PrincipalFrom(r.Context())
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		return uuid.Nil, common.ValidationError("invalid order id")
	}
	return id, nil
}

// List handles GET /orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		common.WriteError(w, common.Unauthorized("authentication required"))
		return
	}
	page, limit := common.ParsePagination(r, 20)
	orders, total, err := h.Mgr.List(r.Context(), p, page, limit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": common.NewPagination(page, limit, total),
	})
}

// Get handles GET /orders/{orderId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var actor *common.Principal
	if p, ok := principal(r); ok {
		actor = &p
	}
	o, err := h.Mgr.Get(r.Context(), actor, id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// Cancel handles POST /orders/{orderId}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		common.WriteError(w, common.Unauthorized("authentication required"))
		return
	}
	id, err := parseID(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Mgr.TransitionStatus(r.Context(), p, id, StatusCancelled)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"id":     o.ID,
		"status": o.Status,
	}})
}

// AssociateGuest handles POST /orders/associate-guest.
func (h *Handler) AssociateGuest(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		common.WriteError(w, common.Unauthorized("authentication required"))
		return
	}
	n, err := h.Mgr.AssociateGuest(r.Context(), p)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"count": n}})
}

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Mgr *Manager
}

type patchStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// PatchStatus handles PATCH /admin/orders/{orderId}/status.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok || !p.IsAdmin() {
		common.WriteError(w, common.Forbidden("admin access required"))
		return
	}
	id, err := parseID(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req patchStatusRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Mgr.TransitionStatus(r.Context(), p, id, Status(req.Status))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"id":     o.ID,
		"status": o.Status,
	}})
}
