package reviews

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/storefront-core/internal/common"
)

// Handler exposes review endpoints.
type Handler struct {
	Svc *Service
}

func parseReviewID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "reviewId"))
	if err != nil {
		return uuid.Nil, common.ValidationError("invalid review id")
	}
	return id, nil
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (common.Principal, bool) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.WriteError(w, common.Unauthorized("authentication required"))
	}
	return p, ok
}

// Create handles POST /reviews.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	review, err := h.Svc.Create(r.Context(), p, in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{"reviewId": review.ID, "review": review},
	})
}

// ListForProduct handles GET /products/{productId}/reviews.
func (h *Handler) ListForProduct(w http.ResponseWriter, r *http.Request) {
	page, limit := common.ParsePagination(r, 10)
	res, err := h.Svc.ListForProduct(r.Context(), chi.URLParam(r, "productId"), ParseSort(r.URL.Query().Get("sort")), page, limit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items := res.Reviews
	if items == nil {
		items = []Review{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"stats":      res.Stats,
		"pagination": common.NewPagination(page, limit, res.Total),
	})
}

// Mine handles GET /reviews/mine.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	page, limit := common.ParsePagination(r, 10)
	items, total, err := h.Svc.ListMine(r.Context(), p, page, limit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if items == nil {
		items = []Review{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.NewPagination(page, limit, total),
	})
}

// Update handles PUT /reviews/{reviewId}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := parseReviewID(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var in UpdateInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	review, err := h.Svc.Update(r.Context(), p, id, in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": review})
}

// Delete handles DELETE /reviews/{reviewId}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := parseReviewID(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Svc.Delete(r.Context(), p, id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpful handles POST /reviews/{reviewId}/helpful.
func (h *Handler) Helpful(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := parseReviewID(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	review, err := h.Svc.MarkHelpful(r.Context(), p, id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"helpfulCount": review.HelpfulCount}})
}

// Report handles POST /reviews/{reviewId}/report.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := parseReviewID(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	if _, err := h.Svc.Report(r.Context(), p, id, req.Reason); err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{
		"data": map[string]any{"message": "Review reported. Our team will review it shortly."},
	})
}

// AdminHandler exposes review moderation endpoints.
type AdminHandler struct {
	Svc        *Service
	Aggregator *Aggregator
}

// SetApproval handles PATCH /admin/reviews/{reviewId}/approval.
func (h *AdminHandler) SetApproval(w http.ResponseWriter, r *http.Request) {
	id, err := parseReviewID(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req struct {
		Approved *bool `json:"approved" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	review, err := h.Svc.SetApproval(r.Context(), id, *req.Approved)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": review})
}

// RecomputeProduct handles POST /admin/products/{productId}/ratings/recompute.
func (h *AdminHandler) RecomputeProduct(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Aggregator.Recompute(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}

// RecomputeAll handles POST /admin/ratings/recompute.
func (h *AdminHandler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Aggregator.RecomputeAll(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"recomputed": n}})
}
