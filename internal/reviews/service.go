package reviews

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/store"
)

// ProductLookup confirms the reviewed product exists.
type ProductLookup interface {
	Get(ctx context.Context, id string) (catalog.Product, error)
}

// PurchaseChecker reports whether a user has paid for a product.
type PurchaseChecker interface {
	HasPurchased(ctx context.Context, userID, productID string) (bool, error)
}

// Service implements the review lifecycle. Every mutation that can change the
// approved set ends with a synchronous rating recompute.
type Service struct {
	Repo        Repository
	Products    ProductLookup
	Aggregator  *Aggregator
	Purchases   PurchaseChecker
	Events      *events.Bus
	AutoApprove bool
	Logger      zerolog.Logger
	Now         func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateInput is a new review.
type CreateInput struct {
	ProductID string `json:"productId" validate:"required"`
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Title     string `json:"title" validate:"max=120"`
	Comment   string `json:"comment" validate:"required,max=2000"`
}

// UpdateInput changes an existing review; nil fields are kept.
type UpdateInput struct {
	Rating  *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Title   *string `json:"title" validate:"omitempty,max=120"`
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (Review, error) {
	r, err := s.Repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Review{}, common.NotFound("review not found")
		}
		return Review{}, err
	}
	return r, nil
}

// Create stores a review for actor. A second review of the same product is a Conflict.
func (s *Service) Create(ctx context.Context, actor common.Principal, in CreateInput) (Review, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	in.Title = strings.TrimSpace(in.Title)
	if err := common.Validate(in); err != nil {
		return Review{}, err
	}
	if _, err := s.Products.Get(ctx, in.ProductID); err != nil {
		return Review{}, err
	}
	verified := false
	if s.Purchases != nil {
		ok, err := s.Purchases.HasPurchased(ctx, actor.UserID, in.ProductID)
		if err != nil {
			s.Logger.Warn().Err(err).Str("user_id", actor.UserID).Msg("purchase lookup failed, review stored unverified")
		}
		verified = ok
	}
	now := s.now()
	r := Review{
		ID:           uuid.New(),
		UserID:       actor.UserID,
		ProductID:    in.ProductID,
		Rating:       in.Rating,
		Title:        in.Title,
		Comment:      in.Comment,
		IsVerified:   verified,
		IsApproved:   s.AutoApprove,
		HelpfulUsers: []string{},
		Reports:      []Report{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.Insert(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Review{}, common.Conflict("You have already reviewed this product")
		}
		return Review{}, err
	}
	s.Aggregator.Sync(ctx, r.ProductID)
	s.emit(ctx, events.TopicReviewCreated, r, "")
	return r, nil
}

// Update edits the actor's own review.
func (s *Service) Update(ctx context.Context, actor common.Principal, id uuid.UUID, in UpdateInput) (Review, error) {
	if err := common.Validate(in); err != nil {
		return Review{}, err
	}
	r, err := s.load(ctx, id)
	if err != nil {
		return Review{}, err
	}
	if r.UserID != actor.UserID {
		return Review{}, common.NotFound("review not found or access denied")
	}
	if in.Rating != nil {
		r.Rating = *in.Rating
	}
	if in.Title != nil {
		r.Title = strings.TrimSpace(*in.Title)
	}
	if in.Comment != nil {
		comment := strings.TrimSpace(*in.Comment)
		if comment == "" {
			return Review{}, common.ValidationError("comment cannot be empty")
		}
		r.Comment = comment
	}
	r.UpdatedAt = s.now()
	if err := s.Repo.Update(ctx, r); err != nil {
		return Review{}, err
	}
	s.Aggregator.Sync(ctx, r.ProductID)
	return r, nil
}

// Delete removes the actor's own review. Admins may delete any review.
func (s *Service) Delete(ctx context.Context, actor common.Principal, id uuid.UUID) error {
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if r.UserID != actor.UserID && !actor.IsAdmin() {
		return common.NotFound("review not found or access denied")
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return common.NotFound("review not found")
		}
		return err
	}
	s.Aggregator.Sync(ctx, r.ProductID)
	return nil
}

// SetApproval changes moderation state and resyncs the product.
func (s *Service) SetApproval(ctx context.Context, id uuid.UUID, approved bool) (Review, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return Review{}, err
	}
	if r.IsApproved == approved {
		return r, nil
	}
	r.IsApproved = approved
	r.UpdatedAt = s.now()
	if err := s.Repo.Update(ctx, r); err != nil {
		return Review{}, err
	}
	s.Aggregator.Sync(ctx, r.ProductID)
	return r, nil
}

// ProductPage is a page of approved reviews with product-level stats.
type ProductPage struct {
	Reviews []Review
	Total   int
	Stats   Stats
}

// ListForProduct returns approved reviews of a product.
func (s *Service) ListForProduct(ctx context.Context, productID string, sort Sort, page, limit int) (ProductPage, error) {
	if productID == "" {
		return ProductPage{}, common.ValidationError("product id is required")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 50 {
		limit = 10
	}
	items, total, err := s.Repo.ListByProduct(ctx, ListQuery{
		ProductID:    productID,
		ApprovedOnly: true,
		Sort:         sort,
		Limit:        limit,
		Offset:       (page - 1) * limit,
	})
	if err != nil {
		return ProductPage{}, err
	}
	stats, err := s.Repo.ApprovedStats(ctx, productID)
	if err != nil {
		return ProductPage{}, err
	}
	return ProductPage{Reviews: items, Total: total, Stats: stats}, nil
}

// ListMine returns the actor's reviews, newest first.
func (s *Service) ListMine(ctx context.Context, actor common.Principal, page, limit int) ([]Review, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 50 {
		limit = 10
	}
	return s.Repo.ListByUser(ctx, actor.UserID, limit, (page-1)*limit)
}

// MarkHelpful records one helpful vote per user.
func (s *Service) MarkHelpful(ctx context.Context, actor common.Principal, id uuid.UUID) (Review, error) {
	r, applied, err := s.Repo.MarkHelpful(ctx, id, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Review{}, common.NotFound("review not found")
		}
		return Review{}, err
	}
	if !applied {
		return Review{}, common.Conflict("You have already marked this review as helpful")
	}
	return r, nil
}

// Report files one abuse report per user and alerts operations.
func (s *Service) Report(ctx context.Context, actor common.Principal, id uuid.UUID, reason string) (Review, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Review{}, common.ValidationError("reason is required")
	}
	r, applied, err := s.Repo.AddReport(ctx, id, Report{UserID: actor.UserID, Reason: reason, ReportedAt: s.now()})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Review{}, common.NotFound("review not found")
		}
		return Review{}, err
	}
	if !applied {
		return Review{}, common.Conflict("You have already reported this review")
	}
	s.emit(ctx, events.TopicReviewReported, r, reason)
	return r, nil
}

func (s *Service) emit(ctx context.Context, topic string, r Review, reason string) {
	if s.Events == nil {
		return
	}
	payload := events.ReviewPayload{
		ReviewID:  r.ID.String(),
		ProductID: r.ProductID,
		UserID:    r.UserID,
		Rating:    r.Rating,
		Reason:    reason,
	}
	if _, err := s.Events.Emit(ctx, topic, r.ID.String(), payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Str("review_id", r.ID.String()).Msg("review event dispatch failed")
	}
}
