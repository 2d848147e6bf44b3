package reviews

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// Sort orders product review listings.
type Sort string

const (
	SortNewest      Sort = "newest"
	SortHighest     Sort = "highest"
	SortLowest      Sort = "lowest"
	SortMostHelpful Sort = "most-helpful"
)

// ParseSort falls back to newest for unknown values.
func ParseSort(v string) Sort {
	switch Sort(v) {
	case SortHighest, SortLowest, SortMostHelpful:
		return Sort(v)
	default:
		return SortNewest
	}
}

// Report is a single abuse report filed against a review.
type Report struct {
	UserID     string    `json:"userId" bson:"userId"`
	Reason     string    `json:"reason" bson:"reason"`
	ReportedAt time.Time `json:"reportedAt" bson:"reportedAt"`
}

// Review is one user's rating of one product.
type Review struct {
	ID           uuid.UUID `json:"id" bson:"_id"`
	UserID       string    `json:"userId" bson:"userId"`
	ProductID    string    `json:"productId" bson:"productId"`
	Rating       int       `json:"rating" bson:"rating"`
	Title        string    `json:"title,omitempty" bson:"title,omitempty"`
	Comment      string    `json:"comment" bson:"comment"`
	IsVerified   bool      `json:"isVerified" bson:"isVerified"`
	IsApproved   bool      `json:"isApproved" bson:"isApproved"`
	HelpfulCount int       `json:"helpfulCount" bson:"helpfulCount"`
	HelpfulUsers []string  `json:"-" bson:"helpfulUsers"`
	ReportCount  int       `json:"reportCount" bson:"reportCount"`
	Reports      []Report  `json:"-" bson:"reports"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Stats aggregates the approved reviews of a product.
type Stats struct {
	Average      float64     `json:"averageRating"`
	Count        int         `json:"totalReviews"`
	Distribution map[int]int `json:"distribution"`
}

// NewStats builds stats from a rating sum and per-star counts.
func NewStats(sum int, distribution map[int]int) Stats {
	s := Stats{Distribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	for star, n := range distribution {
		s.Distribution[star] += n
		s.Count += n
	}
	if s.Count > 0 {
		s.Average = RoundRating(float64(sum) / float64(s.Count))
	}
	return s
}

// RoundRating rounds an average to one decimal.
func RoundRating(v float64) float64 {
	return math.Round(v*10) / 10
}

// ListQuery selects a page of a product's reviews.
type ListQuery struct {
	ProductID    string
	ApprovedOnly bool
	Sort         Sort
	Limit        int
	Offset       int
}

// Repository persists reviews. Insert returns store.ErrDuplicate when the
// user already reviewed the product; lookups return store.ErrNotFound.
type Repository interface {
	Insert(ctx context.Context, r Review) error
	Get(ctx context.Context, id uuid.UUID) (Review, error)
	Update(ctx context.Context, r Review) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByProduct(ctx context.Context, q ListQuery) ([]Review, int, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Review, int, error)
	// ApprovedStats aggregates approved reviews of a product.
	ApprovedStats(ctx context.Context, productID string) (Stats, error)
	// AllProductIDs lists every product that has at least one review.
	AllProductIDs(ctx context.Context) ([]string, error)
	// MarkHelpful records userID's vote once; applied is false on a repeat vote.
	MarkHelpful(ctx context.Context, id uuid.UUID, userID string) (r Review, applied bool, err error)
	// AddReport records one report per user; applied is false on a repeat report.
	AddReport(ctx context.Context, id uuid.UUID, rep Report) (r Review, applied bool, err error)
}
