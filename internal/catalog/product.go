package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxQuantity caps cart lines for products that do not track stock.
const DefaultMaxQuantity = 10

// Product is the sellable item referenced by carts, orders and reviews.
type Product struct {
	ID            string          `json:"id" bson:"_id"`
	Name          string          `json:"name" bson:"name"`
	Price         decimal.Decimal `json:"price" bson:"price"`
	Image         string          `json:"image,omitempty" bson:"image,omitempty"`
	StockQuantity int             `json:"stockQuantity" bson:"stockQuantity"`
	InStock       bool            `json:"inStock" bson:"inStock"`
	Rating        float64         `json:"rating" bson:"rating"`
	NumReviews    int             `json:"numReviews" bson:"numReviews"`
	UpdatedAt     time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// MaxQuantity is the most a single cart line may hold.
func (p Product) MaxQuantity() int {
	if p.StockQuantity > 0 {
		return p.StockQuantity
	}
	return DefaultMaxQuantity
}

// Repository persists products. UpdateRating must return store.ErrNotFound
// when the product does not exist.
type Repository interface {
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, limit, offset int) ([]Product, int, error)
	Upsert(ctx context.Context, p Product) error
	UpdateRating(ctx context.Context, id string, rating float64, numReviews int) error
}
