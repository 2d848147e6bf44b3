package reviews

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/obs"
)

// RatingWriter stores the denormalized aggregate on a product.
type RatingWriter interface {
	UpdateRating(ctx context.Context, productID string, rating float64, numReviews int) error
}

// Locker serializes recomputes of the same product across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Aggregator keeps Product.rating and Product.numReviews equal to the mean and
// count of the product's approved reviews.
type Aggregator struct {
	Reviews  Repository
	Products RatingWriter
	Locker   Locker
	LockTTL  time.Duration
	Events   *events.Bus
	Logger   zerolog.Logger
}

// Recompute reads the approved reviews of productID and writes the aggregate.
func (a *Aggregator) Recompute(ctx context.Context, productID string) (Stats, error) {
	var stats Stats
	run := func(ctx context.Context) error {
		s, err := a.Reviews.ApprovedStats(ctx, productID)
		if err != nil {
			return fmt.Errorf("aggregate reviews: %w", err)
		}
		if err := a.Products.UpdateRating(ctx, productID, s.Average, s.Count); err != nil {
			return fmt.Errorf("update product rating: %w", err)
		}
		stats = s
		return nil
	}
	var err error
	if a.Locker != nil {
		ttl := a.LockTTL
		if ttl <= 0 {
			ttl = 5 * time.Second
		}
		err = a.Locker.WithLock(ctx, "lock:rating:"+productID, ttl, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		obs.Inc(obs.RatingRecomputeTotal, "error")
		return Stats{}, err
	}
	obs.Inc(obs.RatingRecomputeTotal, "ok")
	if a.Events != nil {
		payload := events.RatingPayload{ProductID: productID, Rating: stats.Average, NumReviews: stats.Count}
		if _, err := a.Events.Emit(ctx, events.TopicProductRatingSynced, productID, payload); err != nil {
			a.Logger.Warn().Err(err).Str("product_id", productID).Msg("rating sync event dispatch failed")
		}
	}
	return stats, nil
}

// Sync recomputes after a review mutation. A failure is logged and counted but
// never fails the mutation; the next recompute heals the product.
func (a *Aggregator) Sync(ctx context.Context, productID string) {
	if a == nil {
		return
	}
	if _, err := a.Recompute(ctx, productID); err != nil {
		a.Logger.Error().Err(err).Str("product_id", productID).Msg("product rating recompute failed")
	}
}

// RecomputeAll rebuilds every reviewed product and returns how many succeeded.
func (a *Aggregator) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := a.Reviews.AllProductIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reviewed products: %w", err)
	}
	ok := 0
	for _, id := range ids {
		if _, err := a.Recompute(ctx, id); err != nil {
			a.Logger.Error().Err(err).Str("product_id", id).Msg("product rating recompute failed")
			continue
		}
		ok++
	}
	return ok, nil
}
