package catalog

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/store"
)

// Service reads products through a Redis cache and keeps the cache coherent on
// rating updates.
type Service struct {
	repo         Repository
	cache        *Cache
	logger       zerolog.Logger
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repo         Repository
	Cache        *Cache
	Logger       zerolog.Logger
	DefaultLimit int
	MaxLimit     int
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repo == nil {
		return nil, errors.New("catalog: repository is required")
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{
		repo:         cfg.Repo,
		cache:        cfg.Cache,
		logger:       cfg.Logger.With().Str("component", "catalog").Logger(),
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// Get returns a product, consulting the cache first.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	if id == "" {
		return Product{}, common.ValidationError("product id is required")
	}
	cached, hit, err := s.cache.Product(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("product_id", id).Msg("product cache read failed")
	} else if hit {
		return cached, nil
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Product{}, common.NotFound("product not found")
		}
		return Product{}, err
	}
	if err := s.cache.PutProduct(ctx, p); err != nil {
		s.logger.Warn().Err(err).Str("product_id", id).Msg("product cache write failed")
	}
	return p, nil
}

// List returns a page of products.
func (s *Service) List(ctx context.Context, page, limit int) ([]Product, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	return s.repo.List(ctx, limit, (page-1)*limit)
}

// UpdateRating persists the denormalized review aggregate and evicts the cache entry.
func (s *Service) UpdateRating(ctx context.Context, id string, rating float64, numReviews int) error {
	if err := s.repo.UpdateRating(ctx, id, rating, numReviews); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return common.NotFound("product not found")
		}
		return err
	}
	if err := s.cache.Evict(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("product_id", id).Msg("product cache eviction failed")
	}
	return nil
}
