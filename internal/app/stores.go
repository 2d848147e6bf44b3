package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/config"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/health"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/reviews"
	"github.com/noah-isme/storefront-core/internal/store/memstore"
	"github.com/noah-isme/storefront-core/internal/store/mongostore"
	"github.com/noah-isme/storefront-core/internal/store/postgres"
)

// repositories is one persistence backend, selected by STORE_DRIVER.
type repositories struct {
	products catalog.Repository
	orders   order.Repository
	reviews  reviews.Repository
	events   events.Store
	probe    health.Probe
	close    func(context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repositories, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return repositories{}, err
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.ServiceName)
		if err != nil {
			return repositories{}, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Msg("store connected")
		return repositories{
			products: &postgres.Products{DB: pool},
			orders:   &postgres.Orders{DB: pool},
			reviews:  &postgres.Reviews{DB: pool},
			events:   &postgres.Events{DB: pool},
			probe:    pool.Ping,
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil

	case config.DriverMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return repositories{}, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close(context.Background())
			return repositories{}, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Str("database", cfg.MongoDatabase).Msg("store connected")
		return repositories{
			products: s.Products(),
			orders:   s.Orders(),
			reviews:  s.Reviews(),
			events:   s.Events(),
			probe:    s.Ping,
			close:    s.Close,
		}, nil

	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return repositories{
			products: memstore.NewProducts(),
			orders:   memstore.NewOrders(),
			reviews:  memstore.NewReviews(),
			events:   &memstore.Events{},
			close:    func(context.Context) error { return nil },
		}, nil
	}
	return repositories{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
