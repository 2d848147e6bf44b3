package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/config"
	"github.com/noah-isme/storefront-core/internal/obs"
	"github.com/noah-isme/storefront-core/internal/store/mongostore"
	"github.com/noah-isme/storefront-core/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.Component(obs.NewLogger(obs.LogConfig{
		Format:  cfg.Obs.LogFormat,
		Level:   cfg.Obs.LogLevel,
		Service: cfg.ServiceName,
		Env:     cfg.AppEnv,
	}), "seeder")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, closeRepo, err := openProducts(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}
	defer closeRepo()

	seeded := 0
	for _, p := range products() {
		if err := repo.Upsert(ctx, p); err != nil {
			logger.Error().Err(err).Str("product_id", p.ID).Msg("seed product")
			continue
		}
		seeded++
	}
	logger.Info().Int("products", seeded).Str("driver", cfg.StoreDriver).Msg("seeding completed")
}

func openProducts(ctx context.Context, cfg *config.Config) (catalog.Repository, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, "storefront-seeder")
		if err != nil {
			return nil, nil, err
		}
		return &postgres.Products{DB: pool}, pool.Close, nil
	case config.DriverMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s.Products(), func() { _ = s.Close(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("seeding needs a persistent store, got %q", cfg.StoreDriver)
}

func products() []catalog.Product {
	items := []struct {
		id, name, price string
		stock           int
	}{
		{"tee-classic", "Classic Cotton Tee", "29.99", 120},
		{"tee-pocket", "Pocket Tee", "34.50", 80},
		{"hoodie-zip", "Zip Hoodie", "79.00", 45},
		{"jeans-slim", "Slim Fit Jeans", "89.90", 60},
		{"cap-canvas", "Canvas Cap", "19.99", 200},
		{"socks-3pk", "Crew Socks 3-Pack", "14.99", 300},
		{"jacket-denim", "Denim Jacket", "129.00", 25},
		{"tote-bag", "Organic Tote Bag", "24.00", 150},
		{"beanie-wool", "Merino Beanie", "39.00", 0},
		{"scarf-linen", "Linen Scarf", "49.50", 35},
	}
	out := make([]catalog.Product, 0, len(items))
	for _, it := range items {
		out = append(out, catalog.Product{
			ID:            it.id,
			Name:          it.name,
			Price:         decimal.RequireFromString(it.price),
			Image:         "/images/products/" + it.id + ".jpg",
			StockQuantity: it.stock,
			InStock:       it.stock > 0,
		})
	}
	return out
}
