// Package mongostore implements the repositories on MongoDB, one collection
// per aggregate.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/storefront-core/internal/store"
)

// Collection names.
const (
	ProductsCollection = "products"
	OrdersCollection   = "orders"
	ReviewsCollection  = "reviews"
	EventsCollection   = "domain_events"
)

// Store owns the client and hands out repositories bound to one database.
type Store struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect dials uri with the storefront codecs registered and pings the server.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRegistry(Registry()))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{Client: client, Database: client.Database(database)}, nil
}

// Ping reports server reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and lookup indexes the repositories rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		OrdersCollection: {
			{Keys: bson.D{{Key: "orderNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		ReviewsCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "productId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "productId", Value: 1}, {Key: "isApproved", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		EventsCollection: {
			{Keys: bson.D{{Key: "aggregateId", Value: 1}, {Key: "occurredAt", Value: 1}}},
		},
	}
	for name, models := range specs {
		if _, err := s.Database.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

// Products returns the product repository.
func (s *Store) Products() *Products {
	return &Products{C: s.Database.Collection(ProductsCollection)}
}

// Orders returns the order repository.
func (s *Store) Orders() *Orders {
	return &Orders{C: s.Database.Collection(OrdersCollection)}
}

// Reviews returns the review repository.
func (s *Store) Reviews() *Reviews {
	return &Reviews{C: s.Database.Collection(ReviewsCollection)}
}

// Events returns the event store.
func (s *Store) Events() *Events {
	return &Events{C: s.Database.Collection(EventsCollection)}
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	default:
		return err
	}
}

func findPage(limit, offset int) *options.FindOptions {
	opts := options.Find().SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}

func decodeAll[T any](ctx context.Context, cur *mongo.Cursor) ([]T, error) {
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
