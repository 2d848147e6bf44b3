package postgres

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/reviews"
	"github.com/noah-isme/storefront-core/internal/store"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/shop?sslmode=disable", migrateURL("postgres://u:p@db:5432/shop?sslmode=disable"))
	require.Equal(t, "pgx5://db/shop", migrateURL("postgresql://db/shop"))
	require.Equal(t, "pgx5://db/shop", migrateURL("pgx5://db/shop"))
}

func TestNumericRoundTrip(t *testing.T) {
	for _, v := range []string{"0", "55.78", "29.99", "-4.50", "1234567.01"} {
		d := decimal.RequireFromString(v)
		require.True(t, d.Equal(fromNumeric(numeric(d))), v)
	}
	require.True(t, fromNumeric(numeric(decimal.Zero)).IsZero())
}

func TestMapError(t *testing.T) {
	require.NoError(t, mapError(nil))
	require.ErrorIs(t, mapError(pgx.ErrNoRows), store.ErrNotFound)
	require.ErrorIs(t, mapError(&pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}), store.ErrDuplicate)
	other := errors.New("boom")
	require.Equal(t, other, mapError(other))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.Contains(t, names, "migrations/000001_init.up.sql")
	require.Contains(t, names, "migrations/000001_init.down.sql")
}

// TestRepositories runs against a real database when STOREFRONT_TEST_DATABASE_URL is set.
func TestRepositories(t *testing.T) {
	dsn := os.Getenv("STOREFRONT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STOREFRONT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, Migrate(dsn))
	pool, err := Connect(ctx, dsn, "storefront-test")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	products := &Products{DB: pool}
	orders := &Orders{DB: pool}
	revs := &Reviews{DB: pool}

	productID := "p-" + uuid.NewString()
	require.NoError(t, products.Upsert(ctx, catalog.Product{ID: productID, Name: "Tee", Price: decimal.RequireFromString("29.99"), InStock: true}))
	p, err := products.Get(ctx, productID)
	require.NoError(t, err)
	require.True(t, p.Price.Equal(decimal.RequireFromString("29.99")))
	require.ErrorIs(t, products.UpdateRating(ctx, "missing-"+productID, 4, 1), store.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Microsecond)
	uid := "user-" + uuid.NewString()
	o := order.Order{
		ID:              uuid.New(),
		Number:          "ORD-" + uuid.NewString(),
		UserID:          &uid,
		Email:           "a@example.com",
		Items:           []order.Item{{ProductID: productID, Name: "Tee", UnitPrice: decimal.RequireFromString("29.99"), Quantity: 2}},
		ShippingAddress: order.Address{FullName: "A", Line1: "1 Main", City: "X", PostalCode: "1", Country: "US"},
		Subtotal:        decimal.RequireFromString("59.98"),
		Total:           decimal.RequireFromString("55.78"),
		Currency:        "USD",
		PaymentMethod:   "card",
		PaymentStatus:   order.PaymentPending,
		Status:          order.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, orders.Insert(ctx, o))
	require.ErrorIs(t, orders.Insert(ctx, o), store.ErrDuplicate)

	paid := order.PaymentSucceeded
	processing := order.StatusProcessing
	settle := order.ConditionalUpdate{
		FromPaymentStatuses: []order.PaymentStatus{order.PaymentPending},
		Status:              &processing,
		PaymentStatus:       &paid,
		PaidAt:              &now,
	}
	got, applied, err := orders.UpdateIf(ctx, o.ID, settle)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, order.PaymentSucceeded, got.PaymentStatus)
	require.True(t, got.Total.Equal(o.Total))

	_, applied, err = orders.UpdateIf(ctx, o.ID, settle)
	require.NoError(t, err)
	require.False(t, applied)

	_, _, err = orders.UpdateIf(ctx, uuid.New(), settle)
	require.ErrorIs(t, err, store.ErrNotFound)

	guest := o
	guest.ID = uuid.New()
	guest.Number = "ORD-GUEST-" + uuid.NewString()[:8]
	guest.UserID = nil
	guest.Email = "Guest-" + guest.Number + "@Example.com"
	require.NoError(t, orders.Insert(ctx, guest))
	n, err := orders.AssignGuestOrders(ctx, strings.ToLower(guest.Email), uid)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assigned, err := orders.Get(ctx, guest.ID)
	require.NoError(t, err)
	require.Equal(t, uid, assigned.Owner())
	n, err = orders.AssignGuestOrders(ctx, guest.Email, "someone-else")
	require.NoError(t, err)
	require.Zero(t, n)

	r := reviews.Review{ID: uuid.New(), UserID: uid, ProductID: productID, Rating: 5, Comment: "great", IsApproved: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, revs.Insert(ctx, r))
	dup := r
	dup.ID = uuid.New()
	require.ErrorIs(t, revs.Insert(ctx, dup), store.ErrDuplicate)

	_, applied, err = revs.MarkHelpful(ctx, r.ID, "voter")
	require.NoError(t, err)
	require.True(t, applied)
	_, applied, err = revs.MarkHelpful(ctx, r.ID, "voter")
	require.NoError(t, err)
	require.False(t, applied)

	stats, err := revs.ApprovedStats(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Count)
	require.Equal(t, 5.0, stats.Average)
}
