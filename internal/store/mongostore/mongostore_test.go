package mongostore

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/reviews"
	"github.com/noah-isme/storefront-core/internal/store"
)

func roundTrip(t *testing.T, in, out any) bson.Raw {
	t.Helper()
	reg := Registry()
	buf := new(bytes.Buffer)
	vw, err := bsonrw.NewBSONValueWriter(buf)
	require.NoError(t, err)
	enc, err := bson.NewEncoder(vw)
	require.NoError(t, err)
	require.NoError(t, enc.SetRegistry(reg))
	require.NoError(t, enc.Encode(in))

	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(buf.Bytes()))
	require.NoError(t, err)
	require.NoError(t, dec.SetRegistry(reg))
	require.NoError(t, dec.Decode(out))
	return bson.Raw(buf.Bytes())
}

func TestCodecsRoundTripOrder(t *testing.T) {
	in := order.Order{
		ID:     uuid.New(),
		Number: "ORD-1",
		Items: []order.Item{
			{ProductID: "p1", Name: "Tee", UnitPrice: decimal.RequireFromString("29.99"), Quantity: 2},
		},
		Total:         decimal.RequireFromString("55.78"),
		PaymentStatus: order.PaymentPending,
		Status:        order.StatusPending,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
	var out order.Order
	raw := roundTrip(t, in, &out)

	require.Equal(t, in.ID, out.ID)
	require.True(t, in.Total.Equal(out.Total))
	require.True(t, in.Items[0].UnitPrice.Equal(out.Items[0].UnitPrice))

	id := raw.Lookup("_id")
	require.Equal(t, bsontype.Binary, id.Type)
	subtype, _ := id.Binary()
	require.Equal(t, bsontype.BinaryUUID, subtype)
	require.Equal(t, bsontype.Decimal128, raw.Lookup("totalAmount").Type)
}

func TestDecimalDecodesLegacyNumbers(t *testing.T) {
	var out struct {
		A decimal.Decimal `bson:"a"`
		B decimal.Decimal `bson:"b"`
		C decimal.Decimal `bson:"c"`
	}
	roundTrip(t, bson.M{"a": "12.50", "b": int32(3), "c": 1.25}, &out)
	require.Equal(t, "12.5", out.A.String())
	require.Equal(t, "3", out.B.String())
	require.Equal(t, "1.25", out.C.String())
}

func TestGuardFilterAndUpdateDocument(t *testing.T) {
	id := uuid.New()
	paid := order.PaymentSucceeded
	u := order.ConditionalUpdate{
		FromStatuses:        []order.Status{order.StatusPending},
		FromPaymentStatuses: []order.PaymentStatus{order.PaymentPending, order.PaymentFailed},
		PaymentStatus:       &paid,
	}
	filter := guardFilter(id, u)
	require.Equal(t, id, filter["_id"])
	require.Equal(t, bson.M{"$in": []string{"pending"}}, filter["status"])
	require.Equal(t, bson.M{"$in": u.PaymentStatusStrings()}, filter["paymentStatus"])

	now := time.Now()
	set := updateDocument(u, now)["$set"].(bson.M)
	require.Equal(t, paid, set["paymentStatus"])
	require.Equal(t, now, set["updatedAt"])
	require.NotContains(t, set, "status")

	require.NotContains(t, guardFilter(id, order.ConditionalUpdate{}), "status")
}

func TestGuestFilter(t *testing.T) {
	f := guestFilter("a@example.com")
	require.Equal(t, "a@example.com", f["email"])
	require.Equal(t, bson.M{"$in": bson.A{nil, ""}}, f["userId"])
	require.Equal(t, 2, emailCollation.Strength)
}

// TestRepositories runs against a real server when STOREFRONT_TEST_MONGO_URI is set.
func TestRepositories(t *testing.T) {
	uri := os.Getenv("STOREFRONT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("STOREFRONT_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := Connect(ctx, uri, "storefront_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Database.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	require.NoError(t, s.EnsureIndexes(ctx))

	orders := s.Orders()
	o := order.Order{ID: uuid.New(), Number: "ORD-A", Email: "a@example.com", Total: decimal.RequireFromString("55.78"),
		PaymentStatus: order.PaymentPending, Status: order.StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, orders.Insert(ctx, o))
	dup := o
	dup.ID = uuid.New()
	require.ErrorIs(t, orders.Insert(ctx, dup), store.ErrDuplicate)

	paid := order.PaymentSucceeded
	settle := order.ConditionalUpdate{FromPaymentStatuses: []order.PaymentStatus{order.PaymentPending}, PaymentStatus: &paid}
	got, applied, err := orders.UpdateIf(ctx, o.ID, settle)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, order.PaymentSucceeded, got.PaymentStatus)
	_, applied, err = orders.UpdateIf(ctx, o.ID, settle)
	require.NoError(t, err)
	require.False(t, applied)

	n, err := orders.AssignGuestOrders(ctx, "A@Example.com", "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assigned, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, "u1", assigned.Owner())
	n, err = orders.AssignGuestOrders(ctx, "a@example.com", "u2")
	require.NoError(t, err)
	require.Zero(t, n)

	revs := s.Reviews()
	r := reviews.Review{ID: uuid.New(), UserID: "u1", ProductID: "p1", Rating: 4, Comment: "ok", IsApproved: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, revs.Insert(ctx, r))
	r2 := r
	r2.ID = uuid.New()
	require.ErrorIs(t, revs.Insert(ctx, r2), store.ErrDuplicate)

	_, applied, err = revs.AddReport(ctx, r.ID, reviews.Report{UserID: "u2", Reason: "spam"})
	require.NoError(t, err)
	require.True(t, applied)
	_, applied, err = revs.AddReport(ctx, r.ID, reviews.Report{UserID: "u2", Reason: "spam"})
	require.NoError(t, err)
	require.False(t, applied)

	stats, err := revs.ApprovedStats(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Count)
	require.Equal(t, 4.0, stats.Average)
}
