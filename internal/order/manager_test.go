package order_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/pricing"
	"github.com/noah-isme/storefront-core/internal/store"
	"github.com/noah-isme/storefront-core/internal/store/memstore"
)

var (
	alice = common.Principal{UserID: "alice", Email: "alice@example.com", Role: "customer"}
	bob   = common.Principal{UserID: "bob", Email: "bob@example.com", Role: "customer"}
	admin = common.Principal{UserID: "ops", Email: "ops@example.com", Role: common.RoleAdmin}
)

func input(owner *common.Principal) order.CreateInput {
	return order.CreateInput{
		Items: []order.Item{{ProductID: "tee", Name: "Tee", UnitPrice: decimal.RequireFromString("29.99"), Quantity: 2}},
		ShippingAddress: order.Address{
			FullName: "Alice", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
		},
		Email:         "alice@example.com",
		PaymentMethod: "card",
		Totals: pricing.Breakdown{
			Subtotal: decimal.RequireFromString("59.98"),
			Discount: decimal.RequireFromString("8.997"),
			Shipping: decimal.Zero,
			Tax:      decimal.RequireFromString("4.7984"),
			Total:    decimal.RequireFromString("55.7814"),
		},
		Owner: owner,
	}
}

func newManager() (*order.Manager, *memstore.Orders) {
	repo := memstore.NewOrders()
	return &order.Manager{Repo: repo, Logger: zerolog.Nop(), Currency: "USD"}, repo
}

func TestCreatePendingOrder(t *testing.T) {
	mgr, _ := newManager()
	in := input(&alice)

	o, err := mgr.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, o.Status)
	require.Equal(t, order.PaymentPending, o.PaymentStatus)
	require.Equal(t, "55.78", o.Total.StringFixed(2))
	require.Equal(t, "alice", o.Owner())
	require.Regexp(t, `^ORD-[0-9A-Z]{26}$`, o.Number)

	in.Items[0].Quantity = 99
	stored, err := mgr.Get(context.Background(), &alice, o.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.Items[0].Quantity)
}

func TestCreateGuestOrder(t *testing.T) {
	mgr, _ := newManager()
	o, err := mgr.Create(context.Background(), input(nil))
	require.NoError(t, err)
	require.Equal(t, order.GuestOwner, o.Owner())

	_, err = mgr.Create(context.Background(), order.CreateInput{})
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestCreateRegeneratesCollidingNumber(t *testing.T) {
	mgr, repo := newManager()
	var calls atomic.Int32
	mgr.NewNumber = func() string {
		if calls.Add(1) <= 2 {
			return "ORD-FIXED"
		}
		return order.NewOrderNumber()
	}

	first, err := mgr.Create(context.Background(), input(&alice))
	require.NoError(t, err)
	require.Equal(t, "ORD-FIXED", first.Number)

	second, err := mgr.Create(context.Background(), input(&alice))
	require.NoError(t, err)
	require.NotEqual(t, first.Number, second.Number)
	require.Equal(t, 2, repo.Len())
}

func TestCreateGivesUpAfterThreeCollisions(t *testing.T) {
	mgr, _ := newManager()
	mgr.NewNumber = func() string { return "ORD-FIXED" }

	_, err := mgr.Create(context.Background(), input(&alice))
	require.NoError(t, err)
	_, err = mgr.Create(context.Background(), input(&alice))
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestCreateReservedNumberConflict(t *testing.T) {
	mgr, _ := newManager()
	in := input(&alice)
	in.OrderNumber = "ORD-RESERVED"

	o, err := mgr.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "ORD-RESERVED", o.Number)

	_, err = mgr.Create(context.Background(), in)
	require.True(t, common.HasCode(err, common.CodeConflict))
}

func TestGetEnforcesOwnership(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)

	_, err = mgr.Get(ctx, &bob, o.ID)
	require.True(t, common.HasCode(err, common.CodeForbidden))

	_, err = mgr.Get(ctx, nil, o.ID)
	require.True(t, common.HasCode(err, common.CodeForbidden))

	_, err = mgr.Get(ctx, &admin, o.ID)
	require.NoError(t, err)

	_, err = mgr.Get(ctx, &alice, uuid.New())
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestTransitionStatus(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)

	_, err = mgr.TransitionStatus(ctx, bob, o.ID, order.StatusCancelled)
	require.True(t, common.HasCode(err, common.CodeForbidden))

	_, err = mgr.TransitionStatus(ctx, alice, o.ID, order.StatusShipped)
	require.True(t, common.HasCode(err, common.CodeValidation))

	_, err = mgr.TransitionStatus(ctx, admin, o.ID, order.StatusDelivered)
	require.True(t, common.HasCode(err, common.CodeConflict))

	updated, err := mgr.TransitionStatus(ctx, admin, o.ID, order.StatusProcessing)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, updated.Status)

	_, err = mgr.TransitionStatus(ctx, admin, o.ID, order.StatusPending)
	require.True(t, common.HasCode(err, common.CodeConflict))

	_, err = mgr.TransitionStatus(ctx, alice, o.ID, order.StatusCancelled)
	require.True(t, common.HasCode(err, common.CodeValidation))

	_, err = mgr.TransitionStatus(ctx, admin, o.ID, order.Status("teleported"))
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestAdminSettlesBankTransferOrder(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	var settled []order.Order
	mgr.Settled = func(_ context.Context, o order.Order) { settled = append(settled, o) }

	in := input(nil)
	in.PaymentMethod = "bank_transfer"
	o, err := mgr.Create(ctx, in)
	require.NoError(t, err)
	_, applied, err := mgr.ApplyPaymentOutcome(ctx, o.ID, order.PaymentOutcome{
		Success:       true,
		PaymentStatus: order.PaymentPending,
		Status:        order.StatusPendingPayment,
		BankTransfer:  &order.BankTransfer{Reference: "ROI-" + o.Number},
	})
	require.NoError(t, err)
	require.True(t, applied)

	updated, err := mgr.TransitionStatus(ctx, admin, o.ID, order.StatusPaid)
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, updated.Status)
	require.Equal(t, order.PaymentSucceeded, updated.PaymentStatus)
	require.NotNil(t, updated.PaidAt)
	require.Len(t, settled, 1)
	require.Equal(t, o.Number, settled[0].Number)

	shipped, err := mgr.TransitionStatus(ctx, admin, o.ID, order.StatusShipped)
	require.NoError(t, err)
	require.Equal(t, order.PaymentSucceeded, shipped.PaymentStatus)
	require.Len(t, settled, 1)
}

func TestAdminReleasesPendingPaymentToProcessing(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	var settled int
	mgr.Settled = func(context.Context, order.Order) { settled++ }

	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)
	_, _, err = mgr.ApplyPaymentOutcome(ctx, o.ID, order.PaymentOutcome{
		Success:       true,
		PaymentStatus: order.PaymentPending,
		Status:        order.StatusPendingPayment,
	})
	require.NoError(t, err)

	updated, err := mgr.TransitionStatus(ctx, admin, o.ID, order.StatusProcessing)
	require.NoError(t, err)
	require.Equal(t, order.PaymentSucceeded, updated.PaymentStatus)
	require.Equal(t, 1, settled)

	ok, err := mgr.HasPurchased(ctx, "alice", "tee")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAdminStatusChangeKeepsSettledPayment(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	var settled int
	mgr.Settled = func(context.Context, order.Order) { settled++ }

	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)
	paid, applied, err := mgr.MarkPaymentSucceeded(ctx, o.ID, "pi_1")
	require.NoError(t, err)
	require.True(t, applied)

	updated, err := mgr.TransitionStatus(ctx, admin, o.ID, order.StatusPaid)
	require.NoError(t, err)
	require.Equal(t, order.PaymentSucceeded, updated.PaymentStatus)
	require.Equal(t, paid.PaidAt, updated.PaidAt)
	require.Zero(t, settled)
}

func TestMarkPaymentSucceededAppliesOnce(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := mgr.MarkPaymentSucceeded(ctx, o.ID, "pi_123")
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), applied.Load())

	stored, err := mgr.Get(ctx, &alice, o.ID)
	require.NoError(t, err)
	require.Equal(t, order.PaymentSucceeded, stored.PaymentStatus)
	require.Equal(t, order.StatusProcessing, stored.Status)
	require.Equal(t, "pi_123", stored.TransactionID)
	require.NotNil(t, stored.PaidAt)
}

func TestMarkPaymentSucceededSkipsCancelledOrder(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)

	_, err = mgr.TransitionStatus(ctx, alice, o.ID, order.StatusCancelled)
	require.NoError(t, err)

	stored, applied, err := mgr.MarkPaymentSucceeded(ctx, o.ID, "pi_late")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, order.StatusCancelled, stored.Status)
}

func TestMarkPaymentFailed(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)

	stored, applied, err := mgr.MarkPaymentFailed(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, order.PaymentFailed, stored.PaymentStatus)
	require.Equal(t, order.StatusCancelled, stored.Status)

	_, applied, err = mgr.MarkPaymentFailed(ctx, o.ID)
	require.NoError(t, err)
	require.False(t, applied)
}

func TestApplyPaymentOutcome(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)

	stored, applied, err := mgr.ApplyPaymentOutcome(ctx, o.ID, order.PaymentOutcome{Success: false})
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, order.StatusPending, stored.Status)

	stored, applied, err = mgr.ApplyPaymentOutcome(ctx, o.ID, order.PaymentOutcome{
		Success:       true,
		PaymentStatus: order.PaymentPending,
		Status:        order.StatusPendingPayment,
		BankTransfer:  &order.BankTransfer{Reference: "ROI-" + o.Number},
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, order.StatusPendingPayment, stored.Status)
	require.Equal(t, order.PaymentPending, stored.PaymentStatus)
	require.Empty(t, stored.TransactionID)
	require.Nil(t, stored.PaidAt)
	require.Equal(t, "ROI-"+o.Number, stored.BankTransfer.Reference)
}

func TestHasPurchased(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	o, err := mgr.Create(ctx, input(&alice))
	require.NoError(t, err)

	ok, err := mgr.HasPurchased(ctx, "alice", "tee")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = mgr.MarkPaymentSucceeded(ctx, o.ID, "pi_1")
	require.NoError(t, err)

	ok, err = mgr.HasPurchased(ctx, "alice", "tee")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAssociateGuestOrders(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	guest := input(nil)
	guest.Email = "Alice@Example.com"
	first, err := mgr.Create(ctx, guest)
	require.NoError(t, err)
	other := input(nil)
	other.Email = "bob@example.com"
	_, err = mgr.Create(ctx, other)
	require.NoError(t, err)
	_, err = mgr.Create(ctx, input(&bob))
	require.NoError(t, err)

	n, err := mgr.AssociateGuest(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	mine, total, err := mgr.List(ctx, alice, 1, 20)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, first.ID, mine[0].ID)

	n, err = mgr.AssociateGuest(ctx, alice)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = mgr.AssociateGuest(ctx, common.Principal{UserID: "carol"})
	require.True(t, common.HasCode(err, common.CodeValidation))
}
