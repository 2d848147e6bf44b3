package order

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Repository persists orders. Implementations return store.ErrNotFound and
// store.ErrDuplicate from the store package.
type Repository interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, int, error)
	// UpdateIf atomically applies u when the stored order still matches its
	// guards. It returns the order as stored after the call and whether the
	// update was applied.
	UpdateIf(ctx context.Context, id uuid.UUID, u ConditionalUpdate) (Order, bool, error)
	// AssignGuestOrders gives every guest order placed under email to userID.
	// Emails compare case-insensitively. It returns how many orders moved.
	AssignGuestOrders(ctx context.Context, email, userID string) (int, error)
}

// ConditionalUpdate is a compare-and-set on an order. Empty guard lists match
// any value; nil fields are left untouched.
type ConditionalUpdate struct {
	FromStatuses        []Status
	FromPaymentStatuses []PaymentStatus

	Status          *Status
	PaymentStatus   *PaymentStatus
	TransactionID   *string
	PaymentIntentID *string
	PaidAt          *time.Time
	BankTransfer    *BankTransfer
}

// Matches reports whether o satisfies the guards.
func (u ConditionalUpdate) Matches(o Order) bool {
	if len(u.FromStatuses) > 0 && !slices.Contains(u.FromStatuses, o.Status) {
		return false
	}
	if len(u.FromPaymentStatuses) > 0 && !slices.Contains(u.FromPaymentStatuses, o.PaymentStatus) {
		return false
	}
	return true
}

// Apply writes the non-nil fields onto o.
func (u ConditionalUpdate) Apply(o *Order, now time.Time) {
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.PaymentStatus != nil {
		o.PaymentStatus = *u.PaymentStatus
	}
	if u.TransactionID != nil {
		o.TransactionID = *u.TransactionID
	}
	if u.PaymentIntentID != nil {
		o.PaymentIntentID = *u.PaymentIntentID
	}
	if u.PaidAt != nil {
		t := *u.PaidAt
		o.PaidAt = &t
	}
	if u.BankTransfer != nil {
		bt := *u.BankTransfer
		o.BankTransfer = &bt
	}
	o.UpdatedAt = now
}

// StatusStrings renders the status guard for query builders.
func (u ConditionalUpdate) StatusStrings() []string {
	out := make([]string, len(u.FromStatuses))
	for i, s := range u.FromStatuses {
		out[i] = string(s)
	}
	return out
}

// PaymentStatusStrings renders the payment guard for query builders.
func (u ConditionalUpdate) PaymentStatusStrings() []string {
	out := make([]string, len(u.FromPaymentStatuses))
	for i, s := range u.FromPaymentStatuses {
		out[i] = string(s)
	}
	return out
}
