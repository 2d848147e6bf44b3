package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/pricing"
	"github.com/noah-isme/storefront-core/internal/store"
)

const maxNumberAttempts = 3

// NewOrderNumber returns a fresh, time-sortable order number.
func NewOrderNumber() string {
	return "ORD-" + ulid.Make().String()
}

// Manager owns every write to an order record.
type Manager struct {
	Repo      Repository
	Logger    zerolog.Logger
	Currency  string
	Now       func() time.Time
	NewNumber func() string
	// Settled is called after an admin status change also settled the
	// order's payment.
	Settled   func(ctx context.Context, o Order)
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Manager) number() string {
	if m.NewNumber != nil {
		return m.NewNumber()
	}
	return NewOrderNumber()
}

// CreateInput describes a new order.
type CreateInput struct {
	Items           []Item
	ShippingAddress Address
	BillingAddress  *Address
	Email           string
	PaymentMethod   string
	Totals          pricing.Breakdown
	Owner           *common.Principal
	// OrderNumber is set when the number was reserved ahead of the order,
	// for example in provider metadata of a card payment intent.
	OrderNumber     string
	PaymentIntentID string
}

// Create persists a pending order. On an order number collision a fresh number
// is generated, up to three attempts.
func (m *Manager) Create(ctx context.Context, in CreateInput) (Order, error) {
	if len(in.Items) == 0 {
		return Order{}, common.ValidationError("order must contain at least one item")
	}
	now := m.now()
	o := Order{
		ID:              uuid.New(),
		Email:           strings.TrimSpace(in.Email),
		Items:           make([]Item, len(in.Items)),
		ShippingAddress: in.ShippingAddress,
		Subtotal:        pricing.Round(in.Totals.Subtotal),
		ShippingCost:    pricing.Round(in.Totals.Shipping),
		Tax:             pricing.Round(in.Totals.Tax),
		Discount:        pricing.Round(in.Totals.Discount),
		DiscountCode:    in.Totals.DiscountCode,
		Total:           pricing.Round(in.Totals.Total),
		Currency:        m.Currency,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   PaymentPending,
		Status:          StatusPending,
		PaymentIntentID: in.PaymentIntentID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	copy(o.Items, in.Items)
	if in.BillingAddress != nil {
		billing := *in.BillingAddress
		o.BillingAddress = &billing
	}
	if in.Owner != nil && in.Owner.UserID != "" {
		uid := in.Owner.UserID
		o.UserID = &uid
		if o.Email == "" {
			o.Email = in.Owner.Email
		}
	}
	if o.Email == "" {
		return Order{}, common.ValidationError("email is required")
	}

	reserved := in.OrderNumber != ""
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		if reserved && attempt == 1 {
			o.Number = in.OrderNumber
		} else {
			o.Number = m.number()
		}
		err := m.Repo.Insert(ctx, o)
		if err == nil {
			m.Logger.Info().
				Str("order_id", o.ID.String()).
				Str("order_number", o.Number).
				Str("owner", o.Owner()).
				Str("total", o.Total.StringFixed(2)).
				Msg("order created")
			return o, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return Order{}, fmt.Errorf("insert order: %w", err)
		}
		if reserved {
			return Order{}, common.Conflict("an order was already placed for this payment")
		}
		m.Logger.Warn().Str("order_number", o.Number).Int("attempt", attempt).Msg("order number collision, regenerating")
	}
	return Order{}, fmt.Errorf("insert order: exhausted %d order number attempts: %w", maxNumberAttempts, store.ErrDuplicate)
}

func (m *Manager) load(ctx context.Context, id uuid.UUID) (Order, error) {
	o, err := m.Repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Order{}, common.NotFound("order not found")
		}
		return Order{}, err
	}
	return o, nil
}

// Get loads an order on behalf of actor.
func (m *Manager) Get(ctx context.Context, actor *common.Principal, id uuid.UUID) (Order, error) {
	o, err := m.load(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !o.VisibleTo(actor) {
		return Order{}, common.Forbidden("not authorized to access this order")
	}
	return o, nil
}

// GetByNumber loads an order by its public number without an ownership check.
func (m *Manager) GetByNumber(ctx context.Context, number string) (Order, error) {
	o, err := m.Repo.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Order{}, common.NotFound("order not found")
		}
		return Order{}, err
	}
	return o, nil
}

// AssociateGuest attaches the guest orders placed under the actor's email to
// the actor's account. The email always comes from the verified token.
func (m *Manager) AssociateGuest(ctx context.Context, actor common.Principal) (int, error) {
	if actor.UserID == "" {
		return 0, common.Unauthorized("authentication required")
	}
	email := strings.TrimSpace(actor.Email)
	if email == "" {
		return 0, common.ValidationError("account has no email address")
	}
	n, err := m.Repo.AssignGuestOrders(ctx, email, actor.UserID)
	if err != nil {
		return 0, fmt.Errorf("associate guest orders: %w", err)
	}
	m.Logger.Info().Str("user_id", actor.UserID).Int("count", n).Msg("guest orders associated")
	return n, nil
}

// List returns the caller's orders, newest first.
func (m *Manager) List(ctx context.Context, actor common.Principal, page, limit int) ([]Order, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return m.Repo.ListByUser(ctx, actor.UserID, limit, (page-1)*limit)
}

// TransitionStatus moves an order forward. Admins may apply any legal
// transition; owners may only cancel while payment is outstanding.
func (m *Manager) TransitionStatus(ctx context.Context, actor common.Principal, id uuid.UUID, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, common.ValidationError("unsupported status")
	}
	o, err := m.load(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !actor.IsAdmin() {
		if o.IsGuest() || o.Owner() != actor.UserID {
			return Order{}, common.Forbidden("not authorized to update this order")
		}
		if to != StatusCancelled || !Cancellable(o.Status) {
			return Order{}, common.ValidationError(fmt.Sprintf("order cannot be moved to %s", to))
		}
	}
	if !CanTransition(o.Status, to) {
		return Order{}, common.Conflict(fmt.Sprintf("cannot transition order from %s to %s", o.Status, to))
	}
	u := ConditionalUpdate{
		FromStatuses: []Status{o.Status},
		Status:       &to,
	}
	settle := actor.IsAdmin() && settles(o, to)
	if settle {
		now := m.now()
		paid := PaymentSucceeded
		u.FromPaymentStatuses = []PaymentStatus{o.PaymentStatus}
		u.PaymentStatus = &paid
		u.PaidAt = &now
	}
	updated, applied, err := m.Repo.UpdateIf(ctx, id, u)
	if err != nil {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}
	if !applied {
		return Order{}, common.Conflict("order status changed concurrently")
	}
	m.Logger.Info().
		Str("order_id", id.String()).
		Str("from", string(o.Status)).
		Str("to", string(to)).
		Str("actor", actor.UserID).
		Bool("payment_settled", settle).
		Msg("order status transitioned")
	if settle && m.Settled != nil {
		m.Settled(ctx, updated)
	}
	return updated, nil
}

// settles reports whether moving o to `to` confirms a payment that has not
// been recorded yet: marking it paid, or releasing a bank transfer order
// that was awaiting manual reconciliation.
func settles(o Order, to Status) bool {
	if !CanTransitionPayment(o.PaymentStatus, PaymentSucceeded) {
		return false
	}
	return to == StatusPaid || (to == StatusProcessing && o.Status == StatusPendingPayment)
}

// PaymentOutcome is the order-facing part of a payment attempt.
type PaymentOutcome struct {
	Success       bool
	TransactionID string
	PaymentStatus PaymentStatus
	Status        Status
	BankTransfer  *BankTransfer
}

// ApplyPaymentOutcome records a successful attempt while the order is still
// awaiting payment. A failed attempt leaves the order untouched.
func (m *Manager) ApplyPaymentOutcome(ctx context.Context, id uuid.UUID, out PaymentOutcome) (Order, bool, error) {
	if !out.Success {
		o, err := m.load(ctx, id)
		return o, false, err
	}
	u := ConditionalUpdate{
		FromStatuses:        []Status{StatusPending},
		FromPaymentStatuses: []PaymentStatus{PaymentPending},
		BankTransfer:        out.BankTransfer,
	}
	if out.Status != "" {
		u.Status = &out.Status
	}
	if out.PaymentStatus != "" {
		u.PaymentStatus = &out.PaymentStatus
	}
	if out.TransactionID != "" {
		u.TransactionID = &out.TransactionID
	}
	if out.PaymentStatus == PaymentSucceeded {
		now := m.now()
		u.PaidAt = &now
	}
	return m.updateIf(ctx, id, u)
}

// MarkPaymentSucceeded settles an order. It applies at most once: a replay
// finds the payment already succeeded and reports applied=false.
func (m *Manager) MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, transactionID string) (Order, bool, error) {
	now := m.now()
	paid := PaymentSucceeded
	processing := StatusProcessing
	u := ConditionalUpdate{
		FromStatuses:        []Status{StatusPending, StatusPendingPayment, StatusProcessing},
		FromPaymentStatuses: []PaymentStatus{PaymentPending, PaymentFailed},
		Status:              &processing,
		PaymentStatus:       &paid,
		PaidAt:              &now,
	}
	if transactionID != "" {
		u.TransactionID = &transactionID
	}
	return m.updateIf(ctx, id, u)
}

// MarkPaymentFailed fails and cancels an order still awaiting payment.
func (m *Manager) MarkPaymentFailed(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	failed := PaymentFailed
	cancelled := StatusCancelled
	return m.updateIf(ctx, id, ConditionalUpdate{
		FromStatuses:        []Status{StatusPending, StatusPendingPayment},
		FromPaymentStatuses: []PaymentStatus{PaymentPending},
		Status:              &cancelled,
		PaymentStatus:       &failed,
	})
}

// AttachPaymentIntent records the provider intent used to pay a pending order.
func (m *Manager) AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) (Order, bool, error) {
	return m.updateIf(ctx, id, ConditionalUpdate{
		FromPaymentStatuses: []PaymentStatus{PaymentPending, PaymentFailed},
		PaymentIntentID:     &intentID,
	})
}

func (m *Manager) updateIf(ctx context.Context, id uuid.UUID, u ConditionalUpdate) (Order, bool, error) {
	o, applied, err := m.Repo.UpdateIf(ctx, id, u)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Order{}, false, common.NotFound("order not found")
		}
		return Order{}, false, fmt.Errorf("conditional order update: %w", err)
	}
	return o, applied, nil
}

// HasPurchased reports whether userID has a settled order containing productID.
func (m *Manager) HasPurchased(ctx context.Context, userID, productID string) (bool, error) {
	const page = 100
	for offset := 0; ; offset += page {
		orders, total, err := m.Repo.ListByUser(ctx, userID, page, offset)
		if err != nil {
			return false, err
		}
		for _, o := range orders {
			if o.PaymentStatus != PaymentSucceeded {
				continue
			}
			for _, it := range o.Items {
				if it.ProductID == productID {
					return true, nil
				}
			}
		}
		if len(orders) == 0 || offset+len(orders) >= total {
			return false, nil
		}
	}
}
