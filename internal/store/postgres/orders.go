package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/store"
)

var _ order.Repository = (*Orders)(nil)

const orderColumns = `id, order_number, user_id, email, items, shipping_address, billing_address,
	subtotal, shipping_cost, tax, discount, discount_code, total, currency,
	payment_method, payment_status, status, transaction_id, payment_intent_id,
	bank_transfer, paid_at, created_at, updated_at`

// Orders implements order.Repository. Conditional updates are single
// UPDATE ... WHERE ... RETURNING statements.
type Orders struct {
	DB Querier
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o                                        order.Order
		subtotal, shipping, tax, discount, total pgtype.Numeric
		paymentStatus, status                    string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.Email, &o.Items, &o.ShippingAddress, &o.BillingAddress,
		&subtotal, &shipping, &tax, &discount, &o.DiscountCode, &total, &o.Currency,
		&o.PaymentMethod, &paymentStatus, &status, &o.TransactionID, &o.PaymentIntentID,
		&o.BankTransfer, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, mapError(err)
	}
	o.Subtotal = fromNumeric(subtotal)
	o.ShippingCost = fromNumeric(shipping)
	o.Tax = fromNumeric(tax)
	o.Discount = fromNumeric(discount)
	o.Total = fromNumeric(total)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	return o, nil
}

func (r *Orders) Insert(ctx context.Context, o order.Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		o.ID, o.Number, o.UserID, o.Email, o.Items, o.ShippingAddress, o.BillingAddress,
		numeric(o.Subtotal), numeric(o.ShippingCost), numeric(o.Tax), numeric(o.Discount), o.DiscountCode,
		numeric(o.Total), o.Currency, o.PaymentMethod, string(o.PaymentStatus), string(o.Status),
		o.TransactionID, o.PaymentIntentID, o.BankTransfer, o.PaidAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.Number, mapError(err))
	}
	return nil
}

func (r *Orders) Get(ctx context.Context, id uuid.UUID) (order.Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *Orders) GetByNumber(ctx context.Context, number string) (order.Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number))
}

func (r *Orders) ListByUser(ctx context.Context, userID string, limit, offset int) ([]order.Order, int, error) {
	var total int
	if err := r.DB.QueryRow(ctx, `SELECT count(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *Orders) UpdateIf(ctx context.Context, id uuid.UUID, u order.ConditionalUpdate) (order.Order, bool, error) {
	var status, paymentStatus *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	if u.PaymentStatus != nil {
		s := string(*u.PaymentStatus)
		paymentStatus = &s
	}
	row := r.DB.QueryRow(ctx, `
		UPDATE orders SET
			status            = COALESCE($2::text, status),
			payment_status    = COALESCE($3::text, payment_status),
			transaction_id    = COALESCE($4::text, transaction_id),
			payment_intent_id = COALESCE($5::text, payment_intent_id),
			paid_at           = COALESCE($6::timestamptz, paid_at),
			bank_transfer     = COALESCE($7::jsonb, bank_transfer),
			updated_at        = now()
		WHERE id = $1
			AND (cardinality($8::text[]) = 0 OR status = ANY($8::text[]))
			AND (cardinality($9::text[]) = 0 OR payment_status = ANY($9::text[]))
		RETURNING `+orderColumns,
		id, status, paymentStatus, u.TransactionID, u.PaymentIntentID, u.PaidAt, u.BankTransfer,
		u.StatusStrings(), u.PaymentStatusStrings(),
	)
	updated, err := scanOrder(row)
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return order.Order{}, false, fmt.Errorf("conditional update %s: %w", id, err)
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return order.Order{}, false, err
	}
	return current, false, nil
}

func (r *Orders) AssignGuestOrders(ctx context.Context, email, userID string) (int, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET user_id = $1, updated_at = now()
		WHERE (user_id IS NULL OR user_id = '') AND lower(email) = lower($2)`,
		userID, email)
	if err != nil {
		return 0, fmt.Errorf("assign guest orders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
