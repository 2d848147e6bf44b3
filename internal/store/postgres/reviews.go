package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/storefront-core/internal/reviews"
	"github.com/noah-isme/storefront-core/internal/store"
)

var _ reviews.Repository = (*Reviews)(nil)

const reviewColumns = `id, user_id, product_id, rating, title, comment, is_verified, is_approved,
	helpful_count, helpful_users, report_count, reports, created_at, updated_at`

var reviewOrder = map[reviews.Sort]string{
	reviews.SortNewest:      "created_at DESC",
	reviews.SortHighest:     "rating DESC, created_at DESC",
	reviews.SortLowest:      "rating ASC, created_at DESC",
	reviews.SortMostHelpful: "helpful_count DESC, created_at DESC",
}

// Reviews implements reviews.Repository. The (user_id, product_id) unique
// constraint backs the one-review-per-product rule.
type Reviews struct {
	DB Querier
}

func scanReview(row pgx.Row) (reviews.Review, error) {
	var r reviews.Review
	err := row.Scan(&r.ID, &r.UserID, &r.ProductID, &r.Rating, &r.Title, &r.Comment, &r.IsVerified, &r.IsApproved,
		&r.HelpfulCount, &r.HelpfulUsers, &r.ReportCount, &r.Reports, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return reviews.Review{}, mapError(err)
	}
	return r, nil
}

func collectReviews(rows pgx.Rows) ([]reviews.Review, error) {
	defer rows.Close()
	out := []reviews.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *Reviews) Insert(ctx context.Context, r reviews.Review) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.UserID, r.ProductID, r.Rating, r.Title, r.Comment, r.IsVerified, r.IsApproved,
		r.HelpfulCount, nonNil(r.HelpfulUsers), r.ReportCount, nonNil(r.Reports), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", mapError(err))
	}
	return nil
}

func (s *Reviews) Get(ctx context.Context, id uuid.UUID) (reviews.Review, error) {
	return scanReview(s.DB.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
}

func (s *Reviews) Update(ctx context.Context, r reviews.Review) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE reviews SET rating = $2, title = $3, comment = $4, is_verified = $5, is_approved = $6, updated_at = $7
		WHERE id = $1`,
		r.ID, r.Rating, r.Title, r.Comment, r.IsVerified, r.IsApproved, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update review %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Reviews) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Reviews) ListByProduct(ctx context.Context, q reviews.ListQuery) ([]reviews.Review, int, error) {
	var total int
	err := s.DB.QueryRow(ctx,
		`SELECT count(*) FROM reviews WHERE product_id = $1 AND (NOT $2 OR is_approved)`,
		q.ProductID, q.ApprovedOnly).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}
	orderBy, ok := reviewOrder[q.Sort]
	if !ok {
		orderBy = reviewOrder[reviews.SortNewest]
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE product_id = $1 AND (NOT $2 OR is_approved)
		ORDER BY `+orderBy+`
		LIMIT $3 OFFSET $4`, q.ProductID, q.ApprovedOnly, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	out, err := collectReviews(rows)
	return out, total, err
}

func (s *Reviews) ListByUser(ctx context.Context, userID string, limit, offset int) ([]reviews.Review, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM reviews WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	out, err := collectReviews(rows)
	return out, total, err
}

func (s *Reviews) ApprovedStats(ctx context.Context, productID string) (reviews.Stats, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT rating, count(*) FROM reviews
		WHERE product_id = $1 AND is_approved
		GROUP BY rating`, productID)
	if err != nil {
		return reviews.Stats{}, fmt.Errorf("review stats: %w", err)
	}
	defer rows.Close()
	sum := 0
	dist := map[int]int{}
	for rows.Next() {
		var star, n int
		if err := rows.Scan(&star, &n); err != nil {
			return reviews.Stats{}, err
		}
		dist[star] = n
		sum += star * n
	}
	if err := rows.Err(); err != nil {
		return reviews.Stats{}, err
	}
	return reviews.NewStats(sum, dist), nil
}

func (s *Reviews) AllProductIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT DISTINCT product_id FROM reviews ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("reviewed products: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Reviews) MarkHelpful(ctx context.Context, id uuid.UUID, userID string) (reviews.Review, bool, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE reviews SET
			helpful_users = array_append(helpful_users, $2::text),
			helpful_count = helpful_count + 1
		WHERE id = $1 AND NOT ($2::text = ANY(helpful_users))
		RETURNING `+reviewColumns, id, userID)
	return s.appliedOrCurrent(ctx, id, row)
}

func (s *Reviews) AddReport(ctx context.Context, id uuid.UUID, rep reviews.Report) (reviews.Review, bool, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE reviews SET
			reports = reports || jsonb_build_array($3::jsonb),
			report_count = report_count + 1
		WHERE id = $1 AND NOT reports @> jsonb_build_array(jsonb_build_object('userId', $2::text))
		RETURNING `+reviewColumns, id, rep.UserID, rep)
	return s.appliedOrCurrent(ctx, id, row)
}

// appliedOrCurrent resolves a guarded update: a returned row means it applied,
// no row means either a repeat or a missing review.
func (s *Reviews) appliedOrCurrent(ctx context.Context, id uuid.UUID, row pgx.Row) (reviews.Review, bool, error) {
	r, err := scanReview(row)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return reviews.Review{}, false, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return reviews.Review{}, false, err
	}
	return current, false, nil
}
