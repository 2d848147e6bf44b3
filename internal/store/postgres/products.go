package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/store"
)

var _ catalog.Repository = (*Products)(nil)

const productColumns = `id, name, price, image, stock_quantity, in_stock, rating, num_reviews, updated_at`

// Products implements catalog.Repository.
type Products struct {
	DB Querier
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var (
		p     catalog.Product
		price pgtype.Numeric
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Image, &p.StockQuantity, &p.InStock, &p.Rating, &p.NumReviews, &p.UpdatedAt)
	if err != nil {
		return catalog.Product{}, mapError(err)
	}
	p.Price = fromNumeric(price)
	return p, nil
}

func (r *Products) Get(ctx context.Context, id string) (catalog.Product, error) {
	return scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *Products) List(ctx context.Context, limit, offset int) ([]catalog.Product, int, error) {
	var total int
	if err := r.DB.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	out := []catalog.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *Products) Upsert(ctx context.Context, p catalog.Product) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products (id, name, price, image, stock_quantity, in_stock, rating, num_reviews, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			image = EXCLUDED.image,
			stock_quantity = EXCLUDED.stock_quantity,
			in_stock = EXCLUDED.in_stock,
			updated_at = now()`,
		p.ID, p.Name, numeric(p.Price), p.Image, p.StockQuantity, p.InStock, p.Rating, p.NumReviews)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, mapError(err))
	}
	return nil
}

func (r *Products) UpdateRating(ctx context.Context, id string, rating float64, numReviews int) error {
	tag, err := r.DB.Exec(ctx,
		`UPDATE products SET rating = $2, num_reviews = $3, updated_at = now() WHERE id = $1`,
		id, rating, numReviews)
	if err != nil {
		return fmt.Errorf("update rating %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
