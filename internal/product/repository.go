package product

import (
	"context"
	"database/sql"
	"errors"

	"digishop-be/internal/db"

	"github.com/lib/pq"
)

type Repository interface {
	GetByID(ctx context.Context, q db.DBTX, id int64) (*Product, error)
	// GetSummaries skips ids that do not exist.
	GetSummaries(ctx context.Context, q db.DBTX, ids []int64) ([]Summary, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) GetByID(ctx context.Context, q db.DBTX, id int64) (*Product, error) {
	query := `
		SELECT
			p.id,
			b.title,
			COALESCE(pt.typename, ct.typename, ''),
			p.price_irt,
			p.stock
		FROM products p
		JOIN base_products b ON b.id = p.base_product_id
		JOIN product_categories c ON c.id = b.category_id
		LEFT JOIN product_types pt ON pt.id = p.product_type_id
		LEFT JOIN product_types ct ON ct.id = c.product_type_id
		WHERE p.id = $1
	`

	var p Product
	err := q.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Title, &p.TypeName, &p.Price, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetSummaries(ctx context.Context, q db.DBTX, ids []int64) ([]Summary, error) {
	query := `
		SELECT
			p.id,
			b.title,
			CASE
				WHEN p.non_rial_currency IS NOT NULL
					THEN CEIL(p.non_rial_value * c.toman_value)::BIGINT
				ELSE p.price_irt
			END,
			p.stock,
			b.cover_image
		FROM products p
		JOIN base_products b ON b.id = p.base_product_id
		LEFT JOIN currencies c ON c.unit = p.non_rial_currency
		WHERE p.id = ANY($1)
		ORDER BY p.id
	`

	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Title, &s.Price, &s.Stock, &s.Image); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
