package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"digishop-be/internal/db"
)

// Repository methods run on the connection they are given, so the service
// decides which calls share a transaction.
type Repository interface {
	// TouchUnpaid locks the user's unpaid order and bumps last_modified.
	// It returns nil, nil when the user has none.
	TouchUnpaid(ctx context.Context, q db.DBTX, userID int64) (*Order, error)
	GetByID(ctx context.Context, q db.DBTX, orderID int64) (*Order, error)
	GetLines(ctx context.Context, q db.DBTX, orderID int64) ([]Line, error)
	Create(ctx context.Context, q db.DBTX, userID int64) (int64, error)
	AddLines(ctx context.Context, q db.DBTX, orderID int64, lines []Line) error
	SoftDelete(ctx context.Context, q db.DBTX, orderID int64) error
	SaveRequirements(ctx context.Context, q db.DBTX, orderID int64, reqs Requirements) error
	SetRequirement(ctx context.Context, q db.DBTX, orderID int64, name string, payload json.RawMessage) error
	CalcPrice(ctx context.Context, q db.DBTX, orderID int64) (int64, error)
	MarkPaid(ctx context.Context, q db.DBTX, orderID int64, info PaidInfo) error
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func scanOrder(row *sql.Row) (*Order, error) {
	var (
		o    Order
		reqs []byte
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.Status, &reqs, &o.LastModified); err != nil {
		return nil, err
	}
	if len(reqs) > 0 {
		if err := json.Unmarshal(reqs, &o.Requirements); err != nil {
			return nil, fmt.Errorf("decode requirements of order %d: %w", o.ID, err)
		}
	}
	if o.Requirements == nil {
		o.Requirements = Requirements{}
	}
	return &o, nil
}

func (r *repository) TouchUnpaid(ctx context.Context, q db.DBTX, userID int64) (*Order, error) {
	row := q.QueryRowContext(ctx, `
		UPDATE orders
		SET last_modified = NOW()
		WHERE user_id = $1 AND status = 'unpaid'
		RETURNING id, user_id, status, requirements, last_modified
	`, userID)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (r *repository) GetByID(ctx context.Context, q db.DBTX, orderID int64) (*Order, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, status, requirements, last_modified
		FROM orders
		WHERE id = $1
	`, orderID)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (r *repository) GetLines(ctx context.Context, q db.DBTX, orderID int64) ([]Line, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, count
		FROM order_products
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.Count); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) Create(ctx context.Context, q db.DBTX, userID int64) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, status, requirements, last_modified)
		VALUES ($1, 'unpaid', '{}'::jsonb, NOW())
		RETURNING id
	`, userID).Scan(&id)
	return id, err
}

func (r *repository) AddLines(ctx context.Context, q db.DBTX, orderID int64, lines []Line) error {
	for _, l := range lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_products (order_id, product_id, count)
			VALUES ($1, $2, $3)
		`, orderID, l.ProductID, l.Count)
		if err != nil {
			return fmt.Errorf("add product %d to order %d: %w", l.ProductID, orderID, err)
		}
	}
	return nil
}

func (r *repository) SoftDelete(ctx context.Context, q db.DBTX, orderID int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE orders SET status = 'deleted' WHERE id = $1`, orderID)
	return err
}

func (r *repository) SaveRequirements(ctx context.Context, q db.DBTX, orderID int64, reqs Requirements) error {
	b, err := json.Marshal(reqs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE orders SET requirements = $1::jsonb WHERE id = $2`, string(b), orderID)
	return err
}

func (r *repository) SetRequirement(ctx context.Context, q db.DBTX, orderID int64, name string, payload json.RawMessage) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET requirements = jsonb_set(requirements, ARRAY[$1::text], $2::jsonb, true),
			last_modified = NOW()
		WHERE id = $3 AND status = 'unpaid'
	`, name, string(payload), orderID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CalcPrice sums the lines at current prices. Foreign priced products are
// converted with the currency's toman value and rounded up per unit. A line
// that cannot be priced fails the whole computation.
func (r *repository) CalcPrice(ctx context.Context, q db.DBTX, orderID int64) (int64, error) {
	var lines, priced int
	var total int64

	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(unit_price), COALESCE(SUM(count * unit_price), 0)
		FROM (
			SELECT
				op.count,
				CASE
					WHEN p.non_rial_currency IS NOT NULL
						THEN CEIL(p.non_rial_value * c.toman_value)::BIGINT
					ELSE p.price_irt
				END AS unit_price
			FROM order_products op
			JOIN products p ON p.id = op.product_id
			LEFT JOIN currencies c ON c.unit = p.non_rial_currency
			WHERE op.order_id = $1
		) priced_lines
	`, orderID).Scan(&lines, &priced, &total)
	if err != nil {
		return 0, err
	}

	if lines == 0 || priced != lines {
		return 0, ErrPriceUnavailable
	}
	return total, nil
}

func (r *repository) MarkPaid(ctx context.Context, q db.DBTX, orderID int64, info PaidInfo) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = 'paid',
			paid_at = $2,
			ref_num = $3,
			paid_amount = $4,
			card_first_digits = $5,
			card_last_digits = $6,
			last_modified = NOW()
		WHERE id = $1 AND status = 'unpaid'
	`, orderID, info.PaidAt.UTC(), info.RefNum, info.Amount, info.CardFirstDigits, info.CardLastDigits)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotUnpaid
	}
	return nil
}
