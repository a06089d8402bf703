package product

import (
	"context"
	"fmt"

	"digishop-be/internal/db"
)

// Reservable is the per-type stock contract. Every method runs on the
// caller's connection so reservations share the order's transaction.
type Reservable interface {
	Product() *Product
	// Stock returns the available units: 0 when sold out, negative when
	// unlimited.
	Stock(ctx context.Context, q db.DBTX) (int, error)
	// Reserve takes count units for orderID or fails without side effects.
	Reserve(ctx context.Context, q db.DBTX, count int, orderID int64) error
	// Release returns the units reserved for orderID.
	Release(ctx context.Context, q db.DBTX, count int, orderID int64) error
	// Requirement names the fulfillment data the buyer must supply, or "".
	Requirement() string
}

var requirements = map[string]string{
	"game-pc-steam":   "steam-user-pass-backup",
	"game-pc-epic":    "epic-email-pass",
	"game-pc-ubisoft": "ubisoft-email-pass",
	"steam-gem":       "steam-tradelink",
	"steam-tf2":       "steam-tradelink",
}

/* ---------- counter stock (games, steam items) ---------- */

// counter keeps stock as a number on the product row.
type counter struct {
	product     *Product
	requirement string
}

func (c *counter) Product() *Product   { return c.product }
func (c *counter) Requirement() string { return c.requirement }

func (c *counter) Stock(ctx context.Context, q db.DBTX) (int, error) {
	var stock int
	err := q.QueryRowContext(ctx,
		`SELECT stock FROM products WHERE id = $1`, c.product.ID,
	).Scan(&stock)
	if err != nil {
		return 0, fmt.Errorf("read stock of product %d: %w", c.product.ID, err)
	}
	return stock, nil
}

// Reserve re-checks and decrements in one statement; the row lock taken by
// the UPDATE serializes concurrent reservations of the same product.
func (c *counter) Reserve(ctx context.Context, q db.DBTX, count int, orderID int64) error {
	if count <= 0 {
		return ErrInvalidCount
	}

	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = CASE WHEN stock < 0 THEN stock ELSE stock - $1 END
		WHERE id = $2 AND (stock < 0 OR stock >= $1)
	`, count, c.product.ID)
	if err != nil {
		return fmt.Errorf("reserve product %d: %w", c.product.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrInsufficientStock
	}
	return nil
}

func (c *counter) Release(ctx context.Context, q db.DBTX, count int, orderID int64) error {
	if count <= 0 {
		return ErrInvalidCount
	}

	_, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $1
		WHERE id = $2 AND stock >= 0
	`, count, c.product.ID)
	if err != nil {
		return fmt.Errorf("release product %d: %w", c.product.ID, err)
	}
	return nil
}

type Game struct{ counter }

type Steam struct{ counter }

/* ---------- code stock (gift cards) ---------- */

// GiftCard keeps stock as individual codes; a code is reserved by pointing
// it at an order.
type GiftCard struct {
	product *Product
}

func (g *GiftCard) Product() *Product   { return g.product }
func (g *GiftCard) Requirement() string { return "" }

func (g *GiftCard) Stock(ctx context.Context, q db.DBTX) (int, error) {
	var stock int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM giftcard_codes WHERE product_id = $1 AND order_id IS NULL`,
		g.product.ID,
	).Scan(&stock)
	if err != nil {
		return 0, fmt.Errorf("count codes of product %d: %w", g.product.ID, err)
	}
	return stock, nil
}

// Reserve skips codes locked by concurrent reservations instead of waiting
// on them, so a short assignment means the stock ran out.
func (g *GiftCard) Reserve(ctx context.Context, q db.DBTX, count int, orderID int64) error {
	if count <= 0 {
		return ErrInvalidCount
	}

	res, err := q.ExecContext(ctx, `
		UPDATE giftcard_codes
		SET order_id = $1
		WHERE id IN (
			SELECT id FROM giftcard_codes
			WHERE product_id = $2 AND order_id IS NULL
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
	`, orderID, g.product.ID, count)
	if err != nil {
		return fmt.Errorf("assign codes of product %d: %w", g.product.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(count) {
		return ErrInsufficientStock
	}
	return nil
}

func (g *GiftCard) Release(ctx context.Context, q db.DBTX, count int, orderID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE giftcard_codes
		SET order_id = NULL
		WHERE product_id = $1 AND order_id = $2
	`, g.product.ID, orderID)
	if err != nil {
		return fmt.Errorf("release codes of product %d: %w", g.product.ID, err)
	}
	return nil
}
