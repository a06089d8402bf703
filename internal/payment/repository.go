package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Record marks a Sep transaction reference as verified. It is written once
// and never updated.
type Record struct {
	RefNum      string
	PaymentDate time.Time
}

// Repository stores verification records. Save must be enforced by a unique
// constraint on RefNum; the database decides races between verifiers.
type Repository interface {
	Exists(ctx context.Context, refNum string) (bool, error)
	Save(ctx context.Context, rec Record) error
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Exists(ctx context.Context, refNum string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sep_payments WHERE refnum = $1)`, refNum,
	).Scan(&exists)
	return exists, err
}

func (r *repository) Save(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sep_payments (refnum, payment_date)
		VALUES ($1, $2)
	`, rec.RefNum, rec.PaymentDate.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == PgUniqueViolation {
			return ErrDuplicateVerification
		}
		return fmt.Errorf("save verification record: %w", err)
	}
	return nil
}

// PurgeBefore deletes records whose payment date is older than before. Such
// transactions can no longer pass the freshness check, so their records are
// not needed for deduplication.
func (r *repository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sep_payments WHERE payment_date < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CardRepository lists the full card numbers a user registered for payment.
type CardRepository interface {
	ListAuthorizedCards(ctx context.Context, userID int64) ([]string, error)
}

type cardRepository struct {
	db *sql.DB
}

func NewCardRepository(db *sql.DB) CardRepository {
	return &cardRepository{db: db}
}

func (r *cardRepository) ListAuthorizedCards(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT card_number FROM user_cards WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}
