package product

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stockTable applies the reservation statements under one lock, the way a
// row lock serializes them in Postgres.
type stockTable struct {
	mu    sync.Mutex
	stock map[int64]int
	// free gift card codes per product
	codes map[int64]int
}

func (s *stockTable) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.Contains(query, "stock - $1"):
		count, id := args[0].(int), args[1].(int64)
		cur := s.stock[id]
		if cur >= 0 && cur < count {
			return driver.RowsAffected(0), nil
		}
		if cur >= 0 {
			s.stock[id] = cur - count
		}
		return driver.RowsAffected(1), nil
	case strings.Contains(query, "SET order_id = $1"):
		id, count := args[1].(int64), args[2].(int)
		n := count
		if s.codes[id] < n {
			n = s.codes[id]
		}
		s.codes[id] -= n
		return driver.RowsAffected(n), nil
	}
	return nil, errors.New("unexpected statement")
}

func (s *stockTable) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (s *stockTable) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

// reserveConcurrently fires callers reservations of one unit at r and
// returns how many succeeded.
func reserveConcurrently(t *testing.T, r Reservable, q *stockTable, callers int) int32 {
	t.Helper()
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			<-start
			err := r.Reserve(context.Background(), q, 1, orderID)
			switch {
			case err == nil:
				successes.Add(1)
			case !errors.Is(err, ErrInsufficientStock):
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	close(start)
	wg.Wait()
	return successes.Load()
}

func TestReserve_ConcurrentCallersNeverOversell(t *testing.T) {
	const callers = 20

	t.Run("Counter stock", func(t *testing.T) {
		q := &stockTable{stock: map[int64]int{1: 3}}

		assert.Equal(t, int32(3), reserveConcurrently(t, newGame(1), q, callers))
		assert.Equal(t, 0, q.stock[1])
	})

	t.Run("Unlimited stock", func(t *testing.T) {
		q := &stockTable{stock: map[int64]int{1: -1}}

		assert.Equal(t, int32(callers), reserveConcurrently(t, newGame(1), q, callers))
		assert.Equal(t, -1, q.stock[1])
	})

	t.Run("Gift card codes", func(t *testing.T) {
		q := &stockTable{codes: map[int64]int{2: 4}}
		gift := &GiftCard{product: &Product{ID: 2, TypeName: "gift-card"}}

		assert.Equal(t, int32(4), reserveConcurrently(t, gift, q, callers))
		assert.Equal(t, 0, q.codes[2])
	})
}
