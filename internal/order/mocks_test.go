package order

import (
	"context"
	"encoding/json"

	"digishop-be/internal/db"
	"digishop-be/internal/product"

	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) TouchUnpaid(ctx context.Context, q db.DBTX, userID int64) (*Order, error) {
	args := m.Called(ctx, q, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) GetByID(ctx context.Context, q db.DBTX, orderID int64) (*Order, error) {
	args := m.Called(ctx, q, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) GetLines(ctx context.Context, q db.DBTX, orderID int64) ([]Line, error) {
	args := m.Called(ctx, q, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Line), args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, q db.DBTX, userID int64) (int64, error) {
	args := m.Called(ctx, q, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) AddLines(ctx context.Context, q db.DBTX, orderID int64, lines []Line) error {
	return m.Called(ctx, q, orderID, lines).Error(0)
}

func (m *MockRepository) SoftDelete(ctx context.Context, q db.DBTX, orderID int64) error {
	return m.Called(ctx, q, orderID).Error(0)
}

func (m *MockRepository) SaveRequirements(ctx context.Context, q db.DBTX, orderID int64, reqs Requirements) error {
	return m.Called(ctx, q, orderID, reqs).Error(0)
}

func (m *MockRepository) SetRequirement(ctx context.Context, q db.DBTX, orderID int64, name string, payload json.RawMessage) error {
	return m.Called(ctx, q, orderID, name, payload).Error(0)
}

func (m *MockRepository) CalcPrice(ctx context.Context, q db.DBTX, orderID int64) (int64, error) {
	args := m.Called(ctx, q, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) MarkPaid(ctx context.Context, q db.DBTX, orderID int64, info PaidInfo) error {
	return m.Called(ctx, q, orderID, info).Error(0)
}

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetByID(ctx context.Context, q db.DBTX, id int64) (*product.Product, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Product), args.Error(1)
}

func (m *MockProductRepository) GetSummaries(ctx context.Context, q db.DBTX, ids []int64) ([]product.Summary, error) {
	args := m.Called(ctx, q, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]product.Summary), args.Error(1)
}

type MockReservable struct {
	mock.Mock
	product *product.Product
	req     string
}

func (m *MockReservable) Product() *product.Product { return m.product }
func (m *MockReservable) Requirement() string       { return m.req }

func (m *MockReservable) Stock(ctx context.Context, q db.DBTX) (int, error) {
	args := m.Called(ctx, q)
	return args.Int(0), args.Error(1)
}

func (m *MockReservable) Reserve(ctx context.Context, q db.DBTX, count int, orderID int64) error {
	return m.Called(ctx, q, count, orderID).Error(0)
}

func (m *MockReservable) Release(ctx context.Context, q db.DBTX, count int, orderID int64) error {
	return m.Called(ctx, q, count, orderID).Error(0)
}

// mapResolver resolves by product id.
type mapResolver map[int64]product.Reservable

func (r mapResolver) Resolve(p *product.Product) (product.Reservable, bool) {
	res, ok := r[p.ID]
	return res, ok
}

// fakeTransactor runs fn without a real connection and records the outcome.
type fakeTransactor struct {
	committed  int
	rolledBack int
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn func(q db.DBTX) error) error {
	if err := fn(nil); err != nil {
		f.rolledBack++
		return err
	}
	f.committed++
	return nil
}
