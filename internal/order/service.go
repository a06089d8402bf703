package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"digishop-be/internal/db"
	"digishop-be/internal/logger"
	"digishop-be/internal/metrics"
	"digishop-be/internal/product"

	"go.uber.org/zap"
)

type Service interface {
	// SubmitOrder replaces the user's unpaid order with one built from cart.
	// It returns nil on success.
	SubmitOrder(ctx context.Context, userID int64, cart []CartItem) *OrderError
	GetUnpaidOrderCheckoutDetails(ctx context.Context, userID int64) (*CheckoutDetail, bool)
	// SubmitRequirement stores payload under name on the unpaid order. The
	// error is ErrNoUnpaidOrder when the user has no unpaid order.
	SubmitRequirement(ctx context.Context, userID int64, name string, payload json.RawMessage) (bool, error)
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	MarkPaid(ctx context.Context, orderID int64, info PaidInfo) error
}

// Resolver picks the reservation strategy of a product.
type Resolver interface {
	Resolve(p *product.Product) (product.Reservable, bool)
}

type service struct {
	db       db.DBTX
	tx       db.Transactor
	orders   Repository
	products product.Repository
	resolver Resolver
	metrics  metrics.Recorder
}

func NewService(
	conn db.DBTX,
	tx db.Transactor,
	orders Repository,
	products product.Repository,
	resolver Resolver,
	rec metrics.Recorder,
) Service {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &service{
		db:       conn,
		tx:       tx,
		orders:   orders,
		products: products,
		resolver: resolver,
		metrics:  rec,
	}
}

type reservation struct {
	item  product.Reservable
	count int
}

/* ---------- SUBMIT ORDER ---------- */

func (s *service) SubmitOrder(ctx context.Context, userID int64, cart []CartItem) *OrderError {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "SubmitOrder"),
		zap.Int64("user_id", userID),
	)

	// rejected is a validation failure; the discard of the prior unpaid
	// order still commits with it.
	var rejected *OrderError

	err := s.tx.WithTx(ctx, func(q db.DBTX) error {
		carried := Requirements{}
		prev, err := s.orders.TouchUnpaid(ctx, q, userID)
		if err != nil {
			return fmt.Errorf("load unpaid order: %w", err)
		}
		if prev != nil {
			carried = prev.Requirements.Supplied()
			if err := s.discard(ctx, q, prev); err != nil {
				return err
			}
		}

		if len(cart) == 0 {
			return nil
		}

		reservations := make([]reservation, 0, len(cart))
		for _, item := range cart {
			r, oerr := s.validate(ctx, q, item)
			if oerr != nil {
				if oerr.ID == ErrSaveError {
					return oerr
				}
				rejected = oerr
				return nil
			}
			reservations = append(reservations, reservation{item: r, count: item.Count})
		}

		return s.save(ctx, q, userID, reservations, carried)
	})
	if err == nil && rejected != nil {
		err = rejected
	}

	var oerr *OrderError
	switch {
	case err == nil:
		s.metrics.OrderSubmission("ok")
		log.Info("order submitted", zap.Int("lines", len(cart)))
		return nil
	case errors.As(err, &oerr):
		s.metrics.OrderSubmission(string(oerr.ID))
		return oerr
	default:
		s.metrics.OrderSubmission(string(ErrSaveError))
		log.Error("Order save failed", zap.Error(err))
		return &OrderError{ID: ErrSaveError}
	}
}

// discard soft deletes prev and gives its reserved stock back.
func (s *service) discard(ctx context.Context, q db.DBTX, prev *Order) error {
	log := logger.FromCtx(ctx).With(zap.Int64("order_id", prev.ID))

	lines, err := s.orders.GetLines(ctx, q, prev.ID)
	if err != nil {
		return fmt.Errorf("load lines of order %d: %w", prev.ID, err)
	}

	for _, l := range lines {
		p, err := s.products.GetByID(ctx, q, l.ProductID)
		if errors.Is(err, product.ErrProductNotFound) {
			log.Warn("product of unpaid order no longer exists", zap.Int64("product_id", l.ProductID))
			continue
		}
		if err != nil {
			return err
		}

		r, ok := s.resolver.Resolve(p)
		if !ok {
			log.Warn("no handler to release product", zap.Int64("product_id", p.ID), zap.String("type", p.TypeName))
			continue
		}
		if err := r.Release(ctx, q, l.Count, prev.ID); err != nil {
			return err
		}
	}

	if err := s.orders.SoftDelete(ctx, q, prev.ID); err != nil {
		return fmt.Errorf("delete order %d: %w", prev.ID, err)
	}
	return nil
}

func (s *service) validate(ctx context.Context, q db.DBTX, item CartItem) (product.Reservable, *OrderError) {
	log := logger.FromCtx(ctx).With(zap.Int64("product_id", item.ProductID))

	p, err := s.products.GetByID(ctx, q, item.ProductID)
	if err != nil && !errors.Is(err, product.ErrProductNotFound) {
		log.Error("failed to load product", zap.Error(err))
		return nil, &OrderError{ID: ErrSaveError}
	}
	if err != nil || item.Count <= 0 {
		log.Info("[CLIENT_ERROR] Product not found", zap.Int("count", item.Count))
		return nil, &OrderError{ID: ErrInvalidID, Info: &ErrorInfo{ProductID: item.ProductID}}
	}

	info := &ErrorInfo{ProductID: p.ID, ProductTitle: p.Title}

	r, ok := s.resolver.Resolve(p)
	if !ok {
		log.Info("[CLIENT_ERROR] No handler for product", zap.String("title", p.Title), zap.String("type", p.TypeName))
		return nil, &OrderError{ID: ErrNoProductHandler, Info: info}
	}

	stock, err := r.Stock(ctx, q)
	if err != nil {
		log.Error("failed to read stock", zap.Error(err))
		return nil, &OrderError{ID: ErrSaveError}
	}

	if stock == 0 {
		log.Info("[CLIENT_ERROR] Product is out of stock", zap.String("title", p.Title))
		return nil, &OrderError{ID: ErrOutOfStock, Info: info}
	}

	if stock > 0 && item.Count > stock {
		log.Info("[CLIENT_ERROR] Product stock is below requested count",
			zap.String("title", p.Title),
			zap.Int("count", item.Count),
			zap.Int("stock", stock),
		)
		info.Stock = &stock
		return nil, &OrderError{ID: ErrLowStock, Info: info}
	}

	return r, nil
}

func (s *service) save(ctx context.Context, q db.DBTX, userID int64, reservations []reservation, carried Requirements) error {
	orderID, err := s.orders.Create(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	lines := make([]Line, 0, len(reservations))
	for _, r := range reservations {
		lines = append(lines, Line{ProductID: r.item.Product().ID, Count: r.count})
	}
	if err := s.orders.AddLines(ctx, q, orderID, lines); err != nil {
		return err
	}

	for _, r := range reservations {
		if err := r.item.Reserve(ctx, q, r.count, orderID); err != nil {
			return fmt.Errorf("reserve product %d: %w", r.item.Product().ID, err)
		}
	}

	reqs := mergeRequirements(reservations, carried)
	if len(reqs) == 0 {
		return nil
	}
	return s.orders.SaveRequirements(ctx, q, orderID, reqs)
}

// mergeRequirements declares every requirement the lines demand, filled
// with carried values where the buyer already supplied them.
func mergeRequirements(reservations []reservation, carried Requirements) Requirements {
	reqs := Requirements{}
	for _, r := range reservations {
		name := r.item.Requirement()
		if name == "" {
			continue
		}
		reqs[name] = carried[name]
	}
	return reqs
}

/* ---------- CHECKOUT ---------- */

func (s *service) GetUnpaidOrderCheckoutDetails(ctx context.Context, userID int64) (*CheckoutDetail, bool) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "GetUnpaidOrderCheckoutDetails"),
		zap.Int64("user_id", userID),
	)

	o, err := s.orders.TouchUnpaid(ctx, s.db, userID)
	if err != nil {
		log.Error("failed to load unpaid order", zap.Error(err))
		return nil, false
	}
	if o == nil {
		log.Info("[CLIENT_ERROR] Order not found")
		return nil, false
	}

	price, err := s.orders.CalcPrice(ctx, s.db, o.ID)
	if err != nil {
		log.Error("failed to calculate order price", zap.Int64("order_id", o.ID), zap.Error(err))
		return nil, false
	}

	return &CheckoutDetail{
		OrderID:      o.ID,
		Price:        price,
		Requirements: o.Requirements,
	}, true
}

/* ---------- REQUIREMENTS ---------- */

func (s *service) SubmitRequirement(ctx context.Context, userID int64, name string, payload json.RawMessage) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "SubmitRequirement"),
		zap.Int64("user_id", userID),
		zap.String("requirement", name),
	)

	o, err := s.orders.TouchUnpaid(ctx, s.db, userID)
	if err != nil {
		log.Error("failed to load unpaid order", zap.Error(err))
		return false, nil
	}
	if o == nil {
		log.Info("[CLIENT_ERROR] Order not found")
		return false, ErrNoUnpaidOrder
	}

	if !o.Requirements.Declares(name) {
		log.Info("[CLIENT_ERROR] Requirement is not included in the order requirements",
			zap.Strings("requirements", requirementNames(o.Requirements)),
		)
		return false, nil
	}

	if !json.Valid(payload) {
		log.Info("[CLIENT_ERROR] Requirement payload is not valid JSON")
		return false, nil
	}

	if err := s.orders.SetRequirement(ctx, s.db, o.ID, name, payload); err != nil {
		log.Error("failed to save requirement", zap.Int64("order_id", o.ID), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func requirementNames(r Requirements) []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

/* ---------- PAYMENT ---------- */

func (s *service) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	return s.orders.GetByID(ctx, s.db, orderID)
}

func (s *service) MarkPaid(ctx context.Context, orderID int64, info PaidInfo) error {
	if err := s.orders.MarkPaid(ctx, s.db, orderID, info); err != nil {
		logger.FromCtx(ctx).Error("failed to mark order paid",
			zap.Int64("order_id", orderID),
			zap.String("ref_num", info.RefNum),
			zap.Error(err),
		)
		return err
	}
	return nil
}
