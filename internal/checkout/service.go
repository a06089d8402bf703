package checkout

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"digishop-be/internal/logger"
	"digishop-be/internal/notify"
	"digishop-be/internal/order"
	"digishop-be/internal/payment"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomePaid       Outcome = "paid"
	OutcomeFailed     Outcome = "failed"
	OutcomeRejected   Outcome = "unauthorized_card"
	OutcomeUnverified Outcome = "unverified"
	OutcomeMismatch   Outcome = "amount_mismatch"
)

type Result struct {
	OrderID int64               `json:"order_id"`
	Outcome Outcome             `json:"outcome"`
	Card    *payment.MaskedCard `json:"card,omitempty"`
}

type Service interface {
	// StartPayment registers the user's unpaid order with the gateway and
	// returns the URL the buyer is redirected to.
	StartPayment(ctx context.Context, userID int64, mobile string) (string, error)
	// CompletePayment handles the gateway callback for an order.
	CompletePayment(ctx context.Context, callback map[string]string) (*Result, error)
}

type service struct {
	orders  order.Service
	gateway payment.Gateway
	cards   payment.CardRepository
	alerter notify.Alerter
	now     func() time.Time
}

func NewService(orders order.Service, gateway payment.Gateway, cards payment.CardRepository, alerter notify.Alerter) Service {
	if alerter == nil {
		alerter = notify.Nop{}
	}
	return &service{
		orders:  orders,
		gateway: gateway,
		cards:   cards,
		alerter: alerter,
		now:     time.Now,
	}
}

/* ---------- START ---------- */

func (s *service) StartPayment(ctx context.Context, userID int64, mobile string) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "StartPayment"),
		zap.Int64("user_id", userID),
	)

	detail, ok := s.orders.GetUnpaidOrderCheckoutDetails(ctx, userID)
	if !ok {
		return "", ErrNoCheckout
	}

	if missing := missingRequirements(detail.Requirements); len(missing) > 0 {
		log.Info("[CLIENT_ERROR] Payment requested before requirements were supplied",
			zap.Strings("missing", missing))
		return "", fmt.Errorf("%w: %v", ErrRequirementsMissing, missing)
	}

	token, ok := s.gateway.RequestPayment(ctx, strconv.FormatInt(detail.OrderID, 10), detail.Price, mobile)
	if !ok {
		return "", ErrGatewayUnavailable
	}

	log.Info("payment started", zap.Int64("order_id", detail.OrderID), zap.Int64("price", detail.Price))
	return s.gateway.PaymentURL(token), nil
}

func missingRequirements(reqs order.Requirements) []string {
	supplied := reqs.Supplied()
	var missing []string
	for name := range reqs {
		if _, ok := supplied[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

/* ---------- COMPLETE ---------- */

func (s *service) CompletePayment(ctx context.Context, callback map[string]string) (*Result, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CompletePayment"),
		zap.String("res_num", callback["ResNum"]),
		zap.String("ref_num", callback["RefNum"]),
	)

	orderID, err := strconv.ParseInt(callback["ResNum"], 10, 64)
	if err != nil {
		log.Info("[CLIENT_ERROR] Callback has no valid order reference")
		return nil, ErrInvalidCallback
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		log.Info("[CLIENT_ERROR] Callback order not found", zap.Error(err))
		return nil, ErrInvalidCallback
	}
	if o.Status != order.StatusUnpaid {
		log.Warn("Callback for an order that is not unpaid", zap.String("status", string(o.Status)))
		return nil, ErrOrderNotPayable
	}

	ctx = logger.WithUserID(ctx, o.UserID)

	cards, err := s.cards.ListAuthorizedCards(ctx, o.UserID)
	if err != nil {
		log.Error("failed to load authorized cards", zap.Error(err))
		return nil, err
	}

	result := &Result{OrderID: o.ID}

	switch s.gateway.IsPaymentVerifiable(ctx, callback, cards) {
	case payment.StatusOK:
	case payment.StatusPaymentFailed:
		result.Outcome = OutcomeFailed
		return result, nil
	case payment.StatusUnauthorizedCard:
		result.Outcome = OutcomeRejected
		return result, nil
	default:
		result.Outcome = OutcomeUnverified
		return result, nil
	}

	refNum := callback["RefNum"]
	if refNum == "" {
		log.Info("[CLIENT_ERROR] Callback is missing RefNum")
		result.Outcome = OutcomeUnverified
		return result, nil
	}

	verified, ok := s.gateway.VerifyPayment(ctx, refNum)
	if !ok {
		result.Outcome = OutcomeUnverified
		return result, nil
	}
	result.Card = &verified.Card

	// The gateway has settled the payment from here on; any failure below
	// needs an operator.
	detail, ok := s.orders.GetUnpaidOrderCheckoutDetails(ctx, o.UserID)
	if !ok || detail.OrderID != o.ID {
		log.Error("verified payment for an order that can no longer be priced")
		s.alerter.Alert(ctx, notify.SeverityCritical,
			fmt.Sprintf("Verified payment %s for order %d could not be matched to the unpaid order", refNum, o.ID))
		result.Outcome = OutcomeMismatch
		return result, nil
	}

	expected := s.gateway.PayableAmount(detail.Price)
	if verified.PaidAmount < expected {
		log.Error("paid amount is below the order price",
			zap.Int64("paid", verified.PaidAmount),
			zap.Int64("expected", expected),
		)
		s.alerter.Alert(ctx, notify.SeverityCritical,
			fmt.Sprintf("Payment %s for order %d paid %d, expected %d", refNum, o.ID, verified.PaidAmount, expected))
		result.Outcome = OutcomeMismatch
		return result, nil
	}

	err = s.orders.MarkPaid(ctx, o.ID, order.PaidInfo{
		RefNum:          refNum,
		Amount:          verified.PaidAmount,
		CardFirstDigits: verified.Card.FirstDigits,
		CardLastDigits:  verified.Card.LastDigits,
		PaidAt:          s.now(),
	})
	if err != nil {
		s.alerter.Alert(ctx, notify.SeverityCritical,
			fmt.Sprintf("Verified payment %s could not be recorded on order %d", refNum, o.ID))
		return nil, fmt.Errorf("mark order %d paid: %w", o.ID, err)
	}

	log.Info("order paid", zap.Int64("order_id", o.ID), zap.Int64("amount", verified.PaidAmount))
	result.Outcome = OutcomePaid
	return result, nil
}
