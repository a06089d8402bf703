package payment

import (
	"context"
	"encoding/json"
)

// Gateway is a third party payment gateway. Every method is total: failures
// are logged and reported through the return values, never as panics.
type Gateway interface {
	// RequestPayment registers a payment of amount (store currency) for
	// orderID and returns the gateway token. ok is false on any failure.
	RequestPayment(ctx context.Context, orderID string, amount int64, mobile string) (token string, ok bool)
	PaymentURL(token string) string
	// IsPaymentVerifiable inspects an untrusted callback payload.
	IsPaymentVerifiable(ctx context.Context, callback map[string]string, authorizedCards []string) Status
	// VerifyPayment settles trackID with the gateway at most once.
	VerifyPayment(ctx context.Context, trackID string) (*VerifiedResult, bool)
	// InquiryPayment is the read-only diagnostic variant of VerifyPayment.
	InquiryPayment(ctx context.Context, trackID string) InquiryResult
	// PayableAmount converts a store amount to what the gateway charges, in
	// the gateway's smallest unit.
	PayableAmount(amount int64) int64
}

type Status int

const (
	StatusOK Status = iota
	StatusUnknown
	StatusPaymentFailed
	StatusUnauthorizedCard
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusUnknown:
		return "UNKNOWN"
	case StatusPaymentFailed:
		return "PAYMENT_FAILED"
	case StatusUnauthorizedCard:
		return "UNAUTHORIZED_CARD"
	}
	return "INVALID"
}

type MaskedCard struct {
	FirstDigits string `json:"first_digits"`
	LastDigits  string `json:"last_digits"`
}

type VerifiedResult struct {
	// PaidAmount is in the gateway's smallest unit.
	PaidAmount int64      `json:"paid_amount"`
	Card       MaskedCard `json:"card_number"`
}

type InquiryErrorKind string

const (
	InquiryConnectionError InquiryErrorKind = "connection_error"
	InquiryHTTPError       InquiryErrorKind = "http_error"
	InquiryInvalidJSON     InquiryErrorKind = "invalid_json"
)

type InquiryError struct {
	Kind      InquiryErrorKind `json:"error"`
	Message   string           `json:"message,omitempty"`
	RawResult string           `json:"raw_result,omitempty"`
}

// InquiryResult carries either the gateway's raw JSON answer or an error
// descriptor.
type InquiryResult struct {
	Response json.RawMessage `json:"response,omitempty"`
	Error    *InquiryError   `json:"error,omitempty"`
}
