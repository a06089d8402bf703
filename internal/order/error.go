package order

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrNoUnpaidOrder    = errors.New("no unpaid order")
	ErrNotUnpaid        = errors.New("order is not unpaid")
	ErrPriceUnavailable = errors.New("order price unavailable")
)

type ErrorID string

const (
	ErrInvalidID        ErrorID = "INVALID_ID"
	ErrNoProductHandler ErrorID = "NO_PRODUCT_HANDLER"
	ErrOutOfStock       ErrorID = "OUT_OF_STOCK"
	ErrLowStock         ErrorID = "LOW_STOCK"
	ErrSaveError        ErrorID = "SAVE_ERROR"
)

type ErrorInfo struct {
	ProductID    int64  `json:"product_id"`
	ProductTitle string `json:"product_title,omitempty"`
	Stock        *int   `json:"stock,omitempty"`
}

// OrderError is the typed failure of a cart submission.
type OrderError struct {
	ID   ErrorID    `json:"error_id"`
	Info *ErrorInfo `json:"info,omitempty"`
}

func (e *OrderError) Error() string {
	if e.Info == nil {
		return string(e.ID)
	}
	return fmt.Sprintf("%s: product %d", e.ID, e.Info.ProductID)
}
