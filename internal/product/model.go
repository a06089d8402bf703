package product

import "errors"

// Kind is the closed set of reservation strategies a product type maps to.
type Kind int

const (
	KindGame Kind = iota + 1
	KindGiftCard
	KindSteam
)

func (k Kind) String() string {
	switch k {
	case KindGame:
		return "game"
	case KindGiftCard:
		return "gift-card"
	case KindSteam:
		return "steam"
	}
	return "unknown"
}

type Product struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	// TypeName is the product's own type, falling back to its category's.
	// Empty when neither is set.
	TypeName string `json:"type"`
	Price    int64  `json:"price"`
	Stock    int    `json:"stock"`
}

// Summary is what a cart shows for a product before an order exists.
type Summary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Price int64  `json:"price"`
	Stock int    `json:"stock"`
	Image string `json:"image"`
}

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidCount      = errors.New("count must be positive")
)
