package order

import (
	"bytes"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPaid    Status = "paid"
	StatusDeleted Status = "deleted"
)

type CartItem struct {
	ProductID int64 `json:"id"`
	Count     int   `json:"count"`
}

type Line struct {
	ProductID int64
	Count     int
}

// Requirements maps a requirement name to the buyer's data. A nil or JSON
// null value means the buyer has not supplied it yet.
type Requirements map[string]json.RawMessage

// Supplied returns the entries that carry a value.
func (r Requirements) Supplied() Requirements {
	out := make(Requirements, len(r))
	for name, v := range r {
		if isNull(v) {
			continue
		}
		out[name] = v
	}
	return out
}

// Declares reports whether name is part of the order's requirement set.
func (r Requirements) Declares(name string) bool {
	_, ok := r[name]
	return ok
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

type Order struct {
	ID           int64
	UserID       int64
	Status       Status
	Lines        []Line
	Requirements Requirements
	LastModified time.Time
}

type CheckoutDetail struct {
	OrderID int64 `json:"order_id"`
	// Price is in toman, recomputed from current product data.
	Price        int64        `json:"price"`
	Requirements Requirements `json:"requirements"`
}

type PaidInfo struct {
	RefNum          string
	Amount          int64
	CardFirstDigits string
	CardLastDigits  string
	PaidAt          time.Time
}
