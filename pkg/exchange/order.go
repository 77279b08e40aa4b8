package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Order is a resting order. Everything but the two terminal flags is
// immutable after creation; Filled and Cancelled are each set at most once
// and are mutually exclusive.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"` // maker
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // creation time, unix seconds
	Filled     bool           `json:"filled"`
	Cancelled  bool           `json:"cancelled"`
}

// Terminal reports whether the order can no longer be filled or cancelled.
func (o *Order) Terminal() bool {
	return o.Filled || o.Cancelled
}

func (o *Order) clone() Order {
	c := *o
	if o.AmountGet != nil {
		c.AmountGet = o.AmountGet.Clone()
	}
	if o.AmountGive != nil {
		c.AmountGive = o.AmountGive.Clone()
	}
	return c
}
