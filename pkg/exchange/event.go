package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Events are the audit trail: every successful mutating operation emits
// exactly one, with a strictly increasing sequence number. They are
// journaled to the store and fanned out to any registered sink.

type EventKind string

const (
	EventDeposit  EventKind = "deposit"
	EventWithdraw EventKind = "withdraw"
	EventOrder    EventKind = "order"
	EventCancel   EventKind = "cancel"
	EventTrade    EventKind = "trade"
)

// Event is the journal envelope. Exactly one payload pointer is non-nil,
// matching Kind.
type Event struct {
	Seq  uint64    `json:"seq"`
	Kind EventKind `json:"kind"`
	At   int64     `json:"at"` // unix seconds, engine clock

	Deposit  *TransferEvent `json:"deposit,omitempty"`
	Withdraw *TransferEvent `json:"withdraw,omitempty"`
	Order    *OrderEvent    `json:"order,omitempty"`
	Cancel   *OrderEvent    `json:"cancel,omitempty"`
	Trade    *TradeEvent    `json:"trade,omitempty"`
}

// TransferEvent records a deposit or withdrawal and the resulting balance.
type TransferEvent struct {
	Token   common.Address `json:"token"` // asset sentinel or token contract
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"` // ledger balance after the operation
}

// OrderEvent carries the full order; emitted on creation and on cancel.
type OrderEvent struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

// TradeEvent records a fill. Timestamp is the fill time, which may differ
// from the order's creation time.
type TradeEvent struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"` // maker
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	UserFill   common.Address `json:"userFill"` // filler
	Timestamp  int64          `json:"timestamp"`
}

// EventSink receives every emitted event, in order, after it is journaled.
type EventSink interface {
	OnEvent(Event)
}
