package cheque

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stonxe/stonxed/pkg/asset"
)

type EventKind string

const (
	EventNewCheque  EventKind = "new_cheque"
	EventTopup      EventKind = "topup"
	EventWithdraw   EventKind = "withdraw"
	EventDeactivate EventKind = "deactivate"
)

// Event is the escrow journal envelope; one payload pointer is non-nil.
type Event struct {
	Seq  uint64    `json:"seq"`
	Kind EventKind `json:"kind"`
	At   int64     `json:"at"`

	NewCheque  *NewChequeRecord  `json:"newCheque,omitempty"`
	Topup      *TopupRecord      `json:"topup,omitempty"`
	Withdraw   *WithdrawRecord   `json:"withdraw,omitempty"`
	Deactivate *DeactivateRecord `json:"deactivate,omitempty"`
}

// NewChequeRecord: Account is the bound asset's address (ether sentinel or
// the token contract).
type NewChequeRecord struct {
	ID      uint64         `json:"id"`
	Account common.Address `json:"account"`
	Kind    asset.Kind     `json:"token"`
	Owner   common.Address `json:"owner"`
}

type TopupRecord struct {
	ID      uint64         `json:"id"`
	Account common.Address `json:"account"`
	Kind    asset.Kind     `json:"token"`
	Sender  common.Address `json:"sender"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

type WithdrawRecord struct {
	ID      uint64         `json:"id"`
	Account common.Address `json:"account"`
	Kind    asset.Kind     `json:"token"`
	Owner   common.Address `json:"owner"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

type DeactivateRecord struct {
	ID uint64 `json:"id"`
}

type EventSink interface {
	OnEvent(Event)
}
