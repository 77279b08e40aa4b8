package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Adapter is the surface the settlement engine needs from a fungible-token
// contract. The engine consumes it, it never implements it; any failure
// returned here aborts the calling operation without partial state.
//
// The caller account is an explicit parameter on every mutating call rather
// than ambient context, so the boundary layer decides who is acting.
type Adapter interface {
	Transfer(caller, to common.Address, amount *uint256.Int) error
	TransferFrom(caller, from, to common.Address, amount *uint256.Int) error
	Approve(caller, spender common.Address, amount *uint256.Int) error
	Allowance(owner, spender common.Address) *uint256.Int
	BalanceOf(account common.Address) *uint256.Int
}
