// Package asset defines how the engine names the things it can hold a
// balance in: the native ether coin (a sentinel address) or a fungible
// token contract address. The two are never interchangeable.
package asset

import "github.com/ethereum/go-ethereum/common"

// EtherAddress is the sentinel asset identifier for the native coin.
// Balances keyed by it are ether; every other identifier is a token contract.
var EtherAddress = common.Address{}

// Kind distinguishes the two asset classes a cheque can be bound to.
// Values mirror the asset table used by the deployment scripts (ETH=0, STX=1).
type Kind uint8

const (
	Ether Kind = iota
	Token
)

func (k Kind) String() string {
	switch k {
	case Ether:
		return "ether"
	case Token:
		return "token"
	default:
		return "unknown"
	}
}

// IsEther reports whether addr is the native-coin sentinel.
func IsEther(addr common.Address) bool {
	return addr == EtherAddress
}
