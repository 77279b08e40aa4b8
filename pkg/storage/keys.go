package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so each record family can be range-scanned
// on recovery, with zero-padded numeric suffixes for lexicographic ordering.
const (
	prefixBalance     = "bal:" // ledger entries
	prefixOrder       = "ord:" // order book
	prefixEvent       = "evt:" // exchange event journal
	prefixCheque      = "chq:" // escrow tickets
	prefixChequeEvent = "cev:" // escrow event journal
)

// balanceKey: "bal:{asset}:{account}"
func balanceKey(tok, user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, tok.Hex(), user.Hex()))
}

// orderKey: "ord:{id:020d}"
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// eventKey: "evt:{seq:020d}"
func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// chequeKey: "chq:{id:020d}"
func chequeKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixCheque, id))
}

// chequeEventKey: "cev:{seq:020d}"
func chequeEventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixChequeEvent, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
