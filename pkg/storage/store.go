// Package storage persists the engine's state and event journals in pebble.
// Balances, orders and cheques are written with Sync on every mutation;
// recovery is a set of prefix scans at startup.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stonxe/stonxed/pkg/cheque"
	"github.com/stonxe/stonxed/pkg/exchange"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// BalanceRecord is the persisted form of one ledger entry.
type BalanceRecord struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Balance *uint256.Int   `json:"balance"`
}

func (s *PebbleStore) SaveBalance(tok, user common.Address, balance *uint256.Int) error {
	rec := BalanceRecord{Token: tok, User: user, Balance: balance}
	return s.put(balanceKey(tok, user), rec, "balance")
}

// LoadBalances returns every persisted ledger entry.
func (s *PebbleStore) LoadBalances() ([]BalanceRecord, error) {
	var out []BalanceRecord
	err := s.scan([]byte(prefixBalance), func(val []byte) error {
		var rec BalanceRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *PebbleStore) SaveOrder(o *exchange.Order) error {
	return s.put(orderKey(o.ID), o, "order")
}

// LoadOrders returns all orders in id order.
func (s *PebbleStore) LoadOrders() ([]*exchange.Order, error) {
	var out []*exchange.Order
	err := s.scan([]byte(prefixOrder), func(val []byte) error {
		var o exchange.Order
		if err := json.Unmarshal(val, &o); err != nil {
			return err
		}
		out = append(out, &o)
		return nil
	})
	return out, err
}

func (s *PebbleStore) AppendEvent(ev *exchange.Event) error {
	return s.put(eventKey(ev.Seq), ev, "event")
}

// Events returns up to limit journal entries with Seq >= from, in sequence
// order. limit <= 0 means no cap.
func (s *PebbleStore) Events(from uint64, limit int) ([]exchange.Event, error) {
	var out []exchange.Event
	lower := eventKey(from)
	upper := keyUpperBound([]byte(prefixEvent))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var ev exchange.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode event %q: %w", iter.Key(), err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *PebbleStore) SaveCheque(c *cheque.Cheque) error {
	return s.put(chequeKey(c.ID), c, "cheque")
}

// LoadCheques returns all escrow tickets in id order.
func (s *PebbleStore) LoadCheques() ([]*cheque.Cheque, error) {
	var out []*cheque.Cheque
	err := s.scan([]byte(prefixCheque), func(val []byte) error {
		var c cheque.Cheque
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		out = append(out, &c)
		return nil
	})
	return out, err
}

func (s *PebbleStore) AppendChequeEvent(ev *cheque.Event) error {
	return s.put(chequeEventKey(ev.Seq), ev, "cheque event")
}

// ChequeEvents mirrors Events for the escrow journal.
func (s *PebbleStore) ChequeEvents(from uint64, limit int) ([]cheque.Event, error) {
	var out []cheque.Event
	lower := chequeEventKey(from)
	upper := keyUpperBound([]byte(prefixChequeEvent))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var ev cheque.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode cheque event %q: %w", iter.Key(), err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// LastEventSeq returns the highest persisted exchange journal sequence,
// or zero for an empty journal.
func (s *PebbleStore) LastEventSeq() (uint64, error) {
	return s.lastSeq([]byte(prefixEvent), func(val []byte) (uint64, error) {
		var ev exchange.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return 0, err
		}
		return ev.Seq, nil
	})
}

// LastChequeEventSeq mirrors LastEventSeq for the escrow journal.
func (s *PebbleStore) LastChequeEventSeq() (uint64, error) {
	return s.lastSeq([]byte(prefixChequeEvent), func(val []byte) (uint64, error) {
		var ev cheque.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return 0, err
		}
		return ev.Seq, nil
	})
}

func (s *PebbleStore) lastSeq(prefix []byte, decode func([]byte) (uint64, error)) (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, nil
	}
	seq, err := decode(iter.Value())
	if err != nil {
		return 0, fmt.Errorf("decode %q: %w", iter.Key(), err)
	}
	return seq, nil
}

func (s *PebbleStore) put(key []byte, v any, what string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("save %s: %w", what, err)
	}
	return nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return fmt.Errorf("decode %q: %w", iter.Key(), err)
		}
	}
	return nil
}

var (
	_ exchange.Store = (*PebbleStore)(nil)
	_ cheque.Store   = (*PebbleStore)(nil)
)
