package storage

import (
	"fmt"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stonxe/stonxed/pkg/asset"
	"github.com/stonxe/stonxed/pkg/cheque"
	"github.com/stonxe/stonxed/pkg/exchange"
)

var (
	testToken = common.HexToAddress("0x00000000000000000000000000000000005702e1")
	testUser  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
)

func newTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	dbPath := fmt.Sprintf("./tmp_test_store_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() { os.RemoveAll(dbPath) })

	s, err := NewPebbleStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveBalance(testToken, testUser, uint256.NewInt(42)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// overwrite wins
	if err := s.SaveBalance(testToken, testUser, uint256.NewInt(99)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveBalance(asset.EtherAddress, testUser, uint256.NewInt(7)); err != nil {
		t.Fatalf("save: %v", err)
	}

	recs, err := s.LoadBalances()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	byToken := map[common.Address]*uint256.Int{}
	for _, r := range recs {
		byToken[r.Token] = r.Balance
	}
	if byToken[testToken].Uint64() != 99 {
		t.Errorf("token balance = %s, want 99", byToken[testToken].Dec())
	}
	if byToken[asset.EtherAddress].Uint64() != 7 {
		t.Errorf("ether balance = %s, want 7", byToken[asset.EtherAddress].Dec())
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// write out of id order; the key padding must bring them back sorted
	for _, id := range []uint64{3, 1, 2, 10} {
		o := &exchange.Order{
			ID:         id,
			User:       testUser,
			TokenGet:   testToken,
			AmountGet:  uint256.NewInt(id * 100),
			TokenGive:  asset.EtherAddress,
			AmountGive: uint256.NewInt(id),
			Timestamp:  1_700_000_000,
		}
		if err := s.SaveOrder(o); err != nil {
			t.Fatalf("save order %d: %v", id, err)
		}
	}

	orders, err := s.LoadOrders()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []uint64{1, 2, 3, 10}
	if len(orders) != len(want) {
		t.Fatalf("got %d orders, want %d", len(orders), len(want))
	}
	for i, o := range orders {
		if o.ID != want[i] {
			t.Errorf("order %d id = %d, want %d", i, o.ID, want[i])
		}
	}
	if orders[3].AmountGet.Uint64() != 1000 {
		t.Errorf("amountGet = %s", orders[3].AmountGet.Dec())
	}
}

func TestEventJournal(t *testing.T) {
	s := newTestStore(t)

	for seq := uint64(1); seq <= 5; seq++ {
		ev := &exchange.Event{
			Seq:  seq,
			Kind: exchange.EventDeposit,
			At:   1_700_000_000,
			Deposit: &exchange.TransferEvent{
				Token:   asset.EtherAddress,
				User:    testUser,
				Amount:  uint256.NewInt(seq),
				Balance: uint256.NewInt(seq),
			},
		}
		if err := s.AppendEvent(ev); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	all, err := s.Events(1, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d events, want 5", len(all))
	}
	for i, ev := range all {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d", i, ev.Seq)
		}
		if ev.Deposit == nil {
			t.Errorf("event %d lost its payload", i)
		}
	}

	// from/limit window
	window, err := s.Events(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 2 || window[0].Seq != 3 || window[1].Seq != 4 {
		t.Errorf("window = %+v", window)
	}

	last, err := s.LastEventSeq()
	if err != nil {
		t.Fatal(err)
	}
	if last != 5 {
		t.Errorf("last seq = %d, want 5", last)
	}
}

func TestLastSeqEmptyJournal(t *testing.T) {
	s := newTestStore(t)

	last, err := s.LastEventSeq()
	if err != nil {
		t.Fatal(err)
	}
	if last != 0 {
		t.Errorf("empty journal last seq = %d", last)
	}
	clast, err := s.LastChequeEventSeq()
	if err != nil {
		t.Fatal(err)
	}
	if clast != 0 {
		t.Errorf("empty cheque journal last seq = %d", clast)
	}
}

func TestChequeRoundTrip(t *testing.T) {
	s := newTestStore(t)

	c := &cheque.Cheque{
		ID:      1,
		Owner:   testUser,
		Kind:    asset.Token,
		Balance: uint256.NewInt(500),
	}
	if err := s.SaveCheque(c); err != nil {
		t.Fatalf("save: %v", err)
	}
	c.Inactive = true
	if err := s.SaveCheque(c); err != nil {
		t.Fatalf("resave: %v", err)
	}

	cheques, err := s.LoadCheques()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cheques) != 1 {
		t.Fatalf("got %d cheques, want 1", len(cheques))
	}
	got := cheques[0]
	if got.ID != 1 || got.Owner != testUser || !got.Inactive {
		t.Errorf("cheque = %+v", got)
	}
	if got.Balance.Uint64() != 500 {
		t.Errorf("balance = %s", got.Balance.Dec())
	}

	ev := &cheque.Event{Seq: 1, Kind: cheque.EventNewCheque, At: 1_700_000_000,
		NewCheque: &cheque.NewChequeRecord{ID: 1, Kind: asset.Token, Owner: testUser}}
	if err := s.AppendChequeEvent(ev); err != nil {
		t.Fatalf("append cheque event: %v", err)
	}
	events, err := s.ChequeEvents(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].NewCheque == nil {
		t.Errorf("cheque events = %+v", events)
	}
}

// Journals for the two engines must not bleed into each other's prefix scans.
func TestJournalIsolation(t *testing.T) {
	s := newTestStore(t)

	if err := s.AppendEvent(&exchange.Event{Seq: 1, Kind: exchange.EventOrder}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendChequeEvent(&cheque.Event{Seq: 1, Kind: cheque.EventTopup}); err != nil {
		t.Fatal(err)
	}

	ex, err := s.Events(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := s.ChequeEvents(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ex) != 1 || len(ch) != 1 {
		t.Fatalf("exchange=%d cheque=%d, want 1 and 1", len(ex), len(ch))
	}
	if ex[0].Kind != exchange.EventOrder || ch[0].Kind != cheque.EventTopup {
		t.Errorf("kinds = %s, %s", ex[0].Kind, ch[0].Kind)
	}
}
