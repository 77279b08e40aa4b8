// Package exchange implements the settlement engine: a balance ledger over
// (asset, account) pairs, an append-only order book, and fee-charging trade
// settlement. Every public operation runs under one mutex and either
// completes fully or leaves no observable change.
package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/stonxe/stonxed/pkg/asset"
	"github.com/stonxe/stonxed/pkg/token"
	"github.com/stonxe/stonxed/pkg/util"
)

// Store journals state and events durably. Implemented by storage.PebbleStore.
type Store interface {
	SaveBalance(tok, user common.Address, balance *uint256.Int) error
	SaveOrder(o *Order) error
	AppendEvent(ev *Event) error
}

// Config wires an Exchange. Self, FeeAccount and FeePercent are fixed for
// the lifetime of the instance.
type Config struct {
	Self       common.Address // identity used for token pulls (transferFrom recipient)
	FeeAccount common.Address
	FeePercent uint64

	Clock  util.Clock         // optional, defaults to RealClock
	Logger *zap.SugaredLogger // optional
	Store  Store              // optional, nil disables persistence
	Sink   EventSink          // optional event fan-out (websocket hub)
}

type Exchange struct {
	mu sync.Mutex

	self       common.Address
	feeAccount common.Address
	feePercent uint64

	tokens   map[common.Address]token.Adapter
	balances map[common.Address]map[common.Address]*uint256.Int // asset -> account -> balance
	reserve  *uint256.Int                                       // ether held by the exchange itself

	orders     map[uint64]*Order
	orderCount uint64
	eventSeq   uint64

	clock util.Clock
	log   *zap.SugaredLogger
	store Store
	sink  EventSink
}

func New(cfg Config) *Exchange {
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Exchange{
		self:       cfg.Self,
		feeAccount: cfg.FeeAccount,
		feePercent: cfg.FeePercent,
		tokens:     make(map[common.Address]token.Adapter),
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		reserve:    uint256.NewInt(0),
		orders:     make(map[uint64]*Order),
		clock:      clock,
		log:        log,
		store:      cfg.Store,
		sink:       cfg.Sink,
	}
}

func (x *Exchange) FeeAccount() common.Address { return x.feeAccount }
func (x *Exchange) FeePercent() uint64         { return x.feePercent }
func (x *Exchange) Self() common.Address       { return x.self }

// RegisterToken makes a token contract depositable under its address.
func (x *Exchange) RegisterToken(addr common.Address, adapter token.Adapter) error {
	if asset.IsEther(addr) {
		return ErrAssetMismatch
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.tokens[addr]; ok {
		return ErrTokenRegistered
	}
	x.tokens[addr] = adapter
	return nil
}

// DepositEther credits the value attached to the call to the caller's
// ether ledger entry. The new balance is persisted before the in-memory
// ledger is touched, so a store failure leaves no observable change.
func (x *Exchange) DepositEther(caller common.Address, value *uint256.Int) error {
	if value == nil {
		return ErrNilAmount
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	bal := x.balanceLocked(asset.EtherAddress, caller)
	next := new(uint256.Int)
	if _, overflow := next.AddOverflow(bal, value); overflow {
		return fmt.Errorf("%w: balance of %s", ErrAmountOverflow, caller.Hex())
	}
	reserve := new(uint256.Int)
	if _, overflow := reserve.AddOverflow(x.reserve, value); overflow {
		return fmt.Errorf("%w: ether reserve", ErrAmountOverflow)
	}
	if err := x.persistBalanceLocked(asset.EtherAddress, caller, next); err != nil {
		return err
	}
	bal.Set(next)
	x.reserve.Set(reserve)

	x.afterTransfer(EventDeposit, asset.EtherAddress, caller, value, bal)
	return nil
}

// DepositToken pulls approved tokens from the caller via transferFrom and
// credits them. The pull happens before any ledger write; if a later step
// fails the pulled tokens are pushed back.
func (x *Exchange) DepositToken(caller, tok common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if asset.IsEther(tok) {
		return ErrAssetMismatch
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	adapter, ok := x.tokens[tok]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}
	if err := adapter.TransferFrom(x.self, caller, x.self, amount); err != nil {
		return fmt.Errorf("pull tokens: %w", err)
	}

	bal := x.balanceLocked(tok, caller)
	next := new(uint256.Int)
	if _, overflow := next.AddOverflow(bal, amount); overflow {
		x.refundPullLocked(adapter, caller, amount)
		return fmt.Errorf("%w: balance of %s", ErrAmountOverflow, caller.Hex())
	}
	if err := x.persistBalanceLocked(tok, caller, next); err != nil {
		x.refundPullLocked(adapter, caller, amount)
		return err
	}
	bal.Set(next)

	x.afterTransfer(EventDeposit, tok, caller, amount, bal)
	return nil
}

// WithdrawEther debits the caller's ether entry, then releases the coin
// from the exchange reserve.
func (x *Exchange) WithdrawEther(caller common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	bal := x.balanceLocked(asset.EtherAddress, caller)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal.Dec(), amount.Dec())
	}
	next := new(uint256.Int).Sub(bal, amount)
	if err := x.persistBalanceLocked(asset.EtherAddress, caller, next); err != nil {
		return err
	}
	bal.Set(next)
	x.reserve.Sub(x.reserve, amount)

	x.afterTransfer(EventWithdraw, asset.EtherAddress, caller, amount, bal)
	return nil
}

// WithdrawToken persists the debited balance, pushes tokens out through the
// adapter, and only then commits the in-memory debit. A failed push rewrites
// the old balance, keeping the operation all-or-nothing.
func (x *Exchange) WithdrawToken(caller, tok common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if asset.IsEther(tok) {
		return ErrAssetMismatch
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	adapter, ok := x.tokens[tok]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}
	bal := x.balanceLocked(tok, caller)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal.Dec(), amount.Dec())
	}
	next := new(uint256.Int).Sub(bal, amount)
	if err := x.persistBalanceLocked(tok, caller, next); err != nil {
		return err
	}
	if err := adapter.Transfer(x.self, caller, amount); err != nil {
		if perr := x.persistBalanceLocked(tok, caller, bal); perr != nil {
			x.log.Errorw("balance_rewrite_failed", "token", tok.Hex(),
				"user", caller.Hex(), "err", perr)
		}
		return fmt.Errorf("push tokens: %w", err)
	}
	bal.Set(next)

	x.afterTransfer(EventWithdraw, tok, caller, amount, bal)
	return nil
}

// BalanceOf returns the ledger balance for (tok, user). Never fails;
// untouched pairs read as zero.
func (x *Exchange) BalanceOf(tok, user common.Address) *uint256.Int {
	x.mu.Lock()
	defer x.mu.Unlock()
	m, ok := x.balances[tok]
	if !ok {
		return uint256.NewInt(0)
	}
	b, ok := m[user]
	if !ok {
		return uint256.NewInt(0)
	}
	return b.Clone()
}

// EtherReserve returns the total ether the exchange currently backs.
func (x *Exchange) EtherReserve() *uint256.Int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.reserve.Clone()
}

// RestoreBalance seeds a ledger entry from a persisted snapshot. Ether
// entries also rebuild the reserve. Startup only, before serving calls.
func (x *Exchange) RestoreBalance(tok, user common.Address, balance *uint256.Int) {
	if balance == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	b := x.balanceLocked(tok, user)
	if asset.IsEther(tok) {
		x.reserve.Sub(x.reserve, b)
		x.reserve.Add(x.reserve, balance)
	}
	b.Set(balance)
}

// RestoreOrder reloads a persisted order and advances the id counter past it.
func (x *Exchange) RestoreOrder(o Order) {
	x.mu.Lock()
	defer x.mu.Unlock()
	c := o.clone()
	x.orders[o.ID] = &c
	if o.ID > x.orderCount {
		x.orderCount = o.ID
	}
}

// SetEventSeq positions the journal sequence after recovery so new events
// continue the persisted numbering.
func (x *Exchange) SetEventSeq(seq uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if seq > x.eventSeq {
		x.eventSeq = seq
	}
}

// balanceLocked returns the mutable ledger entry, creating it at zero.
func (x *Exchange) balanceLocked(tok, user common.Address) *uint256.Int {
	m, ok := x.balances[tok]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		x.balances[tok] = m
	}
	b, ok := m[user]
	if !ok {
		b = uint256.NewInt(0)
		m[user] = b
	}
	return b
}

// persistBalanceLocked writes one ledger entry to the store. Called before
// the in-memory commit so a store error aborts the operation cleanly.
func (x *Exchange) persistBalanceLocked(tok, user common.Address, balance *uint256.Int) error {
	if x.store == nil {
		return nil
	}
	if err := x.store.SaveBalance(tok, user, balance); err != nil {
		return fmt.Errorf("persist balance: %w", err)
	}
	return nil
}

// refundPullLocked pushes back tokens pulled by a deposit whose later steps
// failed. Best effort; a failed refund is logged, not surfaced.
func (x *Exchange) refundPullLocked(adapter token.Adapter, to common.Address, amount *uint256.Int) {
	if err := adapter.Transfer(x.self, to, amount); err != nil {
		x.log.Errorw("refund_failed", "user", to.Hex(), "amount", amount.Dec(), "err", err)
	}
}

// afterTransfer emits the deposit or withdraw event. Runs only after the
// operation has fully committed; callers hold the mutex.
func (x *Exchange) afterTransfer(kind EventKind, tok, user common.Address, amount, balance *uint256.Int) {
	rec := &TransferEvent{Token: tok, User: user, Amount: amount.Clone(), Balance: balance.Clone()}
	ev := x.nextEventLocked(kind)
	if kind == EventDeposit {
		ev.Deposit = rec
	} else {
		ev.Withdraw = rec
	}
	x.emitLocked(ev)
	x.log.Infow(string(kind),
		"token", tok.Hex(), "user", user.Hex(),
		"amount", amount.Dec(), "balance", balance.Dec())
}

// nextEventLocked allocates the next journal sequence number.
func (x *Exchange) nextEventLocked(kind EventKind) Event {
	x.eventSeq++
	return Event{Seq: x.eventSeq, Kind: kind, At: x.clock.Now().Unix()}
}

func (x *Exchange) emitLocked(ev Event) {
	if x.store != nil {
		if err := x.store.AppendEvent(&ev); err != nil {
			x.log.Errorw("event_journal_failed", "seq", ev.Seq, "kind", ev.Kind, "err", err)
		}
	}
	if x.sink != nil {
		x.sink.OnEvent(ev)
	}
}
