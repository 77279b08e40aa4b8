// Package cheque is the escrow ledger: numbered tickets, each bound to one
// asset kind and one owner, topped up and drawn down independently of the
// order book.
package cheque

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/stonxe/stonxed/pkg/asset"
	"github.com/stonxe/stonxed/pkg/token"
	"github.com/stonxe/stonxed/pkg/util"
)

var (
	ErrNotFound            = errors.New("cheque: cheque not found")
	ErrNotOwner            = errors.New("cheque: caller is not the owner")
	ErrInactive            = errors.New("cheque: cheque is inactive")
	ErrAssetMismatch       = errors.New("cheque: wrong topup variant for bound asset kind")
	ErrInsufficientBalance = errors.New("cheque: insufficient balance")
	ErrNilAmount           = errors.New("cheque: nil amount")
	ErrAmountOverflow      = errors.New("cheque: amount overflows 256 bits")
)

// Cheque is a single escrow ticket. Kind and Owner are fixed at creation;
// Inactive transitions to true at most once and never back.
type Cheque struct {
	ID       uint64         `json:"id"`
	Owner    common.Address `json:"owner"`
	Kind     asset.Kind     `json:"kind"`
	Balance  *uint256.Int   `json:"balance"`
	Inactive bool           `json:"inactive"`
}

// Store journals cheque state and events durably.
type Store interface {
	SaveCheque(c *Cheque) error
	AppendChequeEvent(ev *Event) error
}

// Config wires a Book. The token address/adapter back token-kind tickets;
// FeeAccount and FeePercent are constructor-tracked reads kept for parity
// with the exchange deployment, no fee is charged on escrow operations.
type Config struct {
	Self       common.Address // identity used for token pulls
	TokenAddr  common.Address // the token contract backing Kind == Token
	Token      token.Adapter
	FeeAccount common.Address
	FeePercent uint64

	Clock  util.Clock
	Logger *zap.SugaredLogger
	Store  Store
	Sink   EventSink
}

// Book holds all tickets. One mutex serializes every operation.
type Book struct {
	mu sync.Mutex

	self       common.Address
	tokenAddr  common.Address
	token      token.Adapter
	feeAccount common.Address
	feePercent uint64

	cheques  map[uint64]*Cheque
	count    uint64
	eventSeq uint64
	reserve  *uint256.Int // ether held across all tickets

	clock util.Clock
	log   *zap.SugaredLogger
	store Store
	sink  EventSink
}

func NewBook(cfg Config) *Book {
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Book{
		self:       cfg.Self,
		tokenAddr:  cfg.TokenAddr,
		token:      cfg.Token,
		feeAccount: cfg.FeeAccount,
		feePercent: cfg.FeePercent,
		cheques:    make(map[uint64]*Cheque),
		reserve:    uint256.NewInt(0),
		clock:      clock,
		log:        log,
		store:      cfg.Store,
		sink:       cfg.Sink,
	}
}

func (b *Book) FeeAccount() common.Address { return b.feeAccount }
func (b *Book) FeePercent() uint64         { return b.feePercent }

// NewCheque creates a ticket bound to kind with the caller as owner.
func (b *Book) NewCheque(caller common.Address, kind asset.Kind) (Cheque, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	c := &Cheque{
		ID:      b.count,
		Owner:   caller,
		Kind:    kind,
		Balance: uint256.NewInt(0),
	}
	b.cheques[c.ID] = c

	if err := b.persistLocked(c); err != nil {
		delete(b.cheques, c.ID)
		b.count--
		return Cheque{}, err
	}
	ev := b.nextEventLocked(EventNewCheque)
	ev.NewCheque = &NewChequeRecord{ID: c.ID, Account: b.assetAddr(kind), Kind: kind, Owner: caller}
	b.emitLocked(ev)
	b.log.Infow("cheque_created", "id", c.ID, "owner", caller.Hex(), "kind", kind.String())
	return c.clone(), nil
}

// TopupEther credits the attached value to an ether-kind ticket. Any sender
// may top up; ownership is only required to withdraw.
func (b *Book) TopupEther(caller common.Address, id uint64, value *uint256.Int) error {
	if value == nil {
		return ErrNilAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.activeLocked(id)
	if err != nil {
		return err
	}
	if c.Kind != asset.Ether {
		return ErrAssetMismatch
	}
	old := c.Balance.Clone()
	if _, overflow := c.Balance.AddOverflow(c.Balance, value); overflow {
		c.Balance.Set(old)
		return fmt.Errorf("%w: ticket %d", ErrAmountOverflow, c.ID)
	}
	reserve := new(uint256.Int)
	if _, overflow := reserve.AddOverflow(b.reserve, value); overflow {
		c.Balance.Set(old)
		return fmt.Errorf("%w: ether reserve", ErrAmountOverflow)
	}
	if err := b.persistLocked(c); err != nil {
		c.Balance.Set(old)
		return err
	}
	b.reserve.Set(reserve)

	b.emitTopupLocked(c, caller, value)
	return nil
}

// TopupToken pulls approved tokens from the sender and credits a token-kind
// ticket. The pull precedes any ledger write.
func (b *Book) TopupToken(caller common.Address, id uint64, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.activeLocked(id)
	if err != nil {
		return err
	}
	if c.Kind != asset.Token {
		return ErrAssetMismatch
	}
	if err := b.token.TransferFrom(b.self, caller, b.self, amount); err != nil {
		return fmt.Errorf("pull tokens: %w", err)
	}
	old := c.Balance.Clone()
	if _, overflow := c.Balance.AddOverflow(c.Balance, amount); overflow {
		c.Balance.Set(old)
		b.refundPullLocked(caller, amount)
		return fmt.Errorf("%w: ticket %d", ErrAmountOverflow, c.ID)
	}
	if err := b.persistLocked(c); err != nil {
		c.Balance.Set(old)
		b.refundPullLocked(caller, amount)
		return err
	}

	b.emitTopupLocked(c, caller, amount)
	return nil
}

// refundPullLocked pushes back tokens pulled by a topup whose later steps
// failed. Best effort; a failed refund is logged.
func (b *Book) refundPullLocked(to common.Address, amount *uint256.Int) {
	if err := b.token.Transfer(b.self, to, amount); err != nil {
		b.log.Errorw("refund_failed", "user", to.Hex(), "amount", amount.Dec(), "err", err)
	}
}

// Withdraw debits the ticket, then pushes the asset out to the owner.
// Deactivated tickets are closed to withdrawal like every other mutation.
func (b *Book) Withdraw(caller common.Address, id uint64, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cheques[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if c.Owner != caller {
		return ErrNotOwner
	}
	if c.Inactive {
		return ErrInactive
	}
	if c.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, c.Balance.Dec(), amount.Dec())
	}
	old := c.Balance.Clone()
	c.Balance.Sub(c.Balance, amount)
	if err := b.persistLocked(c); err != nil {
		c.Balance.Set(old)
		return err
	}
	if c.Kind == asset.Ether {
		b.reserve.Sub(b.reserve, amount)
	} else {
		if err := b.token.Transfer(b.self, c.Owner, amount); err != nil {
			c.Balance.Set(old)
			if perr := b.persistLocked(c); perr != nil {
				b.log.Errorw("cheque_rewrite_failed", "id", c.ID, "err", perr)
			}
			return fmt.Errorf("push tokens: %w", err)
		}
	}
	ev := b.nextEventLocked(EventWithdraw)
	ev.Withdraw = &WithdrawRecord{
		ID: c.ID, Account: b.assetAddr(c.Kind), Kind: c.Kind,
		Owner: c.Owner, Amount: amount.Clone(), Balance: c.Balance.Clone(),
	}
	b.emitLocked(ev)
	b.log.Infow("cheque_withdraw", "id", c.ID, "owner", c.Owner.Hex(),
		"amount", amount.Dec(), "balance", c.Balance.Dec())
	return nil
}

// Deactivate irreversibly closes the ticket for topups and withdrawals.
func (b *Book) Deactivate(caller common.Address, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cheques[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if c.Owner != caller {
		return ErrNotOwner
	}
	if c.Inactive {
		return ErrInactive
	}
	c.Inactive = true

	if err := b.persistLocked(c); err != nil {
		c.Inactive = false
		return err
	}
	ev := b.nextEventLocked(EventDeactivate)
	ev.Deactivate = &DeactivateRecord{ID: c.ID}
	b.emitLocked(ev)
	b.log.Infow("cheque_deactivated", "id", c.ID, "owner", c.Owner.Hex())
	return nil
}

// BalanceOf is owner-restricted, unlike the exchange ledger's public read.
func (b *Book) BalanceOf(caller common.Address, id uint64) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cheques[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if c.Owner != caller {
		return nil, ErrNotOwner
	}
	return c.Balance.Clone(), nil
}

// Inactive reports whether the ticket has been deactivated. Missing ids
// read as false.
func (b *Book) Inactive(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cheques[id]
	return ok && c.Inactive
}

// Count returns the number of tickets ever created.
func (b *Book) Count() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cheque returns a copy of the ticket, or a zero value if none exists.
func (b *Book) Cheque(id uint64) Cheque {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cheques[id]
	if !ok {
		return Cheque{}
	}
	return c.clone()
}

// RestoreCheque reloads a persisted ticket and advances the id counter
// past it. Ether tickets also rebuild the reserve. Startup only.
func (b *Book) RestoreCheque(c Cheque) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := c.clone()
	if cp.Balance == nil {
		cp.Balance = uint256.NewInt(0)
	}
	if prev, ok := b.cheques[c.ID]; ok && prev.Kind == asset.Ether {
		b.reserve.Sub(b.reserve, prev.Balance)
	}
	if cp.Kind == asset.Ether {
		b.reserve.Add(b.reserve, cp.Balance)
	}
	b.cheques[cp.ID] = &cp
	if cp.ID > b.count {
		b.count = cp.ID
	}
}

// SetEventSeq positions the journal sequence after recovery.
func (b *Book) SetEventSeq(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.eventSeq {
		b.eventSeq = seq
	}
}

func (c *Cheque) clone() Cheque {
	out := *c
	if c.Balance != nil {
		out.Balance = c.Balance.Clone()
	}
	return out
}

func (b *Book) activeLocked(id uint64) (*Cheque, error) {
	c, ok := b.cheques[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if c.Inactive {
		return nil, ErrInactive
	}
	return c, nil
}

func (b *Book) assetAddr(kind asset.Kind) common.Address {
	if kind == asset.Ether {
		return asset.EtherAddress
	}
	return b.tokenAddr
}

func (b *Book) persistLocked(c *Cheque) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.SaveCheque(c); err != nil {
		return fmt.Errorf("persist cheque: %w", err)
	}
	return nil
}

func (b *Book) emitTopupLocked(c *Cheque, sender common.Address, amount *uint256.Int) {
	ev := b.nextEventLocked(EventTopup)
	ev.Topup = &TopupRecord{
		ID: c.ID, Account: b.assetAddr(c.Kind), Kind: c.Kind,
		Sender: sender, Amount: amount.Clone(), Balance: c.Balance.Clone(),
	}
	b.emitLocked(ev)
	b.log.Infow("cheque_topup", "id", c.ID, "sender", sender.Hex(),
		"amount", amount.Dec(), "balance", c.Balance.Dec())
}

func (b *Book) nextEventLocked(kind EventKind) Event {
	b.eventSeq++
	return Event{Seq: b.eventSeq, Kind: kind, At: b.clock.Now().Unix()}
}

func (b *Book) emitLocked(ev Event) {
	if b.store != nil {
		if err := b.store.AppendChequeEvent(&ev); err != nil {
			b.log.Errorw("event_journal_failed", "seq", ev.Seq, "kind", ev.Kind, "err", err)
		}
	}
	if b.sink != nil {
		b.sink.OnEvent(ev)
	}
}
