package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MakeOrder appends a new order for the caller. There is no balance check at
// creation time; funding is verified when the order is filled.
func (x *Exchange) MakeOrder(caller, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (Order, error) {
	if amountGet == nil || amountGive == nil {
		return Order{}, ErrNilAmount
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	x.orderCount++
	o := &Order{
		ID:         x.orderCount,
		User:       caller,
		TokenGet:   tokenGet,
		AmountGet:  amountGet.Clone(),
		TokenGive:  tokenGive,
		AmountGive: amountGive.Clone(),
		Timestamp:  x.clock.Now().Unix(),
	}
	x.orders[o.ID] = o

	if x.store != nil {
		if err := x.store.SaveOrder(o); err != nil {
			delete(x.orders, o.ID)
			x.orderCount--
			return Order{}, fmt.Errorf("persist order: %w", err)
		}
	}

	ev := x.nextEventLocked(EventOrder)
	ev.Order = orderEvent(o)
	x.emitLocked(ev)
	x.log.Infow("order_made", "id", o.ID, "user", o.User.Hex(),
		"tokenGet", o.TokenGet.Hex(), "amountGet", o.AmountGet.Dec(),
		"tokenGive", o.TokenGive.Hex(), "amountGive", o.AmountGive.Dec())
	return o.clone(), nil
}

// CancelOrder marks the order cancelled. Only the maker may cancel, and only
// while the order is not terminal.
func (x *Exchange) CancelOrder(caller common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.User != caller {
		return ErrNotMaker
	}
	if o.Filled {
		return ErrOrderFilled
	}
	if o.Cancelled {
		return ErrOrderCancelled
	}
	o.Cancelled = true

	if x.store != nil {
		if err := x.store.SaveOrder(o); err != nil {
			o.Cancelled = false
			return fmt.Errorf("persist order: %w", err)
		}
	}

	ev := x.nextEventLocked(EventCancel)
	ev.Cancel = orderEvent(o)
	x.emitLocked(ev)
	x.log.Infow("order_cancelled", "id", o.ID, "user", o.User.Hex())
	return nil
}

// FillOrder settles an order against the caller. The fee is charged to the
// filler, denominated in tokenGet:
//
//	fee = amountGet * feePercent / 100  (truncating)
//
// Ledger movements, in order: filler pays amountGet+fee in tokenGet, maker
// receives amountGet, feeAccount receives fee, maker pays amountGive in
// tokenGive, filler receives amountGive. Only ledger entries move; the
// underlying assets stay inside the exchange.
//
// The filler's tokenGet balance is the only up-front precondition. The
// maker's tokenGive debit is guarded solely by the ledger's unsigned-balance
// invariant: if the maker is under-funded the debit fails mid-settlement and
// the whole fill unwinds.
func (x *Exchange) FillOrder(caller common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.Filled {
		return ErrOrderFilled
	}
	if o.Cancelled {
		return ErrOrderCancelled
	}

	// Checked arithmetic: an order sized so that fee or amountGet+fee wraps
	// must fail here, never settle with a wrapped precondition.
	fee := new(uint256.Int)
	if _, overflow := fee.MulOverflow(o.AmountGet, uint256.NewInt(x.feePercent)); overflow {
		return fmt.Errorf("%w: fee on %s", ErrAmountOverflow, o.AmountGet.Dec())
	}
	fee.Div(fee, uint256.NewInt(100))
	required := new(uint256.Int)
	if _, overflow := required.AddOverflow(o.AmountGet, fee); overflow {
		return fmt.Errorf("%w: %s plus fee %s", ErrAmountOverflow, o.AmountGet.Dec(), fee.Dec())
	}

	// Snapshot every ledger entry the settlement touches so a failed debit
	// or credit unwinds to exactly the pre-call state.
	undo := x.snapshotLocked(
		pair{o.TokenGet, caller}, pair{o.TokenGet, o.User}, pair{o.TokenGet, x.feeAccount},
		pair{o.TokenGive, o.User}, pair{o.TokenGive, caller},
	)

	if err := x.debitLocked(o.TokenGet, caller, required); err != nil {
		x.restoreLocked(undo)
		return err
	}
	if err := x.creditLocked(o.TokenGet, o.User, o.AmountGet); err != nil {
		x.restoreLocked(undo)
		return err
	}
	if err := x.creditLocked(o.TokenGet, x.feeAccount, fee); err != nil {
		x.restoreLocked(undo)
		return err
	}
	if err := x.debitLocked(o.TokenGive, o.User, o.AmountGive); err != nil {
		x.restoreLocked(undo)
		return err
	}
	if err := x.creditLocked(o.TokenGive, caller, o.AmountGive); err != nil {
		x.restoreLocked(undo)
		return err
	}

	o.Filled = true

	if x.store != nil {
		if err := x.store.SaveOrder(o); err != nil {
			x.unwindFillLocked(o, undo, 0)
			return fmt.Errorf("persist order: %w", err)
		}
		for i, p := range undo {
			if err := x.store.SaveBalance(p.tok, p.user, x.balanceLocked(p.tok, p.user)); err != nil {
				x.unwindFillLocked(o, undo, i)
				return fmt.Errorf("persist balance: %w", err)
			}
		}
	}

	ev := x.nextEventLocked(EventTrade)
	ev.Trade = &TradeEvent{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet.Clone(),
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive.Clone(),
		UserFill:   caller,
		Timestamp:  ev.At,
	}
	x.emitLocked(ev)
	x.log.Infow("order_filled", "id", o.ID, "maker", o.User.Hex(),
		"filler", caller.Hex(), "fee", fee.Dec())
	return nil
}

// OrderCount returns the number of orders ever created.
func (x *Exchange) OrderCount() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.orderCount
}

// Order returns the order with the given id, or a zero-value order if none
// exists. Reads never fail.
func (x *Exchange) Order(id uint64) Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	o, ok := x.orders[id]
	if !ok {
		return Order{}
	}
	return o.clone()
}

func (x *Exchange) OrderFilled(id uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	o, ok := x.orders[id]
	return ok && o.Filled
}

func (x *Exchange) OrderCancelled(id uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	o, ok := x.orders[id]
	return ok && o.Cancelled
}

// Orders returns copies of all orders in id order.
func (x *Exchange) Orders() []Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]Order, 0, len(x.orders))
	for id := uint64(1); id <= x.orderCount; id++ {
		if o, ok := x.orders[id]; ok {
			out = append(out, o.clone())
		}
	}
	return out
}

type pair struct {
	tok  common.Address
	user common.Address
}

type balanceSnap struct {
	pair
	val *uint256.Int
}

func (x *Exchange) snapshotLocked(pairs ...pair) []balanceSnap {
	snaps := make([]balanceSnap, 0, len(pairs))
	seen := make(map[pair]bool, len(pairs))
	for _, p := range pairs {
		if seen[p] {
			continue
		}
		seen[p] = true
		snaps = append(snaps, balanceSnap{pair: p, val: x.balanceLocked(p.tok, p.user).Clone()})
	}
	return snaps
}

func (x *Exchange) restoreLocked(snaps []balanceSnap) {
	for _, s := range snaps {
		x.balances[s.tok][s.user] = s.val.Clone()
	}
}

// unwindFillLocked reverts a fill whose persistence failed: in-memory state
// back to the snapshot, the order reopened, and any balances already written
// to the store rewritten with their pre-fill values.
func (x *Exchange) unwindFillLocked(o *Order, undo []balanceSnap, persisted int) {
	x.restoreLocked(undo)
	o.Filled = false
	if x.store == nil {
		return
	}
	if err := x.store.SaveOrder(o); err != nil {
		x.log.Errorw("order_rewrite_failed", "id", o.ID, "err", err)
	}
	for i := 0; i < persisted; i++ {
		p := undo[i]
		if err := x.store.SaveBalance(p.tok, p.user, p.val); err != nil {
			x.log.Errorw("balance_rewrite_failed", "token", p.tok.Hex(),
				"user", p.user.Hex(), "err", err)
		}
	}
}

func (x *Exchange) debitLocked(tok, user common.Address, amount *uint256.Int) error {
	b := x.balanceLocked(tok, user)
	if b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s of %s, have %s, need %s",
			ErrInsufficientBalance, user.Hex(), tok.Hex(), b.Dec(), amount.Dec())
	}
	b.Sub(b, amount)
	return nil
}

func (x *Exchange) creditLocked(tok, user common.Address, amount *uint256.Int) error {
	b := x.balanceLocked(tok, user)
	if _, overflow := b.AddOverflow(b, amount); overflow {
		return fmt.Errorf("%w: balance of %s", ErrAmountOverflow, user.Hex())
	}
	return nil
}

func orderEvent(o *Order) *OrderEvent {
	return &OrderEvent{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet.Clone(),
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive.Clone(),
		Timestamp:  o.Timestamp,
	}
}
