package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
)

// TransferRecord is appended for every successful Transfer/TransferFrom.
type TransferRecord struct {
	From  common.Address
	To    common.Address
	Value *uint256.Int
}

// ApprovalRecord is appended for every successful Approve.
type ApprovalRecord struct {
	Owner   common.Address
	Spender common.Address
	Value   *uint256.Int
}

// Token is an in-memory fungible token with standard transfer, approve and
// transferFrom semantics. The full supply is minted to the deployer.
type Token struct {
	mu sync.Mutex

	name        string
	symbol      string
	decimals    uint8
	totalSupply *uint256.Int
	address     common.Address

	balances  map[common.Address]*uint256.Int
	allowance map[common.Address]map[common.Address]*uint256.Int

	transfers []TransferRecord
	approvals []ApprovalRecord
}

// NewStonxe deploys the Stonxe (STX) token at addr with the whole
// 10,000,000 STX supply credited to deployer.
func NewStonxe(addr, deployer common.Address) *Token {
	supply := uint256.NewInt(10_000_000)
	supply.Mul(supply, uint256.NewInt(1e18))
	return New(addr, deployer, "Stonxe", "STX", 18, supply)
}

func New(addr, deployer common.Address, name, symbol string, decimals uint8, supply *uint256.Int) *Token {
	t := &Token{
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: supply.Clone(),
		address:     addr,
		balances:    make(map[common.Address]*uint256.Int),
		allowance:   make(map[common.Address]map[common.Address]*uint256.Int),
	}
	t.balances[deployer] = supply.Clone()
	return t
}

func (t *Token) Name() string             { return t.name }
func (t *Token) Symbol() string           { return t.symbol }
func (t *Token) Decimals() uint8          { return t.decimals }
func (t *Token) Address() common.Address  { return t.address }
func (t *Token) TotalSupply() *uint256.Int { return t.totalSupply.Clone() }

func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(account).Clone()
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowanceLocked(owner, spender).Clone()
}

func (t *Token) Transfer(caller, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(caller, to, amount)
}

// TransferFrom spends caller's allowance from the owner's balance.
func (t *Token) TransferFrom(caller, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowanceLocked(from, caller)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowed %s, need %s", ErrInsufficientAllowance, allowed.Dec(), amount.Dec())
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (t *Token) Approve(caller, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.allowance[caller]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowance[caller] = m
	}
	m[spender] = amount.Clone()
	t.approvals = append(t.approvals, ApprovalRecord{Owner: caller, Spender: spender, Value: amount.Clone()})
	return nil
}

// Transfers returns a snapshot of all transfer records so far.
func (t *Token) Transfers() []TransferRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TransferRecord(nil), t.transfers...)
}

// Approvals returns a snapshot of all approval records so far.
func (t *Token) Approvals() []ApprovalRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ApprovalRecord(nil), t.approvals...)
}

func (t *Token) balanceLocked(account common.Address) *uint256.Int {
	if b, ok := t.balances[account]; ok {
		return b
	}
	b := uint256.NewInt(0)
	t.balances[account] = b
	return b
}

func (t *Token) allowanceLocked(owner, spender common.Address) *uint256.Int {
	m, ok := t.allowance[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowance[owner] = m
	}
	a, ok := m[spender]
	if !ok {
		a = uint256.NewInt(0)
		m[spender] = a
	}
	return a
}

func (t *Token) moveLocked(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	src := t.balanceLocked(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, src.Dec(), amount.Dec())
	}
	src.Sub(src, amount)
	dst := t.balanceLocked(to)
	dst.Add(dst, amount)
	t.transfers = append(t.transfers, TransferRecord{From: from, To: to, Value: amount.Clone()})
	return nil
}
