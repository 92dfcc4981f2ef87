// Package token implements the dollar-pegged token ledger: balances, total
// supply, and the two-level allowance map. Mint and burn are reserved for
// the state machine acting on behalf of the CDP manager, liquidation engine,
// and stability pool; transfers are available to any authenticated caller.
package token

import (
	"errors"
	"sort"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrOverflowSupply        = errors.New("token: supply overflow")
)

// Ledger tracks balances and allowances for every account. It is a plain
// in-memory value; the state machine owns the single authoritative instance
// and serializes access.
type Ledger struct {
	balances    map[types.AccountKey]*uint256.Int
	allowances  map[types.AccountKey]map[types.AccountKey]*uint256.Int
	totalSupply *uint256.Int
}

// NewLedger returns an empty ledger with zero supply.
func NewLedger() *Ledger {
	return &Ledger{
		balances:    make(map[types.AccountKey]*uint256.Int),
		allowances:  make(map[types.AccountKey]map[types.AccountKey]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

// Mint credits amt to the recipient and grows supply. Only the state machine
// may call it.
func (l *Ledger) Mint(to types.AccountKey, amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	supply, err := fixedpoint.Add(l.totalSupply, amt)
	if err != nil {
		return ErrOverflowSupply
	}
	balance, err := fixedpoint.Add(l.balanceRef(to), amt)
	if err != nil {
		return ErrOverflowSupply
	}
	l.totalSupply = supply
	l.balances[to] = balance
	return nil
}

// Burn removes amt from the holder and shrinks supply.
func (l *Ledger) Burn(from types.AccountKey, amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	balance := l.balanceRef(from)
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	updated, err := fixedpoint.Sub(balance, amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	supply, err := fixedpoint.Sub(l.totalSupply, amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	l.setBalance(from, updated)
	l.totalSupply = supply
	return nil
}

// Transfer moves amt between accounts. A zero amount is a no-op that always
// succeeds; a self-transfer is a no-op that still validates the balance.
func (l *Ledger) Transfer(from, to types.AccountKey, amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return nil
	}
	balance := l.balanceRef(from)
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	debited, err := fixedpoint.Sub(balance, amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	credited, err := fixedpoint.Add(l.balanceRef(to), amt)
	if err != nil {
		return ErrOverflowSupply
	}
	l.setBalance(from, debited)
	l.balances[to] = credited
	return nil
}

// Approve sets the spender allowance, replacing any previous value.
func (l *Ledger) Approve(owner, spender types.AccountKey, amt *uint256.Int) {
	granted := fixedpoint.Clone(amt)
	if granted.IsZero() {
		if inner, ok := l.allowances[owner]; ok {
			delete(inner, spender)
			if len(inner) == 0 {
				delete(l.allowances, owner)
			}
		}
		return
	}
	inner, ok := l.allowances[owner]
	if !ok {
		inner = make(map[types.AccountKey]*uint256.Int)
		l.allowances[owner] = inner
	}
	inner[spender] = granted
}

// TransferFrom spends an allowance granted by from to move amt to the
// recipient. The allowance is decremented by the transferred amount.
func (l *Ledger) TransferFrom(spender, from, to types.AccountKey, amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return nil
	}
	allowance := l.Allowance(from, spender)
	if allowance.Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(from, to, amt); err != nil {
		return err
	}
	remaining, err := fixedpoint.Sub(allowance, amt)
	if err != nil {
		return ErrInsufficientAllowance
	}
	l.Approve(from, spender, remaining)
	return nil
}

// BalanceOf returns a copy of the account balance, zero for unknown keys.
func (l *Ledger) BalanceOf(account types.AccountKey) *uint256.Int {
	return fixedpoint.Clone(l.balances[account])
}

// Allowance returns a copy of the spender allowance.
func (l *Ledger) Allowance(owner, spender types.AccountKey) *uint256.Int {
	inner, ok := l.allowances[owner]
	if !ok {
		return new(uint256.Int)
	}
	return fixedpoint.Clone(inner[spender])
}

// TotalSupply returns a copy of the current supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	return fixedpoint.Clone(l.totalSupply)
}

// Accounts lists every account with a non-zero balance in ascending key
// order, the iteration order used by the canonical codec.
func (l *Ledger) Accounts() []types.AccountKey {
	keys := make([]types.AccountKey, 0, len(l.balances))
	for key := range l.balances {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

// AllowanceEntry is one (owner, spender, amount) triple for serialization.
type AllowanceEntry struct {
	Owner   types.AccountKey
	Spender types.AccountKey
	Amount  *uint256.Int
}

// AllowanceEntries lists all allowances ordered by owner then spender.
func (l *Ledger) AllowanceEntries() []AllowanceEntry {
	owners := make([]types.AccountKey, 0, len(l.allowances))
	for owner := range l.allowances {
		owners = append(owners, owner)
	}
	sortKeys(owners)
	entries := make([]AllowanceEntry, 0, len(owners))
	for _, owner := range owners {
		inner := l.allowances[owner]
		spenders := make([]types.AccountKey, 0, len(inner))
		for spender := range inner {
			spenders = append(spenders, spender)
		}
		sortKeys(spenders)
		for _, spender := range spenders {
			entries = append(entries, AllowanceEntry{
				Owner:   owner,
				Spender: spender,
				Amount:  fixedpoint.Clone(inner[spender]),
			})
		}
	}
	return entries
}

// SetBalance overwrites an account balance and adjusts supply accordingly.
// It exists for snapshot restoration only.
func (l *Ledger) SetBalance(account types.AccountKey, amt *uint256.Int) error {
	current := l.balanceRef(account)
	supply, err := fixedpoint.Sub(l.totalSupply, current)
	if err != nil {
		return ErrInsufficientBalance
	}
	supply, err = fixedpoint.Add(supply, fixedpoint.Clone(amt))
	if err != nil {
		return ErrOverflowSupply
	}
	l.totalSupply = supply
	l.setBalance(account, fixedpoint.Clone(amt))
	return nil
}

// Clone deep-copies the ledger.
func (l *Ledger) Clone() *Ledger {
	clone := NewLedger()
	clone.totalSupply = fixedpoint.Clone(l.totalSupply)
	for key, balance := range l.balances {
		clone.balances[key] = fixedpoint.Clone(balance)
	}
	for owner, inner := range l.allowances {
		cloned := make(map[types.AccountKey]*uint256.Int, len(inner))
		for spender, amt := range inner {
			cloned[spender] = fixedpoint.Clone(amt)
		}
		clone.allowances[owner] = cloned
	}
	return clone
}

func (l *Ledger) balanceRef(account types.AccountKey) *uint256.Int {
	if balance, ok := l.balances[account]; ok && balance != nil {
		return balance
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalance(account types.AccountKey, amt *uint256.Int) {
	if amt.IsZero() {
		delete(l.balances, account)
		return
	}
	l.balances[account] = amt
}

func sortKeys(keys []types.AccountKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}
