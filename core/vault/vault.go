// Package vault tracks the aggregate BTC collateral held by the protocol:
// the sum over all active positions plus collateral parked for liquidation
// distribution. Every mutation is paired with a matching CDP- or pool-level
// mutation by the state machine; the vault itself is a pair of checked
// integer aggregates.
package vault

import (
	"errors"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
)

var (
	ErrInvalidAmount          = errors.New("vault: amount must be positive")
	ErrInsufficientCollateral = errors.New("vault: insufficient collateral")
)

// Vault is the aggregate collateral account.
type Vault struct {
	total   *uint256.Int
	pending *uint256.Int
}

// NewVault returns an empty vault.
func NewVault() *Vault {
	return &Vault{total: new(uint256.Int), pending: new(uint256.Int)}
}

// AddCollateral grows the aggregate when collateral enters the system.
func (v *Vault) AddCollateral(amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	total, err := fixedpoint.Add(v.total, amt)
	if err != nil {
		return err
	}
	v.total = total
	return nil
}

// RemoveCollateral releases collateral out of the system. The unreserved
// portion must cover the withdrawal.
func (v *Vault) RemoveCollateral(amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	unreserved, err := fixedpoint.Sub(v.total, v.pending)
	if err != nil {
		return ErrInsufficientCollateral
	}
	if unreserved.Cmp(amt) < 0 {
		return ErrInsufficientCollateral
	}
	total, err := fixedpoint.Sub(v.total, amt)
	if err != nil {
		return ErrInsufficientCollateral
	}
	v.total = total
	return nil
}

// ReserveForLiquidation parks collateral pending distribution. The amount
// stays inside the aggregate until released.
func (v *Vault) ReserveForLiquidation(amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	pending, err := fixedpoint.Add(v.pending, amt)
	if err != nil {
		return err
	}
	if pending.Cmp(v.total) > 0 {
		return ErrInsufficientCollateral
	}
	v.pending = pending
	return nil
}

// ReleaseFromLiquidation returns parked collateral to the unreserved pool.
func (v *Vault) ReleaseFromLiquidation(amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	if v.pending.Cmp(amt) < 0 {
		return ErrInsufficientCollateral
	}
	pending, err := fixedpoint.Sub(v.pending, amt)
	if err != nil {
		return ErrInsufficientCollateral
	}
	v.pending = pending
	return nil
}

// TotalCollateral returns a copy of the aggregate collateral.
func (v *Vault) TotalCollateral() *uint256.Int {
	return fixedpoint.Clone(v.total)
}

// PendingLiquidation returns a copy of the reserved portion.
func (v *Vault) PendingLiquidation() *uint256.Int {
	return fixedpoint.Clone(v.pending)
}

// Restore overwrites both aggregates; snapshot restoration only.
func (v *Vault) Restore(total, pending *uint256.Int) {
	v.total = fixedpoint.Clone(total)
	v.pending = fixedpoint.Clone(pending)
}

// Clone deep-copies the vault.
func (v *Vault) Clone() *Vault {
	return &Vault{
		total:   fixedpoint.Clone(v.total),
		pending: fixedpoint.Clone(v.pending),
	}
}
