package protocol

import (
	"fmt"

	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

// checkInvariants verifies the conservation laws on the working state
// before it is committed. A failure aborts the operation without touching
// the committed state; it can only arise from an implementation bug.
func (m *Machine) checkInvariants(st *state) error {
	// Supply conservation: total supply equals the sum over balances.
	supply := st.ledger.TotalSupply()
	balanceSum := fixedpoint.Clone(nil)
	for _, account := range st.ledger.Accounts() {
		sum, err := fixedpoint.Add(balanceSum, st.ledger.BalanceOf(account))
		if err != nil {
			return fmt.Errorf("%w: balance sum overflow", ErrInvariantViolation)
		}
		balanceSum = sum
	}
	if balanceSum.Cmp(supply) != 0 {
		return fmt.Errorf("%w: supply %s != balance sum %s", ErrInvariantViolation, supply.Dec(), balanceSum.Dec())
	}

	// Debt conservation: every token in circulation is backed by active
	// debt, applied or still pending redistribution.
	backing := st.systemDebt()
	if backing.Cmp(supply) != 0 {
		return fmt.Errorf("%w: system debt %s != supply %s", ErrInvariantViolation, backing.Dec(), supply.Dec())
	}

	// Collateral conservation: the vault aggregate covers active positions,
	// unapplied redistribution, the pool gain buffer, and any collateral
	// still parked mid-liquidation.
	expected := st.systemCollateral()
	expected, err := fixedpoint.Add(expected, st.pool.CollateralBuffer())
	if err != nil {
		return fmt.Errorf("%w: collateral sum overflow", ErrInvariantViolation)
	}
	expected, err = fixedpoint.Add(expected, st.vault.PendingLiquidation())
	if err != nil {
		return fmt.Errorf("%w: collateral sum overflow", ErrInvariantViolation)
	}
	if expected.Cmp(st.vault.TotalCollateral()) != 0 {
		return fmt.Errorf("%w: vault %s != tracked collateral %s", ErrInvariantViolation, st.vault.TotalCollateral().Dec(), expected.Dec())
	}

	// No active position may carry dust debt.
	for _, position := range st.cdps.All() {
		if position.Status != types.CDPStatusActive {
			continue
		}
		if !position.Debt.IsZero() && position.Debt.Cmp(m.params.MinDebt) < 0 {
			return fmt.Errorf("%w: cdp %d carries dust debt %s", ErrInvariantViolation, position.ID, position.Debt.Dec())
		}
	}
	return nil
}
