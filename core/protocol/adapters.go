package protocol

import (
	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

// liquidationState adapts the working state to the liquidation engine's
// narrow interface. All methods run inside the operation's critical
// section.
type liquidationState struct {
	st *state
}

func (ls *liquidationState) LowestRatioActive() (uint64, bool) {
	return ls.st.cdps.LowestRatio()
}

func (ls *liquidationState) ApplyPendingRewards(id uint64) error {
	return ls.st.cdps.ApplyPending(id)
}

func (ls *liquidationState) Position(id uint64) (*types.CDP, error) {
	return ls.st.cdps.Get(id)
}

func (ls *liquidationState) PoolTotalDeposits() *uint256.Int {
	return ls.st.pool.TotalDeposits()
}

func (ls *liquidationState) SeizePosition(id uint64) (*uint256.Int, *uint256.Int, error) {
	collateral, debt, err := ls.st.cdps.MarkLiquidated(id)
	if err != nil {
		return nil, nil, err
	}
	if !collateral.IsZero() {
		if err := ls.st.vault.ReserveForLiquidation(collateral); err != nil {
			return nil, nil, err
		}
	}
	return collateral, debt, nil
}

func (ls *liquidationState) OffsetWithPool(debt, collateral *uint256.Int) error {
	if err := ls.st.pool.Absorb(debt, collateral); err != nil {
		return err
	}
	if err := ls.st.ledger.Burn(PoolAccount, debt); err != nil {
		return err
	}
	if !collateral.IsZero() {
		// The collateral stays in the vault as the pool's gain buffer.
		if err := ls.st.vault.ReleaseFromLiquidation(collateral); err != nil {
			return err
		}
	}
	return nil
}

func (ls *liquidationState) Redistribute(debt, collateral *uint256.Int) error {
	if err := ls.st.cdps.Redistribute(debt, collateral); err != nil {
		return err
	}
	if collateral != nil && !collateral.IsZero() {
		// Redistributed collateral remains vault-held until positions fold
		// it in.
		if err := ls.st.vault.ReleaseFromLiquidation(collateral); err != nil {
			return err
		}
	}
	return nil
}

func (ls *liquidationState) PayGasCompensation(collateral *uint256.Int) error {
	if err := ls.st.vault.ReleaseFromLiquidation(collateral); err != nil {
		return err
	}
	return ls.st.vault.RemoveCollateral(collateral)
}

// redemptionState adapts the working state to the redemption engine.
type redemptionState struct {
	st            *state
	dustThreshold *uint256.Int
	// dustSwept accumulates collateral swept to the treasury from emptied
	// positions.
	dustSwept *uint256.Int
}

func (rs *redemptionState) AscendActive() []uint64 {
	return rs.st.cdps.AscendActive()
}

func (rs *redemptionState) ApplyPendingRewards(id uint64) error {
	return rs.st.cdps.ApplyPending(id)
}

func (rs *redemptionState) Position(id uint64) (*types.CDP, error) {
	return rs.st.cdps.Get(id)
}

func (rs *redemptionState) RedeemAgainst(id uint64, debt, collateral *uint256.Int) error {
	position, err := rs.st.cdps.Get(id)
	if err != nil {
		return err
	}
	newDebt, err := fixedpoint.Sub(position.Debt, debt)
	if err != nil {
		return err
	}
	newColl, err := fixedpoint.Sub(position.Collateral, collateral)
	if err != nil {
		return err
	}
	if err := rs.st.cdps.SetDebt(id, newDebt); err != nil {
		return err
	}
	if err := rs.st.cdps.SetCollateral(id, newColl); err != nil {
		return err
	}
	if newDebt.IsZero() && !newColl.IsZero() && newColl.Cmp(rs.dustThreshold) < 0 {
		// Sweep the collateral remnant to the treasury and retire the
		// emptied position.
		if err := rs.st.cdps.SetCollateral(id, new(uint256.Int)); err != nil {
			return err
		}
		if err := rs.st.cdps.Close(id); err != nil {
			return err
		}
		if err := rs.st.vault.RemoveCollateral(newColl); err != nil {
			return err
		}
		swept, err := fixedpoint.Add(rs.dustSwept, newColl)
		if err != nil {
			return err
		}
		rs.dustSwept = swept
	}
	return nil
}
