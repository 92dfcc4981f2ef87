package protocol

import (
	"github.com/holiman/uint256"

	"zkusd/core/cdp"
	"zkusd/core/events"
	"zkusd/core/fixedpoint"
	"zkusd/core/recovery"
	"zkusd/core/types"
)

// OpenCDP locks collateral, mints the requested debt to the owner, and
// returns the new position id. The borrowing fee is added to the position's
// debt and accrues to the protocol treasury.
func (m *Machine) OpenCDP(owner types.AccountKey, collateral, debtRequested *uint256.Int) (uint64, error) {
	var id uint64
	err := m.apply("open_cdp", func(ctx *opContext) error {
		if collateral == nil || collateral.IsZero() || debtRequested == nil || debtRequested.IsZero() {
			return ErrInvalidAmount
		}
		if debtRequested.Cmp(m.params.MinDebt) < 0 {
			return ErrBelowMinDebt
		}
		fee, _, rateChanged, err := ctx.st.fees.BorrowingFee(ctx.st.systemDebt(), debtRequested, ctx.now)
		if err != nil {
			return err
		}
		debtTotal, err := fixedpoint.Add(debtRequested, fee)
		if err != nil {
			return err
		}
		ratio, _, err := cdp.CollateralRatio(collateral, debtTotal, ctx.price)
		if err != nil {
			return err
		}
		if ctx.st.recovery.Mode() == recovery.ModeRecovery {
			if ratio.Cmp(m.params.CCR) < 0 {
				return ErrBelowCCRInRecovery
			}
			if err := m.requireTCRNonDecreasing(ctx, collateral, debtTotal); err != nil {
				return err
			}
		} else if ratio.Cmp(m.params.MCR) < 0 {
			return ErrBelowMCR
		}

		position, err := ctx.st.cdps.Create(owner, collateral, debtTotal, m.height)
		if err != nil {
			return err
		}
		if err := ctx.st.vault.AddCollateral(collateral); err != nil {
			return err
		}
		if err := ctx.st.ledger.Mint(owner, debtRequested); err != nil {
			return err
		}
		if !fee.IsZero() {
			if err := ctx.st.ledger.Mint(TreasuryAccount, fee); err != nil {
				return err
			}
		}
		id = position.ID
		ctx.emit(events.CDPOpened{
			ID:         position.ID,
			Owner:      owner,
			Collateral: fixedpoint.Clone(collateral),
			Debt:       debtTotal,
			Fee:        fee,
		})
		if rateChanged {
			ctx.emit(events.BaseRateUpdated{BaseRate: ctx.st.fees.BaseRate()})
		}
		return nil
	})
	return id, err
}

// DepositCollateral tops up an active position. Any account may deposit:
// the operation can only improve the ratio.
func (m *Machine) DepositCollateral(from types.AccountKey, cdpID uint64, amount *uint256.Int) error {
	return m.apply("deposit", func(ctx *opContext) error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		if _, err := ctx.st.cdps.RequireActive(cdpID); err != nil {
			return err
		}
		if err := ctx.st.cdps.ApplyPending(cdpID); err != nil {
			return err
		}
		position, err := ctx.st.cdps.Get(cdpID)
		if err != nil {
			return err
		}
		updated, err := fixedpoint.Add(position.Collateral, amount)
		if err != nil {
			return err
		}
		if err := ctx.st.cdps.SetCollateral(cdpID, updated); err != nil {
			return err
		}
		if err := ctx.st.vault.AddCollateral(amount); err != nil {
			return err
		}
		ctx.emit(events.CollateralDeposited{ID: cdpID, From: from, Amount: fixedpoint.Clone(amount)})
		return nil
	})
}

// WithdrawCollateral releases collateral to the owner. The post-withdraw
// ratio must satisfy MCR; in Recovery mode withdrawal is fully blocked.
func (m *Machine) WithdrawCollateral(operator types.AccountKey, cdpID uint64, amount *uint256.Int) error {
	return m.apply("withdraw", func(ctx *opContext) error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		position, err := ctx.st.cdps.RequireActive(cdpID)
		if err != nil {
			return err
		}
		if position.Owner != operator {
			return cdp.ErrNotOwner
		}
		if ctx.st.recovery.Mode() == recovery.ModeRecovery {
			return ErrBelowCCRInRecovery
		}
		if err := ctx.st.cdps.ApplyPending(cdpID); err != nil {
			return err
		}
		position, err = ctx.st.cdps.Get(cdpID)
		if err != nil {
			return err
		}
		if position.Collateral.Cmp(amount) < 0 {
			return cdp.ErrInsufficientCollateral
		}
		remaining, err := fixedpoint.Sub(position.Collateral, amount)
		if err != nil {
			return err
		}
		ratio, finite, err := cdp.CollateralRatio(remaining, position.Debt, ctx.price)
		if err != nil {
			return err
		}
		if finite && ratio.Cmp(m.params.MCR) < 0 {
			return ErrBelowMCR
		}
		if err := ctx.st.cdps.SetCollateral(cdpID, remaining); err != nil {
			return err
		}
		if err := ctx.st.vault.RemoveCollateral(amount); err != nil {
			return err
		}
		ctx.emit(events.CollateralWithdrawn{ID: cdpID, Owner: operator, Amount: fixedpoint.Clone(amount)})
		return nil
	})
}

// MintDebt issues additional tokens against an active position. The
// borrowing fee is added to the debt; in Recovery mode the operation must
// not decrease the TCR, which minting cannot satisfy, so it is effectively
// blocked until the system recovers.
func (m *Machine) MintDebt(operator types.AccountKey, cdpID uint64, amount *uint256.Int) error {
	return m.apply("mint", func(ctx *opContext) error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		position, err := ctx.st.cdps.RequireActive(cdpID)
		if err != nil {
			return err
		}
		if position.Owner != operator {
			return cdp.ErrNotOwner
		}
		if err := ctx.st.cdps.ApplyPending(cdpID); err != nil {
			return err
		}
		position, err = ctx.st.cdps.Get(cdpID)
		if err != nil {
			return err
		}
		fee, _, rateChanged, err := ctx.st.fees.BorrowingFee(ctx.st.systemDebt(), amount, ctx.now)
		if err != nil {
			return err
		}
		delta, err := fixedpoint.Add(amount, fee)
		if err != nil {
			return err
		}
		newDebt, err := fixedpoint.Add(position.Debt, delta)
		if err != nil {
			return err
		}
		if ctx.st.recovery.Mode() == recovery.ModeRecovery {
			if err := m.requireTCRNonDecreasing(ctx, new(uint256.Int), delta); err != nil {
				return err
			}
		}
		ratio, _, err := cdp.CollateralRatio(position.Collateral, newDebt, ctx.price)
		if err != nil {
			return err
		}
		if ratio.Cmp(m.params.MCR) < 0 {
			return ErrBelowMCR
		}
		if err := ctx.st.cdps.SetDebt(cdpID, newDebt); err != nil {
			return err
		}
		if err := ctx.st.ledger.Mint(operator, amount); err != nil {
			return err
		}
		if !fee.IsZero() {
			if err := ctx.st.ledger.Mint(TreasuryAccount, fee); err != nil {
				return err
			}
		}
		ctx.emit(events.DebtMinted{ID: cdpID, Owner: operator, Amount: fixedpoint.Clone(amount), Fee: fee})
		if rateChanged {
			ctx.emit(events.BaseRateUpdated{BaseRate: ctx.st.fees.BaseRate()})
		}
		return nil
	})
}

// RepayDebt burns tokens from the payer and reduces the position's debt.
// Any account may repay; the remaining debt must be zero or at least the
// minimum.
func (m *Machine) RepayDebt(payer types.AccountKey, cdpID uint64, amount *uint256.Int) error {
	return m.apply("repay", func(ctx *opContext) error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		if _, err := ctx.st.cdps.RequireActive(cdpID); err != nil {
			return err
		}
		if err := ctx.st.cdps.ApplyPending(cdpID); err != nil {
			return err
		}
		position, err := ctx.st.cdps.Get(cdpID)
		if err != nil {
			return err
		}
		repay := fixedpoint.Min(amount, position.Debt)
		if repay.IsZero() {
			return ErrInvalidAmount
		}
		remaining, err := fixedpoint.Sub(position.Debt, repay)
		if err != nil {
			return err
		}
		if !remaining.IsZero() && remaining.Cmp(m.params.MinDebt) < 0 {
			return ErrDustDebt
		}
		if err := ctx.st.ledger.Burn(payer, repay); err != nil {
			return err
		}
		if err := ctx.st.cdps.SetDebt(cdpID, remaining); err != nil {
			return err
		}
		ctx.emit(events.DebtRepaid{ID: cdpID, From: payer, Amount: repay})
		return nil
	})
}

// CloseCDP returns all collateral to the owner of a zero-debt position and
// retires it.
func (m *Machine) CloseCDP(operator types.AccountKey, cdpID uint64) error {
	return m.apply("close_cdp", func(ctx *opContext) error {
		position, err := ctx.st.cdps.RequireActive(cdpID)
		if err != nil {
			return err
		}
		if position.Owner != operator {
			return cdp.ErrNotOwner
		}
		if err := ctx.st.cdps.ApplyPending(cdpID); err != nil {
			return err
		}
		position, err = ctx.st.cdps.Get(cdpID)
		if err != nil {
			return err
		}
		collateral := position.Collateral
		if err := ctx.st.cdps.Close(cdpID); err != nil {
			return err
		}
		if !collateral.IsZero() {
			if err := ctx.st.vault.RemoveCollateral(collateral); err != nil {
				return err
			}
		}
		ctx.emit(events.CDPClosed{ID: cdpID, Owner: operator, CollateralReturned: collateral})
		return nil
	})
}

// requireTCRNonDecreasing simulates adding collateral and debt to the
// system totals and rejects the operation when the TCR would drop.
func (m *Machine) requireTCRNonDecreasing(ctx *opContext, collDelta, debtDelta *uint256.Int) error {
	preTCR, preFinite, err := ctx.st.systemTCR(ctx.price)
	if err != nil {
		return err
	}
	postColl, err := fixedpoint.Add(ctx.st.systemCollateral(), collDelta)
	if err != nil {
		return err
	}
	postDebt, err := fixedpoint.Add(ctx.st.systemDebt(), debtDelta)
	if err != nil {
		return err
	}
	postTCR, postFinite, err := recovery.ComputeTCR(postColl, postDebt, ctx.price)
	if err != nil {
		return err
	}
	if !tcrAtLeast(postTCR, postFinite, preTCR, preFinite) {
		return ErrTCRWouldDecrease
	}
	return nil
}
