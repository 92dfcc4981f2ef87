package protocol

import (
	"github.com/holiman/uint256"

	"zkusd/core/events"
	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

// PoolDeposit moves tokens from the depositor into the stability pool. Any
// pending collateral gain is paid out first.
func (m *Machine) PoolDeposit(account types.AccountKey, amount *uint256.Int) error {
	return m.apply("pool_deposit", func(ctx *opContext) error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		if err := ctx.st.ledger.Transfer(account, PoolAccount, amount); err != nil {
			return err
		}
		gain, err := ctx.st.pool.Deposit(account, amount)
		if err != nil {
			return err
		}
		if err := m.payOutGain(ctx, account, gain); err != nil {
			return err
		}
		deposit, err := ctx.st.pool.CompoundedDeposit(account)
		if err != nil {
			return err
		}
		ctx.emit(events.StabilityPoolDeposit{
			Account: account,
			Amount:  fixedpoint.Clone(amount),
			Deposit: deposit,
		})
		return nil
	})
}

// PoolWithdraw returns part of the compounded deposit to the depositor,
// paying out the pending collateral gain alongside.
func (m *Machine) PoolWithdraw(account types.AccountKey, amount *uint256.Int) error {
	return m.apply("pool_withdraw", func(ctx *opContext) error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		gain, err := ctx.st.pool.Withdraw(account, amount)
		if err != nil {
			return err
		}
		if err := ctx.st.ledger.Transfer(PoolAccount, account, amount); err != nil {
			return err
		}
		if err := m.payOutGain(ctx, account, gain); err != nil {
			return err
		}
		deposit, err := ctx.st.pool.CompoundedDeposit(account)
		if err != nil {
			return err
		}
		ctx.emit(events.StabilityPoolWithdraw{
			Account: account,
			Amount:  fixedpoint.Clone(amount),
			Deposit: deposit,
		})
		return nil
	})
}

// PoolClaimGains pays out the accumulated collateral gain without touching
// the deposit.
func (m *Machine) PoolClaimGains(account types.AccountKey) error {
	return m.apply("pool_claim_gains", func(ctx *opContext) error {
		gain, err := ctx.st.pool.ClaimGains(account)
		if err != nil {
			return err
		}
		return m.payOutGain(ctx, account, gain)
	})
}

// payOutGain releases claimed collateral from the vault to the depositor's
// external custody and emits the claim event.
func (m *Machine) payOutGain(ctx *opContext, account types.AccountKey, gain *uint256.Int) error {
	if gain == nil || gain.IsZero() {
		return nil
	}
	if err := ctx.st.vault.RemoveCollateral(gain); err != nil {
		return err
	}
	ctx.emit(events.StabilityPoolGainClaimed{Account: account, Gain: gain})
	return nil
}
