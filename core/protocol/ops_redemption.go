package protocol

import (
	"github.com/holiman/uint256"

	"zkusd/core/events"
	"zkusd/core/fixedpoint"
	"zkusd/core/token"
	"zkusd/core/types"
)

// RedemptionOutcome reports the amounts moved by one redemption.
type RedemptionOutcome struct {
	TokensRedeemed   *uint256.Int
	CollateralPaid   *uint256.Int
	CollateralFee    *uint256.Int
	PositionsTouched uint64
}

// Redeem exchanges tokens for collateral at face value, paying down the
// lowest-ratio positions first. The redemption fee is taken out of the
// returned collateral and held by the protocol treasury; the base rate is
// bumped by the redeemed share of supply.
func (m *Machine) Redeem(account types.AccountKey, amount *uint256.Int) (*RedemptionOutcome, error) {
	var outcome *RedemptionOutcome
	err := m.apply("redeem", func(ctx *opContext) error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		if ctx.st.ledger.BalanceOf(account).Cmp(amount) < 0 {
			return token.ErrInsufficientBalance
		}
		if _, err := ctx.st.fees.DecayBaseRate(ctx.now); err != nil {
			return err
		}

		supplyBefore := ctx.st.ledger.TotalSupply()
		adapter := &redemptionState{
			st:            ctx.st,
			dustThreshold: m.params.CollateralDustThreshold,
			dustSwept:     new(uint256.Int),
		}
		m.redeemer.SetState(adapter)
		result, err := m.redeemer.Run(ctx.price, amount)
		if err != nil {
			return err
		}

		rate, err := ctx.st.fees.BumpForRedemption(supplyBefore, result.DebtRedeemed, ctx.now)
		if err != nil {
			return err
		}
		feeTokens, err := fixedpoint.WMul(result.DebtRedeemed, rate)
		if err != nil {
			return err
		}
		feeColl, err := fixedpoint.WDiv(feeTokens, ctx.price)
		if err != nil {
			return err
		}
		feeColl = fixedpoint.Min(feeColl, result.CollateralPulled)
		paid, err := fixedpoint.Sub(result.CollateralPulled, feeColl)
		if err != nil {
			return err
		}

		if err := ctx.st.ledger.Burn(account, result.DebtRedeemed); err != nil {
			return err
		}
		// All pulled collateral leaves the vault: the redeemer's share to
		// external custody, the fee share to the protocol treasury.
		if err := ctx.st.vault.RemoveCollateral(result.CollateralPulled); err != nil {
			return err
		}
		treasury, err := fixedpoint.Add(ctx.st.treasuryColl, feeColl)
		if err != nil {
			return err
		}
		treasury, err = fixedpoint.Add(treasury, adapter.dustSwept)
		if err != nil {
			return err
		}
		ctx.st.treasuryColl = treasury

		outcome = &RedemptionOutcome{
			TokensRedeemed:   result.DebtRedeemed,
			CollateralPaid:   paid,
			CollateralFee:    feeColl,
			PositionsTouched: result.PositionsTouched,
		}
		ctx.emit(events.Redemption{
			Account:          account,
			TokensRedeemed:   result.DebtRedeemed,
			CollateralPaid:   paid,
			CollateralFee:    feeColl,
			PositionsTouched: result.PositionsTouched,
		})
		ctx.emit(events.BaseRateUpdated{BaseRate: ctx.st.fees.BaseRate()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
