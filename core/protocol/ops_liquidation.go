package protocol

import (
	"zkusd/core/events"
	"zkusd/core/liquidation"
	"zkusd/core/recovery"
)

// LiquidateBatch seizes up to maxCount undercollateralized positions
// (zero means unbounded), offsetting debt against the stability pool first
// and redistributing the remainder. In Recovery mode the liquidation
// threshold widens from MCR to CCR. Returns ErrNoLiquidableCDPs when no
// position qualifies; opportunistic callers treat that as advisory.
func (m *Machine) LiquidateBatch(maxCount int) (*liquidation.Result, error) {
	var result *liquidation.Result
	err := m.apply("liquidate_batch", func(ctx *opContext) error {
		threshold := m.params.MCR
		if ctx.st.recovery.Mode() == recovery.ModeRecovery {
			threshold = m.params.CCR
		}
		m.liquidator.SetState(&liquidationState{st: ctx.st})
		batch, err := m.liquidator.Run(ctx.price, threshold, maxCount)
		if err != nil {
			return err
		}
		result = batch
		for range batch.Liquidated {
			ctx.st.fees.RecordLiquidation()
		}
		for _, entry := range batch.Liquidated {
			ctx.emit(events.CDPLiquidated{
				ID:                entry.ID,
				Owner:             entry.Owner,
				Debt:              entry.Debt,
				Collateral:        entry.Collateral,
				DebtOffset:        entry.DebtOffset,
				DebtRedistributed: entry.DebtRedistributed,
				GasCompensation:   entry.GasCompensation,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
