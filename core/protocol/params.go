package protocol

import (
	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
)

// Params are the governable protocol constants, fixed for a session. All
// ratios and rates are wad-scaled.
type Params struct {
	// MCR is the minimum collateral ratio for open/withdraw/mint in Normal
	// mode.
	MCR *uint256.Int
	// CCR is the critical system ratio: below it the protocol enters
	// Recovery mode and per-position admission tightens to CCR.
	CCR *uint256.Int
	// LiquidationBonus is paid to the liquidation caller against the debt
	// value of each seized position.
	LiquidationBonus *uint256.Int
	// GasCompCapRate caps the bonus as a share of seized collateral.
	GasCompCapRate *uint256.Int
	// MinDebt is the smallest debt an active position may carry.
	MinDebt *uint256.Int

	MintFeeFloor       *uint256.Int
	MintFeeCeil        *uint256.Int
	RedemptionFeeFloor *uint256.Int
	RedemptionFeeCeil  *uint256.Int
	// TargetDebt anchors the borrowing-fee utilization premium.
	TargetDebt *uint256.Int

	// CollateralDustThreshold is the collateral remnant below which an
	// emptied position is swept to the treasury during redemption.
	CollateralDustThreshold *uint256.Int
}

// DefaultParams returns the session defaults.
func DefaultParams() Params {
	return Params{
		MCR:                     fixedpoint.MustWadFromDecimal("1.5"),
		CCR:                     fixedpoint.MustWadFromDecimal("1.5"),
		LiquidationBonus:        fixedpoint.MustWadFromDecimal("0.1"),
		GasCompCapRate:          fixedpoint.MustWadFromDecimal("0.005"),
		MinDebt:                 fixedpoint.MustWadFromDecimal("200"),
		MintFeeFloor:            fixedpoint.MustWadFromDecimal("0.005"),
		MintFeeCeil:             fixedpoint.MustWadFromDecimal("0.05"),
		RedemptionFeeFloor:      fixedpoint.MustWadFromDecimal("0.005"),
		RedemptionFeeCeil:       fixedpoint.MustWadFromDecimal("0.05"),
		TargetDebt:              fixedpoint.MustWadFromDecimal("1000000"),
		CollateralDustThreshold: uint256.NewInt(1_000_000),
	}
}

// Clone deep-copies the parameter set.
func (p Params) Clone() Params {
	return Params{
		MCR:                     fixedpoint.Clone(p.MCR),
		CCR:                     fixedpoint.Clone(p.CCR),
		LiquidationBonus:        fixedpoint.Clone(p.LiquidationBonus),
		GasCompCapRate:          fixedpoint.Clone(p.GasCompCapRate),
		MinDebt:                 fixedpoint.Clone(p.MinDebt),
		MintFeeFloor:            fixedpoint.Clone(p.MintFeeFloor),
		MintFeeCeil:             fixedpoint.Clone(p.MintFeeCeil),
		RedemptionFeeFloor:      fixedpoint.Clone(p.RedemptionFeeFloor),
		RedemptionFeeCeil:       fixedpoint.Clone(p.RedemptionFeeCeil),
		TargetDebt:              fixedpoint.Clone(p.TargetDebt),
		CollateralDustThreshold: fixedpoint.Clone(p.CollateralDustThreshold),
	}
}
