// Package fees implements the dynamic fee engine: a base rate that decays
// exponentially between fee operations, a borrowing fee with a utilization
// premium, and the redemption fee with its classical base-rate bump.
package fees

import (
	"errors"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
)

var ErrInvalidAmount = errors.New("fees: amount must be positive")

// utilizationCap bounds the premium multiplier at 4x, for a total of up to
// five times the decayed base rate.
var utilizationCap = uint256.NewInt(4_000_000_000_000_000_000)

// Params are the governable fee constants, fixed for a session.
type Params struct {
	MintFeeFloor       *uint256.Int
	MintFeeCeil        *uint256.Int
	RedemptionFeeFloor *uint256.Int
	RedemptionFeeCeil  *uint256.Int
	// TargetDebt anchors the utilization premium; zero disables it.
	TargetDebt *uint256.Int
}

// Clone deep-copies the parameter set.
func (p Params) Clone() Params {
	return Params{
		MintFeeFloor:       fixedpoint.Clone(p.MintFeeFloor),
		MintFeeCeil:        fixedpoint.Clone(p.MintFeeCeil),
		RedemptionFeeFloor: fixedpoint.Clone(p.RedemptionFeeFloor),
		RedemptionFeeCeil:  fixedpoint.Clone(p.RedemptionFeeCeil),
		TargetDebt:         fixedpoint.Clone(p.TargetDebt),
	}
}

// Engine holds the fee state and applies the decay schedule.
type Engine struct {
	params             Params
	baseRate           *uint256.Int
	lastFeeOpTime      uint64
	lastRedemptionTime uint64
	mintCount          uint64
	redemptionCount    uint64
	liquidationCount   uint64
}

// NewEngine constructs a fee engine with a zero base rate anchored at the
// provided genesis timestamp.
func NewEngine(params Params, genesisTime uint64) *Engine {
	return &Engine{
		params:        params.Clone(),
		baseRate:      new(uint256.Int),
		lastFeeOpTime: genesisTime,
	}
}

// DecayBaseRate applies the per-minute exponential decay for the whole
// minutes elapsed since the last fee operation. Partial minutes accumulate
// toward the next decay rather than being dropped.
func (e *Engine) DecayBaseRate(now uint64) (bool, error) {
	if now <= e.lastFeeOpTime {
		return false, nil
	}
	minutes := (now - e.lastFeeOpTime) / 60
	if minutes == 0 {
		return false, nil
	}
	factor, err := fixedpoint.PowWad(fixedpoint.MinuteDecayFactor, minutes)
	if err != nil {
		return false, err
	}
	decayed, err := fixedpoint.WMul(e.baseRate, factor)
	if err != nil {
		return false, err
	}
	changed := decayed.Cmp(e.baseRate) != 0
	e.baseRate = decayed
	e.lastFeeOpTime += minutes * 60
	return changed, nil
}

// BorrowingFee decays the base rate, derives the effective mint fee rate
// from the utilization premium, and returns the fee charged on debtDelta.
func (e *Engine) BorrowingFee(totalDebt, debtDelta *uint256.Int, now uint64) (fee, rate *uint256.Int, changed bool, err error) {
	if debtDelta == nil || debtDelta.IsZero() {
		return nil, nil, false, ErrInvalidAmount
	}
	changed, err = e.DecayBaseRate(now)
	if err != nil {
		return nil, nil, false, err
	}
	premium, err := e.utilizationPremium(totalDebt)
	if err != nil {
		return nil, nil, false, err
	}
	raw, err := fixedpoint.Add(e.baseRate, premium)
	if err != nil {
		return nil, nil, false, err
	}
	rate = fixedpoint.Clamp(raw, e.params.MintFeeFloor, e.params.MintFeeCeil)
	fee, err = fixedpoint.WMul(debtDelta, rate)
	if err != nil {
		return nil, nil, false, err
	}
	e.mintCount++
	return fee, rate, changed, nil
}

// BumpForRedemption decays the base rate, raises it by the redeemed share of
// supply (capped at the redemption ceiling), and returns the clamped rate to
// charge on the redeemed amount. With zero supply the bump is defined as 0.
func (e *Engine) BumpForRedemption(totalSupply, redeemedAmt *uint256.Int, now uint64) (*uint256.Int, error) {
	if _, err := e.DecayBaseRate(now); err != nil {
		return nil, err
	}
	if totalSupply != nil && !totalSupply.IsZero() && redeemedAmt != nil && !redeemedAmt.IsZero() {
		bump, err := fixedpoint.WDiv(redeemedAmt, totalSupply)
		if err != nil {
			return nil, err
		}
		raised, err := fixedpoint.Add(e.baseRate, bump)
		if err != nil {
			return nil, err
		}
		if raised.Cmp(e.params.RedemptionFeeCeil) > 0 {
			raised = fixedpoint.Clone(e.params.RedemptionFeeCeil)
		}
		e.baseRate = raised
	}
	e.lastRedemptionTime = now
	e.redemptionCount++
	return fixedpoint.Clamp(e.baseRate, e.params.RedemptionFeeFloor, e.params.RedemptionFeeCeil), nil
}

func (e *Engine) utilizationPremium(totalDebt *uint256.Int) (*uint256.Int, error) {
	if e.params.TargetDebt == nil || e.params.TargetDebt.IsZero() {
		return new(uint256.Int), nil
	}
	if totalDebt == nil || totalDebt.IsZero() {
		return new(uint256.Int), nil
	}
	utilization, err := fixedpoint.WDiv(totalDebt, e.params.TargetDebt)
	if err != nil {
		return nil, err
	}
	utilization = fixedpoint.Min(utilization, utilizationCap)
	return fixedpoint.WMul(utilization, e.baseRate)
}

// RecordLiquidation bumps the liquidation statistics counter.
func (e *Engine) RecordLiquidation() { e.liquidationCount++ }

// BaseRate returns a copy of the current base rate.
func (e *Engine) BaseRate() *uint256.Int { return fixedpoint.Clone(e.baseRate) }

// LastFeeOpTime returns the base-rate anchor timestamp.
func (e *Engine) LastFeeOpTime() uint64 { return e.lastFeeOpTime }

// LastRedemptionTime returns the timestamp of the last redemption.
func (e *Engine) LastRedemptionTime() uint64 { return e.lastRedemptionTime }

// Counters returns the operation statistics.
func (e *Engine) Counters() (mints, redemptions, liquidations uint64) {
	return e.mintCount, e.redemptionCount, e.liquidationCount
}

// Restore overwrites the fee state; snapshot restoration only.
func (e *Engine) Restore(baseRate *uint256.Int, lastFeeOp, lastRedemption, mints, redemptions, liquidations uint64) {
	e.baseRate = fixedpoint.Clone(baseRate)
	e.lastFeeOpTime = lastFeeOp
	e.lastRedemptionTime = lastRedemption
	e.mintCount = mints
	e.redemptionCount = redemptions
	e.liquidationCount = liquidations
}

// Clone deep-copies the engine.
func (e *Engine) Clone() *Engine {
	return &Engine{
		params:             e.params.Clone(),
		baseRate:           fixedpoint.Clone(e.baseRate),
		lastFeeOpTime:      e.lastFeeOpTime,
		lastRedemptionTime: e.lastRedemptionTime,
		mintCount:          e.mintCount,
		redemptionCount:    e.redemptionCount,
		liquidationCount:   e.liquidationCount,
	}
}
