// Package redemption implements face-value redemption: tokens are exchanged
// for collateral by paying down debt on the lowest-ratio active positions
// first. Positions below the minimum collateral ratio are skipped (they
// belong to the liquidation path) and no redemption may leave residual dust
// debt behind.
package redemption

import (
	"errors"

	"github.com/holiman/uint256"

	"zkusd/core/cdp"
	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

var (
	ErrNilState         = errors.New("redemption engine: state not configured")
	ErrNoRedeemableCDPs = errors.New("redemption engine: no redeemable positions")
)

type engineState interface {
	AscendActive() []uint64
	ApplyPendingRewards(id uint64) error
	Position(id uint64) (*types.CDP, error)
	// RedeemAgainst removes debt and collateral from the position; the
	// state machine sweeps collateral dust and handles emptied positions.
	RedeemAgainst(id uint64, debt, collateral *uint256.Int) error
}

// Engine holds redemption parameters and the state binding.
type Engine struct {
	state   engineState
	mcr     *uint256.Int
	minDebt *uint256.Int
}

// NewEngine constructs a redemption engine.
func NewEngine(mcr, minDebt *uint256.Int) *Engine {
	return &Engine{mcr: fixedpoint.Clone(mcr), minDebt: fixedpoint.Clone(minDebt)}
}

// SetState wires the engine to the state machine.
func (e *Engine) SetState(state engineState) { e.state = state }

// Result aggregates one redemption run.
type Result struct {
	DebtRedeemed     *uint256.Int
	CollateralPulled *uint256.Int
	PositionsTouched uint64
}

// Run redeems up to amount of debt against the active set in ascending
// ratio order at the given price, returning the totals actually redeemed.
func (e *Engine) Run(price, amount *uint256.Int) (*Result, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	result := &Result{
		DebtRedeemed:     new(uint256.Int),
		CollateralPulled: new(uint256.Int),
	}
	remaining := fixedpoint.Clone(amount)
	for _, id := range e.state.AscendActive() {
		if remaining.IsZero() {
			break
		}
		if err := e.state.ApplyPendingRewards(id); err != nil {
			return nil, err
		}
		position, err := e.state.Position(id)
		if err != nil {
			return nil, err
		}
		ratio, finite, err := cdp.CollateralRatio(position.Collateral, position.Debt, price)
		if err != nil {
			return nil, err
		}
		if !finite {
			// Zero-debt positions terminate the ascending walk.
			break
		}
		if ratio.Cmp(e.mcr) < 0 {
			continue
		}
		redeemAmt, err := e.redeemable(position.Debt, remaining)
		if err != nil {
			return nil, err
		}
		if redeemAmt.IsZero() {
			continue
		}
		collateralOut, err := fixedpoint.WDiv(redeemAmt, price)
		if err != nil {
			return nil, err
		}
		if collateralOut.Cmp(position.Collateral) > 0 {
			continue
		}
		if err := e.state.RedeemAgainst(id, redeemAmt, collateralOut); err != nil {
			return nil, err
		}
		remaining, err = fixedpoint.Sub(remaining, redeemAmt)
		if err != nil {
			return nil, err
		}
		result.DebtRedeemed, err = fixedpoint.Add(result.DebtRedeemed, redeemAmt)
		if err != nil {
			return nil, err
		}
		result.CollateralPulled, err = fixedpoint.Add(result.CollateralPulled, collateralOut)
		if err != nil {
			return nil, err
		}
		result.PositionsTouched++
	}
	if result.DebtRedeemed.IsZero() {
		return nil, ErrNoRedeemableCDPs
	}
	return result, nil
}

// redeemable bounds the amount taken from one position: either the full
// debt, or a partial amount that leaves at least the minimum debt behind.
func (e *Engine) redeemable(debt, remaining *uint256.Int) (*uint256.Int, error) {
	if remaining.Cmp(debt) >= 0 {
		return fixedpoint.Clone(debt), nil
	}
	cap, err := fixedpoint.Sub(debt, e.minDebt)
	if err != nil {
		// Debt below the minimum cannot be partially redeemed.
		return new(uint256.Int), nil
	}
	return fixedpoint.Min(remaining, cap), nil
}
