// Package liquidation implements the liquidation engine: it walks the ratio
// index ascending, seizes undercollateralized positions, offsets as much
// debt as the stability pool can absorb, and redistributes the rest across
// the surviving positions. The engine mutates protocol state only through
// the narrow interface the state machine implements.
package liquidation

import (
	"errors"

	"github.com/holiman/uint256"

	"zkusd/core/cdp"
	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

var (
	ErrNilState         = errors.New("liquidation engine: state not configured")
	ErrNoLiquidableCDPs = errors.New("liquidation engine: no liquidable positions")
)

type engineState interface {
	LowestRatioActive() (uint64, bool)
	ApplyPendingRewards(id uint64) error
	Position(id uint64) (*types.CDP, error)
	PoolTotalDeposits() *uint256.Int
	// SeizePosition marks the position liquidated, reserves its collateral
	// in the vault, and returns the seized collateral and debt.
	SeizePosition(id uint64) (collateral, debt *uint256.Int, err error)
	OffsetWithPool(debt, collateral *uint256.Int) error
	Redistribute(debt, collateral *uint256.Int) error
	PayGasCompensation(collateral *uint256.Int) error
}

// Engine holds the liquidation parameters and the state binding.
type Engine struct {
	state engineState
	// bonusRate is the LIQUIDATION_BONUS applied to the debt value.
	bonusRate *uint256.Int
	// bonusCapRate caps the gas compensation as a share of the seized
	// collateral.
	bonusCapRate *uint256.Int
}

// NewEngine constructs a liquidation engine with the given bonus schedule.
func NewEngine(bonusRate, bonusCapRate *uint256.Int) *Engine {
	return &Engine{
		bonusRate:    fixedpoint.Clone(bonusRate),
		bonusCapRate: fixedpoint.Clone(bonusCapRate),
	}
}

// SetState wires the engine to the state machine.
func (e *Engine) SetState(state engineState) { e.state = state }

// LiquidatedCDP describes one seized position in a batch result.
type LiquidatedCDP struct {
	ID                      uint64
	Owner                   types.AccountKey
	Debt                    *uint256.Int
	Collateral              *uint256.Int
	DebtOffset              *uint256.Int
	DebtRedistributed       *uint256.Int
	CollateralToPool        *uint256.Int
	CollateralRedistributed *uint256.Int
	GasCompensation         *uint256.Int
}

// Result aggregates a liquidation batch.
type Result struct {
	Liquidated              []LiquidatedCDP
	DebtOffset              *uint256.Int
	DebtRedistributed       *uint256.Int
	CollateralToPool        *uint256.Int
	CollateralRedistributed *uint256.Int
	GasCompensation         *uint256.Int
}

// Run liquidates every position whose ratio at the given price sits below
// threshold, lowest first, up to maxCount positions (zero means unbounded).
// Returns ErrNoLiquidableCDPs when nothing qualified.
func (e *Engine) Run(price, threshold *uint256.Int, maxCount int) (*Result, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	result := &Result{
		DebtOffset:              new(uint256.Int),
		DebtRedistributed:       new(uint256.Int),
		CollateralToPool:        new(uint256.Int),
		CollateralRedistributed: new(uint256.Int),
		GasCompensation:         new(uint256.Int),
	}
	for maxCount == 0 || len(result.Liquidated) < maxCount {
		id, ok := e.state.LowestRatioActive()
		if !ok {
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
		// Zero-debt positions sort last; once the lowest ratio clears the
		// threshold no further candidate can qualify.
		if !finite || ratio.Cmp(threshold) >= 0 {
			break
		}
		entry, err := e.liquidateOne(id, position.Owner, price)
		if err != nil {
			return nil, err
		}
		result.Liquidated = append(result.Liquidated, *entry)
		result.DebtOffset = mustAdd(result.DebtOffset, entry.DebtOffset)
		result.DebtRedistributed = mustAdd(result.DebtRedistributed, entry.DebtRedistributed)
		result.CollateralToPool = mustAdd(result.CollateralToPool, entry.CollateralToPool)
		result.CollateralRedistributed = mustAdd(result.CollateralRedistributed, entry.CollateralRedistributed)
		result.GasCompensation = mustAdd(result.GasCompensation, entry.GasCompensation)
	}
	if len(result.Liquidated) == 0 {
		return nil, ErrNoLiquidableCDPs
	}
	return result, nil
}

func (e *Engine) liquidateOne(id uint64, owner types.AccountKey, price *uint256.Int) (*LiquidatedCDP, error) {
	collateral, debt, err := e.state.SeizePosition(id)
	if err != nil {
		return nil, err
	}
	comp, err := e.gasCompensation(collateral, debt, price)
	if err != nil {
		return nil, err
	}
	remainder, err := fixedpoint.Sub(collateral, comp)
	if err != nil {
		return nil, err
	}

	offset := fixedpoint.Min(debt, e.state.PoolTotalDeposits())
	collToPool := new(uint256.Int)
	if !offset.IsZero() {
		collToPool, err = fixedpoint.MulDiv(remainder, offset, debt)
		if err != nil {
			return nil, err
		}
		if err := e.state.OffsetWithPool(offset, collToPool); err != nil {
			return nil, err
		}
	}

	residualDebt, err := fixedpoint.Sub(debt, offset)
	if err != nil {
		return nil, err
	}
	residualColl, err := fixedpoint.Sub(remainder, collToPool)
	if err != nil {
		return nil, err
	}
	if !residualDebt.IsZero() || !residualColl.IsZero() {
		if err := e.state.Redistribute(residualDebt, residualColl); err != nil {
			return nil, err
		}
	}
	if !comp.IsZero() {
		if err := e.state.PayGasCompensation(comp); err != nil {
			return nil, err
		}
	}
	return &LiquidatedCDP{
		ID:                      id,
		Owner:                   owner,
		Debt:                    debt,
		Collateral:              collateral,
		DebtOffset:              offset,
		DebtRedistributed:       residualDebt,
		CollateralToPool:        collToPool,
		CollateralRedistributed: residualColl,
		GasCompensation:         comp,
	}, nil
}

// gasCompensation pays the caller the liquidation bonus measured against
// the debt value in BTC terms, capped at a small share of the seized
// collateral and never more than the collateral itself.
func (e *Engine) gasCompensation(collateral, debt, price *uint256.Int) (*uint256.Int, error) {
	debtInBTC, err := fixedpoint.WDiv(debt, price)
	if err != nil {
		return nil, err
	}
	bonus, err := fixedpoint.WMul(e.bonusRate, debtInBTC)
	if err != nil {
		return nil, err
	}
	cap, err := fixedpoint.WMulDown(collateral, e.bonusCapRate)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Min(fixedpoint.Min(bonus, cap), collateral), nil
}

func mustAdd(a, b *uint256.Int) *uint256.Int {
	sum, err := fixedpoint.Add(a, b)
	if err != nil {
		panic(err)
	}
	return sum
}
