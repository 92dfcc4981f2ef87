package types

import "github.com/holiman/uint256"

// CDPStatus tracks the lifecycle of a collateralized debt position. A CDP is
// Active from open until it is liquidated or closed; once non-Active no
// further state changes are permitted.
type CDPStatus uint8

const (
	CDPStatusActive CDPStatus = iota
	CDPStatusClosed
	CDPStatusLiquidated
)

func (s CDPStatus) String() string {
	switch s {
	case CDPStatusActive:
		return "active"
	case CDPStatusClosed:
		return "closed"
	case CDPStatusLiquidated:
		return "liquidated"
	}
	return "unknown"
}

// CDP is a collateralized debt position. Collateral is denominated in BTC
// wads, debt in token wads; debt includes the borrowing fee accrued at mint
// time.
type CDP struct {
	// ID is assigned monotonically by the CDP manager and never reused.
	ID uint64
	// Owner is the opaque account key controlling the position.
	Owner AccountKey
	// Collateral is the BTC amount locked in the position, excluding any
	// redistribution rewards not yet applied.
	Collateral *uint256.Int
	// Debt is the outstanding token debt, excluding pending redistribution.
	Debt *uint256.Int
	// Status is Active, Closed, or Liquidated.
	Status CDPStatus
	// CreatedAtBlock records the block height of the open operation.
	CreatedAtBlock uint64
	// RewardSnapshotDebt is the redistribution debt accumulator observed when
	// pending redistribution was last applied to this position.
	RewardSnapshotDebt *uint256.Int
	// RewardSnapshotColl is the redistribution collateral accumulator
	// observed when pending redistribution was last applied.
	RewardSnapshotColl *uint256.Int
}

// Clone returns a deep copy of the position.
func (c *CDP) Clone() *CDP {
	if c == nil {
		return nil
	}
	clone := &CDP{
		ID:             c.ID,
		Owner:          c.Owner,
		Status:         c.Status,
		CreatedAtBlock: c.CreatedAtBlock,
	}
	if c.Collateral != nil {
		clone.Collateral = new(uint256.Int).Set(c.Collateral)
	}
	if c.Debt != nil {
		clone.Debt = new(uint256.Int).Set(c.Debt)
	}
	if c.RewardSnapshotDebt != nil {
		clone.RewardSnapshotDebt = new(uint256.Int).Set(c.RewardSnapshotDebt)
	}
	if c.RewardSnapshotColl != nil {
		clone.RewardSnapshotColl = new(uint256.Int).Set(c.RewardSnapshotColl)
	}
	return clone
}
