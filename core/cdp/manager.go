// Package cdp manages the per-position lifecycle: creation, collateral and
// debt adjustments, the ratio-ordered index used by liquidation and
// redemption, and the lazy pro-rata redistribution accumulators that absorb
// liquidated positions when the stability pool runs dry.
package cdp

import (
	"errors"
	"sort"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

var (
	ErrCDPNotFound            = errors.New("cdp: position not found")
	ErrNotOwner               = errors.New("cdp: operator is not the owner")
	ErrNotActive              = errors.New("cdp: position is not active")
	ErrInvalidAmount          = errors.New("cdp: amount must be positive")
	ErrInsufficientCollateral = errors.New("cdp: insufficient collateral")
	ErrDebtOutstanding        = errors.New("cdp: debt outstanding")
	ErrNoStakes               = errors.New("cdp: no active collateral to redistribute against")
)

// Manager owns the CDP map, the monotonic id counter, the sorted ratio
// index, and the global redistribution accumulators. The state machine
// serializes all access.
type Manager struct {
	cdps   map[uint64]*types.CDP
	nextID uint64
	index  *ratioIndex

	// lDebt and lColl are the cumulative reward-per-unit-staked
	// accumulators, wad-scaled per unit of collateral.
	lDebt *uint256.Int
	lColl *uint256.Int
	// pendingDebt and pendingColl track redistribution amounts not yet
	// applied to individual positions (including rounding residue).
	pendingDebt *uint256.Int
	pendingColl *uint256.Int

	totalActiveColl *uint256.Int
	totalActiveDebt *uint256.Int
}

// NewManager returns an empty CDP manager; the first allocated id is 1.
func NewManager() *Manager {
	return &Manager{
		cdps:            make(map[uint64]*types.CDP),
		nextID:          1,
		index:           newRatioIndex(),
		lDebt:           new(uint256.Int),
		lColl:           new(uint256.Int),
		pendingDebt:     new(uint256.Int),
		pendingColl:     new(uint256.Int),
		totalActiveColl: new(uint256.Int),
		totalActiveDebt: new(uint256.Int),
	}
}

// Create allocates a new active position and inserts it into the index. The
// reward snapshots start at the current accumulator values so no historical
// redistribution leaks into the new position.
func (m *Manager) Create(owner types.AccountKey, collateral, debt *uint256.Int, block uint64) (*types.CDP, error) {
	if collateral == nil || collateral.IsZero() {
		return nil, ErrInvalidAmount
	}
	position := &types.CDP{
		ID:                 m.nextID,
		Owner:              owner,
		Collateral:         fixedpoint.Clone(collateral),
		Debt:               fixedpoint.Clone(debt),
		Status:             types.CDPStatusActive,
		CreatedAtBlock:     block,
		RewardSnapshotDebt: fixedpoint.Clone(m.lDebt),
		RewardSnapshotColl: fixedpoint.Clone(m.lColl),
	}
	m.nextID++
	m.cdps[position.ID] = position
	m.totalActiveColl = mustAdd(m.totalActiveColl, position.Collateral)
	m.totalActiveDebt = mustAdd(m.totalActiveDebt, position.Debt)
	m.reindex(position)
	return position.Clone(), nil
}

// Get returns a copy of the position.
func (m *Manager) Get(id uint64) (*types.CDP, error) {
	position, ok := m.cdps[id]
	if !ok {
		return nil, ErrCDPNotFound
	}
	return position.Clone(), nil
}

// RequireActive returns a copy of the position, failing unless it is Active.
func (m *Manager) RequireActive(id uint64) (*types.CDP, error) {
	position, ok := m.cdps[id]
	if !ok {
		return nil, ErrCDPNotFound
	}
	if position.Status != types.CDPStatusActive {
		return nil, ErrNotActive
	}
	return position.Clone(), nil
}

// ApplyPending folds the position's share of past redistributions into its
// stored collateral and debt and refreshes the reward snapshots. It must run
// before any other mutation of the position, mirroring how interest sync
// precedes balance changes.
func (m *Manager) ApplyPending(id uint64) error {
	position, ok := m.cdps[id]
	if !ok {
		return ErrCDPNotFound
	}
	if position.Status != types.CDPStatusActive {
		return ErrNotActive
	}
	debtGain, collGain, err := m.pendingFor(position)
	if err != nil {
		return err
	}
	if debtGain.IsZero() && collGain.IsZero() {
		position.RewardSnapshotDebt = fixedpoint.Clone(m.lDebt)
		position.RewardSnapshotColl = fixedpoint.Clone(m.lColl)
		return nil
	}
	position.Debt = mustAdd(position.Debt, debtGain)
	position.Collateral = mustAdd(position.Collateral, collGain)
	position.RewardSnapshotDebt = fixedpoint.Clone(m.lDebt)
	position.RewardSnapshotColl = fixedpoint.Clone(m.lColl)

	m.totalActiveDebt = mustAdd(m.totalActiveDebt, debtGain)
	m.totalActiveColl = mustAdd(m.totalActiveColl, collGain)
	m.pendingDebt = saturatingSub(m.pendingDebt, debtGain)
	m.pendingColl = saturatingSub(m.pendingColl, collGain)
	m.reindex(position)
	return nil
}

// PendingRewards returns the unapplied redistribution amounts for a
// position without mutating it.
func (m *Manager) PendingRewards(id uint64) (debtGain, collGain *uint256.Int, err error) {
	position, ok := m.cdps[id]
	if !ok {
		return nil, nil, ErrCDPNotFound
	}
	return m.pendingFor(position)
}

func (m *Manager) pendingFor(position *types.CDP) (*uint256.Int, *uint256.Int, error) {
	debtDelta, err := fixedpoint.Sub(m.lDebt, position.RewardSnapshotDebt)
	if err != nil {
		return nil, nil, err
	}
	collDelta, err := fixedpoint.Sub(m.lColl, position.RewardSnapshotColl)
	if err != nil {
		return nil, nil, err
	}
	debtGain, err := fixedpoint.WMulDown(position.Collateral, debtDelta)
	if err != nil {
		return nil, nil, err
	}
	collGain, err := fixedpoint.WMulDown(position.Collateral, collDelta)
	if err != nil {
		return nil, nil, err
	}
	return debtGain, collGain, nil
}

// SetCollateral overwrites the stored collateral of an active position and
// reindexes it. The caller has already applied pending rewards.
func (m *Manager) SetCollateral(id uint64, collateral *uint256.Int) error {
	position, ok := m.cdps[id]
	if !ok {
		return ErrCDPNotFound
	}
	if position.Status != types.CDPStatusActive {
		return ErrNotActive
	}
	m.totalActiveColl = saturatingSub(m.totalActiveColl, position.Collateral)
	position.Collateral = fixedpoint.Clone(collateral)
	m.totalActiveColl = mustAdd(m.totalActiveColl, position.Collateral)
	m.reindex(position)
	return nil
}

// SetDebt overwrites the stored debt of an active position and reindexes it.
func (m *Manager) SetDebt(id uint64, debt *uint256.Int) error {
	position, ok := m.cdps[id]
	if !ok {
		return ErrCDPNotFound
	}
	if position.Status != types.CDPStatusActive {
		return ErrNotActive
	}
	m.totalActiveDebt = saturatingSub(m.totalActiveDebt, position.Debt)
	position.Debt = fixedpoint.Clone(debt)
	m.totalActiveDebt = mustAdd(m.totalActiveDebt, position.Debt)
	m.reindex(position)
	return nil
}

// Close transitions a zero-debt position to Closed and removes it from the
// index. The collateral to return is read by the caller beforehand.
func (m *Manager) Close(id uint64) error {
	position, ok := m.cdps[id]
	if !ok {
		return ErrCDPNotFound
	}
	if position.Status != types.CDPStatusActive {
		return ErrNotActive
	}
	if position.Debt != nil && !position.Debt.IsZero() {
		return ErrDebtOutstanding
	}
	m.totalActiveColl = saturatingSub(m.totalActiveColl, position.Collateral)
	position.Collateral = new(uint256.Int)
	position.Status = types.CDPStatusClosed
	m.index.Remove(id)
	return nil
}

// MarkLiquidated removes the position from the active set and returns the
// seized collateral and debt. The caller distributes both.
func (m *Manager) MarkLiquidated(id uint64) (collateral, debt *uint256.Int, err error) {
	position, ok := m.cdps[id]
	if !ok {
		return nil, nil, ErrCDPNotFound
	}
	if position.Status != types.CDPStatusActive {
		return nil, nil, ErrNotActive
	}
	collateral = fixedpoint.Clone(position.Collateral)
	debt = fixedpoint.Clone(position.Debt)
	m.totalActiveColl = saturatingSub(m.totalActiveColl, position.Collateral)
	m.totalActiveDebt = saturatingSub(m.totalActiveDebt, position.Debt)
	position.Collateral = new(uint256.Int)
	position.Debt = new(uint256.Int)
	position.Status = types.CDPStatusLiquidated
	m.index.Remove(id)
	return collateral, debt, nil
}

// Redistribute spreads debt and collateral from a liquidated position across
// all remaining active positions pro-rata by collateral, by bumping the
// global accumulators. Individual positions fold their share in lazily via
// ApplyPending.
func (m *Manager) Redistribute(debt, collateral *uint256.Int) error {
	if m.totalActiveColl.IsZero() {
		return ErrNoStakes
	}
	if debt != nil && !debt.IsZero() {
		perUnit, err := fixedpoint.WDivDown(debt, m.totalActiveColl)
		if err != nil {
			return err
		}
		m.lDebt = mustAdd(m.lDebt, perUnit)
		m.pendingDebt = mustAdd(m.pendingDebt, debt)
	}
	if collateral != nil && !collateral.IsZero() {
		perUnit, err := fixedpoint.WDivDown(collateral, m.totalActiveColl)
		if err != nil {
			return err
		}
		m.lColl = mustAdd(m.lColl, perUnit)
		m.pendingColl = mustAdd(m.pendingColl, collateral)
	}
	return nil
}

// NominalRatio computes collateral*WAD/debt; the boolean is false for
// zero-debt (infinite ratio) positions.
func NominalRatio(collateral, debt *uint256.Int) (*uint256.Int, bool, error) {
	if debt == nil || debt.IsZero() {
		return nil, false, nil
	}
	ratio, err := fixedpoint.WDivDown(collateral, debt)
	if err != nil {
		return nil, false, err
	}
	return ratio, true, nil
}

// CollateralRatio computes wmul(collateral, price)/debt in wad; the boolean
// is false when debt is zero, meaning infinite ratio.
func CollateralRatio(collateral, debt, price *uint256.Int) (*uint256.Int, bool, error) {
	if debt == nil || debt.IsZero() {
		return nil, false, nil
	}
	value, err := fixedpoint.WMul(collateral, price)
	if err != nil {
		return nil, false, err
	}
	ratio, err := fixedpoint.WDiv(value, debt)
	if err != nil {
		return nil, false, err
	}
	return ratio, true, nil
}

// LowestRatio returns the active position with the smallest ratio.
func (m *Manager) LowestRatio() (uint64, bool) {
	return m.index.Lowest()
}

// AscendActive lists all active position ids in ascending ratio order.
func (m *Manager) AscendActive() []uint64 {
	return m.index.Ascend()
}

// ActiveCount returns the number of active positions.
func (m *Manager) ActiveCount() int { return m.index.Len() }

// TotalActiveCollateral returns the stored collateral sum over active
// positions, excluding unapplied redistribution.
func (m *Manager) TotalActiveCollateral() *uint256.Int {
	return fixedpoint.Clone(m.totalActiveColl)
}

// TotalActiveDebt returns the stored debt sum over active positions.
func (m *Manager) TotalActiveDebt() *uint256.Int {
	return fixedpoint.Clone(m.totalActiveDebt)
}

// PendingRedistributionDebt returns redistribution debt not yet applied.
func (m *Manager) PendingRedistributionDebt() *uint256.Int {
	return fixedpoint.Clone(m.pendingDebt)
}

// PendingRedistributionCollateral returns redistribution collateral not yet
// applied.
func (m *Manager) PendingRedistributionCollateral() *uint256.Int {
	return fixedpoint.Clone(m.pendingColl)
}

// Accumulators returns copies of the redistribution accumulators.
func (m *Manager) Accumulators() (lDebt, lColl *uint256.Int) {
	return fixedpoint.Clone(m.lDebt), fixedpoint.Clone(m.lColl)
}

// NextID returns the next id to be allocated.
func (m *Manager) NextID() uint64 { return m.nextID }

// All lists every position (any status) ordered by id, for serialization.
func (m *Manager) All() []*types.CDP {
	ids := make([]uint64, 0, len(m.cdps))
	for id := range m.cdps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*types.CDP, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.cdps[id].Clone())
	}
	return out
}

// RestoreState rebuilds the manager from snapshot data. Positions must be
// supplied in full; the ratio index is rebuilt from the active set.
func (m *Manager) RestoreState(positions []*types.CDP, nextID uint64, lDebt, lColl, pendingDebt, pendingColl *uint256.Int) error {
	m.cdps = make(map[uint64]*types.CDP, len(positions))
	m.index = newRatioIndex()
	m.totalActiveColl = new(uint256.Int)
	m.totalActiveDebt = new(uint256.Int)
	for _, position := range positions {
		clone := position.Clone()
		m.cdps[clone.ID] = clone
		if clone.Status == types.CDPStatusActive {
			m.totalActiveColl = mustAdd(m.totalActiveColl, clone.Collateral)
			m.totalActiveDebt = mustAdd(m.totalActiveDebt, clone.Debt)
			m.reindex(clone)
		}
	}
	m.nextID = nextID
	m.lDebt = fixedpoint.Clone(lDebt)
	m.lColl = fixedpoint.Clone(lColl)
	m.pendingDebt = fixedpoint.Clone(pendingDebt)
	m.pendingColl = fixedpoint.Clone(pendingColl)
	return nil
}

// Clone deep-copies the manager, rebuilding the index.
func (m *Manager) Clone() *Manager {
	clone := NewManager()
	positions := make([]*types.CDP, 0, len(m.cdps))
	for _, position := range m.cdps {
		positions = append(positions, position)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	if err := clone.RestoreState(positions, m.nextID, m.lDebt, m.lColl, m.pendingDebt, m.pendingColl); err != nil {
		panic(err)
	}
	return clone
}

func (m *Manager) reindex(position *types.CDP) {
	if position.Status != types.CDPStatusActive {
		m.index.Remove(position.ID)
		return
	}
	ratio, finite, err := NominalRatio(position.Collateral, position.Debt)
	if err != nil {
		panic(err)
	}
	if !finite {
		m.index.Upsert(position.ID, nil)
		return
	}
	m.index.Upsert(position.ID, ratio)
}

func mustAdd(a, b *uint256.Int) *uint256.Int {
	sum, err := fixedpoint.Add(a, b)
	if err != nil {
		panic(err)
	}
	return sum
}

func saturatingSub(a, b *uint256.Int) *uint256.Int {
	diff, err := fixedpoint.Sub(a, b)
	if err != nil {
		return new(uint256.Int)
	}
	return diff
}
