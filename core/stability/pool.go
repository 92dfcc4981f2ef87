// Package stability implements the stability pool: token deposits that
// absorb liquidated debt in exchange for discounted collateral. Losses and
// gains are distributed in O(1) per liquidation with the scaling-factor
// technique: a running product P compounds proportional losses, a running
// sum S accumulates collateral gain per unit deposit, and epoch/scale
// counters handle the pool-wipe and precision singularities.
package stability

import (
	"errors"
	"sort"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

var (
	ErrInvalidAmount        = errors.New("stability: amount must be positive")
	ErrNoDeposit            = errors.New("stability: no deposit for account")
	ErrInsufficientDeposit  = errors.New("stability: withdrawal exceeds compounded deposit")
	ErrInsufficientDeposits = errors.New("stability: offset exceeds total deposits")
)

// scaleFactor is the precision shift applied when P drops below 1e-9 wad.
var scaleFactor = uint256.NewInt(1_000_000_000)

// ScaleKey addresses the cumulative sum for one (epoch, scale) pair.
type ScaleKey struct {
	Epoch uint64
	Scale uint64
}

// Deposit is the per-depositor snapshot state.
type Deposit struct {
	Initial *uint256.Int
	P       *uint256.Int
	S       *uint256.Int
	Epoch   uint64
	Scale   uint64
}

// Clone deep-copies the deposit record.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	return &Deposit{
		Initial: fixedpoint.Clone(d.Initial),
		P:       fixedpoint.Clone(d.P),
		S:       fixedpoint.Clone(d.S),
		Epoch:   d.Epoch,
		Scale:   d.Scale,
	}
}

// Pool is the stability pool global state plus the depositor map.
type Pool struct {
	p                *uint256.Int
	epoch            uint64
	scale            uint64
	totalDeposits    *uint256.Int
	collateralBuffer *uint256.Int
	sums             map[ScaleKey]*uint256.Int
	deposits         map[types.AccountKey]*Deposit
}

// NewPool returns an empty pool with P at one.
func NewPool() *Pool {
	return &Pool{
		p:                fixedpoint.Clone(fixedpoint.WAD),
		totalDeposits:    new(uint256.Int),
		collateralBuffer: new(uint256.Int),
		sums:             make(map[ScaleKey]*uint256.Int),
		deposits:         make(map[types.AccountKey]*Deposit),
	}
}

// Deposit credits amt on top of the account's compounded deposit, paying out
// any pending collateral gain first. The returned gain has already been
// deducted from the pool's collateral buffer; the caller releases it from
// the vault.
func (p *Pool) Deposit(account types.AccountKey, amt *uint256.Int) (*uint256.Int, error) {
	if amt == nil || amt.IsZero() {
		return nil, ErrInvalidAmount
	}
	existing := p.deposits[account]
	gain, err := p.gainFor(existing)
	if err != nil {
		return nil, err
	}
	compounded, err := p.compoundedFor(existing)
	if err != nil {
		return nil, err
	}
	updated, err := fixedpoint.Add(compounded, amt)
	if err != nil {
		return nil, err
	}
	total, err := fixedpoint.Add(p.totalDeposits, amt)
	if err != nil {
		return nil, err
	}
	p.totalDeposits = total
	p.setDeposit(account, updated)
	p.collateralBuffer = saturatingSub(p.collateralBuffer, gain)
	return gain, nil
}

// Withdraw removes amt from the account's compounded deposit, paying out the
// pending gain alongside.
func (p *Pool) Withdraw(account types.AccountKey, amt *uint256.Int) (*uint256.Int, error) {
	if amt == nil || amt.IsZero() {
		return nil, ErrInvalidAmount
	}
	existing, ok := p.deposits[account]
	if !ok {
		return nil, ErrNoDeposit
	}
	gain, err := p.gainFor(existing)
	if err != nil {
		return nil, err
	}
	compounded, err := p.compoundedFor(existing)
	if err != nil {
		return nil, err
	}
	if compounded.Cmp(amt) < 0 {
		return nil, ErrInsufficientDeposit
	}
	remaining, err := fixedpoint.Sub(compounded, amt)
	if err != nil {
		return nil, err
	}
	p.totalDeposits = saturatingSub(p.totalDeposits, amt)
	p.setDeposit(account, remaining)
	p.collateralBuffer = saturatingSub(p.collateralBuffer, gain)
	return gain, nil
}

// ClaimGains pays out the pending collateral gain and refreshes the
// account's snapshots, keeping the compounded deposit in place.
func (p *Pool) ClaimGains(account types.AccountKey) (*uint256.Int, error) {
	existing, ok := p.deposits[account]
	if !ok {
		return nil, ErrNoDeposit
	}
	gain, err := p.gainFor(existing)
	if err != nil {
		return nil, err
	}
	compounded, err := p.compoundedFor(existing)
	if err != nil {
		return nil, err
	}
	p.setDeposit(account, compounded)
	p.collateralBuffer = saturatingSub(p.collateralBuffer, gain)
	return gain, nil
}

// Absorb socializes debtToOffset across all deposits and records
// collToGain for proportional claim. The caller burns the offset tokens
// from the pool's ledger account and keeps the collateral inside the vault
// until depositors claim.
func (p *Pool) Absorb(debtToOffset, collToGain *uint256.Int) error {
	if debtToOffset == nil || debtToOffset.IsZero() {
		return ErrInvalidAmount
	}
	if p.totalDeposits.IsZero() || debtToOffset.Cmp(p.totalDeposits) > 0 {
		return ErrInsufficientDeposits
	}

	collPerUnit, err := fixedpoint.WDivDown(fixedpoint.Clone(collToGain), p.totalDeposits)
	if err != nil {
		return err
	}
	var lossPerUnit *uint256.Int
	wipe := debtToOffset.Cmp(p.totalDeposits) == 0
	if wipe {
		lossPerUnit = fixedpoint.Clone(fixedpoint.WAD)
	} else {
		// Round the loss up one wei so compounded deposits never exceed
		// the tracked total.
		lossPerUnit, err = fixedpoint.WDivDown(debtToOffset, p.totalDeposits)
		if err != nil {
			return err
		}
		lossPerUnit, err = fixedpoint.Add(lossPerUnit, uint256.NewInt(1))
		if err != nil {
			return err
		}
	}

	marginalGain, err := fixedpoint.WMulDown(p.p, collPerUnit)
	if err != nil {
		return err
	}
	key := ScaleKey{Epoch: p.epoch, Scale: p.scale}
	sum := fixedpoint.Clone(p.sums[key])
	sum, err = fixedpoint.Add(sum, marginalGain)
	if err != nil {
		return err
	}
	p.sums[key] = sum

	factor, err := fixedpoint.Sub(fixedpoint.Clone(fixedpoint.WAD), lossPerUnit)
	if err != nil {
		return err
	}
	if factor.IsZero() {
		// Pool wiped: roll the epoch and reset the product.
		p.epoch++
		p.scale = 0
		p.p = fixedpoint.Clone(fixedpoint.WAD)
	} else {
		shrunk, err := fixedpoint.WMulDown(p.p, factor)
		if err != nil {
			return err
		}
		if shrunk.Cmp(scaleFactor) < 0 {
			boosted, err := fixedpoint.Mul(factor, scaleFactor)
			if err != nil {
				return err
			}
			shrunk, err = fixedpoint.WMulDown(p.p, boosted)
			if err != nil {
				return err
			}
			p.scale++
		}
		if shrunk.IsZero() {
			return fixedpoint.ErrOverflow
		}
		p.p = shrunk
	}

	p.totalDeposits = saturatingSub(p.totalDeposits, debtToOffset)
	buffer, err := fixedpoint.Add(p.collateralBuffer, fixedpoint.Clone(collToGain))
	if err != nil {
		return err
	}
	p.collateralBuffer = buffer
	return nil
}

// CompoundedDeposit returns the account's deposit after all absorbed losses.
func (p *Pool) CompoundedDeposit(account types.AccountKey) (*uint256.Int, error) {
	return p.compoundedFor(p.deposits[account])
}

// PendingGain returns the account's claimable collateral gain.
func (p *Pool) PendingGain(account types.AccountKey) (*uint256.Int, error) {
	return p.gainFor(p.deposits[account])
}

// compoundedFor applies the product ratio between now and the deposit
// snapshot. A deposit from an earlier epoch was fully consumed; a deposit
// two or more scale shifts old compounds to dust below one wei.
func (p *Pool) compoundedFor(dep *Deposit) (*uint256.Int, error) {
	if dep == nil || dep.Initial == nil || dep.Initial.IsZero() {
		return new(uint256.Int), nil
	}
	if dep.Epoch < p.epoch {
		return new(uint256.Int), nil
	}
	scaleDiff := p.scale - dep.Scale
	if scaleDiff > 1 {
		return new(uint256.Int), nil
	}
	compounded, err := fixedpoint.MulDiv(dep.Initial, p.p, dep.P)
	if err != nil {
		return nil, err
	}
	if scaleDiff == 1 {
		compounded = new(uint256.Int).Div(compounded, scaleFactor)
	}
	return compounded, nil
}

// gainFor evaluates the two-term collateral gain formula: the sum delta in
// the snapshot's scale, plus the following scale's sum shifted down by the
// scale factor when one shift happened since the snapshot.
func (p *Pool) gainFor(dep *Deposit) (*uint256.Int, error) {
	if dep == nil || dep.Initial == nil || dep.Initial.IsZero() {
		return new(uint256.Int), nil
	}
	firstKey := ScaleKey{Epoch: dep.Epoch, Scale: dep.Scale}
	first, err := fixedpoint.Sub(fixedpoint.Clone(p.sums[firstKey]), dep.S)
	if err != nil {
		return nil, err
	}
	secondKey := ScaleKey{Epoch: dep.Epoch, Scale: dep.Scale + 1}
	second := new(uint256.Int).Div(fixedpoint.Clone(p.sums[secondKey]), scaleFactor)
	portions, err := fixedpoint.Add(first, second)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(dep.Initial, portions, dep.P)
}

func (p *Pool) setDeposit(account types.AccountKey, initial *uint256.Int) {
	if initial.IsZero() {
		delete(p.deposits, account)
		return
	}
	key := ScaleKey{Epoch: p.epoch, Scale: p.scale}
	p.deposits[account] = &Deposit{
		Initial: fixedpoint.Clone(initial),
		P:       fixedpoint.Clone(p.p),
		S:       fixedpoint.Clone(p.sums[key]),
		Epoch:   p.epoch,
		Scale:   p.scale,
	}
}

// TotalDeposits returns a copy of the tracked deposit total.
func (p *Pool) TotalDeposits() *uint256.Int { return fixedpoint.Clone(p.totalDeposits) }

// CollateralBuffer returns unclaimed collateral gains held for depositors.
func (p *Pool) CollateralBuffer() *uint256.Int { return fixedpoint.Clone(p.collateralBuffer) }

// Product returns a copy of the current product P.
func (p *Pool) Product() *uint256.Int { return fixedpoint.Clone(p.p) }

// EpochScale returns the current epoch and scale counters.
func (p *Pool) EpochScale() (uint64, uint64) { return p.epoch, p.scale }

// SumEntry is one (epoch, scale, S) record for serialization.
type SumEntry struct {
	Key ScaleKey
	Sum *uint256.Int
}

// SumEntries lists all cumulative sums ordered by epoch then scale.
func (p *Pool) SumEntries() []SumEntry {
	keys := make([]ScaleKey, 0, len(p.sums))
	for key := range p.sums {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Epoch != keys[j].Epoch {
			return keys[i].Epoch < keys[j].Epoch
		}
		return keys[i].Scale < keys[j].Scale
	})
	entries := make([]SumEntry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, SumEntry{Key: key, Sum: fixedpoint.Clone(p.sums[key])})
	}
	return entries
}

// Depositors lists deposit accounts in ascending key order.
func (p *Pool) Depositors() []types.AccountKey {
	keys := make([]types.AccountKey, 0, len(p.deposits))
	for key := range p.deposits {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return keys
}

// DepositFor returns a copy of the account's raw deposit record.
func (p *Pool) DepositFor(account types.AccountKey) *Deposit {
	return p.deposits[account].Clone()
}

// RestoreState rebuilds the pool from snapshot data.
func (p *Pool) RestoreState(product *uint256.Int, epoch, scale uint64, totalDeposits, collateralBuffer *uint256.Int, sums []SumEntry, deposits map[types.AccountKey]*Deposit) {
	p.p = fixedpoint.Clone(product)
	p.epoch = epoch
	p.scale = scale
	p.totalDeposits = fixedpoint.Clone(totalDeposits)
	p.collateralBuffer = fixedpoint.Clone(collateralBuffer)
	p.sums = make(map[ScaleKey]*uint256.Int, len(sums))
	for _, entry := range sums {
		p.sums[entry.Key] = fixedpoint.Clone(entry.Sum)
	}
	p.deposits = make(map[types.AccountKey]*Deposit, len(deposits))
	for account, dep := range deposits {
		p.deposits[account] = dep.Clone()
	}
}

// Clone deep-copies the pool.
func (p *Pool) Clone() *Pool {
	clone := NewPool()
	deposits := make(map[types.AccountKey]*Deposit, len(p.deposits))
	for account, dep := range p.deposits {
		deposits[account] = dep
	}
	clone.RestoreState(p.p, p.epoch, p.scale, p.totalDeposits, p.collateralBuffer, p.SumEntries(), deposits)
	return clone
}

func saturatingSub(a, b *uint256.Int) *uint256.Int {
	diff, err := fixedpoint.Sub(a, b)
	if err != nil {
		return new(uint256.Int)
	}
	return diff
}
