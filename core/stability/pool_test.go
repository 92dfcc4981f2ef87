package stability

import (
	"testing"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
	"zkusd/core/types"
)

func makeKey(seed byte) types.AccountKey {
	var key types.AccountKey
	key[31] = seed
	return key
}

func wad(dec string) *uint256.Int { return fixedpoint.MustWadFromDecimal(dec) }

func closeTo(t *testing.T, got, want, tolerance *uint256.Int) {
	t.Helper()
	diff := new(uint256.Int)
	if got.Cmp(want) >= 0 {
		diff.Sub(got, want)
	} else {
		diff.Sub(want, got)
	}
	if diff.Cmp(tolerance) > 0 {
		t.Fatalf("got %s, want %s within %s", got, want, tolerance)
	}
}

func TestDepositWithdraw(t *testing.T) {
	pool := NewPool()
	alice := makeKey(1)

	if _, err := pool.Deposit(alice, wad("500")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := pool.TotalDeposits(); got.Cmp(wad("500")) != 0 {
		t.Fatalf("total deposits: %s", got)
	}
	if _, err := pool.Withdraw(alice, wad("200")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	compounded, err := pool.CompoundedDeposit(alice)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	if compounded.Cmp(wad("300")) != 0 {
		t.Fatalf("compounded: %s", compounded)
	}
	if _, err := pool.Withdraw(alice, wad("301")); err != ErrInsufficientDeposit {
		t.Fatalf("expected insufficient deposit, got %v", err)
	}
	if _, err := pool.Withdraw(makeKey(9), wad("1")); err != ErrNoDeposit {
		t.Fatalf("expected no deposit, got %v", err)
	}
}

func TestAbsorbDistributesLossAndGain(t *testing.T) {
	pool := NewPool()
	alice := makeKey(1)
	if _, err := pool.Deposit(alice, wad("500")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// A 300-token liquidation paying 0.01 BTC into the pool.
	if err := pool.Absorb(wad("300"), wad("0.01")); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	compounded, err := pool.CompoundedDeposit(alice)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	closeTo(t, compounded, wad("200"), uint256.NewInt(1_000))
	gain, err := pool.PendingGain(alice)
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	closeTo(t, gain, wad("0.01"), uint256.NewInt(1_000))
	if got := pool.TotalDeposits(); got.Cmp(wad("200")) != 0 {
		t.Fatalf("total deposits: %s", got)
	}

	// Compounded deposits never exceed the tracked total.
	if compounded.Cmp(pool.TotalDeposits()) > 0 {
		t.Fatalf("compounded %s exceeds total %s", compounded, pool.TotalDeposits())
	}
}

func TestCompoundedMonotonicNonIncreasing(t *testing.T) {
	pool := NewPool()
	alice := makeKey(1)
	if _, err := pool.Deposit(alice, wad("1000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	previous, _ := pool.CompoundedDeposit(alice)
	for i := 0; i < 5; i++ {
		if err := pool.Absorb(wad("100"), wad("0.002")); err != nil {
			t.Fatalf("absorb %d: %v", i, err)
		}
		compounded, err := pool.CompoundedDeposit(alice)
		if err != nil {
			t.Fatalf("compounded: %v", err)
		}
		if compounded.Cmp(previous) > 0 {
			t.Fatalf("compounded deposit grew: %s -> %s", previous, compounded)
		}
		previous = compounded
	}
}

func TestAbsorbRejectsOverdraw(t *testing.T) {
	pool := NewPool()
	alice := makeKey(1)
	if _, err := pool.Deposit(alice, wad("100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := pool.Absorb(wad("101"), wad("0.001")); err != ErrInsufficientDeposits {
		t.Fatalf("expected overdraw rejection, got %v", err)
	}
}

func TestEpochRollOnWipe(t *testing.T) {
	pool := NewPool()
	alice := makeKey(1)
	if _, err := pool.Deposit(alice, wad("100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := pool.Absorb(wad("100"), wad("0.004")); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	epoch, scale := pool.EpochScale()
	if epoch != 1 || scale != 0 {
		t.Fatalf("expected epoch roll, got epoch=%d scale=%d", epoch, scale)
	}
	if pool.Product().Cmp(fixedpoint.WAD) != 0 {
		t.Fatalf("product must reset, got %s", pool.Product())
	}
	compounded, err := pool.CompoundedDeposit(alice)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	if !compounded.IsZero() {
		t.Fatalf("wiped deposit must compound to zero, got %s", compounded)
	}
	// The gain from the wiping liquidation survives the epoch roll.
	gain, err := pool.PendingGain(alice)
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	closeTo(t, gain, wad("0.004"), uint256.NewInt(1_000))
}

func TestScaleShiftPreservesPrecision(t *testing.T) {
	pool := NewPool()
	alice := makeKey(1)
	if _, err := pool.Deposit(alice, wad("1")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Absorb all but one part in 1e12 of the pool: the product would drop
	// below the scale threshold, forcing a scale shift.
	offset := new(uint256.Int).Sub(fixedpoint.WAD, uint256.NewInt(1_000_000))
	if err := pool.Absorb(offset, wad("0.5")); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	epoch, scale := pool.EpochScale()
	if epoch != 0 || scale != 1 {
		t.Fatalf("expected scale shift, got epoch=%d scale=%d", epoch, scale)
	}
	if pool.Product().IsZero() {
		t.Fatalf("product must stay positive after shift")
	}
	compounded, err := pool.CompoundedDeposit(alice)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	// Near-total absorption leaves a dust-sized compounded deposit.
	if compounded.Cmp(uint256.NewInt(2_000_000)) > 0 {
		t.Fatalf("compounded too large after near-wipe: %s", compounded)
	}
	closeTo(t, mustGain(t, pool, alice), wad("0.5"), uint256.NewInt(1_000_000))
}

func TestGainAcrossScaleShiftHalfStep(t *testing.T) {
	pool := NewPool()
	alice := makeKey(1)
	bob := makeKey(2)
	if _, err := pool.Deposit(alice, wad("1")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// First absorb forces the scale shift while alice's snapshot stays in
	// scale zero.
	offset := new(uint256.Int).Sub(fixedpoint.WAD, uint256.NewInt(1_000_000))
	if err := pool.Absorb(offset, wad("0.4")); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	// Fresh liquidity, then another absorb whose gain lands in scale one.
	if _, err := pool.Deposit(bob, wad("1")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := pool.Absorb(wad("0.5"), wad("0.1")); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	// Alice's gain includes the next-scale term scaled down by 1e9; her
	// stake going into the second absorb is dust, so her share of the
	// second gain is negligible but must not be negative or panic.
	gain := mustGain(t, pool, alice)
	closeTo(t, gain, wad("0.4"), uint256.NewInt(1_000_000_000_000))

	// Bob's snapshot sits in scale one and sees most of the second gain.
	bobGain := mustGain(t, pool, bob)
	closeTo(t, bobGain, wad("0.1"), uint256.NewInt(1_000_000_000_000))
}

func mustGain(t *testing.T, pool *Pool, account types.AccountKey) *uint256.Int {
	t.Helper()
	gain, err := pool.PendingGain(account)
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	return gain
}
