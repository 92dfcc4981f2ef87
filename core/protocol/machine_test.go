package protocol

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
	"zkusd/core/recovery"
	"zkusd/core/token"
	"zkusd/core/types"
)

func wad(dec string) *uint256.Int { return fixedpoint.MustWadFromDecimal(dec) }

func makeKey(seed byte) types.AccountKey {
	var key types.AccountKey
	key[31] = seed
	return key
}

type fixedOracle struct {
	price *uint256.Int
}

func (o *fixedOracle) Current() (*uint256.Int, uint64, error) {
	if o.price == nil {
		return nil, 0, ErrStalePrice
	}
	return new(uint256.Int).Set(o.price), 0, nil
}

type manualClock struct {
	now uint64
}

func (c *manualClock) Now() uint64 { return c.now }

type captureSink struct {
	events []*types.Event
}

func (s *captureSink) Emit(event *types.Event) { s.events = append(s.events, event) }

func newTestMachine(price string) (*Machine, *fixedOracle, *manualClock) {
	oracle := &fixedOracle{price: wad(price)}
	clock := &manualClock{now: 1_000}
	return NewMachine(DefaultParams(), oracle, clock), oracle, clock
}

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

func TestOpenRepayCloseRoundTrip(t *testing.T) {
	machine, _, _ := newTestMachine("50000")
	alice := makeKey(1)
	bob := makeKey(2)

	idA, err := machine.OpenCDP(alice, wad("0.01"), wad("300"))
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	if _, err := machine.OpenCDP(bob, wad("1"), wad("1000")); err != nil {
		t.Fatalf("open b: %v", err)
	}

	position, err := machine.GetCDP(idA)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// 0.5% borrowing fee lands in the position's debt.
	if position.Debt.Cmp(wad("301.5")) != 0 {
		t.Fatalf("debt with fee: %s", position.Debt)
	}
	if got := machine.BalanceOf(alice); got.Cmp(wad("300")) != 0 {
		t.Fatalf("minted balance: %s", got)
	}

	// Closing needs the fee covered; bob sells alice two tokens.
	if err := machine.Transfer(bob, alice, wad("2")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := machine.RepayDebt(alice, idA, wad("301.5")); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := machine.CloseCDP(alice, idA); err != nil {
		t.Fatalf("close: %v", err)
	}

	position, _ = machine.GetCDP(idA)
	if position.Status != types.CDPStatusClosed {
		t.Fatalf("status: %v", position.Status)
	}
	if got := machine.GetTotalSupply(); got.Cmp(wad("1005")) != 0 {
		t.Fatalf("supply: %s", got)
	}
	if got := machine.TotalCollateral(); got.Cmp(wad("1")) != 0 {
		t.Fatalf("vault: %s", got)
	}
	treasuryTokens, _ := machine.TreasuryBalances()
	if treasuryTokens.Cmp(wad("6.5")) != 0 {
		t.Fatalf("treasury fees: %s", treasuryTokens)
	}
	if got := machine.BalanceOf(alice); got.Cmp(wad("0.5")) != 0 {
		t.Fatalf("alice residual balance: %s", got)
	}
}

func TestOpenRejectsBelowMCRAndMinDebt(t *testing.T) {
	machine, _, _ := newTestMachine("50000")
	alice := makeKey(1)

	if _, err := machine.OpenCDP(alice, wad("0.01"), wad("400")); !errors.Is(err, ErrBelowMCR) {
		t.Fatalf("expected below-MCR, got %v", err)
	}
	if _, err := machine.OpenCDP(alice, wad("0.01"), wad("100")); !errors.Is(err, ErrBelowMinDebt) {
		t.Fatalf("expected below-min-debt, got %v", err)
	}
	if _, err := machine.OpenCDP(alice, new(uint256.Int), wad("300")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestRepayRejectsDust(t *testing.T) {
	machine, _, _ := newTestMachine("50000")
	alice := makeKey(1)
	id, err := machine.OpenCDP(alice, wad("0.01"), wad("300"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := machine.RepayDebt(alice, id, wad("200")); !errors.Is(err, ErrDustDebt) {
		t.Fatalf("expected dust rejection, got %v", err)
	}
	// The rejected operation must leave no trace.
	if got := machine.BalanceOf(alice); got.Cmp(wad("300")) != 0 {
		t.Fatalf("balance changed on rejected op: %s", got)
	}
}

func TestLiquidationViaPool(t *testing.T) {
	machine, oracle, _ := newTestMachine("50000")
	alice := makeKey(1)
	bob := makeKey(2)
	carol := makeKey(3)

	idA, err := machine.OpenCDP(alice, wad("0.01"), wad("300"))
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	if _, err := machine.OpenCDP(bob, wad("0.02"), wad("200")); err != nil {
		t.Fatalf("open b: %v", err)
	}
	if _, err := machine.OpenCDP(carol, wad("1"), wad("600")); err != nil {
		t.Fatalf("open c: %v", err)
	}
	if err := machine.PoolDeposit(carol, wad("500")); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}

	oracle.price = wad("40000")
	result, err := machine.LiquidateBatch(0)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if len(result.Liquidated) != 1 || result.Liquidated[0].ID != idA {
		t.Fatalf("expected only position a: %+v", result.Liquidated)
	}
	if result.DebtOffset.Cmp(wad("301.5")) != 0 {
		t.Fatalf("pool offset: %s", result.DebtOffset)
	}
	if !result.DebtRedistributed.IsZero() {
		t.Fatalf("nothing should redistribute: %s", result.DebtRedistributed)
	}
	// Bonus capped at 0.5% of the seized 0.01 BTC.
	if result.GasCompensation.Cmp(uint256.NewInt(50_000_000_000_000)) != 0 {
		t.Fatalf("gas comp: %s", result.GasCompensation)
	}

	position, _ := machine.GetCDP(idA)
	if position.Status != types.CDPStatusLiquidated {
		t.Fatalf("status: %v", position.Status)
	}
	// 301.5 of carol's 500 deposit absorbed the debt.
	compounded, err := machine.PoolCompoundedDeposit(carol)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	closeTo(t, compounded, wad("198.5"), uint256.NewInt(10_000))
	gain, err := machine.PoolPendingGain(carol)
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	closeTo(t, gain, uint256.NewInt(9_950_000_000_000_000), uint256.NewInt(10_000))

	if got := machine.GetTotalSupply(); got.Cmp(wad("804")) != 0 {
		t.Fatalf("supply after burn: %s", got)
	}
	if got := machine.TotalCollateral(); got.Cmp(uint256.NewInt(1_029_950_000_000_000_000)) != 0 {
		t.Fatalf("vault after gas comp: %s", got)
	}

	// Claiming moves the gain out of the vault.
	if err := machine.PoolClaimGains(carol); err != nil {
		t.Fatalf("claim: %v", err)
	}
	remaining, _ := machine.PoolPendingGain(carol)
	if !remaining.IsZero() {
		t.Fatalf("gain must reset after claim: %s", remaining)
	}
}

func TestLiquidationRedistributionFallback(t *testing.T) {
	machine, oracle, _ := newTestMachine("50000")
	alice := makeKey(1)
	bob := makeKey(2)

	idA, err := machine.OpenCDP(alice, wad("0.01"), wad("300"))
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	idB, err := machine.OpenCDP(bob, wad("0.02"), wad("200"))
	if err != nil {
		t.Fatalf("open b: %v", err)
	}

	oracle.price = wad("40000")
	result, err := machine.LiquidateBatch(0)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DebtRedistributed.Cmp(wad("301.5")) != 0 {
		t.Fatalf("redistributed debt: %s", result.DebtRedistributed)
	}
	if !result.DebtOffset.IsZero() {
		t.Fatalf("empty pool cannot offset: %s", result.DebtOffset)
	}

	// Touching b folds the redistribution in.
	if err := machine.DepositCollateral(bob, idB, uint256.NewInt(1_000_000_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	position, _ := machine.GetCDP(idB)
	if position.Debt.Cmp(wad("502.5")) != 0 {
		t.Fatalf("b debt after redistribution: %s", position.Debt)
	}
	if position.Collateral.Cmp(uint256.NewInt(29_951_000_000_000_000)) != 0 {
		t.Fatalf("b collateral after redistribution: %s", position.Collateral)
	}
	// Position a is retired either way.
	a, _ := machine.GetCDP(idA)
	if a.Status != types.CDPStatusLiquidated {
		t.Fatalf("status: %v", a.Status)
	}
}

func TestRecoveryModeGates(t *testing.T) {
	machine, oracle, _ := newTestMachine("50000")
	owners := []types.AccountKey{makeKey(1), makeKey(2), makeKey(3)}
	ids := make([]uint64, 0, 3)
	for _, owner := range owners {
		id, err := machine.OpenCDP(owner, wad("0.031155"), wad("1000"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		ids = append(ids, id)
	}
	if machine.GetMode() != recovery.ModeNormal {
		t.Fatalf("mode: %v", machine.GetMode())
	}

	// The drop to 45k pushes the TCR to 1.395; the next committed
	// operation trips recovery mode.
	oracle.price = wad("45000")
	if err := machine.DepositCollateral(owners[1], ids[1], uint256.NewInt(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if machine.GetMode() != recovery.ModeRecovery {
		t.Fatalf("mode after price drop: %v", machine.GetMode())
	}
	if err := machine.MintDebt(owners[0], ids[0], wad("50")); !errors.Is(err, ErrTCRWouldDecrease) {
		t.Fatalf("expected TCR gate, got %v", err)
	}
	if err := machine.WithdrawCollateral(owners[0], ids[0], uint256.NewInt(1)); !errors.Is(err, ErrBelowCCRInRecovery) {
		t.Fatalf("withdraw must be blocked in recovery, got %v", err)
	}

	// Repayment is always allowed and lifts the system back above CCR.
	if err := machine.RepayDebt(owners[0], ids[0], wad("800")); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if machine.GetMode() != recovery.ModeNormal {
		t.Fatalf("mode after repay: %v", machine.GetMode())
	}
	history := machine.ModeHistory()
	if len(history) != 2 {
		t.Fatalf("expected two transitions, got %d", len(history))
	}
	if history[0].To != recovery.ModeRecovery || history[1].To != recovery.ModeNormal {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestRedemption(t *testing.T) {
	machine, _, _ := newTestMachine("50000")
	carol := makeKey(1)
	dave := makeKey(2)
	alice := makeKey(3)

	idC, err := machine.OpenCDP(carol, wad("0.05"), wad("1500"))
	if err != nil {
		t.Fatalf("open c: %v", err)
	}
	if _, err := machine.OpenCDP(dave, wad("1"), wad("2000")); err != nil {
		t.Fatalf("open d: %v", err)
	}
	if err := machine.Transfer(dave, alice, wad("1000")); err != nil {
		t.Fatalf("fund alice: %v", err)
	}

	outcome, err := machine.Redeem(alice, wad("1000"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if outcome.TokensRedeemed.Cmp(wad("1000")) != 0 {
		t.Fatalf("redeemed: %s", outcome.TokensRedeemed)
	}
	// The 1000-token redemption against a 3517.5 supply slams the base
	// rate into the 5% ceiling; the fee is taken in collateral.
	if outcome.CollateralFee.Cmp(uint256.NewInt(1_000_000_000_000_000)) != 0 {
		t.Fatalf("fee collateral: %s", outcome.CollateralFee)
	}
	if outcome.CollateralPaid.Cmp(uint256.NewInt(19_000_000_000_000_000)) != 0 {
		t.Fatalf("paid collateral: %s", outcome.CollateralPaid)
	}
	if outcome.PositionsTouched != 1 {
		t.Fatalf("positions touched: %d", outcome.PositionsTouched)
	}

	position, _ := machine.GetCDP(idC)
	if position.Debt.Cmp(wad("507.5")) != 0 {
		t.Fatalf("c debt: %s", position.Debt)
	}
	if position.Collateral.Cmp(wad("0.03")) != 0 {
		t.Fatalf("c collateral: %s", position.Collateral)
	}
	if got := machine.BalanceOf(alice); !got.IsZero() {
		t.Fatalf("alice balance: %s", got)
	}
	_, treasuryColl := machine.TreasuryBalances()
	if treasuryColl.Cmp(uint256.NewInt(1_000_000_000_000_000)) != 0 {
		t.Fatalf("treasury collateral: %s", treasuryColl)
	}
	if got := machine.GetTotalSupply(); got.Cmp(wad("2517.5")) != 0 {
		t.Fatalf("supply: %s", got)
	}
	status := machine.GetFeeStatus()
	if status.BaseRate.Cmp(wad("0.05")) != 0 {
		t.Fatalf("base rate after bump: %s", status.BaseRate)
	}
}

func TestRedemptionInsufficientBalance(t *testing.T) {
	machine, _, _ := newTestMachine("50000")
	carol := makeKey(1)
	if _, err := machine.OpenCDP(carol, wad("0.05"), wad("1500")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := machine.Redeem(makeKey(9), wad("10")); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestStalePriceRejected(t *testing.T) {
	machine, oracle, _ := newTestMachine("50000")
	oracle.price = nil
	if _, err := machine.OpenCDP(makeKey(1), wad("0.01"), wad("300")); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
}

func TestEventsCarryHeightAndOpID(t *testing.T) {
	machine, _, _ := newTestMachine("50000")
	sink := &captureSink{}
	machine.SetEventSink(sink)
	machine.SetBlockHeight(42)

	if _, err := machine.OpenCDP(makeKey(1), wad("0.01"), wad("300")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(sink.events) == 0 {
		t.Fatalf("no events emitted")
	}
	opened := sink.events[0]
	if opened.Type != "cdp.opened" {
		t.Fatalf("event type: %s", opened.Type)
	}
	if opened.Attributes["height"] != "42" || opened.Attributes["opId"] != "1" {
		t.Fatalf("missing stamps: %+v", opened.Attributes)
	}
}

func applyScript(t *testing.T, machine *Machine, oracle *fixedOracle, clock *manualClock) [][32]byte {
	t.Helper()
	roots := make([][32]byte, 0, 16)
	step := func() { roots = append(roots, machine.StateRoot()) }

	alice, bob, carol := makeKey(1), makeKey(2), makeKey(3)

	idA, err := machine.OpenCDP(alice, wad("0.01"), wad("300"))
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	step()
	if _, err := machine.OpenCDP(bob, wad("0.02"), wad("400")); err != nil {
		t.Fatalf("open b: %v", err)
	}
	step()
	idC, err := machine.OpenCDP(carol, wad("1"), wad("900"))
	if err != nil {
		t.Fatalf("open c: %v", err)
	}
	step()

	clock.now += 3_600
	if err := machine.PoolDeposit(carol, wad("600")); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}
	step()
	if err := machine.DepositCollateral(alice, idA, wad("0.001")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	step()

	// A rejected operation must not advance state.
	if _, err := machine.OpenCDP(alice, wad("0.001"), wad("300")); !errors.Is(err, ErrBelowMCR) {
		t.Fatalf("expected rejection, got %v", err)
	}
	step()

	oracle.price = wad("40000")
	clock.now += 1_800
	if _, err := machine.LiquidateBatch(0); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	step()

	oracle.price = wad("50000")
	clock.now += 600
	if err := machine.MintDebt(carol, idC, wad("100")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	step()
	if err := machine.Transfer(carol, bob, wad("50")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	step()
	if _, err := machine.Redeem(bob, wad("250")); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	step()
	if err := machine.PoolWithdraw(carol, wad("100")); err != nil {
		t.Fatalf("pool withdraw: %v", err)
	}
	step()
	return roots
}

func TestDeterministicReplay(t *testing.T) {
	machineA, oracleA, clockA := newTestMachine("50000")
	machineB, oracleB, clockB := newTestMachine("50000")

	rootsA := applyScript(t, machineA, oracleA, clockA)
	rootsB := applyScript(t, machineB, oracleB, clockB)

	if len(rootsA) != len(rootsB) {
		t.Fatalf("script divergence: %d vs %d", len(rootsA), len(rootsB))
	}
	for i := range rootsA {
		if rootsA[i] != rootsB[i] {
			t.Fatalf("root mismatch at step %d", i)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	machineA, oracleA, clockA := newTestMachine("50000")
	applyScript(t, machineA, oracleA, clockA)

	blob := machineA.Snapshot()
	machineB, _, clockB := newTestMachine("50000")
	clockB.now = clockA.now
	if err := machineB.Restore(blob); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if machineA.StateRoot() != machineB.StateRoot() {
		t.Fatalf("restored root differs")
	}

	// Both instances must evolve identically after the restore.
	carol := makeKey(3)
	if err := machineA.PoolWithdraw(carol, wad("50")); err != nil {
		t.Fatalf("withdraw a: %v", err)
	}
	if err := machineB.PoolWithdraw(carol, wad("50")); err != nil {
		t.Fatalf("withdraw b: %v", err)
	}
	if machineA.StateRoot() != machineB.StateRoot() {
		t.Fatalf("post-restore divergence")
	}
}

func TestSnapshotRejectsCorruption(t *testing.T) {
	machine, _, _ := newTestMachine("50000")
	if _, err := machine.OpenCDP(makeKey(1), wad("0.01"), wad("300")); err != nil {
		t.Fatalf("open: %v", err)
	}
	blob := machine.Snapshot()
	blob[len(blob)-1] ^= 0xff
	fresh, _, _ := newTestMachine("50000")
	if err := fresh.Restore(blob); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected corruption error, got %v", err)
	}
}
