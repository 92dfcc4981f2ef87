package token

import (
	"testing"

	"github.com/holiman/uint256"

	"zkusd/core/types"
)

func makeKey(seed byte) types.AccountKey {
	var key types.AccountKey
	key[31] = seed
	return key
}

func TestMintBurnSupply(t *testing.T) {
	ledger := NewLedger()
	alice := makeKey(0x01)

	if err := ledger.Mint(alice, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := ledger.TotalSupply(); got.Cmp(uint256.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected supply: %s", got)
	}
	if err := ledger.Burn(alice, uint256.NewInt(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Cmp(uint256.NewInt(600)) != 0 {
		t.Fatalf("unexpected balance: %s", got)
	}
	if err := ledger.Burn(alice, uint256.NewInt(601)); err != ErrInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestTransferSemantics(t *testing.T) {
	ledger := NewLedger()
	alice := makeKey(0x01)
	bob := makeKey(0x02)
	if err := ledger.Mint(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Zero transfers are no-ops that always succeed.
	if err := ledger.Transfer(bob, alice, new(uint256.Int)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}

	// A self-transfer changes nothing but still validates the balance.
	if err := ledger.Transfer(alice, alice, uint256.NewInt(50)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Cmp(uint256.NewInt(100)) != 0 {
		t.Fatalf("self transfer mutated balance: %s", got)
	}
	if err := ledger.Transfer(alice, alice, uint256.NewInt(101)); err != ErrInsufficientBalance {
		t.Fatalf("expected insufficient balance on self transfer, got %v", err)
	}

	if err := ledger.Transfer(alice, bob, uint256.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ledger.BalanceOf(bob); got.Cmp(uint256.NewInt(30)) != 0 {
		t.Fatalf("unexpected recipient balance: %s", got)
	}
}

func TestAllowanceFlow(t *testing.T) {
	ledger := NewLedger()
	alice := makeKey(0x01)
	bob := makeKey(0x02)
	carol := makeKey(0x03)
	if err := ledger.Mint(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	ledger.Approve(alice, bob, uint256.NewInt(40))
	if err := ledger.TransferFrom(bob, alice, carol, uint256.NewInt(25)); err != nil {
		t.Fatalf("transfer_from: %v", err)
	}
	if got := ledger.Allowance(alice, bob); got.Cmp(uint256.NewInt(15)) != 0 {
		t.Fatalf("allowance not decremented: %s", got)
	}
	if err := ledger.TransferFrom(bob, alice, carol, uint256.NewInt(16)); err != ErrInsufficientAllowance {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if got := ledger.BalanceOf(carol); got.Cmp(uint256.NewInt(25)) != 0 {
		t.Fatalf("unexpected balance: %s", got)
	}
}

func TestSupplyMatchesBalances(t *testing.T) {
	ledger := NewLedger()
	for seed := byte(1); seed <= 5; seed++ {
		if err := ledger.Mint(makeKey(seed), uint256.NewInt(uint64(seed)*11)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	sum := new(uint256.Int)
	for _, account := range ledger.Accounts() {
		sum.Add(sum, ledger.BalanceOf(account))
	}
	if sum.Cmp(ledger.TotalSupply()) != 0 {
		t.Fatalf("supply %s != balance sum %s", ledger.TotalSupply(), sum)
	}
}

func TestCloneIsDeep(t *testing.T) {
	ledger := NewLedger()
	alice := makeKey(0x01)
	if err := ledger.Mint(alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	clone := ledger.Clone()
	if err := clone.Burn(alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("burn clone: %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Cmp(uint256.NewInt(10)) != 0 {
		t.Fatalf("clone mutation leaked: %s", got)
	}
}
