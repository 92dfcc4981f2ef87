package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestWMulRoundsHalfUp(t *testing.T) {
	out, err := WMul(uint256.NewInt(500_000_000_000_000_000), uint256.NewInt(1))
	if err != nil {
		t.Fatalf("wmul: %v", err)
	}
	if out.Cmp(uint256.NewInt(1)) != 0 {
		t.Fatalf("expected half to round up, got %s", out)
	}

	out, err = WMul(uint256.NewInt(499_999_999_999_999_999), uint256.NewInt(1))
	if err != nil {
		t.Fatalf("wmul: %v", err)
	}
	if !out.IsZero() {
		t.Fatalf("expected below-half to round down, got %s", out)
	}
}

func TestWMulIdentity(t *testing.T) {
	value := MustWadFromDecimal("1.5")
	out, err := WMul(value, WAD)
	if err != nil {
		t.Fatalf("wmul: %v", err)
	}
	if out.Cmp(value) != 0 {
		t.Fatalf("identity broken: %s", out)
	}
}

func TestWDiv(t *testing.T) {
	out, err := WDiv(WAD, MustWadFromDecimal("3"))
	if err != nil {
		t.Fatalf("wdiv: %v", err)
	}
	if out.Cmp(uint256.NewInt(333_333_333_333_333_333)) != 0 {
		t.Fatalf("unexpected quotient: %s", out)
	}
	if _, err := WDiv(WAD, new(uint256.Int)); err != ErrDivByZero {
		t.Fatalf("expected div-by-zero, got %v", err)
	}
}

func TestAddSubChecked(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Add(max, uint256.NewInt(1)); err != ErrOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Sub(uint256.NewInt(1), uint256.NewInt(2)); err != ErrOverflow {
		t.Fatalf("expected underflow, got %v", err)
	}
	sum, err := Add(uint256.NewInt(2), uint256.NewInt(3))
	if err != nil || sum.Cmp(uint256.NewInt(5)) != 0 {
		t.Fatalf("add: %s %v", sum, err)
	}
}

func TestMulChecked(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Mul(max, uint256.NewInt(2)); err != ErrOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestPowWadDecayHalfLife(t *testing.T) {
	// k^720 must land on one half for the 12-hour half life.
	out, err := PowWad(MinuteDecayFactor, 720)
	if err != nil {
		t.Fatalf("pow: %v", err)
	}
	half := uint256.NewInt(500_000_000_000_000_000)
	diff := new(uint256.Int)
	if out.Cmp(half) >= 0 {
		diff.Sub(out, half)
	} else {
		diff.Sub(half, out)
	}
	if diff.Cmp(uint256.NewInt(1_000_000)) > 0 {
		t.Fatalf("decay drifted from one half: %s", out)
	}
}

func TestPowWadEdges(t *testing.T) {
	out, err := PowWad(MustWadFromDecimal("0.9"), 0)
	if err != nil {
		t.Fatalf("pow: %v", err)
	}
	if out.Cmp(WAD) != 0 {
		t.Fatalf("x^0 must be one, got %s", out)
	}
	out, err = PowWad(WAD, 1_000_000)
	if err != nil {
		t.Fatalf("pow: %v", err)
	}
	if out.Cmp(WAD) != 0 {
		t.Fatalf("1^n must be one, got %s", out)
	}
}

func TestWadFromDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want *uint256.Int
	}{
		{"1.5", uint256.NewInt(1_500_000_000_000_000_000)},
		{"0.005", uint256.NewInt(5_000_000_000_000_000)},
		{"200", new(uint256.Int).Mul(uint256.NewInt(200), WAD)},
		{"0", new(uint256.Int)},
	}
	for _, tc := range cases {
		got, err := WadFromDecimal(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("parse %q: got %s want %s", tc.in, got, tc.want)
		}
	}
	if _, err := WadFromDecimal("1.0000000000000000001"); err == nil {
		t.Fatalf("expected error for 19 fractional digits")
	}
	if _, err := WadFromDecimal(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestClampAndMin(t *testing.T) {
	lo := MustWadFromDecimal("0.005")
	hi := MustWadFromDecimal("0.05")
	if got := Clamp(new(uint256.Int), lo, hi); got.Cmp(lo) != 0 {
		t.Fatalf("clamp below: %s", got)
	}
	if got := Clamp(WAD, lo, hi); got.Cmp(hi) != 0 {
		t.Fatalf("clamp above: %s", got)
	}
	mid := MustWadFromDecimal("0.01")
	if got := Clamp(mid, lo, hi); got.Cmp(mid) != 0 {
		t.Fatalf("clamp mid: %s", got)
	}
	if got := Min(lo, hi); got.Cmp(lo) != 0 {
		t.Fatalf("min: %s", got)
	}
}
