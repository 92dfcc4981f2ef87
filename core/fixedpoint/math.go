// Package fixedpoint implements the checked wad arithmetic shared by every
// core component. All quantities are unsigned 256-bit integers scaled by
// 1e18; intermediate products are computed at full width so results are
// bit-identical across nodes. Overflow and division by zero are surfaced as
// errors and never wrap silently.
package fixedpoint

import (
	"errors"
	"math"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow  = errors.New("fixedpoint: overflow")
	ErrDivByZero = errors.New("fixedpoint: division by zero")
)

var (
	// WAD is the 1e18 fixed-point scale.
	WAD = uint256.NewInt(1_000_000_000_000_000_000)
	// HalfWAD rounds half-up multiplications.
	HalfWAD = uint256.NewInt(500_000_000_000_000_000)
	// MinuteDecayFactor is the per-minute base-rate decay k, chosen so that
	// k^720 = 0.5 for the 12-hour fee half life.
	MinuteDecayFactor = uint256.NewInt(999_037_758_833_783_000)
)

// maxPowExponent bounds the repeated-squaring loop; decay beyond this many
// minutes is indistinguishable from zero.
const maxPowExponent = math.MaxUint32

// Clone returns a defensive copy of x, treating nil as zero.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

// Add returns a+b, failing on 256-bit overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing when the result would be negative.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(Clone(a), Clone(b))
	if underflow {
		return nil, ErrOverflow
	}
	return diff, nil
}

// Mul returns a*b, failing on 256-bit overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, ErrOverflow
	}
	return product, nil
}

// MulDiv returns floor(a*b/den) computed at 512-bit width.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	if den == nil || den.IsZero() {
		return nil, ErrDivByZero
	}
	product := Clone(a).ToBig()
	product.Mul(product, Clone(b).ToBig())
	product.Quo(product, den.ToBig())
	out, overflow := uint256.FromBig(product)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// WMul returns (a*b + HalfWAD) / WAD, rounding half away from zero.
func WMul(a, b *uint256.Int) (*uint256.Int, error) {
	product := Clone(a).ToBig()
	product.Mul(product, Clone(b).ToBig())
	product.Add(product, HalfWAD.ToBig())
	product.Quo(product, WAD.ToBig())
	out, overflow := uint256.FromBig(product)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// WMulDown returns floor(a*b / WAD).
func WMulDown(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, WAD)
}

// WDiv returns (a*WAD + b/2) / b, rounding half away from zero.
func WDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, ErrDivByZero
	}
	numerator := Clone(a).ToBig()
	numerator.Mul(numerator, WAD.ToBig())
	half := Clone(b).ToBig()
	half.Rsh(half, 1)
	numerator.Add(numerator, half)
	numerator.Quo(numerator, b.ToBig())
	out, overflow := uint256.FromBig(numerator)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// WDivDown returns floor(a*WAD / b).
func WDivDown(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, WAD, b)
}

// PowWad raises a wad-scaled base to an integer exponent by repeated
// squaring, with WMul rounding at every step so every node computes the
// identical result. Exponents above maxPowExponent are clamped; for decay
// factors the result is already zero long before that bound.
func PowWad(base *uint256.Int, n uint64) (*uint256.Int, error) {
	if n > maxPowExponent {
		n = maxPowExponent
	}
	result := Clone(WAD)
	factor := Clone(base)
	var err error
	for n > 0 {
		if n&1 == 1 {
			result, err = WMul(result, factor)
			if err != nil {
				return nil, err
			}
		}
		n >>= 1
		if n == 0 {
			break
		}
		factor, err = WMul(factor, factor)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if Clone(a).Cmp(Clone(b)) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi *uint256.Int) *uint256.Int {
	v := Clone(x)
	if v.Cmp(Clone(lo)) < 0 {
		return Clone(lo)
	}
	if v.Cmp(Clone(hi)) > 0 {
		return Clone(hi)
	}
	return v
}

// MustWadFromDecimal parses a decimal literal such as "1.5" or "0.005" into
// wad scale, panicking on malformed input. It exists for package constants
// and validated configuration values.
func MustWadFromDecimal(value string) *uint256.Int {
	out, err := WadFromDecimal(value)
	if err != nil {
		panic(err)
	}
	return out
}

// WadFromDecimal parses a non-negative decimal string into wad scale. At
// most 18 fractional digits are accepted.
func WadFromDecimal(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("fixedpoint: empty decimal")
	}
	whole, frac := trimmed, ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole, frac = trimmed[:idx], trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return nil, errors.New("fixedpoint: more than 18 fractional digits")
	}
	intPart, err := uint256.FromDecimal(whole)
	if err != nil {
		return nil, err
	}
	scaled, overflow := new(uint256.Int).MulOverflow(intPart, WAD)
	if overflow {
		return nil, ErrOverflow
	}
	if frac != "" {
		padded := frac + strings.Repeat("0", 18-len(frac))
		fracPart, err := uint256.FromDecimal(padded)
		if err != nil {
			return nil, err
		}
		scaled, overflow = new(uint256.Int).AddOverflow(scaled, fracPart)
		if overflow {
			return nil, ErrOverflow
		}
	}
	return scaled, nil
}
