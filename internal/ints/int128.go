// Package ints provides wide-integer arithmetic helpers used by the
// reduction engine's fixed-size accumulators.
package ints

import (
	"math"
	"math/big"
	"math/bits"
)

// Int128 is a signed 128-bit integer in two's complement representation.
// Arithmetic is available in wrapping and checked flavors; the wrapping
// variants are used for fixed-point float accumulation, where overflow is
// tolerated, and the checked variants let callers detect it first.
type Int128 struct {
	Hi int64
	Lo uint64
}

// Int128FromInt64 sign-extends v to 128 bits.
func Int128FromInt64(v int64) Int128 {
	hi := int64(0)
	if v < 0 {
		hi = -1
	}
	return Int128{Hi: hi, Lo: uint64(v)}
}

// Int128FromUInt64 zero-extends v to 128 bits.
func Int128FromUInt64(v uint64) Int128 {
	return Int128{Hi: 0, Lo: v}
}

// Int128FromFloat64 truncates f toward zero. Values outside the 128-bit
// range saturate to MaxInt128/MinInt128; NaN maps to zero.
func Int128FromFloat64(f float64) Int128 {
	if math.IsNaN(f) {
		return Int128{}
	}
	bf := new(big.Float).SetFloat64(f)
	bi, _ := bf.Int(nil)
	return fromBig(bi)
}

// MaxInt128 returns the largest representable value.
func MaxInt128() Int128 { return Int128{Hi: math.MaxInt64, Lo: math.MaxUint64} }

// MinInt128 returns the smallest representable value.
func MinInt128() Int128 { return Int128{Hi: math.MinInt64, Lo: 0} }

// IsZero reports whether a == 0.
func (a Int128) IsZero() bool { return a.Hi == 0 && a.Lo == 0 }

// IsNegative reports whether a < 0.
func (a Int128) IsNegative() bool { return a.Hi < 0 }

// AddWrap returns a+b with wraparound on overflow.
func (a Int128) AddWrap(b Int128) Int128 {
	lo, carry := bits.Add64(a.Lo, b.Lo, 0)
	hi := uint64(a.Hi) + uint64(b.Hi) + carry
	return Int128{Hi: int64(hi), Lo: lo}
}

// AddChecked returns a+b and an ok flag that is false when the signed
// addition overflowed.
func (a Int128) AddChecked(b Int128) (Int128, bool) {
	sum := a.AddWrap(b)
	// Overflow only if the operands share a sign that the result lost.
	if (a.Hi < 0) == (b.Hi < 0) && (sum.Hi < 0) != (a.Hi < 0) {
		return sum, false
	}
	return sum, true
}

// Neg returns -a with wraparound for MinInt128.
func (a Int128) Neg() Int128 {
	lo, borrow := bits.Sub64(0, a.Lo, 0)
	hi := uint64(0) - uint64(a.Hi) - borrow
	return Int128{Hi: int64(hi), Lo: lo}
}

// MulWrapInt64 returns a*f modulo 2^128.
func (a Int128) MulWrapInt64(f int64) Int128 {
	// Sign-extend the factor and do a full 128x128 multiply mod 2^128.
	bLo := uint64(f)
	bHi := uint64(0)
	if f < 0 {
		bHi = math.MaxUint64
	}
	hi, lo := bits.Mul64(a.Lo, bLo)
	hi += uint64(a.Hi)*bLo + a.Lo*bHi
	return Int128{Hi: int64(hi), Lo: lo}
}

// MulCheckedInt64 returns a*f and an ok flag that is false on overflow.
func (a Int128) MulCheckedInt64(f int64) (Int128, bool) {
	exact := new(big.Int).Mul(a.big(), big.NewInt(f))
	max := new(big.Int).Lsh(big.NewInt(1), 127)
	min := new(big.Int).Neg(max)
	ok := exact.Cmp(max) < 0 && exact.Cmp(min) >= 0
	return a.MulWrapInt64(f), ok
}

// Cmp returns -1, 0, or 1 ordering a against b.
func (a Int128) Cmp(b Int128) int {
	if a.Hi != b.Hi {
		if a.Hi < b.Hi {
			return -1
		}
		return 1
	}
	if a.Lo != b.Lo {
		if a.Lo < b.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// Int64 narrows to int64, reporting whether the value fits.
func (a Int128) Int64() (int64, bool) {
	v := int64(a.Lo)
	if (a.Hi == 0 && v >= 0) || (a.Hi == -1 && v < 0) {
		return v, true
	}
	return v, false
}

// Uint64 narrows to uint64, reporting whether the value fits.
func (a Int128) Uint64() (uint64, bool) {
	return a.Lo, a.Hi == 0
}

// Float64 converts to the nearest float64.
func (a Int128) Float64() float64 {
	if a.Hi < 0 {
		n := a.Neg()
		// MinInt128 negates to itself; its magnitude is exactly 2^127.
		if n.Hi < 0 {
			return -math.Ldexp(1, 127)
		}
		return -n.Float64()
	}
	return math.Ldexp(float64(uint64(a.Hi)), 64) + float64(a.Lo)
}

func (a Int128) String() string { return a.big().String() }

func (a Int128) big() *big.Int {
	b := new(big.Int).SetUint64(uint64(a.Hi))
	if a.Hi < 0 {
		b = new(big.Int).SetInt64(a.Hi)
	}
	b.Lsh(b, 64)
	return b.Add(b, new(big.Int).SetUint64(a.Lo))
}

func fromBig(b *big.Int) Int128 {
	max := new(big.Int).Lsh(big.NewInt(1), 127)
	if b.Cmp(max) >= 0 {
		return MaxInt128()
	}
	min := new(big.Int).Neg(max)
	if b.Cmp(min) <= 0 {
		return MinInt128()
	}
	var a Int128
	abs := new(big.Int).Abs(b)
	a.Lo = abs.Uint64()
	a.Hi = int64(new(big.Int).Rsh(abs, 64).Uint64())
	if b.Sign() < 0 {
		a = a.Neg()
	}
	return a
}
