package emu

import (
	"math"
	"math/big"
)

// Rounding modes as encoded in the rm field and the frm CSR.
const (
	RoundNearestEven uint8 = 0b000
	RoundTowardZero  uint8 = 0b001
	RoundDown        uint8 = 0b010
	RoundUp          uint8 = 0b011
	RoundNearestMax  uint8 = 0b100
	RoundDynamic     uint8 = 0b111
)

// Accrued exception flags as laid out in fflags.
const (
	FlagNX uint8 = 1 << iota
	FlagUF
	FlagOF
	FlagDZ
	FlagNV
)

// FloatFormat describes an IEEE 754 binary format. emin and emax use the
// big.Float MantExp convention where the mantissa lies in [0.5, 1).
type FloatFormat struct {
	prec     uint
	emin     int
	emax     int
	fracBits uint
	expBits  uint
	canonNaN uint64
}

// Supported formats.
var (
	Float32 = single
	Float64 = double
)

var (
	single = FloatFormat{prec: 24, emin: -125, emax: 128, fracBits: 23, expBits: 8,
		canonNaN: 0x7FC00000}
	double = FloatFormat{prec: 53, emin: -1021, emax: 1024, fracBits: 52, expBits: 11,
		canonNaN: 0x7FF8000000000000}
)

func (f FloatFormat) sign() uint64      { return 1 << (f.fracBits + f.expBits) }
func (f FloatFormat) expMask() uint64   { return (1<<f.expBits - 1) << f.fracBits }
func (f FloatFormat) fracMask() uint64  { return 1<<f.fracBits - 1 }
func (f FloatFormat) inf() uint64       { return f.expMask() }
func (f FloatFormat) maxFinite() uint64 { return f.expMask() - 1 }

func (f FloatFormat) isNaN(a uint64) bool {
	return a&f.expMask() == f.expMask() && a&f.fracMask() != 0
}

func (f FloatFormat) isSNaN(a uint64) bool {
	return f.isNaN(a) && a&(1<<(f.fracBits-1)) == 0
}

func (f FloatFormat) isInf(a uint64) bool {
	return a&^f.sign() == f.inf()
}

func (f FloatFormat) isZero(a uint64) bool { return a&^f.sign() == 0 }

func (f FloatFormat) neg(a uint64) bool { return a&f.sign() != 0 }

func (f FloatFormat) signed(a uint64, neg bool) uint64 {
	a &^= f.sign()
	if neg {
		a |= f.sign()
	}
	return a
}

// float64 returns the value of a as a float64, which is exact for both
// formats.
func (f FloatFormat) float64(a uint64) float64 {
	if f.prec == single.prec {
		return float64(math.Float32frombits(uint32(a)))
	}
	return math.Float64frombits(a)
}

// pack encodes a float64 that is representable in the format.
func (f FloatFormat) pack(v float64) uint64 {
	if f.prec == single.prec {
		return uint64(math.Float32bits(float32(v)))
	}
	return math.Float64bits(v)
}

func (f FloatFormat) big(a uint64) *big.Float {
	return new(big.Float).SetFloat64(f.float64(a))
}

// FPEnv emulates the floating-point environment of one instruction: the
// effective rounding mode and the exception flags raised so far.
type FPEnv struct {
	rm    uint8
	mode  big.RoundingMode
	flags uint8
}

var roundingModes = map[uint8]big.RoundingMode{
	RoundNearestEven: big.ToNearestEven,
	RoundTowardZero:  big.ToZero,
	RoundDown:        big.ToNegativeInf,
	RoundUp:          big.ToPositiveInf,
	RoundNearestMax:  big.ToNearestAway,
}

// Begin clears the flags and installs rounding mode rm. It reports false for
// a reserved mode.
func (e *FPEnv) Begin(rm uint8) bool {
	mode, ok := roundingModes[rm]
	if !ok {
		return false
	}
	e.rm, e.mode, e.flags = rm, mode, 0
	return true
}

// Flags returns the exceptions raised since Begin.
func (e *FPEnv) Flags() uint8 { return e.flags }

// RM returns the active rounding mode.
func (e *FPEnv) RM() uint8 { return e.rm }

func (e *FPEnv) raise(flags uint8) { e.flags |= flags }

// nanResult returns the canonical NaN, raising NV when an operand is
// signaling.
func (e *FPEnv) nanResult(f FloatFormat, ops ...uint64) (uint64, bool) {
	found := false
	for _, a := range ops {
		if f.isNaN(a) {
			found = true
			if f.isSNaN(a) {
				e.raise(FlagNV)
			}
		}
	}
	return f.canonNaN, found
}

func (e *FPEnv) invalid(f FloatFormat) uint64 {
	e.raise(FlagNV)
	return f.canonNaN
}

// cancelZero is the sign of an exact zero sum of operands with opposite
// signs.
func (e *FPEnv) cancelZero(f FloatFormat) uint64 {
	return f.signed(0, e.rm == RoundDown)
}

type computeFn func(prec uint, mode big.RoundingMode) (*big.Float, big.Accuracy)

func exact(v *big.Float) computeFn {
	return func(prec uint, mode big.RoundingMode) (*big.Float, big.Accuracy) {
		z := new(big.Float).SetMode(mode).SetPrec(prec).Set(v)
		return z, z.Acc()
	}
}

// finish rounds a nonzero finite result into the format, handling overflow
// and gradual underflow. Tininess is detected after rounding.
func (e *FPEnv) finish(f FloatFormat, compute computeFn) uint64 {
	r, acc := compute(f.prec, e.mode)
	neg := r.Signbit()

	exp := r.MantExp(nil)
	if exp > f.emax {
		e.raise(FlagOF | FlagNX)
		return e.overflow(f, neg)
	}

	if exp < f.emin {
		p := int(f.prec) - (f.emin - exp)
		if p < 1 {
			e.raise(FlagUF | FlagNX)
			return e.belowSubnormal(f, compute, neg, exp)
		}
		r, acc = compute(uint(p), e.mode)
		if acc != big.Exact {
			e.raise(FlagUF | FlagNX)
		}
	} else if acc != big.Exact {
		e.raise(FlagNX)
	}

	v, _ := r.Float64()
	return f.pack(v)
}

func (e *FPEnv) overflow(f FloatFormat, neg bool) uint64 {
	toInf := true
	switch e.rm {
	case RoundTowardZero:
		toInf = false
	case RoundDown:
		toInf = neg
	case RoundUp:
		toInf = !neg
	}
	if toInf {
		return f.signed(f.inf(), neg)
	}
	return f.signed(f.maxFinite(), neg)
}

// belowSubnormal rounds a value smaller in magnitude than the least
// subnormal to either zero or that subnormal.
func (e *FPEnv) belowSubnormal(f FloatFormat, compute computeFn, neg bool, exp int) uint64 {
	least := f.signed(1, neg)
	zero := f.signed(0, neg)

	halfExp := f.emin - int(f.prec)
	cmp := -1
	if exp == halfExp {
		rz, acc := compute(f.prec, big.ToZero)
		half := new(big.Float).SetMantExp(big.NewFloat(0.5), halfExp)
		cmp = new(big.Float).Abs(rz).Cmp(half)
		if cmp == 0 && acc != big.Exact {
			cmp = 1
		}
	}

	switch e.rm {
	case RoundNearestEven:
		if cmp > 0 {
			return least
		}
	case RoundNearestMax:
		if cmp >= 0 {
			return least
		}
	case RoundUp:
		if !neg {
			return least
		}
	case RoundDown:
		if neg {
			return least
		}
	}
	return zero
}

func expOf(v *big.Float) int { return v.MantExp(nil) }

func absDiff(a, b int) uint {
	if a > b {
		return uint(a - b)
	}
	return uint(b - a)
}

// Add returns a + b.
func (e *FPEnv) Add(f FloatFormat, a, b uint64) uint64 {
	if nan, ok := e.nanResult(f, a, b); ok {
		return nan
	}

	switch {
	case f.isInf(a) && f.isInf(b):
		if f.neg(a) != f.neg(b) {
			return e.invalid(f)
		}
		return a
	case f.isInf(a):
		return a
	case f.isInf(b):
		return b
	case f.isZero(a) && f.isZero(b):
		if f.neg(a) == f.neg(b) {
			return a
		}
		return e.cancelZero(f)
	case f.isZero(a):
		return b
	case f.isZero(b):
		return a
	}

	x, y := f.big(a), f.big(b)
	prec := absDiff(expOf(x), expOf(y)) + f.prec + 2
	sum := new(big.Float).SetPrec(prec).Add(x, y)
	if sum.Sign() == 0 {
		return e.cancelZero(f)
	}
	return e.finish(f, exact(sum))
}

// Sub returns a - b.
func (e *FPEnv) Sub(f FloatFormat, a, b uint64) uint64 {
	return e.Add(f, a, b^f.sign())
}

// Mul returns a * b.
func (e *FPEnv) Mul(f FloatFormat, a, b uint64) uint64 {
	if nan, ok := e.nanResult(f, a, b); ok {
		return nan
	}

	neg := f.neg(a) != f.neg(b)
	switch {
	case (f.isInf(a) && f.isZero(b)) || (f.isZero(a) && f.isInf(b)):
		return e.invalid(f)
	case f.isInf(a) || f.isInf(b):
		return f.signed(f.inf(), neg)
	case f.isZero(a) || f.isZero(b):
		return f.signed(0, neg)
	}

	prod := new(big.Float).SetPrec(2*f.prec).Mul(f.big(a), f.big(b))
	return e.finish(f, exact(prod))
}

// Div returns a / b.
func (e *FPEnv) Div(f FloatFormat, a, b uint64) uint64 {
	if nan, ok := e.nanResult(f, a, b); ok {
		return nan
	}

	neg := f.neg(a) != f.neg(b)
	switch {
	case f.isInf(a) && f.isInf(b), f.isZero(a) && f.isZero(b):
		return e.invalid(f)
	case f.isInf(a):
		return f.signed(f.inf(), neg)
	case f.isInf(b), f.isZero(a):
		return f.signed(0, neg)
	case f.isZero(b):
		e.raise(FlagDZ)
		return f.signed(f.inf(), neg)
	}

	x, y := f.big(a), f.big(b)
	return e.finish(f, func(prec uint, mode big.RoundingMode) (*big.Float, big.Accuracy) {
		z := new(big.Float).SetMode(mode).SetPrec(prec).Quo(x, y)
		return z, z.Acc()
	})
}

// Sqrt returns the square root of a.
func (e *FPEnv) Sqrt(f FloatFormat, a uint64) uint64 {
	if nan, ok := e.nanResult(f, a); ok {
		return nan
	}

	switch {
	case f.isZero(a):
		return a
	case f.neg(a):
		return e.invalid(f)
	case f.isInf(a):
		return a
	}

	x := f.big(a)
	return e.finish(f, func(prec uint, mode big.RoundingMode) (*big.Float, big.Accuracy) {
		z := new(big.Float).SetMode(mode).SetPrec(prec).Sqrt(x)
		sq := new(big.Float).SetPrec(2*prec+2).Mul(z, z)
		if sq.Cmp(x) == 0 {
			return z, big.Exact
		}
		return z, big.Below
	})
}

// FMA returns (a * b) + c with a single rounding. negProd and negAdd select
// the fmsub, fnmsub and fnmadd variants.
func (e *FPEnv) FMA(f FloatFormat, a, b, c uint64, negProd, negAdd bool) uint64 {
	if (f.isInf(a) && f.isZero(b)) || (f.isZero(a) && f.isInf(b)) {
		e.nanResult(f, c)
		return e.invalid(f)
	}
	if nan, ok := e.nanResult(f, a, b, c); ok {
		return nan
	}

	if negProd {
		a ^= f.sign()
	}
	if negAdd {
		c ^= f.sign()
	}

	prodNeg := f.neg(a) != f.neg(b)
	switch {
	case f.isInf(a) || f.isInf(b):
		if f.isInf(c) && f.neg(c) != prodNeg {
			return e.invalid(f)
		}
		return f.signed(f.inf(), prodNeg)
	case f.isInf(c):
		return c
	case f.isZero(a) || f.isZero(b):
		if f.isZero(c) {
			if f.neg(c) == prodNeg {
				return c
			}
			return e.cancelZero(f)
		}
		return c
	}

	prod := new(big.Float).SetPrec(2*f.prec).Mul(f.big(a), f.big(b))
	if f.isZero(c) {
		return e.finish(f, exact(prod))
	}

	z := f.big(c)
	prec := absDiff(expOf(prod), expOf(z)) + 2*f.prec + 2
	sum := new(big.Float).SetPrec(prec).Add(prod, z)
	if sum.Sign() == 0 {
		return e.cancelZero(f)
	}
	return e.finish(f, exact(sum))
}

// Convert rounds a from format from into format to.
func (e *FPEnv) Convert(from, to FloatFormat, a uint64) uint64 {
	if _, ok := e.nanResult(from, a); ok {
		return to.canonNaN
	}
	switch {
	case from.isInf(a):
		return to.signed(to.inf(), from.neg(a))
	case from.isZero(a):
		return to.signed(0, from.neg(a))
	}
	return e.finish(to, exact(from.big(a)))
}

// FromInt converts an integer into format f. When signed is false v is
// taken as unsigned.
func (e *FPEnv) FromInt(f FloatFormat, v uint64, signed bool) uint64 {
	if v == 0 {
		return 0
	}
	x := new(big.Float)
	if signed {
		x.SetInt64(int64(v))
	} else {
		x.SetUint64(v)
	}
	return e.finish(f, exact(x))
}

func (e *FPEnv) roundInt(v float64) float64 {
	switch e.rm {
	case RoundTowardZero:
		return math.Trunc(v)
	case RoundDown:
		return math.Floor(v)
	case RoundUp:
		return math.Ceil(v)
	case RoundNearestMax:
		return math.Round(v)
	}
	return math.RoundToEven(v)
}

// ToInt converts a to a bits-wide integer, saturating with NV when the
// rounded value is out of range or a is NaN.
func (e *FPEnv) ToInt(f FloatFormat, a uint64, bits uint, signed bool) uint64 {
	var lo, hi float64
	var minV, maxV uint64
	if signed {
		lo, hi = -math.Ldexp(1, int(bits-1)), math.Ldexp(1, int(bits-1))
		minV, maxV = uint64(int64(-1)<<(bits-1)), uint64(1)<<(bits-1)-1
	} else {
		lo, hi = 0, math.Ldexp(1, int(bits))
		minV, maxV = 0, mask64(bits)
	}

	if f.isNaN(a) {
		e.raise(FlagNV)
		return maxV
	}

	v := f.float64(a)
	r := e.roundInt(v)
	switch {
	case r >= hi:
		e.raise(FlagNV)
		return maxV
	case r < lo:
		e.raise(FlagNV)
		return minV
	}

	if r != v {
		e.raise(FlagNX)
	}
	if signed {
		return uint64(int64(r))
	}
	return uint64(r)
}

func mask64(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}

// Eq is the quiet equality comparison.
func (e *FPEnv) Eq(f FloatFormat, a, b uint64) bool {
	if f.isNaN(a) || f.isNaN(b) {
		e.nanResult(f, a, b)
		return false
	}
	return f.float64(a) == f.float64(b)
}

// Lt is the signaling less-than comparison.
func (e *FPEnv) Lt(f FloatFormat, a, b uint64) bool {
	if f.isNaN(a) || f.isNaN(b) {
		e.raise(FlagNV)
		return false
	}
	return f.float64(a) < f.float64(b)
}

// Le is the signaling less-or-equal comparison.
func (e *FPEnv) Le(f FloatFormat, a, b uint64) bool {
	if f.isNaN(a) || f.isNaN(b) {
		e.raise(FlagNV)
		return false
	}
	return f.float64(a) <= f.float64(b)
}

// MinMax returns the minimum or maximum number, treating -0 as below +0.
// A single NaN operand yields the other operand.
func (e *FPEnv) MinMax(f FloatFormat, a, b uint64, isMax bool) uint64 {
	nanA, nanB := f.isNaN(a), f.isNaN(b)
	if nanA || nanB {
		e.nanResult(f, a, b)
		switch {
		case nanA && nanB:
			return f.canonNaN
		case nanA:
			return b
		default:
			return a
		}
	}

	x, y := f.float64(a), f.float64(b)
	if x == y {
		if f.neg(a) == isMax {
			return b
		}
		return a
	}
	if (x > y) == isMax {
		return a
	}
	return b
}

// Class returns the fclass bitmask of a.
func Class(f FloatFormat, a uint64) uint64 {
	neg := f.neg(a)
	exp := a & f.expMask()
	switch {
	case f.isSNaN(a):
		return 1 << 8
	case f.isNaN(a):
		return 1 << 9
	case f.isInf(a) && neg:
		return 1 << 0
	case f.isInf(a):
		return 1 << 7
	case f.isZero(a) && neg:
		return 1 << 3
	case f.isZero(a):
		return 1 << 4
	case exp == 0 && neg:
		return 1 << 2
	case exp == 0:
		return 1 << 5
	case neg:
		return 1 << 1
	}
	return 1 << 6
}
