package vm

import (
	"math"
	"math/bits"

	"miri/internal/mir"
	"miri/internal/value"
)

// intRepr describes how an integer-like value is stored.
type intRepr struct {
	size   int // bytes
	signed bool
}

func (r intRepr) bits() int { return r.size * 8 }

func (r intRepr) mask() uint64 {
	if r.size >= 8 {
		return math.MaxUint64
	}
	return 1<<uint(r.bits()) - 1 //nolint:gosec // bits() is at most 64
}

func (r intRepr) minSigned() int64 { return -1 << uint(r.bits()-1) }  //nolint:gosec // bits() > 0
func (r intRepr) maxSigned() int64 { return 1<<uint(r.bits()-1) - 1 } //nolint:gosec // bits() > 0
func (r intRepr) sext(u uint64) int64  { return value.SignExtend(u, r.bits()) }

type arithErr uint8

const (
	arithOK arithErr = iota
	arithDivZero
	arithDivOverflow
)

// intBinary evaluates an arithmetic or bitwise operator on integers of repr,
// returning the wrapped result and whether the mathematical result overflowed.
func intBinary(op mir.BinOp, a, b uint64, r intRepr) (uint64, bool, arithErr) {
	shift := b
	a &= r.mask()
	b &= r.mask()
	n := r.bits()
	switch op {
	case mir.BinAdd:
		if r.signed {
			sa, sb := r.sext(a), r.sext(b)
			sum := sa + sb
			var ov bool
			if n == 64 {
				ov = (sa > 0 && sb > 0 && sum < 0) || (sa < 0 && sb < 0 && sum >= 0)
			} else {
				ov = sum < r.minSigned() || sum > r.maxSigned()
			}
			return uint64(sum) & r.mask(), ov, arithOK //nolint:gosec // wrap intended
		}
		sum, carry := bits.Add64(a, b, 0)
		return sum & r.mask(), carry != 0 || sum > r.mask(), arithOK

	case mir.BinSub:
		if r.signed {
			sa, sb := r.sext(a), r.sext(b)
			diff := sa - sb
			var ov bool
			if n == 64 {
				ov = (sa >= 0 && sb < 0 && diff < 0) || (sa < 0 && sb > 0 && diff >= 0)
			} else {
				ov = diff < r.minSigned() || diff > r.maxSigned()
			}
			return uint64(diff) & r.mask(), ov, arithOK //nolint:gosec // wrap intended
		}
		diff, borrow := bits.Sub64(a, b, 0)
		return diff & r.mask(), borrow != 0, arithOK

	case mir.BinMul:
		if r.signed {
			sa, sb := r.sext(a), r.sext(b)
			prod := sa * sb
			var ov bool
			if n == 64 {
				ov = sa != 0 && (prod/sa != sb || (sa == -1 && sb == math.MinInt64))
			} else {
				// Operands fit in 32 bits, so the product fits in int64.
				ov = prod < r.minSigned() || prod > r.maxSigned()
			}
			return uint64(prod) & r.mask(), ov, arithOK //nolint:gosec // wrap intended
		}
		hi, lo := bits.Mul64(a, b)
		return lo & r.mask(), hi != 0 || lo > r.mask(), arithOK

	case mir.BinDiv, mir.BinRem:
		if b == 0 {
			return 0, false, arithDivZero
		}
		if r.signed {
			sa, sb := r.sext(a), r.sext(b)
			if sa == r.minSigned() && sb == -1 {
				if op == mir.BinDiv {
					return a, true, arithDivOverflow
				}
				return 0, true, arithDivOverflow
			}
			if op == mir.BinDiv {
				return uint64(sa/sb) & r.mask(), false, arithOK //nolint:gosec // wrap intended
			}
			return uint64(sa%sb) & r.mask(), false, arithOK //nolint:gosec // wrap intended
		}
		if op == mir.BinDiv {
			return a / b, false, arithOK
		}
		return a % b, false, arithOK

	case mir.BinBitAnd:
		return a & b, false, arithOK
	case mir.BinBitOr:
		return a | b, false, arithOK
	case mir.BinBitXor:
		return a ^ b, false, arithOK

	case mir.BinShl, mir.BinShr:
		// The shift amount is not masked to the operand width.
		ov := shift >= uint64(n)      //nolint:gosec // n is positive
		sh := uint(shift % uint64(n)) //nolint:gosec // n is positive
		if op == mir.BinShl {
			return (a << sh) & r.mask(), ov, arithOK
		}
		if r.signed {
			return uint64(r.sext(a)>>sh) & r.mask(), ov, arithOK //nolint:gosec // wrap intended
		}
		return a >> sh, ov, arithOK
	}
	return 0, false, arithOK
}

// intCompare evaluates a comparison operator on integers of repr.
func intCompare(op mir.BinOp, a, b uint64, r intRepr) bool {
	a &= r.mask()
	b &= r.mask()
	var c int
	if r.signed {
		sa, sb := r.sext(a), r.sext(b)
		switch {
		case sa < sb:
			c = -1
		case sa > sb:
			c = 1
		}
	} else {
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	}
	return cmpResult(op, c)
}

func cmpResult(op mir.BinOp, c int) bool {
	switch op {
	case mir.BinEq:
		return c == 0
	case mir.BinNe:
		return c != 0
	case mir.BinLt:
		return c < 0
	case mir.BinLe:
		return c <= 0
	case mir.BinGt:
		return c > 0
	case mir.BinGe:
		return c >= 0
	}
	return false
}

// floatBinary evaluates arithmetic on floats. Comparisons are handled by
// floatCompare; ok is false for operators floats do not support.
func floatBinary(op mir.BinOp, a, b float64) (float64, bool) {
	switch op {
	case mir.BinAdd:
		return a + b, true
	case mir.BinSub:
		return a - b, true
	case mir.BinMul:
		return a * b, true
	case mir.BinDiv:
		return a / b, true
	case mir.BinRem:
		return math.Mod(a, b), true
	}
	return 0, false
}

func floatCompare(op mir.BinOp, a, b float64) bool {
	switch op {
	case mir.BinEq:
		return a == b
	case mir.BinNe:
		return a != b
	case mir.BinLt:
		return a < b
	case mir.BinLe:
		return a <= b
	case mir.BinGt:
		return a > b
	case mir.BinGe:
		return a >= b
	}
	return false
}

// floatToInt converts with Rust's saturating `as` semantics: NaN becomes 0
// and out-of-range values clamp.
func floatToInt(f float64, r intRepr) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	f = math.Trunc(f)
	if r.signed {
		lo, hi := float64(r.minSigned()), float64(r.maxSigned())
		switch {
		case f <= lo:
			return uint64(r.minSigned()) & r.mask() //nolint:gosec // wrap intended
		case f >= hi:
			return uint64(r.maxSigned()) & r.mask() //nolint:gosec // wrap intended
		}
		return uint64(int64(f)) & r.mask() //nolint:gosec // in range
	}
	if f <= 0 {
		return 0
	}
	if f >= float64(r.mask()) {
		return r.mask()
	}
	return uint64(f)
}

func intToFloat(u uint64, r intRepr) float64 {
	if r.signed {
		return float64(r.sext(u))
	}
	return float64(u & r.mask())
}
