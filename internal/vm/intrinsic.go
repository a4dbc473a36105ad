package vm

import (
	"fmt"
	"math/bits"
	"strings"

	"miri/internal/mir"
	"miri/internal/types"
	"miri/internal/value"
)

var intrinsics = map[string]NativeFunc{
	"size_of":       intrinsicSizeOf,
	"min_align_of":  intrinsicAlignOf,
	"align_of":      intrinsicAlignOf,
	"pref_align_of": intrinsicAlignOf,
	"size_of_val":   intrinsicSizeOfVal,
	"needs_drop":    intrinsicNeedsDrop,
	"type_id":       intrinsicTypeID,

	"transmute":           intrinsicTransmute,
	"copy_nonoverlapping": intrinsicCopyNonoverlapping,
	"copy":                intrinsicCopy,
	"write_bytes":         intrinsicWriteBytes,
	"read":                intrinsicRead,
	"volatile_load":       intrinsicRead,
	"write":               intrinsicWrite,
	"move_val_init":       intrinsicWrite,
	"volatile_store":      intrinsicWrite,
	"init":                intrinsicInit,
	"uninit":              intrinsicInit,
	"forget":              intrinsicForget,
	"drop_in_place":       intrinsicDropInPlace,

	"offset":       intrinsicOffset,
	"arith_offset": intrinsicArithOffset,

	"add_with_overflow": checkedIntrinsic(mir.BinAdd),
	"sub_with_overflow": checkedIntrinsic(mir.BinSub),
	"mul_with_overflow": checkedIntrinsic(mir.BinMul),
	"wrapping_add":      wrappingIntrinsic(mir.BinAdd),
	"wrapping_sub":      wrappingIntrinsic(mir.BinSub),
	"wrapping_mul":      wrappingIntrinsic(mir.BinMul),
	"unchecked_div":     uncheckedIntrinsic(mir.BinDiv),
	"unchecked_rem":     uncheckedIntrinsic(mir.BinRem),
	"exact_div":         intrinsicExactDiv,
	"ctpop":             bitIntrinsic(func(x uint64, r intRepr) uint64 { return uint64(bits.OnesCount64(x)) }),   //nolint:gosec // small count
	"ctlz":              bitIntrinsic(func(x uint64, r intRepr) uint64 { return uint64(bits.LeadingZeros64(x) - (64 - r.bits())) }), //nolint:gosec // small count
	"cttz":              bitIntrinsic(trailingZeros),
	"bswap":             bitIntrinsic(func(x uint64, r intRepr) uint64 { return bits.ReverseBytes64(x) >> uint(64-r.bits()) }), //nolint:gosec // bits() <= 64
	"rotate_left":       intrinsicRotate(true),
	"rotate_right":      intrinsicRotate(false),

	"assume":      intrinsicAssume,
	"likely":      intrinsicIdentity,
	"unlikely":    intrinsicIdentity,
	"abort":       nativeAbort,
	"unreachable": intrinsicUnreachable,
}

// lookupIntrinsic finds the implementation of a compiler intrinsic. Atomic
// intrinsics are matched by operation, ignoring their ordering suffix.
func lookupIntrinsic(name string) (NativeFunc, bool) {
	if rest, ok := strings.CutPrefix(name, "atomic_"); ok {
		op, _, _ := strings.Cut(rest, "_")
		fn, ok := atomics[op]
		return fn, ok
	}
	fn, ok := intrinsics[name]
	return fn, ok
}

// typeArg returns the intrinsic's first generic argument.
func (t *Thread) typeArg(c *NativeCall) types.TypeID {
	ty := c.TypeArg(0)
	if ty == types.NoTypeID {
		panic(t.eb.invalidProgram("intrinsic %s called without a type argument", c.Name))
	}
	return ty
}

// intArg returns the integer representation of the first generic argument.
func (t *Thread) intArg(c *NativeCall) intRepr {
	ty := t.typeArg(c)
	r, ok := t.intRepr(ty)
	if !ok {
		panic(t.eb.invalidProgram("intrinsic %s on non-integer %s", c.Name, types.Label(t.types, ty)))
	}
	return r
}

// Type queries -----------------------------------------------------------------

func intrinsicSizeOf(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return t.ResultUint(c, uint64(t.mustSize(t.typeArg(c)))), nil //nolint:gosec // sizes are non-negative
}

func intrinsicAlignOf(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	l, vmErr := t.layoutOf(t.typeArg(c))
	if vmErr != nil {
		return nil, vmErr
	}
	return t.ResultUint(c, uint64(l.Align)), nil //nolint:gosec // alignments are positive
}

// intrinsicSizeOfVal measures the pointee of a possibly fat pointer: the
// element count times the element size for slices and str.
func intrinsicSizeOfVal(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	ty := t.typeArg(c)
	tt := t.typeOf(ty)
	switch tt.Kind {
	case types.KindSlice, types.KindStr:
		arg := t.Arg(c, 0)
		if arg.Size() != 2*t.ptrSize {
			return nil, t.eb.typeMismatch("size_of_val argument", 2*t.ptrSize, arg.Size())
		}
		elem := 1
		if tt.Kind == types.KindSlice {
			elem = t.mustSize(tt.Elem)
		}
		return t.ResultUint(c, t.valueMeta(arg)*uint64(elem)), nil //nolint:gosec // element sizes are non-negative
	}
	return t.ResultUint(c, uint64(t.mustSize(ty))), nil //nolint:gosec // sizes are non-negative
}

func intrinsicNeedsDrop(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	if t.types.NeedsDrop(t.typeArg(c)) {
		return t.ResultUint(c, 1), nil
	}
	return t.ResultUint(c, 0), nil
}

func intrinsicTypeID(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return t.ResultUint(c, uint64(t.typeArg(c))), nil
}

// Memory -----------------------------------------------------------------------

func intrinsicTransmute(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	v := t.Arg(c, 0)
	size := t.mustSize(c.Func.Result)
	if size != v.Size() {
		return nil, t.eb.typeMismatch("transmute", size, v.Size())
	}
	return v.Clone(), nil
}

func (t *Thread) elemBytes(c *NativeCall, countArg int) int {
	n := t.ArgSize(c, countArg)
	size := t.mustSize(t.typeArg(c))
	if size != 0 && n > int(^uint(0)>>1)/size {
		panic(t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("%s of %d elements overflows", c.Name, n)))
	}
	return n * size
}

func intrinsicCopyNonoverlapping(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	src, dst := t.ArgPointer(c, 0), t.ArgPointer(c, 1)
	n := t.elemBytes(c, 2)
	if n > 0 && src.SameBase(dst) {
		lo, hi := min(src.Offset, dst.Offset), max(src.Offset, dst.Offset)
		if hi-lo < uint64(n) {
			return nil, t.eb.makeError(PanicInvalidAccess,
				fmt.Sprintf("copy_nonoverlapping of %d bytes between overlapping %s and %s", n, src, dst))
		}
	}
	return unitValue(), t.copyBytes(dst, src, n)
}

func intrinsicCopy(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	src, dst := t.ArgPointer(c, 0), t.ArgPointer(c, 1)
	return unitValue(), t.copyBytes(dst, src, t.elemBytes(c, 2))
}

func intrinsicWriteBytes(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	dst := t.ArgPointer(c, 0)
	b := byte(t.ArgUint(c, 1)) //nolint:gosec // u8 argument
	n := t.elemBytes(c, 2)
	if n == 0 {
		return unitValue(), nil
	}
	a, off, vmErr := t.resolve(dst)
	if vmErr != nil {
		return nil, vmErr
	}
	if err := a.Fill(off, n, b); err != nil {
		return nil, t.eb.memory("write_bytes", err)
	}
	return unitValue(), nil
}

func intrinsicRead(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return t.load(t.ArgPointer(c, 0), t.mustSize(t.typeArg(c)))
}

func intrinsicWrite(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	dst, v := t.ArgPointer(c, 0), t.Arg(c, 1)
	if size := t.mustSize(t.typeArg(c)); size != v.Size() {
		return nil, t.eb.typeMismatch(c.Name+" value", size, v.Size())
	}
	if v.Size() == 0 {
		return unitValue(), nil
	}
	return unitValue(), t.store(dst, v)
}

func intrinsicInit(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return t.allocFor(t.typeArg(c))
}

func intrinsicForget(*Thread, *NativeCall) (*value.Allocation, *VMError) {
	return unitValue(), nil
}

// intrinsicDropInPlace drops the pointee. Drop glue it needs runs as frames
// pushed before the caller continues.
func intrinsicDropInPlace(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	ty := t.typeArg(c)
	arg := t.Arg(c, 0)
	if !t.types.IsUnsized(ty) {
		if _, vmErr := t.DropValue(t.valuePointer(arg), ty, false); vmErr != nil {
			return nil, vmErr
		}
		return unitValue(), nil
	}
	if arg.Size() != 2*t.ptrSize {
		return nil, t.eb.typeMismatch("drop_in_place argument", 2*t.ptrSize, arg.Size())
	}
	task := dropTask{kind: dropValueTask, ptr: t.valuePointer(arg), ty: ty, meta: t.valueMeta(arg)}
	if vmErr := t.queueDrop(t.top(), task); vmErr != nil {
		return nil, vmErr
	}
	return unitValue(), nil
}

// Pointer arithmetic -----------------------------------------------------------

func (t *Thread) displace(c *NativeCall) value.Pointer {
	p := t.ArgPointer(c, 0)
	n := t.ArgInt(c, 1)
	return p.Add(n * int64(t.mustSize(t.typeArg(c))))
}

// intrinsicOffset requires the result to stay inside the allocation or one
// past its end.
func intrinsicOffset(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	p := t.displace(c)
	if p.Kind == value.PointerAlloc && p.Offset > uint64(p.Alloc.Size()) { //nolint:gosec // sizes are non-negative
		return nil, t.eb.makeError(PanicInvalidAccess,
			fmt.Sprintf("out-of-bounds pointer arithmetic: %s outside allocation of %d bytes", p, p.Alloc.Size()))
	}
	return t.ResultPointer(p), nil
}

func intrinsicArithOffset(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return t.ResultPointer(t.displace(c)), nil
}

// Integer arithmetic -----------------------------------------------------------

func checkedIntrinsic(op mir.BinOp) NativeFunc {
	return func(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
		r := t.intArg(c)
		res, overflow, _ := intBinary(op, t.ArgUint(c, 0), t.ArgUint(c, 1), r)
		return t.withFlag(c.Func.Result, t.uintValue(r.size, res), overflow)
	}
}

func wrappingIntrinsic(op mir.BinOp) NativeFunc {
	return func(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
		r := t.intArg(c)
		res, _, _ := intBinary(op, t.ArgUint(c, 0), t.ArgUint(c, 1), r)
		return t.uintValue(r.size, res), nil
	}
}

func uncheckedIntrinsic(op mir.BinOp) NativeFunc {
	return func(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
		r := t.intArg(c)
		res, _, aerr := intBinary(op, t.ArgUint(c, 0), t.ArgUint(c, 1), r)
		switch aerr {
		case arithDivZero:
			return nil, t.eb.makeError(PanicArithmetic, c.Name+" by zero")
		case arithDivOverflow:
			return nil, t.eb.makeError(PanicArithmetic, c.Name+" overflowed")
		}
		return t.uintValue(r.size, res), nil
	}
}

func intrinsicExactDiv(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	r := t.intArg(c)
	x, y := t.ArgUint(c, 0), t.ArgUint(c, 1)
	rem, _, aerr := intBinary(mir.BinRem, x, y, r)
	if aerr == arithOK && rem != 0 {
		return nil, t.eb.makeError(PanicArithmetic, "exact_div with a remainder")
	}
	return uncheckedIntrinsic(mir.BinDiv)(t, c)
}

func bitIntrinsic(op func(x uint64, r intRepr) uint64) NativeFunc {
	return func(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
		r := t.intArg(c)
		x := t.ArgUint(c, 0) & r.mask()
		return t.uintValue(r.size, op(x, r)&r.mask()), nil
	}
}

func trailingZeros(x uint64, r intRepr) uint64 {
	if x == 0 {
		return uint64(r.bits()) //nolint:gosec // bits() <= 64
	}
	return uint64(bits.TrailingZeros64(x)) //nolint:gosec // small count
}

func intrinsicRotate(left bool) NativeFunc {
	return func(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
		r := t.intArg(c)
		n := uint64(r.bits()) //nolint:gosec // bits() <= 64
		x := t.ArgUint(c, 0) & r.mask()
		s := t.ArgUint(c, 1) % n
		if !left {
			s = (n - s) % n
		}
		out := x
		if s != 0 {
			out = (x<<s | x>>(n-s)) & r.mask()
		}
		return t.uintValue(r.size, out), nil
	}
}

// Control ----------------------------------------------------------------------

func intrinsicAssume(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	if t.ArgUint(c, 0) == 0 {
		return nil, t.eb.makeError(PanicUnreachable, "assume called with a false condition")
	}
	return unitValue(), nil
}

func intrinsicIdentity(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return t.Arg(c, 0).Clone(), nil
}

func intrinsicUnreachable(t *Thread, _ *NativeCall) (*value.Allocation, *VMError) {
	return nil, t.eb.makeError(PanicUnreachable, "entered unreachable code")
}
