package vm

import (
	"miri/internal/mir"
	"miri/internal/value"
)

// Threads never interleave inside a single step, so every atomic is a plain
// read-modify-write on the target memory.
var atomics = map[string]NativeFunc{
	"load":              atomicLoad,
	"store":             atomicStore,
	"xchg":              atomicRMW(nil),
	"xadd":              atomicRMW(arithOp(mir.BinAdd)),
	"xsub":              atomicRMW(arithOp(mir.BinSub)),
	"and":               atomicRMW(arithOp(mir.BinBitAnd)),
	"or":                atomicRMW(arithOp(mir.BinBitOr)),
	"xor":               atomicRMW(arithOp(mir.BinBitXor)),
	"cxchg":             atomicCompareExchange,
	"cxchgweak":         atomicCompareExchange,
	"fence":             atomicFence,
	"singlethreadfence": atomicFence,
}

func arithOp(op mir.BinOp) func(old, v uint64, r intRepr) uint64 {
	return func(old, v uint64, r intRepr) uint64 {
		res, _, _ := intBinary(op, old, v, r)
		return res
	}
}

func atomicLoad(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return t.load(t.ArgPointer(c, 0), t.mustSize(t.typeArg(c)))
}

func atomicStore(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return intrinsicWrite(t, c)
}

// atomicRMW returns the previous value. A nil update stores the argument
// unchanged (exchange), which also works for pointers.
func atomicRMW(update func(old, v uint64, r intRepr) uint64) NativeFunc {
	return func(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
		ty := t.typeArg(c)
		dst, v := t.ArgPointer(c, 0), t.Arg(c, 1)
		old, vmErr := t.load(dst, t.mustSize(ty))
		if vmErr != nil {
			return nil, vmErr
		}
		next := v
		if update != nil {
			r := t.intArg(c)
			next = t.uintValue(r.size, update(t.valueUint(old), t.valueUint(v), r))
		}
		if vmErr := t.store(dst, next); vmErr != nil {
			return nil, vmErr
		}
		return old, nil
	}
}

// atomicCompareExchange returns (previous, succeeded).
func atomicCompareExchange(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	ty := t.typeArg(c)
	dst, expected, next := t.ArgPointer(c, 0), t.Arg(c, 1), t.Arg(c, 2)
	cur, vmErr := t.load(dst, t.mustSize(ty))
	if vmErr != nil {
		return nil, vmErr
	}
	ok := value.Equal(cur, expected)
	if ok {
		if vmErr := t.store(dst, next); vmErr != nil {
			return nil, vmErr
		}
	}
	return t.withFlag(c.Func.Result, cur, ok)
}

func atomicFence(*Thread, *NativeCall) (*value.Allocation, *VMError) {
	return unitValue(), nil
}
