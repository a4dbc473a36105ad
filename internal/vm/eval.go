package vm

import (
	"fmt"
	"math"

	"miri/internal/mir"
	"miri/internal/types"
	"miri/internal/value"
)

// evalOperand produces an owned copy of the operand's value. Moving a whole
// slot clears its drop flag.
func (t *Thread) evalOperand(f *Frame, op mir.Operand) (*value.Allocation, types.TypeID, *VMError) {
	switch op.Kind {
	case mir.OperandConst:
		v, vmErr := t.evalConst(&op.Const)
		return v, op.Const.Type, vmErr
	case mir.OperandCopy, mir.OperandMove:
		pr, vmErr := t.evalPlace(f, op.Place)
		if vmErr != nil {
			return nil, types.NoTypeID, vmErr
		}
		v, vmErr := t.readPlace(pr)
		if vmErr != nil {
			return nil, types.NoTypeID, vmErr
		}
		if op.Kind == mir.OperandMove && pr.slot != nil {
			pr.slot.Live = false
		}
		return v, pr.ty, nil
	}
	return nil, types.NoTypeID, t.eb.invalidProgram("unknown operand kind %d", op.Kind)
}

func (t *Thread) evalConst(c *mir.Const) (*value.Allocation, *VMError) {
	switch c.Kind {
	case mir.ConstUnit:
		return unitValue(), nil
	case mir.ConstBytes:
		return value.FromBytes(c.Bytes), nil
	case mir.ConstStr:
		return t.StrValue(c.Str), nil
	case mir.ConstFn:
		key := c.Path.Key()
		if t.m.FunctionByKey(key) == nil {
			return nil, t.eb.unresolved("function", key)
		}
		return t.pointerValue(value.FunctionPointer(key)), nil
	case mir.ConstStaticRef:
		key := c.Path.Key()
		if t.m.StaticByKey(key) == nil {
			return nil, t.eb.unresolved("static", key)
		}
		return t.pointerValue(value.StaticPointer(key)), nil
	}

	size, vmErr := t.sizeOf(c.Type)
	if vmErr != nil {
		return nil, vmErr
	}
	switch c.Kind {
	case mir.ConstInt:
		return t.uintValue(size, uint64(c.IntValue)), nil //nolint:gosec // two's complement
	case mir.ConstUint:
		return t.uintValue(size, c.UintValue), nil
	case mir.ConstBool:
		if c.BoolValue {
			return t.uintValue(size, 1), nil
		}
		return t.uintValue(size, 0), nil
	case mir.ConstFloat:
		v := value.NewAllocation(size, size)
		var err error
		switch size {
		case 4:
			err = v.WriteFloat32(0, float32(c.FloatValue))
		case 8:
			err = v.WriteFloat64(0, c.FloatValue)
		default:
			return nil, t.eb.typeMismatch("float constant", 8, size)
		}
		if err != nil {
			return nil, t.eb.memory("float constant", err)
		}
		return v, nil
	}
	return nil, t.eb.invalidProgram("unknown constant kind %d", c.Kind)
}

// intRepr returns the integer representation of ty, if it has one.
func (t *Thread) intRepr(ty types.TypeID) (intRepr, bool) {
	tt, ok := t.types.Lookup(ty)
	if !ok {
		return intRepr{}, false
	}
	switch tt.Kind {
	case types.KindInt, types.KindUint:
		size, vmErr := t.sizeOf(ty)
		if vmErr != nil {
			return intRepr{}, false
		}
		return intRepr{size: size, signed: tt.Kind == types.KindInt}, true
	case types.KindBool:
		return intRepr{size: 1}, true
	case types.KindChar:
		return intRepr{size: 4}, true
	}
	return intRepr{}, false
}

func (t *Thread) isFloat(ty types.TypeID) bool {
	tt, ok := t.types.Lookup(ty)
	return ok && tt.Kind == types.KindFloat
}

func (t *Thread) isPointerLike(ty types.TypeID) bool {
	tt, ok := t.types.Lookup(ty)
	return ok && tt.IsPointerLike()
}

func (t *Thread) readFloat(v *value.Allocation) float64 {
	switch v.Size() {
	case 4:
		f, err := v.ReadFloat32(0)
		if err != nil {
			panic(t.eb.memory("read f32", err))
		}
		return float64(f)
	case 8:
		f, err := v.ReadFloat64(0)
		if err != nil {
			panic(t.eb.memory("read f64", err))
		}
		return f
	}
	panic(t.eb.typeMismatch("float", 8, v.Size()))
}

func (t *Thread) floatValue(size int, f float64) *value.Allocation {
	v := value.NewAllocation(size, size)
	var err error
	if size == 4 {
		err = v.WriteFloat32(0, float32(f))
	} else {
		err = v.WriteFloat64(0, f)
	}
	if err != nil {
		panic(t.eb.memory("write float", err))
	}
	return v
}

func (t *Thread) evalRValue(f *Frame, rv *mir.RValue, dstTy types.TypeID) (*value.Allocation, *VMError) {
	switch rv.Kind {
	case mir.RValueUse:
		v, _, vmErr := t.evalOperand(f, rv.Use)
		return v, vmErr

	case mir.RValueRef, mir.RValueAddrOf:
		pr, vmErr := t.evalPlace(f, rv.Ref.Place)
		if vmErr != nil {
			return nil, vmErr
		}
		if pr.hasMeta {
			return t.fatPointerValue(pr.ptr, pr.meta), nil
		}
		return t.pointerValue(pr.ptr), nil

	case mir.RValueBinaryOp, mir.RValueCheckedBinaryOp:
		return t.evalBinary(f, &rv.Binary, rv.Kind == mir.RValueCheckedBinaryOp, dstTy)

	case mir.RValueUnaryOp:
		return t.evalUnary(f, &rv.Unary)

	case mir.RValueCast:
		v, srcTy, vmErr := t.evalOperand(f, rv.Cast.Value)
		if vmErr != nil {
			return nil, vmErr
		}
		return t.cast(v, srcTy, rv.Cast.TargetTy)

	case mir.RValueAggregate:
		return t.evalAggregate(f, rv.Aggregate.Elems, dstTy)

	case mir.RValueRepeat:
		return t.evalRepeat(f, rv.Repeat.Elem, dstTy)

	case mir.RValueMakeFat:
		p, _, vmErr := t.evalOperand(f, rv.MakeFat.Ptr)
		if vmErr != nil {
			return nil, vmErr
		}
		m, _, vmErr := t.evalOperand(f, rv.MakeFat.Meta)
		if vmErr != nil {
			return nil, vmErr
		}
		return t.fatPointerValue(t.valuePointer(p), t.valueUint(m)), nil

	case mir.RValueFatMeta, mir.RValueFatPtr:
		v, _, vmErr := t.evalOperand(f, rv.MakeFat.Ptr)
		if vmErr != nil {
			return nil, vmErr
		}
		if v.Size() != 2*t.ptrSize {
			return nil, t.eb.typeMismatch("fat pointer", 2*t.ptrSize, v.Size())
		}
		if rv.Kind == mir.RValueFatMeta {
			return t.usizeValue(t.valueMeta(v)), nil
		}
		return t.pointerValue(t.valuePointer(v)), nil
	}
	return nil, t.eb.unimplemented(fmt.Sprintf("rvalue kind %d", rv.Kind))
}

func (t *Thread) evalBinary(f *Frame, b *mir.BinaryOp, checked bool, dstTy types.TypeID) (*value.Allocation, *VMError) {
	lv, lty, vmErr := t.evalOperand(f, b.Left)
	if vmErr != nil {
		return nil, vmErr
	}
	rv, rty, vmErr := t.evalOperand(f, b.Right)
	if vmErr != nil {
		return nil, vmErr
	}

	if b.Op == mir.BinOffset {
		return t.pointerOffset(lv, lty, rv, rty)
	}

	if t.isPointerLike(lty) {
		if !b.Op.IsComparison() {
			return nil, t.eb.unimplemented("pointer arithmetic with " + b.Op.String())
		}
		res, vmErr := t.comparePointers(b.Op, lv, rv)
		if vmErr != nil {
			return nil, vmErr
		}
		return t.boolValue(res), nil
	}

	if t.isFloat(lty) {
		x, y := t.readFloat(lv), t.readFloat(rv)
		if b.Op.IsComparison() {
			return t.boolValue(floatCompare(b.Op, x, y)), nil
		}
		res, ok := floatBinary(b.Op, x, y)
		if !ok {
			return nil, t.eb.invalidProgram("operator %s on floats", b.Op)
		}
		return t.floatValue(lv.Size(), res), nil
	}

	repr, ok := t.intRepr(lty)
	if !ok {
		return nil, t.eb.invalidProgram("operator %s on %s", b.Op, types.Label(t.types, lty))
	}
	x, y := t.valueUint(lv), t.valueUint(rv)
	if b.Op == mir.BinShl || b.Op == mir.BinShr {
		// The shift amount has its own type; negative amounts overflow.
		if rr, ok := t.intRepr(rty); ok && rr.signed && rr.sext(y) < 0 {
			y = math.MaxUint64
		}
	}
	if b.Op.IsComparison() {
		return t.boolValue(intCompare(b.Op, x, y, repr)), nil
	}
	res, overflow, aerr := intBinary(b.Op, x, y, repr)
	switch aerr {
	case arithDivZero:
		return nil, t.eb.makeError(PanicArithmetic, "attempt to divide by zero")
	case arithDivOverflow:
		if !checked {
			return nil, t.eb.makeError(PanicArithmetic, "attempt to divide with overflow")
		}
	}
	out := t.uintValue(repr.size, res)
	if !checked {
		return out, nil
	}
	return t.withFlag(dstTy, out, overflow)
}

// withFlag builds a (T, bool) pair such as the result of checked arithmetic.
func (t *Thread) withFlag(tupleTy types.TypeID, v *value.Allocation, overflow bool) (*value.Allocation, *VMError) {
	out, vmErr := t.allocFor(tupleTy)
	if vmErr != nil {
		return nil, vmErr
	}
	l, vmErr := t.layoutOf(tupleTy)
	if vmErr != nil {
		return nil, vmErr
	}
	if len(l.FieldOffsets) != 2 {
		return nil, t.eb.invalidProgram("checked arithmetic into %s", types.Label(t.types, tupleTy))
	}
	if err := out.WriteValue(l.FieldOffsets[0], v); err != nil {
		return nil, t.eb.memory("checked result", err)
	}
	if err := out.WriteValue(l.FieldOffsets[1], t.boolValue(overflow)); err != nil {
		return nil, t.eb.memory("checked flag", err)
	}
	return out, nil
}

func (t *Thread) comparePointers(op mir.BinOp, lv, rv *value.Allocation) (bool, *VMError) {
	lp, rp := t.valuePointer(lv), t.valuePointer(rv)
	var lm, rm uint64
	if lv.Size() == 2*t.ptrSize && rv.Size() == 2*t.ptrSize {
		lm, rm = t.valueMeta(lv), t.valueMeta(rv)
	}
	if !lp.SameBase(rp) {
		switch op {
		case mir.BinEq:
			return false, nil
		case mir.BinNe:
			return true, nil
		}
		return false, t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("ordering comparison of unrelated pointers %s and %s", lp, rp))
	}
	c := 0
	switch {
	case lp.Offset < rp.Offset:
		c = -1
	case lp.Offset > rp.Offset:
		c = 1
	case lm < rm:
		c = -1
	case lm > rm:
		c = 1
	}
	return cmpResult(op, c), nil
}

func (t *Thread) pointerOffset(lv *value.Allocation, lty types.TypeID, rv *value.Allocation, rty types.TypeID) (*value.Allocation, *VMError) {
	elem := t.typeOf(lty).Elem
	size, vmErr := t.sizeOf(elem)
	if vmErr != nil {
		return nil, vmErr
	}
	n := int64(t.valueUint(rv)) //nolint:gosec // two's complement
	if rr, ok := t.intRepr(rty); ok && rr.signed {
		n = rr.sext(uint64(n)) //nolint:gosec // two's complement
	}
	p := t.valuePointer(lv).Add(n * int64(size))
	return t.pointerValue(p), nil
}

func (t *Thread) evalUnary(f *Frame, u *mir.UnaryOp) (*value.Allocation, *VMError) {
	v, ty, vmErr := t.evalOperand(f, u.Operand)
	if vmErr != nil {
		return nil, vmErr
	}
	if t.isFloat(ty) {
		if u.Op != mir.UnNeg {
			return nil, t.eb.invalidProgram("! on float")
		}
		return t.floatValue(v.Size(), -t.readFloat(v)), nil
	}
	tt := t.typeOf(ty)
	repr, ok := t.intRepr(ty)
	if !ok {
		return nil, t.eb.invalidProgram("unary operator on %s", types.Label(t.types, ty))
	}
	x := t.valueUint(v)
	switch u.Op {
	case mir.UnNeg:
		res, _, _ := intBinary(mir.BinSub, 0, x, repr)
		return t.uintValue(repr.size, res), nil
	case mir.UnNot:
		if tt.Kind == types.KindBool {
			return t.uintValue(1, x^1), nil
		}
		return t.uintValue(repr.size, ^x&repr.mask()), nil
	}
	return nil, t.eb.invalidProgram("unknown unary operator %d", u.Op)
}

func (t *Thread) cast(v *value.Allocation, srcTy, dstTy types.TypeID) (*value.Allocation, *VMError) {
	dstSize, vmErr := t.sizeOf(dstTy)
	if vmErr != nil {
		return nil, vmErr
	}
	srcRepr, srcInt := t.intRepr(srcTy)
	dstRepr, dstInt := t.intRepr(dstTy)
	srcFloat, dstFloat := t.isFloat(srcTy), t.isFloat(dstTy)

	switch {
	case srcInt && dstInt:
		x := t.valueUint(v)
		if srcRepr.signed {
			x = uint64(srcRepr.sext(x)) //nolint:gosec // two's complement
		}
		return t.uintValue(dstRepr.size, x&dstRepr.mask()), nil
	case srcInt && dstFloat:
		return t.floatValue(dstSize, intToFloat(t.valueUint(v), srcRepr)), nil
	case srcFloat && dstInt:
		return t.uintValue(dstRepr.size, floatToInt(t.readFloat(v), dstRepr)), nil
	case srcFloat && dstFloat:
		return t.floatValue(dstSize, t.readFloat(v)), nil
	}

	srcPtr, dstPtr := t.isPointerLike(srcTy), t.isPointerLike(dstTy)
	if srcPtr || dstPtr {
		switch {
		case v.Size() == dstSize:
			// Same width: provenance travels with the bytes.
			return v.Clone(), nil
		case v.Size() == 2*t.ptrSize && dstSize == t.ptrSize:
			return t.pointerValue(t.valuePointer(v)), nil
		case v.Size() == t.ptrSize && dstSize == 2*t.ptrSize && srcPtr && dstPtr:
			return t.unsize(v, srcTy, dstTy)
		}
	}
	if v.Size() == dstSize {
		return v.Clone(), nil
	}
	return nil, t.eb.unimplemented(fmt.Sprintf("cast from %s to %s", types.Label(t.types, srcTy), types.Label(t.types, dstTy)))
}

// unsize turns a thin pointer to [T; N] into a fat pointer to [T].
func (t *Thread) unsize(v *value.Allocation, srcTy, dstTy types.TypeID) (*value.Allocation, *VMError) {
	src := t.typeOf(t.typeOf(srcTy).Elem)
	dst := t.typeOf(t.typeOf(dstTy).Elem)
	if src.Kind != types.KindArray || (dst.Kind != types.KindSlice && dst.Kind != types.KindStr) {
		return nil, t.eb.unimplemented(fmt.Sprintf("unsizing cast from %s to %s", types.Label(t.types, srcTy), types.Label(t.types, dstTy)))
	}
	return t.fatPointerValue(t.valuePointer(v), uint64(src.Count)), nil
}

func (t *Thread) evalAggregate(f *Frame, elems []mir.Operand, dstTy types.TypeID) (*value.Allocation, *VMError) {
	out, vmErr := t.allocFor(dstTy)
	if vmErr != nil {
		return nil, vmErr
	}
	if dstTy == types.NoTypeID {
		return out, nil
	}
	tt := t.typeOf(dstTy)
	var offsets []int
	switch tt.Kind {
	case types.KindStruct, types.KindTuple, types.KindUnit:
		l, vmErr := t.layoutOf(dstTy)
		if vmErr != nil {
			return nil, vmErr
		}
		offsets = l.FieldOffsets
	case types.KindArray:
		stride, vmErr := t.sizeOf(tt.Elem)
		if vmErr != nil {
			return nil, vmErr
		}
		offsets = make([]int, tt.Count)
		for i := range offsets {
			offsets[i] = i * stride
		}
	default:
		return nil, t.eb.invalidProgram("aggregate of %s", types.Label(t.types, dstTy))
	}
	if len(elems) != len(offsets) {
		return nil, t.eb.invalidProgram("aggregate of %s: %d operands for %d fields",
			types.Label(t.types, dstTy), len(elems), len(offsets))
	}
	for i, op := range elems {
		v, _, vmErr := t.evalOperand(f, op)
		if vmErr != nil {
			return nil, vmErr
		}
		if err := out.WriteValue(offsets[i], v); err != nil {
			return nil, t.eb.memory(fmt.Sprintf("aggregate field %d", i), err)
		}
	}
	return out, nil
}

func (t *Thread) evalRepeat(f *Frame, elem mir.Operand, dstTy types.TypeID) (*value.Allocation, *VMError) {
	tt := t.typeOf(dstTy)
	if tt.Kind != types.KindArray {
		return nil, t.eb.invalidProgram("repeat into %s", types.Label(t.types, dstTy))
	}
	v, _, vmErr := t.evalOperand(f, elem)
	if vmErr != nil {
		return nil, vmErr
	}
	out, vmErr := t.allocFor(dstTy)
	if vmErr != nil {
		return nil, vmErr
	}
	for i := range int(tt.Count) {
		if err := out.WriteValue(i*v.Size(), v); err != nil {
			return nil, t.eb.memory("repeat element", err)
		}
	}
	return out, nil
}
