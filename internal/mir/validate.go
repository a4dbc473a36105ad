package mir

import (
	"errors"
	"fmt"

	"miri/internal/types"
)

// Validate checks module invariants the interpreter relies on.
// Returns error if any invariant is violated.
func Validate(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, f := range m.SortedFuncs() {
		if f == nil {
			continue
		}
		if err := validateFunc(m, f); err != nil {
			errs = append(errs, fmt.Errorf("function %s: %w", f.Path.Label(m.Types), err))
		}
	}
	for _, s := range m.SortedStatics() {
		if err := validateType(m.Types, s.Type, "type"); err != nil {
			errs = append(errs, fmt.Errorf("static %s: %w", s.Path.Key(), err))
		}
	}
	return errors.Join(errs...)
}

func validateFunc(m *Module, f *Func) error {
	var errs []error

	if !f.HasBody() {
		if f.Linkage.ABI == "" {
			errs = append(errs, errors.New("no body and no linkage ABI"))
		}
		if err := validateSignature(m.Types, f); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	// 1. Check all blocks terminated
	if err := validateBlocksTerminated(f); err != nil {
		errs = append(errs, err)
	}

	// 2. Check block targets exist
	if err := validateBlockTargets(f); err != nil {
		errs = append(errs, err)
	}

	// 3. Check slots, statics and callees referenced by the body
	if err := validateRefs(m, f); err != nil {
		errs = append(errs, err)
	}

	// 4. No erased or generic types survive
	if err := validateSignature(m.Types, f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateBlocksTerminated checks that every block ends with a terminator.
func validateBlocksTerminated(f *Func) error {
	var errs []error
	for i := range f.Blocks {
		if !f.Blocks[i].Terminated() {
			errs = append(errs, fmt.Errorf("bb%d: unterminated block", i))
		}
	}
	return errors.Join(errs...)
}

// validateBlockTargets checks that all block target IDs exist.
func validateBlockTargets(f *Func) error {
	var errs []error

	blockExists := func(id BlockID) bool {
		return id >= 0 && int(id) < len(f.Blocks)
	}

	for i := range f.Blocks {
		bb := &f.Blocks[i]
		switch bb.Term.Kind {
		case TermGoto:
			if !blockExists(bb.Term.Goto.Target) {
				errs = append(errs, fmt.Errorf("bb%d: goto target bb%d does not exist", i, bb.Term.Goto.Target))
			}
		case TermIf:
			if !blockExists(bb.Term.If.Then) {
				errs = append(errs, fmt.Errorf("bb%d: if then target bb%d does not exist", i, bb.Term.If.Then))
			}
			if !blockExists(bb.Term.If.Else) {
				errs = append(errs, fmt.Errorf("bb%d: if else target bb%d does not exist", i, bb.Term.If.Else))
			}
		case TermSwitchInt:
			seen := make(map[uint64]bool)
			for j, c := range bb.Term.SwitchInt.Cases {
				if seen[c.Value] {
					errs = append(errs, fmt.Errorf("bb%d: switch_int has duplicate case for %d", i, c.Value))
				}
				seen[c.Value] = true
				if !blockExists(c.Target) {
					errs = append(errs, fmt.Errorf("bb%d: switch_int case %d target bb%d does not exist", i, j, c.Target))
				}
			}
			if !blockExists(bb.Term.SwitchInt.Default) {
				errs = append(errs, fmt.Errorf("bb%d: switch_int default target bb%d does not exist",
					i, bb.Term.SwitchInt.Default))
			}
		case TermCall:
			if bb.Term.Call.Target != NoBlockID && !blockExists(bb.Term.Call.Target) {
				errs = append(errs, fmt.Errorf("bb%d: call target bb%d does not exist", i, bb.Term.Call.Target))
			}
			if bb.Term.Call.HasCatch && !blockExists(bb.Term.Call.Catch) {
				errs = append(errs, fmt.Errorf("bb%d: call catch target bb%d does not exist", i, bb.Term.Call.Catch))
			}
		case TermAssert:
			if !blockExists(bb.Term.Assert.Target) {
				errs = append(errs, fmt.Errorf("bb%d: assert target bb%d does not exist", i, bb.Term.Assert.Target))
			}
		}
	}
	return errors.Join(errs...)
}

// validateRefs checks that every slot, static and direct callee referenced
// by the body exists, and that direct calls and returns agree with the
// signatures they target.
func validateRefs(m *Module, f *Func) error {
	var errs []error

	// placeType is the type of an unprojected place, or NoTypeID.
	placeType := func(p Place) types.TypeID {
		if len(p.Proj) != 0 {
			return types.NoTypeID
		}
		switch p.Kind {
		case PlaceLocal:
			if p.Local >= 0 && int(p.Local) < len(f.Locals) {
				return f.Locals[p.Local].Type
			}
		case PlaceArg:
			if p.Local >= 0 && int(p.Local) < len(f.Params) {
				return f.Params[p.Local].Type
			}
		case PlaceReturn:
			return f.Result
		case PlaceStatic:
			if s := m.Static(p.Static); s != nil {
				return s.Type
			}
		}
		return types.NoTypeID
	}
	operandType := func(op *Operand) types.TypeID {
		if op.Kind == OperandConst {
			return op.Const.Type
		}
		return placeType(op.Place)
	}
	checkSameType := func(context, what string, want, got types.TypeID) {
		if want == types.NoTypeID || got == types.NoTypeID || want == got {
			return
		}
		errs = append(errs, fmt.Errorf("%s: %s has type %s, expected %s",
			context, what, types.Label(m.Types, got), types.Label(m.Types, want)))
	}

	checkPlace := func(p Place, context string) {
		switch p.Kind {
		case PlaceLocal:
			if p.Local < 0 || int(p.Local) >= len(f.Locals) {
				errs = append(errs, fmt.Errorf("%s: local L%d does not exist", context, p.Local))
			}
		case PlaceArg:
			if p.Local < 0 || int(p.Local) >= len(f.Params) {
				errs = append(errs, fmt.Errorf("%s: argument A%d does not exist", context, p.Local))
			}
		case PlaceStatic:
			if m.Static(p.Static) == nil {
				errs = append(errs, fmt.Errorf("%s: static %s does not exist", context, p.Static.Key()))
			}
		}
		for _, proj := range p.Proj {
			if proj.Kind == PlaceProjIndex && (proj.IndexLocal < 0 || int(proj.IndexLocal) >= len(f.Locals)) {
				errs = append(errs, fmt.Errorf("%s: index local L%d does not exist", context, proj.IndexLocal))
			}
		}
	}

	checkOperand := func(op *Operand, context string) {
		switch op.Kind {
		case OperandCopy, OperandMove:
			checkPlace(op.Place, context)
		case OperandConst:
			switch op.Const.Kind {
			case ConstFn:
				if m.Function(op.Const.Path) == nil {
					errs = append(errs, fmt.Errorf("%s: function %s does not exist", context, op.Const.Path.Key()))
				}
			case ConstStaticRef:
				if m.Static(op.Const.Path) == nil {
					errs = append(errs, fmt.Errorf("%s: static %s does not exist", context, op.Const.Path.Key()))
				}
			}
			if err := validateType(m.Types, op.Const.Type, "constant type"); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", context, err))
			}
		}
	}

	checkRValue := func(rv *RValue, context string) {
		switch rv.Kind {
		case RValueUse:
			checkOperand(&rv.Use, context)
		case RValueRef, RValueAddrOf:
			checkPlace(rv.Ref.Place, context)
		case RValueBinaryOp, RValueCheckedBinaryOp:
			checkOperand(&rv.Binary.Left, context)
			checkOperand(&rv.Binary.Right, context)
		case RValueUnaryOp:
			checkOperand(&rv.Unary.Operand, context)
		case RValueCast:
			checkOperand(&rv.Cast.Value, context)
			if err := validateType(m.Types, rv.Cast.TargetTy, "cast target"); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", context, err))
			}
		case RValueAggregate:
			for i := range rv.Aggregate.Elems {
				checkOperand(&rv.Aggregate.Elems[i], context)
			}
		case RValueRepeat:
			checkOperand(&rv.Repeat.Elem, context)
		case RValueMakeFat:
			checkOperand(&rv.MakeFat.Ptr, context)
			checkOperand(&rv.MakeFat.Meta, context)
		case RValueFatMeta, RValueFatPtr:
			checkOperand(&rv.MakeFat.Ptr, context)
		}
	}

	for bi := range f.Blocks {
		bb := &f.Blocks[bi]
		for ii := range bb.Instrs {
			ins := &bb.Instrs[ii]
			ctx := fmt.Sprintf("bb%d.%d", bi, ii)
			switch ins.Kind {
			case InstrAssign:
				checkPlace(ins.Assign.Dst, ctx)
				checkRValue(&ins.Assign.Src, ctx)
			case InstrDrop:
				checkPlace(ins.Drop.Place, ctx)
			case InstrSetDropFlag:
				if !ins.SetDropFlag.Place.IsWholeSlot() {
					errs = append(errs, fmt.Errorf("%s: drop flag place must be a whole local or argument", ctx))
				}
				checkPlace(ins.SetDropFlag.Place, ctx)
			}
		}
		ctx := fmt.Sprintf("bb%d.term", bi)
		term := &bb.Term
		switch term.Kind {
		case TermReturn:
			if term.Return.HasValue {
				checkOperand(&term.Return.Value, ctx)
				checkSameType(ctx, "return value", f.Result, operandType(&term.Return.Value))
			}
		case TermIf:
			checkOperand(&term.If.Cond, ctx)
		case TermSwitchInt:
			checkOperand(&term.SwitchInt.Value, ctx)
		case TermAssert:
			checkOperand(&term.Assert.Cond, ctx)
		case TermDiverge:
			if term.Diverge.HasPayload {
				checkOperand(&term.Diverge.Payload, ctx)
			}
		case TermCall:
			call := &term.Call
			if call.HasDst {
				checkPlace(call.Dst, ctx)
			}
			if call.HasCatch {
				checkPlace(call.PayloadDst, ctx)
			}
			for i := range call.Args {
				checkOperand(&call.Args[i], ctx)
			}
			switch call.Callee.Kind {
			case CalleePath:
				callee := m.Function(call.Callee.Path)
				if callee == nil {
					errs = append(errs, fmt.Errorf("%s: callee %s does not exist", ctx, call.Callee.Path.Key()))
					break
				}
				if len(callee.Params) != len(call.Args) {
					errs = append(errs, fmt.Errorf("%s: callee %s expects %d arguments, got %d",
						ctx, call.Callee.Path.Key(), len(callee.Params), len(call.Args)))
					break
				}
				for i, p := range callee.Params {
					checkSameType(ctx, fmt.Sprintf("argument %d of %s", i, call.Callee.Path.Key()),
						p.Type, operandType(&call.Args[i]))
				}
				if call.HasDst {
					checkSameType(ctx, "call destination", placeType(call.Dst), callee.Result)
				}
			case CalleeValue:
				checkOperand(&call.Callee.Value, ctx)
			}
		}
	}
	return errors.Join(errs...)
}

// validateSignature checks that no erased or generic type survives in the
// parameters, result or locals.
func validateSignature(typesIn *types.Interner, f *Func) error {
	var errs []error
	for i, p := range f.Params {
		if err := validateType(typesIn, p.Type, fmt.Sprintf("argument A%d", i)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateType(typesIn, f.Result, "result"); err != nil {
		errs = append(errs, err)
	}
	for i, l := range f.Locals {
		if err := validateType(typesIn, l.Type, fmt.Sprintf("local L%d", i)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateType(typesIn *types.Interner, id types.TypeID, what string) error {
	if id == types.NoTypeID || typesIn == nil {
		return nil
	}
	if _, ok := typesIn.Lookup(id); !ok {
		return fmt.Errorf("%s: unknown type#%d", what, id)
	}
	if typesIn.ContainsKind(id, types.KindErased) {
		return fmt.Errorf("%s: erased type survives in %s", what, types.Label(typesIn, id))
	}
	if typesIn.ContainsKind(id, types.KindGenericParam) {
		return fmt.Errorf("%s: generic parameter survives in %s", what, types.Label(typesIn, id))
	}
	return nil
}
