package erased

import (
	"errors"
	"fmt"

	"miri/internal/mir"
	"miri/internal/types"
)

// template names one erased-type template of an origin function. Expanding
// a template re-enters only through its own structure, so revisiting one
// that is still in progress never terminates, whatever its generic args.
type template struct {
	origin *mir.Func
	index  int
}

type expander struct {
	m     *mir.Module
	types *types.Interner

	done     map[types.TypeID]types.TypeID
	visiting map[template]bool
	chain    []string
	structs  map[types.TypeID]bool
}

// Expand rewrites every erased type reachable from the module's signatures,
// locals, constants, casts, callee paths and statics. Functions whose own
// path mentions an erased type are re-keyed.
func Expand(m *mir.Module) error {
	if m == nil {
		return nil
	}
	x := &expander{
		m:        m,
		types:    m.Types,
		done:     make(map[types.TypeID]types.TypeID),
		visiting: make(map[template]bool),
		structs:  make(map[types.TypeID]bool),
	}
	var errs []error
	for _, f := range m.SortedFuncs() {
		if err := x.expandFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function %s: %w", f.Path.Key(), err))
		}
	}
	for _, s := range m.SortedStatics() {
		ty, err := x.resolve(s.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("static %s: %w", s.Path.Key(), err))
			continue
		}
		s.Type = ty
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	funcs := make(map[string]*mir.Func, len(m.Funcs))
	for _, f := range m.Funcs {
		funcs[f.Path.Key()] = f
	}
	m.Funcs = funcs
	return nil
}

// Resolve expands a single type against m.
func Resolve(m *mir.Module, id types.TypeID) (types.TypeID, error) {
	x := &expander{
		m:        m,
		types:    m.Types,
		done:     make(map[types.TypeID]types.TypeID),
		visiting: make(map[template]bool),
		structs:  make(map[types.TypeID]bool),
	}
	return x.resolve(id)
}

func (x *expander) expandFunc(f *mir.Func) error {
	var errs []error
	fix := func(id *types.TypeID) {
		ty, err := x.resolve(*id)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*id = ty
	}
	fixPath := func(p *mir.Path) {
		for i := range p.Args {
			fix(&p.Args[i])
		}
	}
	fixOperand := func(op *mir.Operand) {
		if op.Kind != mir.OperandConst {
			return
		}
		fix(&op.Const.Type)
		if op.Const.Kind == mir.ConstFn || op.Const.Kind == mir.ConstStaticRef {
			fixPath(&op.Const.Path)
		}
	}

	fixPath(&f.Path)
	for i := range f.Params {
		fix(&f.Params[i].Type)
	}
	fix(&f.Result)
	for i := range f.Locals {
		fix(&f.Locals[i].Type)
	}
	for bi := range f.Blocks {
		bb := &f.Blocks[bi]
		for ii := range bb.Instrs {
			ins := &bb.Instrs[ii]
			if ins.Kind != mir.InstrAssign {
				continue
			}
			rv := &ins.Assign.Src
			switch rv.Kind {
			case mir.RValueUse:
				fixOperand(&rv.Use)
			case mir.RValueBinaryOp, mir.RValueCheckedBinaryOp:
				fixOperand(&rv.Binary.Left)
				fixOperand(&rv.Binary.Right)
			case mir.RValueUnaryOp:
				fixOperand(&rv.Unary.Operand)
			case mir.RValueCast:
				fixOperand(&rv.Cast.Value)
				fix(&rv.Cast.TargetTy)
			case mir.RValueAggregate:
				for i := range rv.Aggregate.Elems {
					fixOperand(&rv.Aggregate.Elems[i])
				}
			case mir.RValueRepeat:
				fixOperand(&rv.Repeat.Elem)
			case mir.RValueMakeFat, mir.RValueFatMeta, mir.RValueFatPtr:
				fixOperand(&rv.MakeFat.Ptr)
				fixOperand(&rv.MakeFat.Meta)
			}
		}
		term := &bb.Term
		switch term.Kind {
		case mir.TermReturn:
			fixOperand(&term.Return.Value)
		case mir.TermCall:
			if term.Call.Callee.Kind == mir.CalleePath {
				fixPath(&term.Call.Callee.Path)
			} else {
				fixOperand(&term.Call.Callee.Value)
			}
			for i := range term.Call.Args {
				fixOperand(&term.Call.Args[i])
			}
		case mir.TermDiverge:
			fixOperand(&term.Diverge.Payload)
		}
	}
	return errors.Join(errs...)
}

func (x *expander) resolve(id types.TypeID) (types.TypeID, error) {
	if id == types.NoTypeID {
		return id, nil
	}
	if out, ok := x.done[id]; ok {
		return out, nil
	}
	if !x.types.ContainsKind(id, types.KindErased) {
		return id, nil
	}
	out, err := x.resolveUncached(id)
	if err != nil {
		return types.NoTypeID, err
	}
	x.done[id] = out
	return out, nil
}

func (x *expander) resolveUncached(id types.TypeID) (types.TypeID, error) {
	tt := x.types.MustLookup(id)
	switch tt.Kind {
	case types.KindErased:
		return x.expandErased(id)
	case types.KindArray, types.KindSlice, types.KindPointer, types.KindBorrow, types.KindBox:
		elem, err := x.resolve(tt.Elem)
		if err != nil {
			return types.NoTypeID, err
		}
		tt.Elem = elem
		return x.types.Intern(tt), nil
	case types.KindTuple:
		info, _ := x.types.TupleInfo(id)
		elems, err := x.resolveList(info.Elems)
		if err != nil {
			return types.NoTypeID, err
		}
		return x.types.RegisterTuple(elems), nil
	case types.KindFnPtr:
		info, _ := x.types.FnInfo(id)
		params, err := x.resolveList(info.Params)
		if err != nil {
			return types.NoTypeID, err
		}
		result, err := x.resolve(info.Result)
		if err != nil {
			return types.NoTypeID, err
		}
		return x.types.RegisterFn(params, result), nil
	case types.KindStruct:
		// Structs are nominal: rewrite the field list in place, once.
		if x.structs[id] {
			return id, nil
		}
		x.structs[id] = true
		info, _ := x.types.StructInfo(id)
		fields := make([]types.StructField, len(info.Fields))
		for i, f := range info.Fields {
			ty, err := x.resolve(f.Type)
			if err != nil {
				return types.NoTypeID, err
			}
			fields[i] = types.StructField{Name: f.Name, Type: ty}
		}
		x.types.SetStructFields(id, fields)
		return id, nil
	default:
		return id, nil
	}
}

func (x *expander) resolveList(ids []types.TypeID) ([]types.TypeID, error) {
	out := make([]types.TypeID, len(ids))
	for i, id := range ids {
		ty, err := x.resolve(id)
		if err != nil {
			return nil, err
		}
		out[i] = ty
	}
	return out, nil
}

func (x *expander) expandErased(id types.TypeID) (types.TypeID, error) {
	info, _ := x.types.ErasedInfo(id)
	originPath := mir.Path{Name: info.OriginName, Args: info.OriginArgs}
	label := fmt.Sprintf("%s#%d", originPath.Label(x.types), info.Index)

	origin := x.m.Function(originPath)
	if origin == nil {
		origin = x.m.Function(mir.Path{Name: info.OriginName})
	}
	if origin == nil {
		return types.NoTypeID, &Error{Kind: ErrUnresolvedOrigin, Origin: originPath.Key(), Index: info.Index}
	}
	if info.Index < 0 || info.Index >= len(origin.ErasedTypes) {
		return types.NoTypeID, &Error{
			Kind:   ErrIndexOutOfRange,
			Origin: originPath.Key(),
			Index:  info.Index,
			Len:    len(origin.ErasedTypes),
		}
	}

	key := template{origin: origin, index: info.Index}
	if x.visiting[key] {
		chain := append(append([]string(nil), x.chain...), label)
		return types.NoTypeID, &Error{Kind: ErrCycle, Origin: originPath.Key(), Index: info.Index, Chain: chain}
	}
	x.visiting[key] = true
	x.chain = append(x.chain, label)
	defer func() {
		delete(x.visiting, key)
		x.chain = x.chain[:len(x.chain)-1]
	}()

	mono, err := x.substitute(origin.ErasedTypes[info.Index], info.OriginArgs, originPath.Key())
	if err != nil {
		return types.NoTypeID, err
	}
	// Templates may hold further erased types; expand them while the
	// template is still marked as visiting.
	if !x.types.ContainsKind(mono, types.KindErased) {
		return mono, nil
	}
	return x.resolveUncached(mono)
}

// substitute replaces generic parameters in id with args.
func (x *expander) substitute(id types.TypeID, args []types.TypeID, origin string) (types.TypeID, error) {
	if id == types.NoTypeID || !x.types.ContainsKind(id, types.KindGenericParam) {
		return id, nil
	}
	tt := x.types.MustLookup(id)
	switch tt.Kind {
	case types.KindGenericParam:
		if int(tt.Count) >= len(args) {
			return types.NoTypeID, &Error{Kind: ErrGenericOutOfRange, Origin: origin, Index: int(tt.Count), Len: len(args)}
		}
		return args[tt.Count], nil
	case types.KindArray, types.KindSlice, types.KindPointer, types.KindBorrow, types.KindBox:
		elem, err := x.substitute(tt.Elem, args, origin)
		if err != nil {
			return types.NoTypeID, err
		}
		tt.Elem = elem
		return x.types.Intern(tt), nil
	case types.KindTuple:
		info, _ := x.types.TupleInfo(id)
		elems := make([]types.TypeID, len(info.Elems))
		for i, e := range info.Elems {
			ty, err := x.substitute(e, args, origin)
			if err != nil {
				return types.NoTypeID, err
			}
			elems[i] = ty
		}
		return x.types.RegisterTuple(elems), nil
	case types.KindFnPtr:
		info, _ := x.types.FnInfo(id)
		params := make([]types.TypeID, len(info.Params))
		for i, p := range info.Params {
			ty, err := x.substitute(p, args, origin)
			if err != nil {
				return types.NoTypeID, err
			}
			params[i] = ty
		}
		result, err := x.substitute(info.Result, args, origin)
		if err != nil {
			return types.NoTypeID, err
		}
		return x.types.RegisterFn(params, result), nil
	case types.KindErased:
		info, _ := x.types.ErasedInfo(id)
		originArgs := make([]types.TypeID, len(info.OriginArgs))
		for i, a := range info.OriginArgs {
			ty, err := x.substitute(a, args, origin)
			if err != nil {
				return types.NoTypeID, err
			}
			originArgs[i] = ty
		}
		return x.types.RegisterErased(info.OriginName, originArgs, info.Index), nil
	default:
		return id, nil
	}
}
