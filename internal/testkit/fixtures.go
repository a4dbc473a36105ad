// Package testkit builds literal MIR fixtures and checks interpreter
// invariants for tests.
package testkit

import (
	"strconv"

	"miri/internal/layout"
	"miri/internal/mir"
	"miri/internal/types"
)

// NewModule returns an empty x86_64 module and its builtin types.
func NewModule() (*mir.Module, types.Builtins) {
	m := mir.NewModule(layout.X86_64LinuxGNU(), types.NewInterner())
	return m, m.Types.Builtins()
}

// Func registers a function with a body. Block IDs are assigned by position.
func Func(m *mir.Module, path mir.Path, params []types.TypeID, result types.TypeID, locals []types.TypeID, blocks ...mir.Block) *mir.Func {
	f := &mir.Func{
		Path:   path,
		Params: slots(params, "arg"),
		Result: result,
		Locals: slots(locals, "_"),
		Blocks: blocks,
	}
	for i := range f.Blocks {
		f.Blocks[i].ID = mir.BlockID(i) //nolint:gosec // fixtures are small
	}
	return m.AddFunc(f)
}

// Extern registers a bodiless C function dispatched to the native table.
func Extern(m *mir.Module, symbol string, params []types.TypeID, result types.TypeID) *mir.Func {
	return m.AddFunc(&mir.Func{
		Path:    mir.P(symbol),
		Params:  slots(params, "arg"),
		Result:  result,
		Linkage: mir.Linkage{Symbol: symbol, ABI: mir.ABIC},
	})
}

// Intrinsic registers a compiler intrinsic instantiated with typeArgs.
func Intrinsic(m *mir.Module, name string, typeArgs []types.TypeID, params []types.TypeID, result types.TypeID) *mir.Func {
	return m.AddFunc(&mir.Func{
		Path:    mir.P(name, typeArgs...),
		Params:  slots(params, "arg"),
		Result:  result,
		Linkage: mir.Linkage{Symbol: "core::intrinsics::" + name, ABI: mir.ABIIntrinsic},
	})
}

func slots(tys []types.TypeID, prefix string) []mir.Local {
	out := make([]mir.Local, len(tys))
	for i, ty := range tys {
		out[i] = mir.Local{Type: ty, Name: prefix + strconv.Itoa(i)}
	}
	return out
}

// Block builds a basic block.
func Block(term mir.Terminator, instrs ...mir.Instr) mir.Block {
	return mir.Block{Instrs: instrs, Term: term}
}

// Return leaves the function with whatever the return slot holds.
func Return() mir.Terminator {
	return mir.Terminator{Kind: mir.TermReturn}
}

// ReturnValue stores op into the return slot and leaves.
func ReturnValue(op mir.Operand) mir.Terminator {
	return mir.Terminator{Kind: mir.TermReturn, Return: mir.ReturnTerm{HasValue: true, Value: op}}
}

// Goto jumps to target.
func Goto(target mir.BlockID) mir.Terminator {
	return mir.Terminator{Kind: mir.TermGoto, Goto: mir.GotoTerm{Target: target}}
}

// If branches on a bool operand.
func If(cond mir.Operand, then, els mir.BlockID) mir.Terminator {
	return mir.Terminator{Kind: mir.TermIf, If: mir.IfTerm{Cond: cond, Then: then, Else: els}}
}

// Call calls callee and stores the result in dst.
func Call(dst mir.Place, callee mir.Path, target mir.BlockID, args ...mir.Operand) mir.Terminator {
	return mir.Terminator{Kind: mir.TermCall, Call: mir.CallTerm{
		HasDst: true,
		Dst:    dst,
		Callee: mir.Callee{Kind: mir.CalleePath, Path: callee},
		Args:   args,
		Target: target,
	}}
}

// CallVoid calls callee and ignores the result.
func CallVoid(callee mir.Path, target mir.BlockID, args ...mir.Operand) mir.Terminator {
	term := Call(mir.Place{}, callee, target, args...)
	term.Call.HasDst = false
	return term
}

// Catch turns a call into a panic boundary resuming at block with the payload
// stored in payload.
func Catch(term mir.Terminator, block mir.BlockID, payload mir.Place) mir.Terminator {
	term.Call.HasCatch = true
	term.Call.Catch = block
	term.Call.PayloadDst = payload
	return term
}

// Panic raises a panic carrying a &str payload.
func Panic(strTy types.TypeID, msg string) mir.Terminator {
	return mir.Terminator{Kind: mir.TermDiverge, Diverge: mir.DivergeTerm{
		HasPayload: true,
		Payload:    mir.ConstOperand(mir.Const{Kind: mir.ConstStr, Type: strTy, Str: msg}),
	}}
}

// Unreachable is the unreachable terminator.
func Unreachable() mir.Terminator {
	return mir.Terminator{Kind: mir.TermUnreachable}
}

// Drop drops the value at p.
func Drop(p mir.Place) mir.Instr {
	return mir.Instr{Kind: mir.InstrDrop, Drop: mir.DropInstr{Place: p}}
}

// Aggregate assigns a struct, tuple or array built from elems to dst.
func Aggregate(dst mir.Place, elems ...mir.Operand) mir.Instr {
	return mir.Assign(dst, mir.RValue{Kind: mir.RValueAggregate, Aggregate: mir.Aggregate{Elems: elems}})
}

// Cast assigns op converted to ty.
func Cast(dst mir.Place, op mir.Operand, ty types.TypeID) mir.Instr {
	return mir.Assign(dst, mir.RValue{Kind: mir.RValueCast, Cast: mir.CastOp{Value: op, TargetTy: ty}})
}

// AddrOf assigns a raw pointer to p.
func AddrOf(dst, p mir.Place) mir.Instr {
	return mir.Assign(dst, mir.RValue{Kind: mir.RValueAddrOf, Ref: mir.RefOp{Place: p, Mutable: true}})
}

// Binary assigns l op r; checked operations produce (T, bool).
func Binary(dst mir.Place, op mir.BinOp, l, r mir.Operand, checked bool) mir.Instr {
	kind := mir.RValueBinaryOp
	if checked {
		kind = mir.RValueCheckedBinaryOp
	}
	return mir.Assign(dst, mir.RValue{Kind: kind, Binary: mir.BinaryOp{Op: op, Left: l, Right: r}})
}

// Str is a &str constant operand.
func Str(strTy types.TypeID, s string) mir.Operand {
	return mir.ConstOperand(mir.Const{Kind: mir.ConstStr, Type: strTy, Str: s})
}
