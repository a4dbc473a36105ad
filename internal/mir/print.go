package mir

import (
	"fmt"
	"io"
	"strings"

	"miri/internal/types"
)

// DumpOptions configures MIR module dumping.
type DumpOptions struct {
	// Filter keeps only functions whose path key contains it.
	Filter string
}

// DumpModule writes a human-readable representation of a MIR module.
func DumpModule(w io.Writer, m *Module, opts DumpOptions) error {
	if w == nil || m == nil {
		return nil
	}

	statics := m.SortedStatics()
	if len(statics) > 0 {
		fmt.Fprintf(w, "statics=%d\n", len(statics))
		for _, s := range statics {
			flags := ""
			if s.Mutable {
				flags = " mut"
			}
			fmt.Fprintf(w, "  %s: %s%s bytes=%d relocs=%d\n",
				s.Path.Label(m.Types), typeStr(m.Types, s.Type), flags, len(s.Init.Bytes), len(s.Init.Relocs))
		}
	}

	funcs := make([]*Func, 0, len(m.Funcs))
	for _, f := range m.SortedFuncs() {
		if opts.Filter == "" || strings.Contains(f.Path.Key(), opts.Filter) {
			funcs = append(funcs, f)
		}
	}
	fmt.Fprintf(w, "funcs=%d\n", len(funcs))
	for _, f := range funcs {
		if err := DumpFunc(w, f, m.Types); err != nil {
			return err
		}
	}
	return nil
}

// DumpFunc writes one function.
func DumpFunc(w io.Writer, f *Func, typesIn *types.Interner) error {
	if w == nil || f == nil {
		return nil
	}
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("A%d: %s", i, typeStr(typesIn, p.Type))
	}
	marker := ""
	if f.IsTest {
		marker = " #[test]"
	}
	fmt.Fprintf(w, "\nfn %s(%s) -> %s%s", f.Path.Label(typesIn), strings.Join(params, ", "), typeStr(typesIn, f.Result), marker)
	if !f.HasBody() {
		fmt.Fprintf(w, " = extern %q %s;\n", f.Linkage.ABI, f.Symbol())
		return nil
	}
	fmt.Fprintf(w, ":\n")

	if len(f.Locals) > 0 {
		fmt.Fprintf(w, "  locals:\n")
	}
	for i := range f.Locals {
		l := f.Locals[i]
		name := l.Name
		if name == "" {
			name = "_"
		}
		fmt.Fprintf(w, "    L%d: %s name=%s\n", i, typeStr(typesIn, l.Type), name)
	}

	for i := range f.Blocks {
		bb := &f.Blocks[i]
		fmt.Fprintf(w, "  bb%d:\n", i)
		for j := range bb.Instrs {
			fmt.Fprintf(w, "    %s\n", FormatInstr(typesIn, &bb.Instrs[j]))
		}
		fmt.Fprintf(w, "    %s\n", FormatTerm(&bb.Term))
	}
	return nil
}

// FormatInstr renders one statement.
func FormatInstr(typesIn *types.Interner, ins *Instr) string {
	if ins == nil {
		return "<instr?>"
	}
	switch ins.Kind {
	case InstrAssign:
		return fmt.Sprintf("%s = %s", FormatPlace(ins.Assign.Dst), formatRValue(typesIn, &ins.Assign.Src))
	case InstrDrop:
		if ins.Drop.Shallow {
			return fmt.Sprintf("drop_shallow %s", FormatPlace(ins.Drop.Place))
		}
		return fmt.Sprintf("drop %s", FormatPlace(ins.Drop.Place))
	case InstrSetDropFlag:
		return fmt.Sprintf("drop_flag %s = %t", FormatPlace(ins.SetDropFlag.Place), ins.SetDropFlag.Value)
	case InstrNop:
		return "nop"
	default:
		return "<instr?>"
	}
}

// FormatTerm renders one terminator.
func FormatTerm(term *Terminator) string {
	if term == nil {
		return "unreachable"
	}
	switch term.Kind {
	case TermNone:
		return "<unterminated>"
	case TermReturn:
		if !term.Return.HasValue {
			return "return"
		}
		return fmt.Sprintf("return %s", formatOperand(&term.Return.Value))
	case TermGoto:
		return fmt.Sprintf("goto bb%d", term.Goto.Target)
	case TermIf:
		return fmt.Sprintf("if %s then bb%d else bb%d", formatOperand(&term.If.Cond), term.If.Then, term.If.Else)
	case TermSwitchInt:
		var sb strings.Builder
		fmt.Fprintf(&sb, "switch_int %s {", formatOperand(&term.SwitchInt.Value))
		for _, c := range term.SwitchInt.Cases {
			fmt.Fprintf(&sb, " %d -> bb%d;", c.Value, c.Target)
		}
		fmt.Fprintf(&sb, " otherwise -> bb%d; }", term.SwitchInt.Default)
		return sb.String()
	case TermCall:
		c := &term.Call
		dst := ""
		if c.HasDst {
			dst = FormatPlace(c.Dst) + " = "
		}
		out := fmt.Sprintf("%scall %s(%s) -> bb%d", dst, formatCallee(&c.Callee), formatOperands(c.Args), c.Target)
		if c.HasCatch {
			out += fmt.Sprintf(" catch(%s) -> bb%d", FormatPlace(c.PayloadDst), c.Catch)
		}
		return out
	case TermDiverge:
		if term.Diverge.HasPayload {
			return fmt.Sprintf("diverge %s", formatOperand(&term.Diverge.Payload))
		}
		return "diverge"
	case TermAssert:
		return fmt.Sprintf("assert(%s == %t, %q) -> bb%d",
			formatOperand(&term.Assert.Cond), term.Assert.Expected, term.Assert.Msg, term.Assert.Target)
	case TermUnreachable:
		return "unreachable"
	default:
		return "<term?>"
	}
}

// FormatPlace renders a place such as "(*A0).#1[L2]".
func FormatPlace(p Place) string {
	var out string
	switch p.Kind {
	case PlaceReturn:
		out = "RET"
	case PlaceArg:
		out = fmt.Sprintf("A%d", p.Local)
	case PlaceStatic:
		out = "static " + p.Static.Key()
	default:
		out = fmt.Sprintf("L%d", p.Local)
	}
	for _, proj := range p.Proj {
		switch proj.Kind {
		case PlaceProjDeref:
			out = fmt.Sprintf("(*%s)", out)
		case PlaceProjField:
			out += fmt.Sprintf(".#%d", proj.FieldIdx)
		case PlaceProjIndex:
			out += fmt.Sprintf("[L%d]", proj.IndexLocal)
		case PlaceProjConstIndex:
			if proj.FromEnd {
				out += fmt.Sprintf("[-%d]", proj.Offset)
			} else {
				out += fmt.Sprintf("[%d]", proj.Offset)
			}
		default:
			out += ".<?>"
		}
	}
	return out
}

func formatOperands(ops []Operand) string {
	parts := make([]string, len(ops))
	for i := range ops {
		parts[i] = formatOperand(&ops[i])
	}
	return strings.Join(parts, ", ")
}

func formatOperand(op *Operand) string {
	if op == nil {
		return "<op?>"
	}
	switch op.Kind {
	case OperandConst:
		return formatConst(&op.Const)
	case OperandCopy:
		return fmt.Sprintf("copy %s", FormatPlace(op.Place))
	case OperandMove:
		return fmt.Sprintf("move %s", FormatPlace(op.Place))
	default:
		return "<op?>"
	}
}

func formatConst(c *Const) string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("const %d", c.IntValue)
	case ConstUint:
		return fmt.Sprintf("const %du", c.UintValue)
	case ConstFloat:
		return fmt.Sprintf("const %g", c.FloatValue)
	case ConstBool:
		return fmt.Sprintf("const %t", c.BoolValue)
	case ConstUnit:
		return "const ()"
	case ConstBytes:
		return fmt.Sprintf("const b%q", c.Bytes)
	case ConstStr:
		return fmt.Sprintf("const %q", c.Str)
	case ConstFn:
		return fmt.Sprintf("const fn %s", c.Path.Key())
	case ConstStaticRef:
		return fmt.Sprintf("const &%s", c.Path.Key())
	default:
		return "const ?"
	}
}

func formatCallee(c *Callee) string {
	switch c.Kind {
	case CalleePath:
		return c.Path.Key()
	case CalleeValue:
		return "(" + formatOperand(&c.Value) + ")"
	default:
		return "<callee?>"
	}
}

func formatRValue(typesIn *types.Interner, rv *RValue) string {
	if rv == nil {
		return "<rvalue?>"
	}
	switch rv.Kind {
	case RValueUse:
		return formatOperand(&rv.Use)
	case RValueRef:
		if rv.Ref.Mutable {
			return "&mut " + FormatPlace(rv.Ref.Place)
		}
		return "&" + FormatPlace(rv.Ref.Place)
	case RValueAddrOf:
		if rv.Ref.Mutable {
			return "&raw mut " + FormatPlace(rv.Ref.Place)
		}
		return "&raw const " + FormatPlace(rv.Ref.Place)
	case RValueBinaryOp:
		return fmt.Sprintf("(%s %v %s)", formatOperand(&rv.Binary.Left), rv.Binary.Op, formatOperand(&rv.Binary.Right))
	case RValueCheckedBinaryOp:
		return fmt.Sprintf("checked(%s %v %s)", formatOperand(&rv.Binary.Left), rv.Binary.Op, formatOperand(&rv.Binary.Right))
	case RValueUnaryOp:
		op := "-"
		if rv.Unary.Op == UnNot {
			op = "!"
		}
		return fmt.Sprintf("(%s%s)", op, formatOperand(&rv.Unary.Operand))
	case RValueCast:
		return fmt.Sprintf("cast %s to %s", formatOperand(&rv.Cast.Value), typeStr(typesIn, rv.Cast.TargetTy))
	case RValueAggregate:
		return "aggregate {" + formatOperands(rv.Aggregate.Elems) + "}"
	case RValueRepeat:
		return "repeat [" + formatOperand(&rv.Repeat.Elem) + "]"
	case RValueMakeFat:
		return fmt.Sprintf("make_fat(%s, %s)", formatOperand(&rv.MakeFat.Ptr), formatOperand(&rv.MakeFat.Meta))
	case RValueFatMeta:
		return fmt.Sprintf("fat_meta(%s)", formatOperand(&rv.MakeFat.Ptr))
	case RValueFatPtr:
		return fmt.Sprintf("fat_ptr(%s)", formatOperand(&rv.MakeFat.Ptr))
	default:
		return "<rvalue?>"
	}
}

func typeStr(typesIn *types.Interner, id types.TypeID) string {
	if id == types.NoTypeID {
		return "()"
	}
	if typesIn == nil {
		return fmt.Sprintf("type#%d", id)
	}
	return types.Label(typesIn, id)
}
