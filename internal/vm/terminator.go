package vm

import (
	"fmt"

	"miri/internal/mir"
	"miri/internal/value"
)

// execTerminator executes a block terminator.
func (t *Thread) execTerminator(f *Frame, term *mir.Terminator) *VMError {
	switch term.Kind {
	case mir.TermGoto:
		f.jump(term.Goto.Target)
		return nil

	case mir.TermIf:
		cond, _, vmErr := t.evalOperand(f, term.If.Cond)
		if vmErr != nil {
			return vmErr
		}
		if t.valueUint(cond) != 0 {
			f.jump(term.If.Then)
		} else {
			f.jump(term.If.Else)
		}
		return nil

	case mir.TermSwitchInt:
		v, _, vmErr := t.evalOperand(f, term.SwitchInt.Value)
		if vmErr != nil {
			return vmErr
		}
		u := t.valueUint(v)
		for _, c := range term.SwitchInt.Cases {
			if c.Value == u {
				f.jump(c.Target)
				return nil
			}
		}
		f.jump(term.SwitchInt.Default)
		return nil

	case mir.TermReturn:
		return t.execReturn(f, &term.Return)

	case mir.TermCall:
		return t.execCall(f, &term.Call)

	case mir.TermDiverge:
		payload := unitValue()
		if term.Diverge.HasPayload {
			v, _, vmErr := t.evalOperand(f, term.Diverge.Payload)
			if vmErr != nil {
				return vmErr
			}
			payload = v
		}
		t.panicIn(f, payload)
		return nil

	case mir.TermAssert:
		cond, _, vmErr := t.evalOperand(f, term.Assert.Cond)
		if vmErr != nil {
			return vmErr
		}
		if (t.valueUint(cond) != 0) == term.Assert.Expected {
			f.jump(term.Assert.Target)
			return nil
		}
		t.panicIn(f, t.StrValue(term.Assert.Msg))
		return nil

	case mir.TermUnreachable:
		return t.eb.makeError(PanicUnreachable, "entered unreachable code")

	case mir.TermNone:
		return t.eb.invalidProgram("block bb%d has no terminator", f.BB)
	}
	return t.eb.unimplemented(fmt.Sprintf("terminator kind %d", term.Kind))
}

// execReturn stores the optional return operand and starts dropping the
// frame's live slots.
func (t *Thread) execReturn(f *Frame, ret *mir.ReturnTerm) *VMError {
	if ret.HasValue {
		v, ty, vmErr := t.evalOperand(f, ret.Value)
		if vmErr != nil {
			return vmErr
		}
		if vmErr := t.checkType("return value of "+t.funcLabel(f.Func), f.RetTy, ty); vmErr != nil {
			return vmErr
		}
		if v.Size() != f.Ret.Size() {
			return t.eb.typeMismatch("return value of "+t.funcLabel(f.Func), f.Ret.Size(), v.Size())
		}
		if err := f.Ret.WriteValue(0, v); err != nil {
			return t.eb.memory("return value", err)
		}
	}
	f.Mode = ModeDropping
	t.queueSlotDrops(f)
	return nil
}

// panicIn raises payload and starts unwinding f, unless the raise aborted
// the thread.
func (t *Thread) panicIn(f *Frame, payload *value.Allocation) {
	if !t.raise(payload) {
		return
	}
	t.panicPending = false
	t.beginUnwind(f)
}
