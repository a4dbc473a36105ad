package vm

import (
	"miri/internal/mir"
)

// execInstr executes one statement. The caller advances the IP.
func (t *Thread) execInstr(f *Frame, instr *mir.Instr) *VMError {
	switch instr.Kind {
	case mir.InstrNop:
		return nil

	case mir.InstrAssign:
		pr, vmErr := t.evalPlace(f, instr.Assign.Dst)
		if vmErr != nil {
			return vmErr
		}
		v, vmErr := t.evalRValue(f, &instr.Assign.Src, pr.ty)
		if vmErr != nil {
			return vmErr
		}
		if vmErr := t.writePlace(pr, v); vmErr != nil {
			return vmErr
		}
		if pr.slot != nil {
			pr.slot.Live = true
		}
		return nil

	case mir.InstrDrop:
		pr, vmErr := t.evalPlace(f, instr.Drop.Place)
		if vmErr != nil {
			return vmErr
		}
		if pr.slot != nil {
			if !pr.slot.Live {
				return nil
			}
			pr.slot.Live = false
		}
		return t.queueDrop(f, dropTask{
			kind:    dropValueTask,
			ptr:     pr.ptr,
			ty:      pr.ty,
			meta:    pr.meta,
			shallow: instr.Drop.Shallow,
		})

	case mir.InstrSetDropFlag:
		p := instr.SetDropFlag.Place
		s, ok := f.slot(p.Kind, p.Local)
		if !ok || len(p.Proj) != 0 {
			return t.eb.invalidProgram("drop flag on %s", mir.FormatPlace(p))
		}
		s.Live = instr.SetDropFlag.Value
		return nil
	}
	return t.eb.unimplemented("statement kind")
}
