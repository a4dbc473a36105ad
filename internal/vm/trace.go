package vm

import (
	"fmt"

	"miri/internal/mir"
	"miri/internal/trace"
)

// emit records an event placed at the thread's current step and depth.
func (t *Thread) emit(scope trace.Scope, kind trace.Kind, name, detail string) {
	trace.Mark(t.tracer, kind, scope, t.at(), name, detail)
}

func (t *Thread) at() trace.At {
	return trace.At{Thread: t.opts.ID, Step: t.steps, Depth: len(t.stack)}
}

func (t *Thread) traceInstr(f *Frame, instr *mir.Instr) {
	if !t.tracer.Enabled() || !t.tracer.Level().ShouldEmit(trace.ScopeStep) {
		return
	}
	t.emit(trace.ScopeStep, trace.KindPoint, "instr",
		fmt.Sprintf("%s bb%d.%d: %s", t.funcLabel(f.Func), f.BB, f.IP, mir.FormatInstr(t.types, instr)))
}

func (t *Thread) traceTerm(f *Frame, term *mir.Terminator) {
	if !t.tracer.Enabled() || !t.tracer.Level().ShouldEmit(trace.ScopeStep) {
		return
	}
	t.emit(trace.ScopeStep, trace.KindPoint, "term",
		fmt.Sprintf("%s bb%d: %s", t.funcLabel(f.Func), f.BB, mir.FormatTerm(term)))
}
