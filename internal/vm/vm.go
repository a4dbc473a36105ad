package vm

import (
	"fmt"
	"io"
	"os"

	"miri/internal/layout"
	"miri/internal/mir"
	"miri/internal/trace"
	"miri/internal/types"
	"miri/internal/value"
)

// Spawner starts a new simulated thread running fn(args). Drivers that
// support threads implement it; it returns the new thread's ID.
type Spawner interface {
	Spawn(fn mir.Path, args []*value.Allocation) (uint64, error)
}

// Options configures a Thread.
type Options struct {
	ID       uint64       // thread ID reported in traces
	MaxDepth int          // 0 means unlimited
	Tracer   trace.Tracer // nil disables tracing
	Natives  *Natives     // nil means DefaultNatives()
	Statics  *Statics     // shared statics table; nil allocates a private one
	Spawner  Spawner      // nil disables miri_spawn
	Stdout   io.Writer    // nil means os.Stdout
	Stderr   io.Writer    // nil means os.Stderr
}

// OutcomeKind tells how a thread finished.
type OutcomeKind uint8

const (
	OutcomeRunning OutcomeKind = iota
	OutcomeReturned
	OutcomePanicked
	OutcomeAborted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRunning:
		return "running"
	case OutcomeReturned:
		return "returned"
	case OutcomePanicked:
		return "panicked"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", k)
	}
}

// Outcome is the final state of a thread.
type Outcome struct {
	Kind    OutcomeKind
	Value   *value.Allocation // returned value
	Payload *value.Allocation // panic payload
	Reason  string            // abort reason
}

// Thread interprets one simulated thread of a module, one step at a time.
type Thread struct {
	m       *mir.Module
	types   *types.Interner
	layout  *layout.LayoutEngine
	ptrSize int

	opts    Options
	natives *Natives
	statics *Statics
	tracer  trace.Tracer
	eb      *errorBuilder

	state   ThreadState
	stack   []*Frame
	steps   uint64
	outcome Outcome
	fatal   *VMError

	// Per-step signals set by natives and the panic machinery.
	panicPending bool
	aborted      bool
	inNative     bool
	yield        bool
}

// New creates a thread over m. The thread does nothing until Start.
func New(m *mir.Module, opts Options) *Thread {
	t := &Thread{
		m:       m,
		types:   m.Types,
		layout:  layout.New(m.Target, m.Types),
		ptrSize: m.Target.PtrSize,
		opts:    opts,
		natives: opts.Natives,
		statics: opts.Statics,
		tracer:  opts.Tracer,
	}
	if t.natives == nil {
		t.natives = DefaultNatives()
	}
	if t.statics == nil {
		t.statics = NewStatics(m)
	}
	if t.tracer == nil {
		t.tracer = trace.Nop
	}
	if t.opts.Stdout == nil {
		t.opts.Stdout = os.Stdout
	}
	if t.opts.Stderr == nil {
		t.opts.Stderr = os.Stderr
	}
	t.eb = &errorBuilder{t: t}
	return t
}

// Start pushes the initial frame for path with args.
func (t *Thread) Start(path mir.Path, args []*value.Allocation) *VMError {
	if t.fatal != nil {
		return t.fatal
	}
	if len(t.stack) != 0 {
		return t.eb.invalidProgram("thread already running")
	}
	fn := t.m.Function(path)
	if fn == nil {
		return t.eb.unresolved("function", path.Key())
	}
	if !fn.HasBody() {
		return t.eb.invalidProgram("entry %s has no body", t.funcLabel(fn))
	}
	f, vmErr := t.newFrame(fn, args)
	if vmErr != nil {
		return vmErr
	}
	f.returnsTo = returnToOutcome
	t.outcome = Outcome{}
	t.pushFrame(f)
	t.emit(trace.ScopeThread, trace.KindSpanBegin, "start", t.funcLabel(fn))
	return nil
}

// StepOne performs exactly one unit of work and reports whether the stack is
// empty. It is idempotent once the thread finished; after a fatal error it
// keeps returning that error.
func (t *Thread) StepOne() (done bool, vmErr *VMError) {
	if t.fatal != nil {
		return false, t.fatal
	}
	if len(t.stack) == 0 {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*VMError)
			if !ok {
				panic(r)
			}
			done, vmErr = false, t.fail(e)
		}
	}()

	t.steps++
	t.panicPending = false
	t.aborted = false
	if e := t.step(); e != nil {
		return false, t.fail(e)
	}
	return len(t.stack) == 0, nil
}

func (t *Thread) fail(e *VMError) *VMError {
	t.fatal = e
	t.emit(trace.ScopeThread, trace.KindPoint, "fatal", e.Error())
	return e
}

func (t *Thread) step() *VMError {
	f := t.top()
	if len(f.drops) > 0 {
		return t.stepDrop(f)
	}
	switch f.Mode {
	case ModeDropping, ModeUnwinding:
		return t.finishFrame(f)
	}
	if f.Kind == FrameWrapper {
		return t.eb.invalidProgram("native continuation has nothing to resume")
	}

	block := f.CurrentBlock()
	if block == nil {
		return t.eb.invalidProgram("invalid block id: %d", f.BB)
	}
	if f.AtTerminator() {
		t.traceTerm(f, &block.Term)
		return t.execTerminator(f, &block.Term)
	}
	instr := &block.Instrs[f.IP]
	t.traceInstr(f, instr)
	if vmErr := t.execInstr(f, instr); vmErr != nil {
		return vmErr
	}
	f.IP++
	return nil
}

func (t *Thread) top() *Frame {
	return t.stack[len(t.stack)-1]
}

// pushFrame installs f with a fresh depth guard. It aborts the thread and
// reports false when MaxDepth would be exceeded.
func (t *Thread) pushFrame(f *Frame) bool {
	if t.opts.MaxDepth > 0 && len(t.stack) >= t.opts.MaxDepth {
		t.abort("stack overflow")
		return false
	}
	f.guard = t.state.EnterFunction()
	t.stack = append(t.stack, f)
	if f.Kind == FrameCompiled {
		t.emit(trace.ScopeFrame, trace.KindSpanBegin, "call", t.funcLabel(f.Func))
	} else {
		t.emit(trace.ScopeFrame, trace.KindSpanBegin, "wrapper", "")
	}
	return true
}

func (t *Thread) popFrame() *Frame {
	f := t.top()
	t.stack[len(t.stack)-1] = nil
	t.stack = t.stack[:len(t.stack)-1]
	f.guard.Release()
	if f.Kind == FrameCompiled {
		t.emit(trace.ScopeFrame, trace.KindSpanEnd, "return", t.funcLabel(f.Func)+" "+f.Mode.String())
	} else {
		t.emit(trace.ScopeFrame, trace.KindSpanEnd, "wrapper", f.Mode.String())
	}
	return f
}

// abort terminates the thread without running any drops.
func (t *Thread) abort(reason string) {
	for len(t.stack) > 0 {
		f := t.top()
		t.stack[len(t.stack)-1] = nil
		t.stack = t.stack[:len(t.stack)-1]
		f.guard.Release()
	}
	t.outcome = Outcome{Kind: OutcomeAborted, Reason: reason, Payload: t.state.PanicValue}
	t.aborted = true
	t.emit(trace.ScopeThread, trace.KindSpanEnd, "aborted", reason)
}

// Outcome returns how the thread finished, or OutcomeRunning.
func (t *Thread) Outcome() Outcome {
	return t.outcome
}

// State exposes the thread's runtime state.
func (t *Thread) State() *ThreadState {
	return &t.state
}

// Done reports whether the stack is empty.
func (t *Thread) Done() bool {
	return len(t.stack) == 0
}

// Err returns the fatal error that killed the thread, if any.
func (t *Thread) Err() *VMError {
	return t.fatal
}

// ID returns the scheduler-assigned thread id from Options.ID.
func (t *Thread) ID() uint64 { return t.opts.ID }

// InstructionCount returns the number of steps taken.
func (t *Thread) InstructionCount() uint64 { return t.steps }

// Depth returns the number of frames on the stack.
func (t *Thread) Depth() int { return len(t.stack) }

// Frames returns the live frames, bottom first. Callers must not modify them.
func (t *Thread) Frames() []*Frame { return t.stack }

// TakeYield reports and clears a pending sched_yield request.
func (t *Thread) TakeYield() bool {
	y := t.yield
	t.yield = false
	return y
}

// Backtrace describes the stack from top to bottom.
func (t *Thread) Backtrace() []BacktraceFrame {
	out := make([]BacktraceFrame, 0, len(t.stack))
	for i := len(t.stack) - 1; i >= 0; i-- {
		f := t.stack[i]
		if f.Kind == FrameWrapper {
			out = append(out, BacktraceFrame{Wrapper: true})
			continue
		}
		out = append(out, BacktraceFrame{
			FuncName: t.funcLabel(f.Func),
			Block:    int(f.BB),
			Stmt:     f.IP,
		})
	}
	return out
}

// Module returns the module being interpreted.
func (t *Thread) Module() *mir.Module { return t.m }

// Types returns the module's type table.
func (t *Thread) Types() *types.Interner { return t.types }

// Layout returns the thread's layout engine.
func (t *Thread) Layout() *layout.LayoutEngine { return t.layout }

// Statics returns the statics table.
func (t *Thread) Statics() *Statics { return t.statics }

// Stdout is where the write native sends file descriptor 1.
func (t *Thread) Stdout() io.Writer { return t.opts.Stdout }

// PtrSize returns the target pointer width in bytes.
func (t *Thread) PtrSize() int { return t.ptrSize }

func (t *Thread) funcLabel(fn *mir.Func) string {
	if fn == nil {
		return "<nil>"
	}
	return fn.Path.Label(t.types)
}
