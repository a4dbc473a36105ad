package vm

import (
	"fmt"

	"miri/internal/mir"
	"miri/internal/types"
	"miri/internal/value"
)

// FrameKind distinguishes interpreted frames from native continuations.
type FrameKind uint8

const (
	FrameCompiled FrameKind = iota
	FrameWrapper
)

// FrameMode is what the engine does with the frame on its next step.
type FrameMode uint8

const (
	ModeRunning FrameMode = iota
	ModeDropping
	ModeUnwinding
)

func (m FrameMode) String() string {
	switch m {
	case ModeRunning:
		return "running"
	case ModeDropping:
		return "dropping"
	case ModeUnwinding:
		return "unwinding"
	default:
		return fmt.Sprintf("FrameMode(%d)", m)
	}
}

// returnKind says where a frame's result goes when it is popped.
type returnKind uint8

const (
	returnToOutcome returnKind = iota // bottom frame: thread outcome
	returnToCall                      // caller's pending Call terminator
	returnToWrapper                   // wrapper frame below: invoke resume
	returnDiscard                     // drop glue: result ignored
	returnNone                        // driver drop host: nothing to deliver
)

// ResumeFunc continues a native call once the interpreted callee returned.
// done reports that the native call is complete with result out; otherwise
// the resume function pushed another frame and the wrapper stays.
type ResumeFunc func(t *Thread, result *value.Allocation) (done bool, out *value.Allocation, err *VMError)

// CatchFunc turns a panic that reached a wrapper frame into the native call's
// result. Same contract as ResumeFunc.
type CatchFunc func(t *Thread, payload *value.Allocation) (done bool, out *value.Allocation, err *VMError)

// Slot is an argument or local: its storage plus its drop flag.
type Slot struct {
	Type types.TypeID
	Mem  *value.Allocation
	Live bool
	Name string
}

// Frame represents an activation record on the call stack.
type Frame struct {
	Kind FrameKind
	Func *mir.Func   // nil for wrappers
	BB   mir.BlockID // current block
	IP   int         // statement index within BB

	Args   []Slot
	Locals []Slot
	Ret    *value.Allocation
	RetTy  types.TypeID

	Mode FrameMode

	drops     []dropTask
	guard     *DepthGuard
	returnsTo returnKind

	// pendingResult is the result type of the call the frame is parked at.
	pendingResult types.TypeID

	resume ResumeFunc
	catch  CatchFunc
}

// newFrame creates a frame for fn. Argument count and sizes must match the
// signature; locals start zeroed with clear drop flags.
func (t *Thread) newFrame(fn *mir.Func, args []*value.Allocation) (*Frame, *VMError) {
	if len(args) != len(fn.Params) {
		return nil, t.eb.makeError(PanicArgMismatch,
			fmt.Sprintf("%s expects %d arguments, got %d", t.funcLabel(fn), len(fn.Params), len(args)))
	}
	f := &Frame{
		Kind:   FrameCompiled,
		Func:   fn,
		BB:     0,
		Args:   make([]Slot, len(fn.Params)),
		Locals: make([]Slot, len(fn.Locals)),
		RetTy:  fn.Result,
	}
	for i, p := range fn.Params {
		size, vmErr := t.sizeOf(p.Type)
		if vmErr != nil {
			return nil, vmErr
		}
		if args[i] == nil || args[i].Size() != size {
			got := -1
			if args[i] != nil {
				got = args[i].Size()
			}
			return nil, t.eb.makeError(PanicArgMismatch,
				fmt.Sprintf("%s argument %d: expected %d bytes, got %d", t.funcLabel(fn), i, size, got))
		}
		f.Args[i] = Slot{Type: p.Type, Mem: args[i], Live: true, Name: p.Name}
	}
	for i, l := range fn.Locals {
		mem, vmErr := t.allocFor(l.Type)
		if vmErr != nil {
			return nil, vmErr
		}
		f.Locals[i] = Slot{Type: l.Type, Mem: mem, Name: l.Name}
	}
	ret, vmErr := t.allocFor(fn.Result)
	if vmErr != nil {
		return nil, vmErr
	}
	f.Ret = ret
	return f, nil
}

func newWrapperFrame(resume ResumeFunc, catch CatchFunc) *Frame {
	return &Frame{
		Kind:   FrameWrapper,
		BB:     mir.NoBlockID,
		resume: resume,
		catch:  catch,
	}
}

// CurrentBlock returns the current basic block being executed.
func (f *Frame) CurrentBlock() *mir.Block {
	if f.Func == nil || int(f.BB) < 0 || int(f.BB) >= len(f.Func.Blocks) {
		return nil
	}
	return &f.Func.Blocks[f.BB]
}

// AtTerminator returns true if the IP is past all statements.
func (f *Frame) AtTerminator() bool {
	block := f.CurrentBlock()
	if block == nil {
		return true
	}
	return f.IP >= len(block.Instrs)
}

// pendingCall returns the Call terminator the frame is parked at, if any.
func (f *Frame) pendingCall() *mir.CallTerm {
	if f.Kind != FrameCompiled || !f.AtTerminator() {
		return nil
	}
	block := f.CurrentBlock()
	if block == nil || block.Term.Kind != mir.TermCall {
		return nil
	}
	return &block.Term.Call
}

func (f *Frame) jump(target mir.BlockID) {
	f.BB = target
	f.IP = 0
}

// slot returns the argument or local addressed by a whole-slot place.
func (f *Frame) slot(kind mir.PlaceKind, id mir.LocalID) (*Slot, bool) {
	var slots []Slot
	switch kind {
	case mir.PlaceLocal:
		slots = f.Locals
	case mir.PlaceArg:
		slots = f.Args
	default:
		return nil, false
	}
	if id < 0 || int(id) >= len(slots) {
		return nil, false
	}
	return &slots[id], true
}
