package vm

import (
	"miri/internal/trace"
	"miri/internal/types"
	"miri/internal/value"
)

// raise marks a panic in flight. A panic raised while another one is
// propagating aborts the thread; raise then reports false.
func (t *Thread) raise(payload *value.Allocation) bool {
	if t.state.PanicActive {
		t.abort("panicked while panicking")
		return false
	}
	if payload == nil {
		payload = unitValue()
	}
	t.state.PanicActive = true
	t.state.PanicValue = payload
	t.panicPending = true
	detail := ""
	if s, ok := t.PayloadString(payload); ok {
		detail = s
	}
	t.emit(trace.ScopeThread, trace.KindPoint, "panic", detail)
	return true
}

// beginUnwind switches f to unwinding. A frame that was already dropping
// keeps its queue; a running frame queues its live slots.
func (t *Thread) beginUnwind(f *Frame) {
	switch f.Mode {
	case ModeUnwinding:
		return
	case ModeDropping:
		f.Mode = ModeUnwinding
	default:
		f.Mode = ModeUnwinding
		t.queueSlotDrops(f)
	}
	if f.Kind == FrameCompiled {
		t.emit(trace.ScopeFrame, trace.KindPoint, "unwind", t.funcLabel(f.Func))
	}
}

// RequestUnwind starts unwinding the current stack with payload, running
// drops on the way out. It does nothing on a finished or dead thread.
func (t *Thread) RequestUnwind(payload *value.Allocation) {
	if t.fatal != nil || len(t.stack) == 0 {
		return
	}
	t.panicIn(t.top(), payload)
}

// finishFrame pops f once its drop queue is empty and routes its result or
// its panic to the frame below.
func (t *Thread) finishFrame(f *Frame) *VMError {
	unwinding := f.Mode == ModeUnwinding
	t.popFrame()
	if unwinding {
		return t.continueUnwind(f)
	}
	return t.deliver(f.returnsTo, f.Ret)
}

// deliver hands a finished call's result to whoever is waiting for it.
func (t *Thread) deliver(kind returnKind, result *value.Allocation) *VMError {
	switch kind {
	case returnToOutcome:
		t.outcome = Outcome{Kind: OutcomeReturned, Value: result}
		t.emit(trace.ScopeThread, trace.KindSpanEnd, "returned", "")
		return nil
	case returnDiscard, returnNone:
		return nil
	}
	if len(t.stack) == 0 {
		return t.eb.invalidProgram("result delivered to an empty stack")
	}
	p := t.top()
	switch kind {
	case returnToCall:
		return t.completeCall(p, result)
	case returnToWrapper:
		if p.Kind != FrameWrapper || p.resume == nil {
			return t.eb.invalidProgram("callback returned to a frame that is not a native continuation")
		}
		done, out, vmErr := p.resume(t, result)
		if vmErr != nil {
			return vmErr
		}
		return t.afterWrapper(p, done, out)
	}
	return t.eb.invalidProgram("unknown return kind %d", kind)
}

// completeCall writes result to the pending call's destination and moves
// the caller to the call's target block.
func (t *Thread) completeCall(p *Frame, result *value.Allocation) *VMError {
	call := p.pendingCall()
	if call == nil {
		return t.eb.invalidProgram("call result delivered to a frame without a pending call")
	}
	if result == nil {
		result = unitValue()
	}
	if call.HasDst {
		pr, vmErr := t.evalPlace(p, call.Dst)
		if vmErr != nil {
			return vmErr
		}
		if vmErr := t.checkType("call destination", pr.ty, p.pendingResult); vmErr != nil {
			return vmErr
		}
		if vmErr := t.writePlace(pr, result); vmErr != nil {
			return vmErr
		}
		if pr.slot != nil {
			pr.slot.Live = true
		}
	}
	if call.Target < 0 {
		return t.eb.invalidProgram("diverging call returned")
	}
	p.jump(call.Target)
	return nil
}

// afterWrapper finishes a resume or catch callback of wrapper w.
func (t *Thread) afterWrapper(w *Frame, done bool, out *value.Allocation) *VMError {
	if t.aborted {
		return nil
	}
	if t.panicPending {
		t.panicPending = false
		if len(t.stack) > 0 && t.top() == w {
			t.beginUnwind(w)
		}
		return nil
	}
	if !done {
		return nil
	}
	if len(t.stack) == 0 || t.top() != w {
		return t.eb.invalidProgram("native continuation completed while a callee is still running")
	}
	t.popFrame()
	return t.deliver(w.returnsTo, out)
}

// continueUnwind runs after an unwinding frame f was popped: the frame below
// either catches the panic or starts unwinding itself.
func (t *Thread) continueUnwind(f *Frame) *VMError {
	if len(t.stack) == 0 {
		t.terminatePanicked()
		return nil
	}
	p := t.top()
	if p.Mode == ModeRunning {
		switch f.returnsTo {
		case returnToCall:
			if call := p.pendingCall(); call != nil && call.HasCatch {
				return t.catchAt(p)
			}
		case returnToWrapper:
			if p.catch != nil {
				return t.catchInWrapper(p)
			}
		}
	}
	t.beginUnwind(p)
	return nil
}

// catchAt resumes p at its pending call's catch block with the payload.
func (t *Thread) catchAt(p *Frame) *VMError {
	call := p.pendingCall()
	payload := t.takePanic()
	pr, vmErr := t.evalPlace(p, call.PayloadDst)
	if vmErr != nil {
		return vmErr
	}
	shaped, vmErr := t.catchPayload(payload, pr.ty)
	if vmErr != nil {
		return vmErr
	}
	if vmErr := t.writePlace(pr, shaped); vmErr != nil {
		return vmErr
	}
	if pr.slot != nil {
		pr.slot.Live = true
	}
	p.jump(call.Catch)
	t.emit(trace.ScopeFrame, trace.KindPoint, "catch", t.funcLabel(p.Func))
	return nil
}

// catchPayload shapes a caught payload for a destination of type ty. A
// payload of another size is boxed: the destination gets a pointer to a heap
// copy followed by zeroed metadata. A destination narrower than a pointer
// stays zeroed.
func (t *Thread) catchPayload(payload *value.Allocation, ty types.TypeID) (*value.Allocation, *VMError) {
	l, vmErr := t.layoutOf(ty)
	if vmErr != nil {
		return nil, vmErr
	}
	if payload.Size() == l.Size {
		return payload, nil
	}
	out := value.NewAllocation(l.Size, l.Align)
	if l.Size >= t.ptrSize {
		if err := out.WritePointer(0, t.ptrSize, value.AllocPointer(payload.Clone())); err != nil {
			return nil, t.eb.memory("boxed panic payload", err)
		}
	}
	return out, nil
}

func (t *Thread) catchInWrapper(w *Frame) *VMError {
	payload := t.takePanic()
	t.emit(trace.ScopeFrame, trace.KindPoint, "catch", "native")
	done, out, vmErr := w.catch(t, payload)
	if vmErr != nil {
		return vmErr
	}
	return t.afterWrapper(w, done, out)
}

// takePanic ends the panic in flight and returns its payload.
func (t *Thread) takePanic() *value.Allocation {
	payload := t.state.PanicValue
	t.state.PanicActive = false
	t.state.PanicCount++
	return payload
}

func (t *Thread) terminatePanicked() {
	payload := t.takePanic()
	t.outcome = Outcome{Kind: OutcomePanicked, Payload: payload}
	detail := ""
	if s, ok := t.PayloadString(payload); ok {
		detail = s
	}
	t.emit(trace.ScopeThread, trace.KindSpanEnd, "panicked", detail)
}
