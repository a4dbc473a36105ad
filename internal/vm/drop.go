package vm

import (
	"fmt"

	"miri/internal/mir"
	"miri/internal/trace"
	"miri/internal/types"
	"miri/internal/value"
)

type dropTaskKind uint8

const (
	dropValueTask dropTaskKind = iota // expand a value into its parts
	dropGlueTask                      // call a user Drop impl
	dropFreeTask                      // release a Box allocation
)

// dropTask is one pending item of a frame's drop queue. The queue is a
// stack: the last task is processed first, one per step.
type dropTask struct {
	kind    dropTaskKind
	ptr     value.Pointer
	ty      types.TypeID
	meta    uint64 // element count for slices
	shallow bool
	glue    *mir.Func
}

// queueDrop schedules a value drop on f unless its type has no glue.
func (t *Thread) queueDrop(f *Frame, task dropTask) *VMError {
	if !t.types.NeedsDrop(task.ty) {
		return nil
	}
	f.drops = append(f.drops, task)
	return nil
}

// queueSlotDrops schedules every live argument and local of f so that locals
// drop in reverse declaration order, then arguments in reverse order.
func (t *Thread) queueSlotDrops(f *Frame) {
	queue := func(s *Slot) {
		if !s.Live {
			return
		}
		s.Live = false
		if t.types.NeedsDrop(s.Type) {
			f.drops = append(f.drops, dropTask{kind: dropValueTask, ptr: value.AllocPointer(s.Mem), ty: s.Type})
		}
	}
	for i := range f.Args {
		queue(&f.Args[i])
	}
	for i := range f.Locals {
		queue(&f.Locals[i])
	}
}

func (t *Thread) stepDrop(f *Frame) *VMError {
	last := len(f.drops) - 1
	task := f.drops[last]
	f.drops = f.drops[:last]
	return t.runDropTask(f, task)
}

func (t *Thread) runDropTask(f *Frame, task dropTask) *VMError {
	switch task.kind {
	case dropFreeTask:
		return t.freeBox(task.ptr)
	case dropGlueTask:
		return t.callDropGlue(task)
	default:
		return t.expandDrop(f, task)
	}
}

func (t *Thread) freeBox(p value.Pointer) *VMError {
	switch p.Kind {
	case value.PointerNone:
		// Zero-sized boxes hold a dangling pointer.
		return nil
	case value.PointerAlloc:
		if err := p.Alloc.Free(); err != nil {
			return t.eb.memory("free of box "+p.String(), err)
		}
		t.emit(trace.ScopeFrame, trace.KindPoint, "free", p.String())
		return nil
	}
	return t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("free of non-heap pointer %s", p))
}

func (t *Thread) callDropGlue(task dropTask) *VMError {
	arg := t.pointerValue(task.ptr)
	frame, vmErr := t.newFrame(task.glue, []*value.Allocation{arg})
	if vmErr != nil {
		return vmErr
	}
	frame.returnsTo = returnDiscard
	t.emit(trace.ScopeFrame, trace.KindPoint, "drop-glue", t.funcLabel(task.glue))
	t.pushFrame(frame)
	return nil
}

func (t *Thread) dropGlueOf(ty types.TypeID, path string) (*mir.Func, *VMError) {
	fn := t.m.FunctionByKey(path)
	if fn == nil || !fn.HasBody() {
		return nil, t.eb.makeError(PanicMissingDropGlue,
			fmt.Sprintf("drop glue %q for %s does not resolve", path, types.Label(t.types, ty)))
	}
	return fn, nil
}

// expandDrop replaces a value task with the tasks for its parts. Pushed in
// reverse so that glue runs first and fields drop in declaration order.
func (t *Thread) expandDrop(f *Frame, task dropTask) *VMError {
	tt := t.typeOf(task.ty)
	push := func(d dropTask) {
		f.drops = append(f.drops, d)
	}
	switch tt.Kind {
	case types.KindBox:
		target, meta, vmErr := t.loadBoxTarget(task.ptr, tt.Elem)
		if vmErr != nil {
			return vmErr
		}
		push(dropTask{kind: dropFreeTask, ptr: target})
		if !task.shallow && t.types.NeedsDrop(tt.Elem) {
			push(dropTask{kind: dropValueTask, ptr: target, ty: tt.Elem, meta: meta})
		}

	case types.KindStruct:
		info, ok := t.types.StructInfo(task.ty)
		if !ok {
			return t.eb.invalidProgram("struct info missing for %s", types.Label(t.types, task.ty))
		}
		if !task.shallow {
			for i := len(info.Fields) - 1; i >= 0; i-- {
				fld := info.Fields[i]
				if !t.types.NeedsDrop(fld.Type) {
					continue
				}
				off, _, err := t.layout.FieldOffset(task.ty, i)
				if err != nil {
					return t.eb.badLayout(err)
				}
				push(dropTask{kind: dropValueTask, ptr: task.ptr.Add(int64(off)), ty: fld.Type})
			}
		}
		if info.DropGlue != "" {
			glue, vmErr := t.dropGlueOf(task.ty, info.DropGlue)
			if vmErr != nil {
				return vmErr
			}
			push(dropTask{kind: dropGlueTask, ptr: task.ptr, ty: task.ty, glue: glue})
		}

	case types.KindTuple:
		if task.shallow {
			return nil
		}
		l, vmErr := t.layoutOf(task.ty)
		if vmErr != nil {
			return vmErr
		}
		for i := len(l.FieldTypes) - 1; i >= 0; i-- {
			if t.types.NeedsDrop(l.FieldTypes[i]) {
				push(dropTask{kind: dropValueTask, ptr: task.ptr.Add(int64(l.FieldOffsets[i])), ty: l.FieldTypes[i]})
			}
		}

	case types.KindArray, types.KindSlice:
		if task.shallow || !t.types.NeedsDrop(tt.Elem) {
			return nil
		}
		n := task.meta
		if tt.Kind == types.KindArray {
			n = uint64(tt.Count)
		}
		stride, vmErr := t.sizeOf(tt.Elem)
		if vmErr != nil {
			return vmErr
		}
		for i := int64(n) - 1; i >= 0; i-- { //nolint:gosec // element counts fit in memory
			push(dropTask{kind: dropValueTask, ptr: task.ptr.Add(i * int64(stride)), ty: tt.Elem})
		}
	}
	return nil
}

func (t *Thread) loadBoxTarget(p value.Pointer, elem types.TypeID) (value.Pointer, uint64, *VMError) {
	target, vmErr := t.loadPointer(p)
	if vmErr != nil {
		return target, 0, vmErr
	}
	if !t.types.IsUnsized(elem) {
		return target, 0, nil
	}
	meta, vmErr := t.loadUint(p.Add(int64(t.ptrSize)), t.ptrSize)
	return target, meta, vmErr
}

// dropHost returns the frame that owns drops started outside normal
// statement flow, pushing a bare host frame when the stack is empty.
func (t *Thread) dropHost() (*Frame, bool) {
	if len(t.stack) > 0 {
		return t.top(), false
	}
	host := newWrapperFrame(nil, nil)
	host.Mode = ModeDropping
	host.returnsTo = returnNone
	if !t.pushFrame(host) {
		return nil, false
	}
	return host, true
}

// DropValue runs drop glue for the value of type ty at ptr. Parts that need
// no interpreted code are released immediately and DropValue reports true.
// Otherwise the remaining work is queued on the current frame (or on a host
// frame when the stack is empty) and completes through StepOne. Inside a
// native call nothing is pushed; the work runs before the caller's next
// statement. A fatal error kills the thread.
func (t *Thread) DropValue(ptr value.Pointer, ty types.TypeID, shallow bool) (done bool, vmErr *VMError) {
	if t.inNative {
		return t.dropValue(ptr, ty, shallow)
	}
	if t.fatal != nil {
		return false, t.fatal
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
	done, vmErr = t.dropValue(ptr, ty, shallow)
	if vmErr != nil {
		return false, t.fail(vmErr)
	}
	return done, nil
}

func (t *Thread) dropValue(ptr value.Pointer, ty types.TypeID, shallow bool) (bool, *VMError) {
	if !t.types.NeedsDrop(ty) {
		return true, nil
	}
	f, pushed := t.dropHost()
	if f == nil {
		return false, nil
	}
	base := len(f.drops)
	f.drops = append(f.drops, dropTask{kind: dropValueTask, ptr: ptr, ty: ty, shallow: shallow})
	for len(f.drops) > base {
		last := len(f.drops) - 1
		if f.drops[last].kind == dropGlueTask {
			break
		}
		task := f.drops[last]
		f.drops = f.drops[:last]
		if vmErr := t.runDropTask(f, task); vmErr != nil {
			return false, vmErr
		}
	}
	if len(f.drops) == base {
		if pushed {
			t.popFrame()
		}
		return true, nil
	}
	if t.inNative {
		return false, nil
	}
	if vmErr := t.stepDrop(f); vmErr != nil {
		return false, vmErr
	}
	return false, nil
}
