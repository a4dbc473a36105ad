package vm

import (
	"bytes"
	"fmt"
	"io"

	"miri/internal/value"
)

// DefaultNatives returns a fresh table with the allocator, libc, panic,
// thread-local storage and threading symbols.
func DefaultNatives() *Natives {
	n := NewNatives()

	n.Register("__rust_alloc", nativeAlloc)
	n.Register("__rust_alloc_zeroed", nativeAlloc)
	n.Register("__rust_dealloc", nativeDealloc)
	n.Register("__rust_realloc", nativeRealloc)
	n.Register("malloc", nativeMalloc)
	n.Register("free", nativeFree)

	n.Register("memcmp", nativeMemcmp)
	n.Register("memcpy", nativeMemcpy)
	n.Register("memmove", nativeMemcpy)
	n.Register("memset", nativeMemset)
	n.Register("strlen", nativeStrlen)
	n.Register("write", nativeWrite)

	n.Register("abort", nativeAbort)
	n.Register("__rust_start_panic", nativeStartPanic)
	n.Register("__rust_maybe_catch_panic", nativeMaybeCatchPanic)

	n.Register("pthread_key_create", nativeKeyCreate)
	n.Register("pthread_key_delete", nativeKeyDelete)
	n.Register("pthread_getspecific", nativeGetSpecific)
	n.Register("pthread_setspecific", nativeSetSpecific)

	n.Register("sched_yield", nativeYield)
	n.Register("miri_spawn", nativeSpawn)
	return n
}

// Allocator ------------------------------------------------------------------

func nativeAlloc(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	size, align := t.ArgSize(c, 0), t.ArgSize(c, 1)
	return t.ResultPointer(t.Alloc(size, align)), nil
}

func nativeMalloc(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	return t.ResultPointer(t.Alloc(t.ArgSize(c, 0), 2*t.ptrSize)), nil
}

func (t *Thread) freeHeap(p value.Pointer, what string) *VMError {
	if p.Kind != value.PointerAlloc || p.Offset != 0 {
		return t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("%s of %s, which is not the start of a heap allocation", what, p))
	}
	if err := p.Alloc.Free(); err != nil {
		return t.eb.memory(what, err)
	}
	return nil
}

func nativeDealloc(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	p := t.ArgPointer(c, 0)
	if size := t.ArgSize(c, 1); p.Kind == value.PointerAlloc && size != p.Alloc.Size() {
		return nil, t.eb.makeError(PanicInvalidAccess,
			fmt.Sprintf("deallocation of %s with size %d, allocated with %d", p, size, p.Alloc.Size()))
	}
	return unitValue(), t.freeHeap(p, "deallocation")
}

func nativeFree(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	p := t.ArgPointer(c, 0)
	if p.IsNull() {
		return unitValue(), nil
	}
	return unitValue(), t.freeHeap(p, "free")
}

func nativeRealloc(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	p := t.ArgPointer(c, 0)
	align, size := t.ArgSize(c, 2), t.ArgSize(c, 3)
	if p.Kind != value.PointerAlloc || p.Offset != 0 {
		return nil, t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("reallocation of %s", p))
	}
	grown, err := p.Alloc.Resize(size, align)
	if err != nil {
		return nil, t.eb.memory("reallocation", err)
	}
	if vmErr := t.freeHeap(p, "reallocation"); vmErr != nil {
		return nil, vmErr
	}
	return t.ResultPointer(value.AllocPointer(grown)), nil
}

// libc memory and I/O --------------------------------------------------------

func nativeMemcmp(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	n := t.ArgSize(c, 2)
	a, vmErr := t.rawBytes(t.ArgPointer(c, 0), n)
	if vmErr != nil {
		return nil, vmErr
	}
	b, vmErr := t.rawBytes(t.ArgPointer(c, 1), n)
	if vmErr != nil {
		return nil, vmErr
	}
	return t.ResultUint(c, uint64(int64(bytes.Compare(a, b)))), nil //nolint:gosec // sign carried in two's complement
}

func nativeMemcpy(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	dst, src := t.ArgPointer(c, 0), t.ArgPointer(c, 1)
	if vmErr := t.copyBytes(dst, src, t.ArgSize(c, 2)); vmErr != nil {
		return nil, vmErr
	}
	return t.ResultPointer(dst), nil
}

func nativeMemset(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	dst := t.ArgPointer(c, 0)
	b := byte(t.ArgUint(c, 1)) //nolint:gosec // memset uses the low byte
	n := t.ArgSize(c, 2)
	if n > 0 {
		a, off, vmErr := t.resolve(dst)
		if vmErr != nil {
			return nil, vmErr
		}
		if err := a.Fill(off, n, b); err != nil {
			return nil, t.eb.memory("memset", err)
		}
	}
	return t.ResultPointer(dst), nil
}

func nativeStrlen(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	a, off, vmErr := t.resolve(t.ArgPointer(c, 0))
	if vmErr != nil {
		return nil, vmErr
	}
	for n := 0; ; n++ {
		b, err := a.ReadBytes(off+n, 1)
		if err != nil {
			return nil, t.eb.memory("strlen", err)
		}
		if b[0] == 0 {
			return t.ResultUint(c, uint64(n)), nil //nolint:gosec // n is non-negative
		}
	}
}

func nativeWrite(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	fd := t.ArgInt(c, 0)
	buf, vmErr := t.rawBytes(t.ArgPointer(c, 1), t.ArgSize(c, 2))
	if vmErr != nil {
		return nil, vmErr
	}
	var w io.Writer
	switch fd {
	case 1:
		w = t.opts.Stdout
	case 2:
		w = t.opts.Stderr
	default:
		return t.ResultUint(c, ^uint64(0)), nil
	}
	n, err := w.Write(buf)
	if err != nil {
		return t.ResultUint(c, ^uint64(0)), nil
	}
	return t.ResultUint(c, uint64(n)), nil //nolint:gosec // n is non-negative
}

// Panics ---------------------------------------------------------------------

func nativeAbort(t *Thread, _ *NativeCall) (*value.Allocation, *VMError) {
	t.abort("the program aborted execution")
	return nil, nil
}

func nativeStartPanic(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	t.raise(t.Arg(c, 0).Clone())
	return nil, nil
}

// nativeMaybeCatchPanic runs f(data) and reports 0 when it returns, or 1
// with the payload's data and vtable words stored through data_ptr and
// vtable_ptr when it panics.
func nativeMaybeCatchPanic(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	fnPtr, data := t.ArgPointer(c, 0), t.Arg(c, 1)
	dataOut, vtableOut := t.ArgPointer(c, 2), t.ArgPointer(c, 3)

	resume := func(t *Thread, _ *value.Allocation) (bool, *value.Allocation, *VMError) {
		return true, t.ResultUint(c, 0), nil
	}
	catch := func(t *Thread, payload *value.Allocation) (bool, *value.Allocation, *VMError) {
		words := []value.Pointer{{}, {}}
		for i := range words {
			if (i+1)*t.ptrSize > payload.Size() {
				break
			}
			w, err := payload.ReadPointer(i*t.ptrSize, t.ptrSize)
			if err != nil {
				return false, nil, t.eb.memory("panic payload", err)
			}
			words[i] = w
		}
		if vmErr := t.storePointer(dataOut, words[0]); vmErr != nil {
			return false, nil, vmErr
		}
		if vmErr := t.storePointer(vtableOut, words[1]); vmErr != nil {
			return false, nil, vmErr
		}
		return true, t.ResultUint(c, 1), nil
	}

	if vmErr := t.PushWrapper(resume, catch); vmErr != nil {
		return nil, vmErr
	}
	return nil, t.CallPointer(fnPtr, []*value.Allocation{data.Clone()})
}

// Thread-local storage -------------------------------------------------------

func nativeKeyCreate(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	keyPtr := t.ArgPointer(c, 0)
	size := 4
	if elem := t.paramElem(c, 0); elem != 0 {
		size = t.mustSize(elem)
	}
	if vmErr := t.storeUint(keyPtr, size, NewTLSKey()); vmErr != nil {
		return nil, vmErr
	}
	return t.ResultUint(c, 0), nil
}

func nativeKeyDelete(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	t.state.DeleteTLS(t.ArgUint(c, 0))
	return t.ResultUint(c, 0), nil
}

func nativeGetSpecific(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	slot, _ := t.state.GetTLS(t.ArgUint(c, 0))
	return t.ResultPointer(slot.Value), nil
}

func nativeSetSpecific(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	t.state.SetTLS(t.ArgUint(c, 0), t.ArgPointer(c, 1))
	return t.ResultUint(c, 0), nil
}

// Threads --------------------------------------------------------------------

func nativeYield(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	t.yield = true
	return t.ResultUint(c, 0), nil
}

func nativeSpawn(t *Thread, c *NativeCall) (*value.Allocation, *VMError) {
	if t.opts.Spawner == nil {
		return nil, t.eb.makeError(PanicUnimplemented, "spawning threads is not supported by this driver")
	}
	fnPtr := t.ArgPointer(c, 0)
	if fnPtr.Kind != value.PointerFunction {
		return nil, t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("spawn of non-function pointer %s", fnPtr))
	}
	fn := t.m.FunctionByKey(fnPtr.Path)
	if fn == nil {
		return nil, t.eb.unresolved("function", fnPtr.Path)
	}
	args := make([]*value.Allocation, 0, len(c.Args)-1)
	for _, a := range c.Args[1:] {
		args = append(args, a.Clone())
	}
	id, err := t.opts.Spawner.Spawn(fn.Path, args)
	if err != nil {
		return nil, t.eb.makeError(PanicInvalidProgram, fmt.Sprintf("spawn %s: %v", t.funcLabel(fn), err))
	}
	return t.ResultUint(c, id), nil
}
