package vm

import (
	"fmt"

	"fortio.org/safecast"

	"miri/internal/layout"
	"miri/internal/types"
	"miri/internal/value"
)

func (t *Thread) layoutOf(ty types.TypeID) (layout.TypeLayout, *VMError) {
	l, err := t.layout.LayoutOf(ty)
	if err != nil {
		return l, t.eb.badLayout(err)
	}
	return l, nil
}

func (t *Thread) sizeOf(ty types.TypeID) (int, *VMError) {
	if ty == types.NoTypeID {
		return 0, nil
	}
	l, vmErr := t.layoutOf(ty)
	if vmErr != nil {
		return 0, vmErr
	}
	return l.Size, nil
}

func (t *Thread) mustSize(ty types.TypeID) int {
	size, vmErr := t.sizeOf(ty)
	if vmErr != nil {
		panic(vmErr)
	}
	return size
}

// allocFor returns a zeroed allocation laid out for ty. NoTypeID is unit.
func (t *Thread) allocFor(ty types.TypeID) (*value.Allocation, *VMError) {
	if ty == types.NoTypeID {
		return value.NewAllocation(0, 1), nil
	}
	l, vmErr := t.layoutOf(ty)
	if vmErr != nil {
		return nil, vmErr
	}
	return value.NewAllocation(l.Size, l.Align), nil
}

func (t *Thread) typeOf(ty types.TypeID) types.Type {
	tt, ok := t.types.Lookup(ty)
	if !ok {
		panic(t.eb.makeError(PanicLayout, fmt.Sprintf("unknown type#%d", ty)))
	}
	return tt
}

// Alloc returns a pointer to a fresh zeroed heap allocation.
func (t *Thread) Alloc(size, align int) value.Pointer {
	return value.AllocPointer(value.NewAllocation(size, align))
}

// resolve maps a pointer to its allocation and byte offset.
func (t *Thread) resolve(p value.Pointer) (*value.Allocation, int, *VMError) {
	var a *value.Allocation
	switch p.Kind {
	case value.PointerAlloc:
		a = p.Alloc
	case value.PointerStatic:
		st, err := t.statics.Get(p.Path)
		if err != nil {
			return nil, 0, t.eb.makeError(PanicUnresolvedPath, err.Error())
		}
		a = st
	case value.PointerFunction:
		return nil, 0, t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("dereference of function pointer %s", p))
	default:
		if p.IsNull() {
			return nil, 0, t.eb.makeError(PanicInvalidAccess, "null pointer dereference")
		}
		return nil, 0, t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("dereference of pointer without provenance %s", p))
	}
	off, err := value.IntFromUint(p.Offset)
	if err != nil {
		return nil, 0, t.eb.memory(fmt.Sprintf("pointer %s", p), err)
	}
	return a, off, nil
}

// load copies size bytes at p.
func (t *Thread) load(p value.Pointer, size int) (*value.Allocation, *VMError) {
	a, off, vmErr := t.resolve(p)
	if vmErr != nil {
		return nil, vmErr
	}
	v, err := a.ReadValue(off, size)
	if err != nil {
		return nil, t.eb.memory(fmt.Sprintf("read %d bytes at %s", size, p), err)
	}
	return v, nil
}

// store copies v to p.
func (t *Thread) store(p value.Pointer, v *value.Allocation) *VMError {
	a, off, vmErr := t.resolve(p)
	if vmErr != nil {
		return vmErr
	}
	if err := a.WriteValue(off, v); err != nil {
		return t.eb.memory(fmt.Sprintf("write %d bytes at %s", v.Size(), p), err)
	}
	return nil
}

func (t *Thread) loadPointer(p value.Pointer) (value.Pointer, *VMError) {
	a, off, vmErr := t.resolve(p)
	if vmErr != nil {
		return value.Pointer{}, vmErr
	}
	out, err := a.ReadPointer(off, t.ptrSize)
	if err != nil {
		return value.Pointer{}, t.eb.memory(fmt.Sprintf("read pointer at %s", p), err)
	}
	return out, nil
}

func (t *Thread) storePointer(p, v value.Pointer) *VMError {
	a, off, vmErr := t.resolve(p)
	if vmErr != nil {
		return vmErr
	}
	if err := a.WritePointer(off, t.ptrSize, v); err != nil {
		return t.eb.memory(fmt.Sprintf("write pointer at %s", p), err)
	}
	return nil
}

func (t *Thread) loadUint(p value.Pointer, size int) (uint64, *VMError) {
	a, off, vmErr := t.resolve(p)
	if vmErr != nil {
		return 0, vmErr
	}
	u, err := a.ReadUint(off, size)
	if err != nil {
		return 0, t.eb.memory(fmt.Sprintf("read u%d at %s", size*8, p), err)
	}
	return u, nil
}

func (t *Thread) storeUint(p value.Pointer, size int, v uint64) *VMError {
	a, off, vmErr := t.resolve(p)
	if vmErr != nil {
		return vmErr
	}
	if err := a.WriteUint(off, size, v); err != nil {
		return t.eb.memory(fmt.Sprintf("write u%d at %s", size*8, p), err)
	}
	return nil
}

// Scalar helpers on standalone values.

func (t *Thread) valueUint(v *value.Allocation) uint64 {
	if v.Size() == 0 {
		return 0
	}
	u, err := v.ReadUint(0, v.Size())
	if err != nil {
		panic(t.eb.memory("read scalar", err))
	}
	return u
}

func (t *Thread) valuePointer(v *value.Allocation) value.Pointer {
	p, err := v.ReadPointer(0, t.ptrSize)
	if err != nil {
		panic(t.eb.memory("read pointer", err))
	}
	return p
}

// valueMeta reads the metadata word of a fat pointer.
func (t *Thread) valueMeta(v *value.Allocation) uint64 {
	u, err := v.ReadUint(t.ptrSize, t.ptrSize)
	if err != nil {
		panic(t.eb.memory("read fat pointer metadata", err))
	}
	return u
}

func (t *Thread) uintValue(size int, u uint64) *value.Allocation {
	v := value.NewAllocation(size, size)
	if size == 0 {
		return v
	}
	if err := v.WriteUint(0, size, u); err != nil {
		panic(t.eb.memory("write scalar", err))
	}
	return v
}

func (t *Thread) usizeValue(u uint64) *value.Allocation {
	return t.uintValue(t.ptrSize, u)
}

func (t *Thread) boolValue(b bool) *value.Allocation {
	if b {
		return t.uintValue(1, 1)
	}
	return t.uintValue(1, 0)
}

func (t *Thread) pointerValue(p value.Pointer) *value.Allocation {
	v := value.NewAllocation(t.ptrSize, t.ptrSize)
	if err := v.WritePointer(0, t.ptrSize, p); err != nil {
		panic(t.eb.memory("write pointer", err))
	}
	return v
}

func (t *Thread) fatPointerValue(p value.Pointer, meta uint64) *value.Allocation {
	v := value.NewAllocation(2*t.ptrSize, t.ptrSize)
	if err := v.WritePointer(0, t.ptrSize, p); err != nil {
		panic(t.eb.memory("write pointer", err))
	}
	if err := v.WriteUint(t.ptrSize, t.ptrSize, meta); err != nil {
		panic(t.eb.memory("write fat pointer metadata", err))
	}
	return v
}

func unitValue() *value.Allocation {
	return value.NewAllocation(0, 1)
}

// StrValue allocates s and returns a &str fat pointer to it.
func (t *Thread) StrValue(s string) *value.Allocation {
	data := value.FromBytes([]byte(s))
	return t.fatPointerValue(value.AllocPointer(data), uint64(len(s)))
}

// PayloadString renders a &str-shaped panic payload. It reports false for
// payloads of any other shape.
func (t *Thread) PayloadString(payload *value.Allocation) (string, bool) {
	if payload == nil || payload.Size() != 2*t.ptrSize {
		return "", false
	}
	p, err := payload.ReadPointer(0, t.ptrSize)
	if err != nil || p.Kind == value.PointerNone || p.Kind == value.PointerFunction {
		return "", false
	}
	n, err := payload.ReadUint(t.ptrSize, t.ptrSize)
	if err != nil {
		return "", false
	}
	size, err := safecast.Conv[int](n)
	if err != nil {
		return "", false
	}
	a, off, vmErr := t.resolve(p)
	if vmErr != nil {
		return "", false
	}
	b, err := a.ReadBytes(off, size)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (t *Thread) toInt(u uint64, what string) int {
	n, err := safecast.Conv[int](u)
	if err != nil {
		panic(t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("%s %d does not fit in memory", what, u)))
	}
	return n
}
