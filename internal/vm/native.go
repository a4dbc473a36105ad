package vm

import (
	"fmt"
	"maps"
	"slices"

	"miri/internal/types"
	"miri/internal/value"
)

// Natives maps extern symbols to their Go implementations.
type Natives struct {
	funcs map[string]NativeFunc
}

// NewNatives returns an empty table.
func NewNatives() *Natives {
	return &Natives{funcs: make(map[string]NativeFunc)}
}

// Register installs fn for symbol, replacing any previous entry.
func (n *Natives) Register(symbol string, fn NativeFunc) {
	n.funcs[symbol] = fn
}

// Lookup returns the implementation of symbol.
func (n *Natives) Lookup(symbol string) (NativeFunc, bool) {
	fn, ok := n.funcs[symbol]
	return fn, ok
}

// Clone returns an independent copy of the table.
func (n *Natives) Clone() *Natives {
	return &Natives{funcs: maps.Clone(n.funcs)}
}

// Symbols lists the registered symbols in order.
func (n *Natives) Symbols() []string {
	return slices.Sorted(maps.Keys(n.funcs))
}

// Argument and result helpers for native implementations. They panic with a
// *VMError on malformed calls; StepOne recovers it.

// Arg returns argument i.
func (t *Thread) Arg(c *NativeCall, i int) *value.Allocation {
	if i < 0 || i >= len(c.Args) {
		panic(t.eb.makeError(PanicArgMismatch, fmt.Sprintf("%s: missing argument %d", c.Name, i)))
	}
	return c.Args[i]
}

// ArgUint reads argument i as an unsigned integer of its own width.
func (t *Thread) ArgUint(c *NativeCall, i int) uint64 {
	return t.valueUint(t.Arg(c, i))
}

// ArgInt reads argument i as a sign-extended integer.
func (t *Thread) ArgInt(c *NativeCall, i int) int64 {
	a := t.Arg(c, i)
	return value.SignExtend(t.valueUint(a), a.Size()*8)
}

// ArgPointer reads argument i as a (thin) pointer.
func (t *Thread) ArgPointer(c *NativeCall, i int) value.Pointer {
	return t.valuePointer(t.Arg(c, i))
}

// ArgSize reads argument i as a byte count.
func (t *Thread) ArgSize(c *NativeCall, i int) int {
	return t.toInt(t.ArgUint(c, i), c.Name+" size")
}

// ResultUint builds an integer result of the callee's declared width.
func (t *Thread) ResultUint(c *NativeCall, u uint64) *value.Allocation {
	size := t.mustSize(c.Func.Result)
	if size == 0 {
		return unitValue()
	}
	return t.uintValue(size, u)
}

// ResultPointer builds a pointer result.
func (t *Thread) ResultPointer(p value.Pointer) *value.Allocation {
	return t.pointerValue(p)
}

// paramElem returns the pointee type of parameter i, if it is a pointer.
func (t *Thread) paramElem(c *NativeCall, i int) types.TypeID {
	if i >= len(c.Func.Params) {
		return types.NoTypeID
	}
	tt, ok := t.types.Lookup(c.Func.Params[i].Type)
	if !ok || !tt.IsPointerLike() {
		return types.NoTypeID
	}
	return tt.Elem
}

// copyBytes copies n bytes from src to dst, relocations included. Overlap is
// allowed.
func (t *Thread) copyBytes(dst, src value.Pointer, n int) *VMError {
	if n == 0 {
		return nil
	}
	v, vmErr := t.load(src, n)
	if vmErr != nil {
		return vmErr
	}
	return t.store(dst, v)
}

// rawBytes reads n bytes that must not contain pointers.
func (t *Thread) rawBytes(p value.Pointer, n int) ([]byte, *VMError) {
	if n == 0 {
		return nil, nil
	}
	a, off, vmErr := t.resolve(p)
	if vmErr != nil {
		return nil, vmErr
	}
	b, err := a.ReadBytes(off, n)
	if err != nil {
		return nil, t.eb.memory(fmt.Sprintf("read %d bytes at %s", n, p), err)
	}
	return b, nil
}
