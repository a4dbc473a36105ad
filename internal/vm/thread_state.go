package vm

import (
	"sync/atomic"

	"miri/internal/value"
)

var nextTLSKey atomic.Uint64

// NewTLSKey returns a process-wide unique thread-local storage key. Keys are
// never reused, even after deletion.
func NewTLSKey() uint64 {
	return nextTLSKey.Add(1)
}

// TLSSlot is the value stored for one key on one thread.
type TLSSlot struct {
	Generation uint64
	Value      value.Pointer
}

// ThreadState is the per-thread runtime state that outlives individual frames.
type ThreadState struct {
	callStackDepth int
	tls            map[uint64]TLSSlot

	// PanicActive is set while a panic propagates.
	PanicActive bool
	// PanicCount counts panics that finished propagating, caught or not.
	PanicCount int
	// PanicValue is the payload of the most recent panic.
	PanicValue *value.Allocation
}

// CallStackDepth returns the number of live depth guards.
func (s *ThreadState) CallStackDepth() int {
	return s.callStackDepth
}

// EnterFunction records one more live frame. The returned guard must be
// released exactly when that frame leaves the stack.
func (s *ThreadState) EnterFunction() *DepthGuard {
	s.callStackDepth++
	return &DepthGuard{state: s}
}

// DepthGuard undoes one EnterFunction.
type DepthGuard struct {
	state    *ThreadState
	released bool
}

// Release decrements the depth once; later calls do nothing.
func (g *DepthGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.state.callStackDepth--
}

// SetTLS stores ptr under key and bumps the slot generation.
func (s *ThreadState) SetTLS(key uint64, ptr value.Pointer) {
	if s.tls == nil {
		s.tls = make(map[uint64]TLSSlot)
	}
	slot := s.tls[key]
	slot.Generation++
	slot.Value = ptr
	s.tls[key] = slot
}

// GetTLS returns the slot for key. Unset keys read as null.
func (s *ThreadState) GetTLS(key uint64) (TLSSlot, bool) {
	slot, ok := s.tls[key]
	return slot, ok
}

// DeleteTLS forgets key on this thread.
func (s *ThreadState) DeleteTLS(key uint64) {
	delete(s.tls, key)
}
