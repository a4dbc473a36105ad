package value

import (
	"encoding/binary"
	"math"
	"slices"
	"sync/atomic"

	"fortio.org/safecast"
)

var nextAllocID atomic.Uint64

// Relocation records that Size bytes at Offset hold an address whose
// provenance is Target. The bytes themselves hold the offset into Target.
type Relocation struct {
	Offset int
	Size   int
	Target Pointer
}

func (r Relocation) end() int { return r.Offset + r.Size }

// Allocation is a byte buffer plus an ordered set of relocations.
// An allocation is exclusively owned; sharing happens through pointers.
type Allocation struct {
	id     uint64
	bytes  []byte
	relocs []Relocation // sorted by Offset, non-overlapping
	align  int
	freed  bool
}

// NewAllocation returns a zero-initialised allocation of size bytes.
func NewAllocation(size, align int) *Allocation {
	if size < 0 {
		size = 0
	}
	if align <= 0 {
		align = 1
	}
	return &Allocation{
		id:    nextAllocID.Add(1),
		bytes: make([]byte, size),
		align: align,
	}
}

// Zeroed returns a byte-aligned zero allocation of size bytes.
func Zeroed(size int) *Allocation {
	return NewAllocation(size, 1)
}

// FromBytes returns an allocation holding a copy of b with no relocations.
func FromBytes(b []byte) *Allocation {
	a := NewAllocation(len(b), 1)
	copy(a.bytes, b)
	return a
}

// ID is a process-unique identifier for diagnostics.
func (a *Allocation) ID() uint64 {
	if a == nil {
		return 0
	}
	return a.id
}

func (a *Allocation) Size() int  { return len(a.bytes) }
func (a *Allocation) Align() int { return a.align }
func (a *Allocation) Freed() bool {
	return a.freed
}

// Free marks the allocation dead. Subsequent accesses fail with ErrUseAfterFree.
func (a *Allocation) Free() error {
	if a.freed {
		return accessErr(ErrUseAfterFree, 0, 0, len(a.bytes))
	}
	a.freed = true
	a.relocs = nil
	return nil
}

// Relocations returns a copy of the relocation set in offset order.
func (a *Allocation) Relocations() []Relocation {
	return slices.Clone(a.relocs)
}

func (a *Allocation) check(off, n int) error {
	if a.freed {
		return accessErr(ErrUseAfterFree, off, n, len(a.bytes))
	}
	if off < 0 || n < 0 || off > len(a.bytes) || n > len(a.bytes)-off {
		return accessErr(ErrInvalidAccess, off, n, len(a.bytes))
	}
	return nil
}

// overlapping returns the index range [lo, hi) of relocations intersecting [off, off+n).
func (a *Allocation) overlapping(off, n int) (lo, hi int) {
	end := off + n
	lo, _ = slices.BinarySearchFunc(a.relocs, off, func(r Relocation, o int) int {
		if r.end() <= o {
			return -1
		}
		return 1
	})
	hi = lo
	for hi < len(a.relocs) && a.relocs[hi].Offset < end {
		hi++
	}
	return lo, hi
}

func (a *Allocation) removeRelocs(off, n int) {
	if n == 0 {
		return
	}
	lo, hi := a.overlapping(off, n)
	if lo < hi {
		a.relocs = slices.Delete(a.relocs, lo, hi)
	}
}

func (a *Allocation) insertReloc(r Relocation) {
	idx, _ := slices.BinarySearchFunc(a.relocs, r.Offset, func(x Relocation, o int) int {
		return x.Offset - o
	})
	a.relocs = slices.Insert(a.relocs, idx, r)
}

// ReadBytes returns a copy of n raw bytes at off. Any relocation in range
// makes the read fail with ErrSplitPointer.
func (a *Allocation) ReadBytes(off, n int) ([]byte, error) {
	if err := a.check(off, n); err != nil {
		return nil, err
	}
	if n > 0 {
		if lo, hi := a.overlapping(off, n); lo < hi {
			return nil, accessErr(ErrSplitPointer, off, n, len(a.bytes))
		}
	}
	return slices.Clone(a.bytes[off : off+n]), nil
}

// WriteBytes stores raw bytes at off. Relocations under the written range
// lose their provenance.
func (a *Allocation) WriteBytes(off int, b []byte) error {
	if err := a.check(off, len(b)); err != nil {
		return err
	}
	a.removeRelocs(off, len(b))
	copy(a.bytes[off:], b)
	return nil
}

// Fill sets n bytes at off to c.
func (a *Allocation) Fill(off, n int, c byte) error {
	if err := a.check(off, n); err != nil {
		return err
	}
	a.removeRelocs(off, n)
	for i := off; i < off+n; i++ {
		a.bytes[i] = c
	}
	return nil
}

func validScalar(size int) bool {
	return size == 1 || size == 2 || size == 4 || size == 8
}

// ReadUint reads a little-endian unsigned integer of size bytes.
func (a *Allocation) ReadUint(off, size int) (uint64, error) {
	if !validScalar(size) {
		return 0, accessErr(ErrInvalidAccess, off, size, len(a.bytes))
	}
	b, err := a.ReadBytes(off, size)
	if err != nil {
		return 0, err
	}
	return decodeUint(b), nil
}

// ReadInt reads a little-endian signed integer of size bytes, sign-extended.
func (a *Allocation) ReadInt(off, size int) (int64, error) {
	u, err := a.ReadUint(off, size)
	if err != nil {
		return 0, err
	}
	return SignExtend(u, size*8), nil
}

// WriteUint writes the low size bytes of v at off, little-endian.
func (a *Allocation) WriteUint(off, size int, v uint64) error {
	if !validScalar(size) {
		return accessErr(ErrInvalidAccess, off, size, len(a.bytes))
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return a.WriteBytes(off, buf[:size])
}

func (a *Allocation) ReadFloat32(off int) (float32, error) {
	u, err := a.ReadUint(off, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(u)), nil //nolint:gosec // 4-byte read
}

func (a *Allocation) ReadFloat64(off int) (float64, error) {
	u, err := a.ReadUint(off, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

func (a *Allocation) WriteFloat32(off int, f float32) error {
	return a.WriteUint(off, 4, uint64(math.Float32bits(f)))
}

func (a *Allocation) WriteFloat64(off int, f float64) error {
	return a.WriteUint(off, 8, math.Float64bits(f))
}

// ReadPointer reads a pointer-width address at off. A relocation must start
// at off and span exactly ptrSize bytes; without one the bytes are a raw
// address.
func (a *Allocation) ReadPointer(off, ptrSize int) (Pointer, error) {
	if err := a.check(off, ptrSize); err != nil {
		return Pointer{}, err
	}
	if !validScalar(ptrSize) {
		return Pointer{}, accessErr(ErrInvalidAccess, off, ptrSize, len(a.bytes))
	}
	addr := decodeUint(a.bytes[off : off+ptrSize])
	lo, hi := a.overlapping(off, ptrSize)
	switch hi - lo {
	case 0:
		return RawPointer(addr), nil
	case 1:
		r := a.relocs[lo]
		if r.Offset != off || r.Size != ptrSize {
			return Pointer{}, accessErr(ErrSplitPointer, off, ptrSize, len(a.bytes))
		}
		p := r.Target
		p.Offset = addr
		return p, nil
	default:
		return Pointer{}, accessErr(ErrSplitPointer, off, ptrSize, len(a.bytes))
	}
}

// WritePointer stores p at off using ptrSize bytes. Pointers with provenance
// record a relocation; the bytes hold p.Offset.
func (a *Allocation) WritePointer(off, ptrSize int, p Pointer) error {
	if err := a.WriteUint(off, ptrSize, p.Offset); err != nil {
		return err
	}
	if p.Kind != PointerNone {
		a.insertReloc(Relocation{Offset: off, Size: ptrSize, Target: p.Base()})
	}
	return nil
}

// ReadValue copies n bytes at off into a new allocation, carrying the
// relocations inside the range. A relocation crossing the range boundary
// fails with ErrSplitPointer.
func (a *Allocation) ReadValue(off, n int) (*Allocation, error) {
	if err := a.check(off, n); err != nil {
		return nil, err
	}
	out := NewAllocation(n, 1)
	copy(out.bytes, a.bytes[off:off+n])
	if n == 0 {
		return out, nil
	}
	lo, hi := a.overlapping(off, n)
	for _, r := range a.relocs[lo:hi] {
		if r.Offset < off || r.end() > off+n {
			return nil, accessErr(ErrSplitPointer, off, n, len(a.bytes))
		}
		r.Offset -= off
		out.relocs = append(out.relocs, r)
	}
	return out, nil
}

// WriteValue copies v into a at off, replacing bytes and relocations in range.
func (a *Allocation) WriteValue(off int, v *Allocation) error {
	if v.freed {
		return accessErr(ErrUseAfterFree, 0, len(v.bytes), len(v.bytes))
	}
	n := len(v.bytes)
	if err := a.check(off, n); err != nil {
		return err
	}
	a.removeRelocs(off, n)
	copy(a.bytes[off:], v.bytes)
	for _, r := range v.relocs {
		r.Offset += off
		a.insertReloc(r)
	}
	return nil
}

// CopyWithin copies n bytes from src to dst inside a, handling overlap like memmove.
func (a *Allocation) CopyWithin(dst, src, n int) error {
	tmp, err := a.ReadValue(src, n)
	if err != nil {
		return err
	}
	return a.WriteValue(dst, tmp)
}

// Resize returns a new allocation of size bytes holding the common prefix of a.
// Relocations crossing the new end are dropped.
func (a *Allocation) Resize(size, align int) (*Allocation, error) {
	if a.freed {
		return nil, accessErr(ErrUseAfterFree, 0, size, len(a.bytes))
	}
	out := NewAllocation(size, align)
	n := min(size, len(a.bytes))
	copy(out.bytes, a.bytes[:n])
	for _, r := range a.relocs {
		if r.end() <= n {
			out.relocs = append(out.relocs, r)
		}
	}
	return out, nil
}

// Clone returns an independent copy with the same bytes and relocations.
func (a *Allocation) Clone() *Allocation {
	out := NewAllocation(len(a.bytes), a.align)
	copy(out.bytes, a.bytes)
	out.relocs = slices.Clone(a.relocs)
	return out
}

// Equal reports bit equality including relocation targets.
func Equal(a, b *Allocation) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !slices.Equal(a.bytes, b.bytes) || len(a.relocs) != len(b.relocs) {
		return false
	}
	for i := range a.relocs {
		ra, rb := a.relocs[i], b.relocs[i]
		if ra.Offset != rb.Offset || ra.Size != rb.Size || !ra.Target.SameBase(rb.Target) {
			return false
		}
	}
	return true
}

// IntFromUint reinterprets an address offset as a Go int, failing on overflow.
func IntFromUint(v uint64) (int, error) {
	return safecast.Conv[int](v)
}

// SignExtend interprets the low bits of u as a two's complement integer.
func SignExtend(u uint64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return int64(u) //nolint:gosec // bit reinterpretation
	}
	shift := 64 - bits
	return int64(u<<shift) >> shift //nolint:gosec // bit reinterpretation
}

func decodeUint(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}
