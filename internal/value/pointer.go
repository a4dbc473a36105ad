package value

import "fmt"

// PointerKind tells what a pointer's provenance refers to.
type PointerKind uint8

const (
	// PointerNone is a pointer without provenance: null or a raw integer address.
	PointerNone PointerKind = iota
	// PointerAlloc targets a heap or stack allocation.
	PointerAlloc
	// PointerStatic targets a static item, identified by its path key.
	PointerStatic
	// PointerFunction targets a function, identified by its path key.
	PointerFunction
)

func (k PointerKind) String() string {
	switch k {
	case PointerNone:
		return "none"
	case PointerAlloc:
		return "alloc"
	case PointerStatic:
		return "static"
	case PointerFunction:
		return "fn"
	default:
		return fmt.Sprintf("PointerKind(%d)", k)
	}
}

// Pointer is an address: a provenance base plus a byte offset into it.
// For PointerNone the offset is the raw address.
type Pointer struct {
	Kind   PointerKind
	Alloc  *Allocation
	Path   string
	Offset uint64
}

// AllocPointer returns a pointer to the start of a.
func AllocPointer(a *Allocation) Pointer {
	return Pointer{Kind: PointerAlloc, Alloc: a}
}

// StaticPointer returns a pointer to the start of the static item key.
func StaticPointer(key string) Pointer {
	return Pointer{Kind: PointerStatic, Path: key}
}

// FunctionPointer returns a pointer to the function key.
func FunctionPointer(key string) Pointer {
	return Pointer{Kind: PointerFunction, Path: key}
}

// RawPointer returns a pointer without provenance.
func RawPointer(addr uint64) Pointer {
	return Pointer{Offset: addr}
}

// IsNull reports whether p is the null pointer.
func (p Pointer) IsNull() bool {
	return p.Kind == PointerNone && p.Offset == 0
}

// Add returns p displaced by delta bytes, wrapping on overflow.
func (p Pointer) Add(delta int64) Pointer {
	p.Offset += uint64(delta) //nolint:gosec // two's complement wrap is the intended arithmetic
	return p
}

// Base returns p with its offset cleared.
func (p Pointer) Base() Pointer {
	p.Offset = 0
	return p
}

// SameBase reports whether p and q share provenance.
func (p Pointer) SameBase(q Pointer) bool {
	if p.Kind != q.Kind {
		return false
	}
	switch p.Kind {
	case PointerAlloc:
		return p.Alloc == q.Alloc
	case PointerStatic, PointerFunction:
		return p.Path == q.Path
	default:
		return true
	}
}

// Equal reports whether p and q are the same address.
func (p Pointer) Equal(q Pointer) bool {
	return p.SameBase(q) && p.Offset == q.Offset
}

func (p Pointer) String() string {
	switch p.Kind {
	case PointerNone:
		if p.Offset == 0 {
			return "null"
		}
		return fmt.Sprintf("0x%x", p.Offset)
	case PointerAlloc:
		return fmt.Sprintf("alloc%d+%d", p.Alloc.ID(), p.Offset)
	case PointerStatic:
		return fmt.Sprintf("static %s+%d", p.Path, p.Offset)
	case PointerFunction:
		return fmt.Sprintf("fn %s", p.Path)
	default:
		return "<ptr?>"
	}
}
