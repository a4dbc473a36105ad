package types

import "fmt"

// TypeID uniquely identifies a type inside the interner.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates all supported kinds of types.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindUnit
	KindNever
	KindBool
	KindChar
	KindInt
	KindUint
	KindFloat
	KindStr
	KindSlice
	KindArray
	KindPointer
	KindBorrow
	KindBox
	KindFnPtr
	KindTuple
	KindStruct
	KindErased
	KindGenericParam
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindUnit:
		return "unit"
	case KindNever:
		return "never"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindSlice:
		return "slice"
	case KindArray:
		return "array"
	case KindPointer:
		return "pointer"
	case KindBorrow:
		return "borrow"
	case KindBox:
		return "box"
	case KindFnPtr:
		return "fn"
	case KindTuple:
		return "tuple"
	case KindStruct:
		return "struct"
	case KindErased:
		return "erased"
	case KindGenericParam:
		return "generic"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Width captures the precision of integers/floats.
type Width uint8

const (
	// WidthSize is the target pointer width (isize/usize).
	WidthSize Width = 0
	Width8    Width = 8
	Width16   Width = 16
	Width32   Width = 32
	Width64   Width = 64
)

// Type is a compact descriptor for any supported type.
type Type struct {
	Kind    Kind
	Elem    TypeID
	Count   uint32 // array length, generic parameter index
	Width   Width  // for numeric primitives
	Mutable bool   // for borrows and raw pointers
	Payload uint32 // index into struct/tuple/fn/erased side tables
}

// Descriptor helpers ---------------------------------------------------------

// MakeInt describes a signed integer of the given width (WidthSize for isize).
func MakeInt(width Width) Type {
	return Type{Kind: KindInt, Width: width}
}

// MakeUint describes an unsigned integer type.
func MakeUint(width Width) Type {
	return Type{Kind: KindUint, Width: width}
}

// MakeFloat describes a floating-point type.
func MakeFloat(width Width) Type {
	return Type{Kind: KindFloat, Width: width}
}

// MakeArray describes a fixed-length array.
func MakeArray(elem TypeID, count uint32) Type {
	return Type{Kind: KindArray, Elem: elem, Count: count}
}

// MakeSlice describes the unsized [T].
func MakeSlice(elem TypeID) Type {
	return Type{Kind: KindSlice, Elem: elem}
}

// MakePointer describes a raw pointer.
func MakePointer(elem TypeID, mutable bool) Type {
	return Type{Kind: KindPointer, Elem: elem, Mutable: mutable}
}

// MakeBorrow describes &T or &mut T depending on the mutable flag.
func MakeBorrow(elem TypeID, mutable bool) Type {
	return Type{Kind: KindBorrow, Elem: elem, Mutable: mutable}
}

// MakeBox describes an owning heap pointer.
func MakeBox(elem TypeID) Type {
	return Type{Kind: KindBox, Elem: elem}
}

// MakeGenericParam describes the index-th generic parameter of the enclosing path.
func MakeGenericParam(index uint32) Type {
	return Type{Kind: KindGenericParam, Count: index}
}

// IsPointerLike reports whether values of this kind are addresses.
func (t Type) IsPointerLike() bool {
	switch t.Kind {
	case KindPointer, KindBorrow, KindBox, KindFnPtr:
		return true
	}
	return false
}

// IsInteger reports whether t is a signed or unsigned integer (char excluded).
func (t Type) IsInteger() bool {
	return t.Kind == KindInt || t.Kind == KindUint
}
