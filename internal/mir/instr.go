package mir

import (
	"miri/internal/types"
)

// InstrKind enumerates statement kinds in MIR.
type InstrKind uint8

const (
	// InstrAssign evaluates an rvalue into a place.
	InstrAssign InstrKind = iota
	// InstrDrop runs drop glue for a place.
	InstrDrop
	// InstrSetDropFlag sets or clears a slot's drop flag.
	InstrSetDropFlag
	// InstrNop does nothing.
	InstrNop
)

// Instr represents a MIR statement.
type Instr struct {
	Kind InstrKind

	Assign      AssignInstr
	Drop        DropInstr
	SetDropFlag SetDropFlagInstr
}

// AssignInstr represents an assignment instruction. Assigning a whole local
// sets its drop flag.
type AssignInstr struct {
	Dst Place
	Src RValue
}

// DropInstr drops the value at Place. A whole-slot drop is skipped when the
// slot's drop flag is clear, and clears it otherwise.
type DropInstr struct {
	Place   Place
	Shallow bool
}

// SetDropFlagInstr writes a drop flag directly.
type SetDropFlagInstr struct {
	Place Place // whole local or argument
	Value bool
}

// OperandKind distinguishes operand types.
type OperandKind uint8

const (
	// OperandConst represents a constant operand.
	OperandConst OperandKind = iota
	// OperandCopy represents a copy operand.
	OperandCopy
	// OperandMove represents a move operand.
	OperandMove
)

// Operand represents a MIR operand.
type Operand struct {
	Kind OperandKind

	Const Const
	Place Place
}

// ConstKind distinguishes constant kinds.
type ConstKind uint8

const (
	// ConstInt represents a signed integer constant.
	ConstInt ConstKind = iota
	// ConstUint represents an unsigned integer constant.
	ConstUint
	// ConstFloat represents a float constant.
	ConstFloat
	// ConstBool represents a boolean constant.
	ConstBool
	// ConstUnit represents the unit value.
	ConstUnit
	// ConstBytes is a by-value byte array.
	ConstBytes
	// ConstStr is a &str to immutable string data.
	ConstStr
	// ConstFn is a function pointer.
	ConstFn
	// ConstStaticRef is a reference to a static item.
	ConstStaticRef
)

// Const represents a MIR constant.
type Const struct {
	Kind ConstKind
	Type types.TypeID

	IntValue   int64
	UintValue  uint64
	FloatValue float64
	BoolValue  bool
	Bytes      []byte
	Str        string
	Path       Path
}

// RValueKind distinguishes right-hand value kinds.
type RValueKind uint8

const (
	// RValueUse represents a use of an operand.
	RValueUse RValueKind = iota
	// RValueRef borrows a place.
	RValueRef
	// RValueAddrOf takes a raw pointer to a place.
	RValueAddrOf
	// RValueBinaryOp represents a binary operation.
	RValueBinaryOp
	// RValueCheckedBinaryOp yields (result, overflowed).
	RValueCheckedBinaryOp
	// RValueUnaryOp represents a unary operation.
	RValueUnaryOp
	// RValueCast represents a cast operation.
	RValueCast
	// RValueAggregate builds a struct, tuple or array from its parts.
	RValueAggregate
	// RValueRepeat fills an array with one operand.
	RValueRepeat
	// RValueMakeFat builds a fat pointer from a data pointer and metadata.
	RValueMakeFat
	// RValueFatMeta extracts the metadata word of a fat pointer.
	RValueFatMeta
	// RValueFatPtr extracts the data pointer of a fat pointer.
	RValueFatPtr
)

// RValue represents a right-hand value in MIR. The destination place
// determines the result type.
type RValue struct {
	Kind RValueKind

	Use       Operand
	Ref       RefOp
	Binary    BinaryOp
	Unary     UnaryOp
	Cast      CastOp
	Aggregate Aggregate
	Repeat    Repeat
	MakeFat   MakeFat
}

// RefOp borrows or takes the address of a place.
type RefOp struct {
	Place   Place
	Mutable bool
}

// BinOp enumerates binary operators.
type BinOp uint8

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinRem
	BinBitAnd
	BinBitOr
	BinBitXor
	BinShl
	BinShr
	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
	// BinOffset displaces a pointer by a count of pointee-sized elements.
	BinOffset
)

var binOpNames = [...]string{
	BinAdd: "+", BinSub: "-", BinMul: "*", BinDiv: "/", BinRem: "%",
	BinBitAnd: "&", BinBitOr: "|", BinBitXor: "^", BinShl: "<<", BinShr: ">>",
	BinEq: "==", BinNe: "!=", BinLt: "<", BinLe: "<=", BinGt: ">", BinGe: ">=",
	BinOffset: "offset",
}

func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return "?"
}

// IsComparison reports whether op yields a bool.
func (op BinOp) IsComparison() bool {
	return op >= BinEq && op <= BinGe
}

// BinaryOp represents a binary operation.
type BinaryOp struct {
	Op    BinOp
	Left  Operand
	Right Operand
}

// UnOp enumerates unary operators.
type UnOp uint8

const (
	UnNeg UnOp = iota
	UnNot
)

// UnaryOp represents a unary operation.
type UnaryOp struct {
	Op      UnOp
	Operand Operand
}

// CastOp represents a cast operation.
type CastOp struct {
	Value    Operand
	TargetTy types.TypeID
}

// Aggregate lists the parts of a struct, tuple or array in order.
type Aggregate struct {
	Elems []Operand
}

// Repeat fills an array of the destination type with Elem.
type Repeat struct {
	Elem Operand
}

// MakeFat combines a data pointer with its metadata. FatMeta and FatPtr use
// Ptr as their single input.
type MakeFat struct {
	Ptr  Operand
	Meta Operand
}

// Copy is shorthand for a copy operand.
func Copy(p Place) Operand { return Operand{Kind: OperandCopy, Place: p} }

// Move is shorthand for a move operand.
func Move(p Place) Operand { return Operand{Kind: OperandMove, Place: p} }

// ConstOperand wraps c.
func ConstOperand(c Const) Operand { return Operand{Kind: OperandConst, Const: c} }

// IntConst is a signed integer constant of type ty.
func IntConst(ty types.TypeID, v int64) Operand {
	return ConstOperand(Const{Kind: ConstInt, Type: ty, IntValue: v})
}

// UintConst is an unsigned integer constant of type ty.
func UintConst(ty types.TypeID, v uint64) Operand {
	return ConstOperand(Const{Kind: ConstUint, Type: ty, UintValue: v})
}

// BoolConst is a boolean constant of type ty.
func BoolConst(ty types.TypeID, v bool) Operand {
	return ConstOperand(Const{Kind: ConstBool, Type: ty, BoolValue: v})
}

// FnConst is a function pointer constant.
func FnConst(ty types.TypeID, p Path) Operand {
	return ConstOperand(Const{Kind: ConstFn, Type: ty, Path: p})
}

// Assign builds an assignment statement.
func Assign(dst Place, src RValue) Instr {
	return Instr{Kind: InstrAssign, Assign: AssignInstr{Dst: dst, Src: src}}
}

// Use wraps an operand as an rvalue.
func Use(op Operand) RValue {
	return RValue{Kind: RValueUse, Use: op}
}
