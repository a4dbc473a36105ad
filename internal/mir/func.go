package mir

import (
	"miri/internal/types"
	"miri/internal/value"
)

// ABI tags for bodiless functions.
const (
	ABIRust      = "Rust"
	ABIC         = "C"
	ABIIntrinsic = "rust-intrinsic"
)

// Linkage names the host symbol behind a bodiless function.
type Linkage struct {
	Symbol string
	ABI    string
}

type Func struct {
	Path   Path
	Params []Local
	Result types.TypeID

	Locals []Local
	Blocks []Block

	// Linkage is used when the function has no body.
	Linkage Linkage

	// ErasedTypes holds the concrete templates for this function's opaque
	// return types; they may mention the path's generic parameters.
	ErasedTypes []types.TypeID

	IsTest bool
}

// HasBody reports whether f is interpreted rather than dispatched to a
// native handler or intrinsic.
func (f *Func) HasBody() bool {
	return f != nil && len(f.Blocks) != 0
}

// IsIntrinsic reports whether f is a compiler intrinsic declaration.
func (f *Func) IsIntrinsic() bool {
	return f != nil && !f.HasBody() && f.Linkage.ABI == ABIIntrinsic
}

// Symbol is the name used to look up a bodiless function in the host tables.
func (f *Func) Symbol() string {
	if f.Linkage.Symbol != "" {
		return f.Linkage.Symbol
	}
	return f.Path.Name
}

// Static is a global item with an initial value image.
type Static struct {
	Path    Path
	Type    types.TypeID
	Mutable bool
	Init    value.Image
}
