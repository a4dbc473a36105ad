package layout

import (
	"fmt"
	"strings"

	"miri/internal/types"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrRecursiveUnsized indicates a recursive type with no fixed size.
	LayoutErrRecursiveUnsized LayoutErrorKind = iota + 1
	LayoutErrLengthConversion
	LayoutErrUnsized
	LayoutErrUnresolved
	LayoutErrUnknownType
	LayoutErrFieldIndex
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind  LayoutErrorKind
	Type  types.TypeID
	Cycle []types.TypeID // for LayoutErrRecursiveUnsized
	Value int64          // for LayoutErrFieldIndex
	Err   error          // for LayoutErrLengthConversion
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrRecursiveUnsized:
		if len(e.Cycle) == 0 {
			return fmt.Sprintf("recursive value type has infinite size (type#%d)", e.Type)
		}
		parts := make([]string, 0, len(e.Cycle))
		for _, id := range e.Cycle {
			parts = append(parts, fmt.Sprintf("type#%d", id))
		}
		return fmt.Sprintf("recursive value type has infinite size (cycle: %s)", strings.Join(parts, " -> "))
	case LayoutErrLengthConversion:
		if e.Err != nil {
			return fmt.Sprintf("array size overflow (type#%d): %v", e.Type, e.Err)
		}
		return fmt.Sprintf("array size overflow (type#%d)", e.Type)
	case LayoutErrUnsized:
		return fmt.Sprintf("type#%d is unsized", e.Type)
	case LayoutErrUnresolved:
		return fmt.Sprintf("type#%d is not monomorphic (erased or generic)", e.Type)
	case LayoutErrUnknownType:
		return fmt.Sprintf("unknown type#%d", e.Type)
	case LayoutErrFieldIndex:
		return fmt.Sprintf("field index %d out of range for type#%d", e.Value, e.Type)
	default:
		return fmt.Sprintf("layout error kind=%d type#%d", e.Kind, e.Type)
	}
}
