package erased

import (
	"fmt"
	"strings"
)

// ErrorKind classifies expansion failures.
type ErrorKind uint8

const (
	ErrCycle ErrorKind = iota + 1
	ErrUnresolvedOrigin
	ErrIndexOutOfRange
	ErrGenericOutOfRange
)

// Error reports why an erased type could not be expanded.
type Error struct {
	Kind   ErrorKind
	Origin string
	Index  int
	Len    int
	Chain  []string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrCycle:
		return fmt.Sprintf("erased type expansion cycle: %s", strings.Join(e.Chain, " -> "))
	case ErrUnresolvedOrigin:
		return fmt.Sprintf("erased type origin %s does not resolve to a function", e.Origin)
	case ErrIndexOutOfRange:
		return fmt.Sprintf("erased type index %d out of range for %s (%d templates)", e.Index, e.Origin, e.Len)
	case ErrGenericOutOfRange:
		return fmt.Sprintf("generic parameter %d out of range for %s (%d arguments)", e.Index, e.Origin, e.Len)
	default:
		return fmt.Sprintf("erased type error kind=%d", e.Kind)
	}
}
