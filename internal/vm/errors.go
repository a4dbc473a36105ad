package vm

import (
	"errors"
	"fmt"
	"strings"

	"miri/internal/layout"
	"miri/internal/value"
)

// PanicCode identifies the kind of fatal interpreter error.
type PanicCode int

// Stable panic codes - do not change values.
const (
	PanicUnresolvedPath   PanicCode = 2001 // VM2001: path does not resolve to an item
	PanicArgMismatch      PanicCode = 2002 // VM2002: argument count or size mismatch
	PanicTypeMismatch     PanicCode = 2003 // VM2003: value does not fit its destination
	PanicInvalidAccess    PanicCode = 2004 // VM2004: out-of-bounds or invalid memory access
	PanicSplitPointer     PanicCode = 2005 // VM2005: pointer bytes read as data
	PanicUseAfterFree     PanicCode = 2006 // VM2006: access to a freed allocation
	PanicOutOfBounds      PanicCode = 2007 // VM2007: index or slot out of range
	PanicUnknownIntrinsic PanicCode = 2008 // VM2008: unsupported intrinsic
	PanicUnknownExtern    PanicCode = 2009 // VM2009: extern symbol without a native
	PanicLayout           PanicCode = 2010 // VM2010: type has no layout (erased, generic, unsized)
	PanicMissingDropGlue  PanicCode = 2011 // VM2011: drop glue path does not resolve
	PanicUnreachable      PanicCode = 2012 // VM2012: unreachable code executed
	PanicArithmetic       PanicCode = 2013 // VM2013: undefined arithmetic
	PanicInvalidProgram   PanicCode = 2014 // VM2014: malformed control flow
	PanicUnimplemented    PanicCode = 2999 // VM2999: unimplemented operation
)

// String returns the code as "VM2001" format.
func (c PanicCode) String() string {
	return fmt.Sprintf("VM%d", c)
}

// BacktraceFrame represents one frame in the error backtrace.
type BacktraceFrame struct {
	FuncName string
	Block    int
	Stmt     int
	Wrapper  bool
}

func (f BacktraceFrame) String() string {
	if f.Wrapper {
		return "<native continuation>"
	}
	return fmt.Sprintf("%s at bb%d[%d]", f.FuncName, f.Block, f.Stmt)
}

// VMError is a fatal interpreter error. It is never visible to the
// interpreted program.
type VMError struct {
	Code      PanicCode
	Message   string
	Path      string           // function executing when the error occurred
	Thread    uint64           // ID of the failing thread
	Backtrace []BacktraceFrame // top to bottom
}

// Error implements the error interface.
func (e *VMError) Error() string {
	return fmt.Sprintf("error %s: %s", e.Code, e.Message)
}

// Report renders the error with its backtrace.
func (e *VMError) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "error %s: %s\n", e.Code, e.Message)
	if e.Path != "" {
		fmt.Fprintf(&sb, "in %s\n", e.Path)
	}
	if len(e.Backtrace) > 0 {
		sb.WriteString("backtrace:\n")
		for i, fr := range e.Backtrace {
			fmt.Fprintf(&sb, "  %d: %s\n", i, fr)
		}
	}
	return sb.String()
}

// errorBuilder constructs VMError values with the thread's backtrace.
type errorBuilder struct {
	t *Thread
}

func (eb *errorBuilder) makeError(code PanicCode, msg string) *VMError {
	e := &VMError{
		Code:    code,
		Message: msg,
	}
	if eb.t == nil {
		return e
	}
	e.Thread = eb.t.opts.ID
	e.Backtrace = eb.t.Backtrace()
	for _, fr := range e.Backtrace {
		if !fr.Wrapper {
			e.Path = fr.FuncName
			break
		}
	}
	return e
}

func (eb *errorBuilder) unresolved(what, key string) *VMError {
	return eb.makeError(PanicUnresolvedPath, fmt.Sprintf("%s %q does not resolve", what, key))
}

func (eb *errorBuilder) typeMismatch(what string, want, got int) *VMError {
	return eb.makeError(PanicTypeMismatch, fmt.Sprintf("%s: expected %d bytes, got %d", what, want, got))
}

func (eb *errorBuilder) outOfBounds(what string, index, length uint64) *VMError {
	return eb.makeError(PanicOutOfBounds, fmt.Sprintf("%s %d out of bounds for length %d", what, index, length))
}

func (eb *errorBuilder) unsupportedIntrinsic(name string) *VMError {
	return eb.makeError(PanicUnknownIntrinsic, fmt.Sprintf("unsupported intrinsic: %s", name))
}

func (eb *errorBuilder) invalidProgram(format string, args ...any) *VMError {
	return eb.makeError(PanicInvalidProgram, fmt.Sprintf(format, args...))
}

func (eb *errorBuilder) unimplemented(what string) *VMError {
	return eb.makeError(PanicUnimplemented, fmt.Sprintf("unimplemented: %s", what))
}

// memory maps a value-store error to the matching fatal code.
func (eb *errorBuilder) memory(what string, err error) *VMError {
	code := PanicInvalidAccess
	switch {
	case errors.Is(err, value.ErrSplitPointer):
		code = PanicSplitPointer
	case errors.Is(err, value.ErrUseAfterFree):
		code = PanicUseAfterFree
	}
	return eb.makeError(code, fmt.Sprintf("%s: %v", what, err))
}

// badLayout maps a layout failure to PanicLayout.
func (eb *errorBuilder) badLayout(err error) *VMError {
	var le *layout.LayoutError
	if errors.As(err, &le) && le.Kind == layout.LayoutErrUnresolved {
		return eb.makeError(PanicLayout, fmt.Sprintf("type is not monomorphic at runtime: %v", err))
	}
	return eb.makeError(PanicLayout, err.Error())
}
