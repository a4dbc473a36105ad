package value

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAccess reports an access outside the allocation bounds.
	ErrInvalidAccess = errors.New("invalid access")
	// ErrSplitPointer reports a read that observes part of a relocation as raw bytes.
	ErrSplitPointer = errors.New("misaligned or split pointer")
	// ErrUseAfterFree reports an access to an allocation that was freed.
	ErrUseAfterFree = errors.New("use after free")
)

// AccessError describes a rejected access. It matches one of the sentinel
// errors through errors.Is.
type AccessError struct {
	Err    error
	Offset int
	Len    int
	Size   int
}

func (e *AccessError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v: [%d, +%d) in allocation of %d bytes", e.Err, e.Offset, e.Len, e.Size)
}

func (e *AccessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func accessErr(kind error, off, n, size int) error {
	return &AccessError{Err: kind, Offset: off, Len: n, Size: size}
}
