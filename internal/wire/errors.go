package wire

import (
	"errors"
	"fmt"
)

var (
	ErrBadMagic   = errors.New("wire: bad magic")
	ErrBadVersion = errors.New("wire: unsupported version")
	ErrTruncated  = errors.New("wire: truncated frame")
	ErrTooLarge   = errors.New("wire: frame too large")
)

// FrameError carries the offending frame length alongside one of the sentinel errors.
type FrameError struct {
	Kind error
	Len  int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v (len=%d)", e.Kind, e.Len)
}

func (e *FrameError) Unwrap() error {
	return e.Kind
}

func frameError(kind error, n int) error {
	return &FrameError{Kind: kind, Len: n}
}
