package asset

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is the category of every error returned by Decode.
	ErrFormat = errors.New("invalid filters/vocab asset")

	ErrBadMagic  = errors.New("bad magic")
	ErrTruncated = errors.New("truncated data")
)

// FormatError describes where decoding stopped.
type FormatError struct {
	Kind   error // ErrBadMagic or ErrTruncated
	Offset int
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("asset: %v at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

func (e *FormatError) Unwrap() []error {
	return []error{ErrFormat, e.Kind}
}
