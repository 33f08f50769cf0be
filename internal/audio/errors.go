package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is the category of every error returned while normalizing a WAV file.
	ErrFormat = errors.New("audio format error")

	ErrNotAContainer     = errors.New("not a RIFF/WAVE container")
	ErrNoDataChunk       = errors.New("data chunk not found")
	ErrUnsupportedDepth  = errors.New("unsupported bits per sample")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrUnreadable        = errors.New("unreadable audio")
)

// FormatError carries the failing kind plus whatever caused it.
type FormatError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("audio: %v", e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() []error {
	errs := []error{ErrFormat, e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func formatErr(kind error, err error, format string, args ...any) error {
	return &FormatError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}
