package domain

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind string

const (
	ExtractionFailure  Kind = "extraction"
	VisionFailure      Kind = "vision"
	ValidationFailure  Kind = "validation"
	PersistenceFailure Kind = "persistence"
	RecognitionFailure Kind = "recognition"
)

// Failure is the error type surfaced by every pipeline stage. Msg is safe to
// show to a user; Err keeps the underlying cause for logs.
type Failure struct {
	Kind Kind
	Msg  string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Msg
	}
	return fmt.Sprintf("%s: %v", f.Msg, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a Failure of the given kind.
func Fail(kind Kind, msg string, err error) error {
	return &Failure{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the failure kind of err, or "" if err is not a Failure.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrTitleRequired is returned when a record is confirmed or logged without a title.
var ErrTitleRequired = Fail(ValidationFailure, "Title is required", nil)
