package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies run failures.
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindExtraction  Kind = "ExtractionError"
	KindTranslation Kind = "TranslationError"
	KindRebuild     Kind = "RebuildError"
	KindUnknown     Kind = "UnknownError"
)

var (
	// ErrBusy is returned when resetting or restarting a run in flight.
	ErrBusy = errors.New("run in progress")
	// ErrInvalidTransition is returned for operations the current state
	// does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNoFile is returned when starting a run without a file.
	ErrNoFile = errors.New("no file selected")
)

// Error is a classified run failure.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the human-readable text shown to users.
func (e *Error) Message() string {
	if e.Kind == KindValidation {
		return e.Err.Error()
	}
	return "Processing failed: " + e.Err.Error()
}

func newError(kind Kind, state State, err error) *Error {
	return &Error{Kind: kind, State: state, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}
