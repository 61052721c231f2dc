// Package errors provides error wrapping utilities for context-aware error messages
// and the error kinds surfaced by ingestion runs and queries.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure so callers can decide how to surface it.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindConfiguration   Kind = "configuration"
	KindNetwork         Kind = "network"
	KindParse           Kind = "parse"
	KindPersistence     Kind = "persistence"
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
)

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so that errors.Is(err, ErrNetwork) works on any
// wrapped *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrParse           = &Error{Kind: KindParse}
	ErrPersistence     = &Error{Kind: KindPersistence}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotFound        = &Error{Kind: KindNotFound}
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// E builds a classified error. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration reports missing or invalid settings.
func Configuration(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// InvalidArgument reports bad caller input.
func InvalidArgument(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

// NotFound reports a missing entity.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// New mirrors the standard library constructor.
func New(text string) error { return stderrors.New(text) }
