package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures and diagnostics raised by the pipeline.
type Kind string

const (
	InvalidConfiguration Kind = "invalid_configuration"
	InvalidInput         Kind = "invalid_input"
	StructuralAmbiguity  Kind = "structural_ambiguity"
	GenerationShortfall  Kind = "generation_shortfall"
	UpstreamFailure      Kind = "upstream_failure"
	Internal             Kind = "internal"
)

// Error is the explicit error object surfaced to callers. It always carries a
// kind so the HTTP layer can pick a status without string matching.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is(err, &apperr.Error{Kind: k}) is a
// kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Upstream wraps a Text Source or backend failure with the id of the
// document or job it happened for.
func Upstream(err error, id, format string, args ...any) *Error {
	return &Error{Kind: UpstreamFailure, Message: fmt.Sprintf(format, args...), Details: id, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Diagnostic is a non-fatal signal reported alongside a result.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func Diagnose(kind Kind, format string, args ...any) Diagnostic {
	return Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
