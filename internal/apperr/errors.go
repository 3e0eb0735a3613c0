package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable error category. Kinds are part of the
// API contract: they appear verbatim in HTTP error bodies and never change
// meaning between releases, while Message stays free to improve.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindInvalidSegment      Kind = "invalid_segment"
	KindUnsupportedLanguage Kind = "unsupported_language"
	KindNotFound            Kind = "not_found"
	KindNotReady            Kind = "not_ready"
	KindMediaNotReady       Kind = "media_not_ready"
	KindBusy                Kind = "busy"
	KindTaskExecution       Kind = "task_execution"
	KindDependencyFailed    Kind = "dependency_failed"
	KindInfrastructure      Kind = "infrastructure"
	KindUnknown             Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of err, unwrapping as needed. Errors that never
// passed through this package report KindUnknown.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
