package apperr

import (
	"errors"
	"fmt"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Kind     Kind
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a kind, code and message.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithMetadata creates a domain error carrying reconciliation context.
func WithMetadata(kind Kind, code Code, message string, metadata map[string]string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Metadata: metadata}
}

// Sentinels usable with errors.Is.
var (
	ErrEventFull         = New(KindConflict, CodeEventFull, "event is at capacity")
	ErrAlreadyRegistered = New(KindConflict, CodeAlreadyRegistered, "participant already registered for event")
	ErrAlreadyCancelled  = New(KindConflict, CodeAlreadyCancelled, "registration already cancelled")
	ErrEventNotOpen      = New(KindConflict, CodeEventNotOpen, "event is not open for registration")
	ErrLockTimeout       = New(KindTransient, CodeLockTimeout, "timed out waiting for lock")
	ErrNotFound          = New(KindNotFound, CodeNotFound, "not found")
)

// Validation is shorthand for a validation error.
func Validation(code Code, format string, args ...any) *Error {
	return New(KindValidation, code, fmt.Sprintf(format, args...))
}

// Authorization is shorthand for an authorization error.
func Authorization(code Code, format string, args ...any) *Error {
	return New(KindAuthorization, code, fmt.Sprintf(format, args...))
}

// NotFound is shorthand for a lookup failure.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, CodeNotFound, fmt.Sprintf(format, args...))
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeUnknown
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
