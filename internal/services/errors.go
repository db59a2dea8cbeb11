package services

import (
	"errors"
	"fmt"

	"github.com/license-console/license-console/internal/validation"
)

// Kind classifies a domain error for callers that translate it into a transport response
type Kind int

const (
	KindValidation Kind = iota + 1 // malformed or out-of-range input
	KindNotFound                   // unknown id
	KindConflict                   // operation disallowed in the current state
	KindStorage                    // persistence failure; nothing was committed
	KindForbidden                  // license status does not permit the request
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindForbidden:
		return "forbidden"
	}
	return "unknown"
}

// FieldError describes one invalid input field
type FieldError = validation.FieldError

// Error is the single error type returned by the catalog, lifecycle engine and ledger
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ValidationError reports invalid input, optionally field by field
func ValidationError(message string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// NotFoundError reports an unknown resource id
func NotFoundError(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// ConflictError reports an operation that the current state does not allow
func ConflictError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// StorageError wraps a persistence failure
func StorageError(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// ForbiddenError reports a license whose status denies access
func ForbiddenError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// fromValidation converts the output of validation.Struct into a ValidationError
func fromValidation(err error) error {
	if err == nil {
		return nil
	}
	var fe validation.FieldErrors
	if errors.As(err, &fe) {
		return ValidationError("invalid input", fe...)
	}
	return ValidationError(err.Error())
}

// KindOf returns the Kind of err, or 0 if err is not a domain error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsStorage reports whether err is a storage error
func IsStorage(err error) bool { return KindOf(err) == KindStorage }

// IsForbidden reports whether err is a forbidden error
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }
