package market

import (
	"errors"
	"fmt"
)

// Kind classifies market errors so transport layers can map them to
// status codes without inspecting messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindInsufficient
	KindForbidden
	KindConflict
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficient:
		return "insufficient"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Sentinel errors for the common data absences and rejections.
var (
	ErrMarketNotFound      = &Error{Kind: KindNotFound, Message: "no such market"}
	ErrOrderNotFound       = &Error{Kind: KindNotFound, Message: "no such order"}
	ErrItemNotFound        = &Error{Kind: KindNotFound, Message: "no such item"}
	ErrTransactionNotFound = &Error{Kind: KindNotFound, Message: "no such transaction"}
	ErrNotEnoughItems      = &Error{Kind: KindInsufficient, Message: "not enough items"}
	ErrMarketExists        = &Error{Kind: KindConflict, Message: "market already exists"}
)

// Error is the typed error all market components fail with.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind and message, so sentinels compare
// equal to any error built with the same pair.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// NewValidationError reports malformed or out-of-range input.
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports an absent entity.
func NewNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInsufficientError reports a ledger update that would overdraw a balance.
func NewInsufficientError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInsufficient, Message: fmt.Sprintf(format, args...)}
}

// NewForbiddenError reports an operation the caller may not perform.
func NewForbiddenError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError reports a state conflict (duplicate market, wrong market).
func NewConflictError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewStorageError wraps a database-layer failure. The cause is kept for
// logging; transports surface only the message.
func NewStorageError(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

// KindOf extracts the Kind from an error chain. Unrecognized errors
// classify as KindStorage so they surface as internal failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}
