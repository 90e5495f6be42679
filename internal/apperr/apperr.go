// Package apperr defines the error kinds surfaced to callers. Each domain
// failure is an *Error with a terse public message; anything else is
// treated as a store or internal failure and never shown to clients.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindUntrustedEvent
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindUntrustedEvent:
		return "untrusted_event"
	case KindStore:
		return "store"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to the response code used by the HTTP layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindUntrustedEvent:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind and message so wrapped copies created with
// Wrap still compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches an underlying cause to a sentinel without changing its
// public message.
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Message: sentinel.Message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Store marks err as a persistence failure.
func Store(err error) *Error {
	return &Error{Kind: KindStore, Message: "storage failure", Err: err}
}

// KindOf classifies err. Errors that are not *Error are store failures when
// they come from a canceled context and internal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindStore
	}
	return KindInternal
}

// PublicMessage returns the message safe to show to a client. Only the
// message of an *Error is ever exposed, never its cause.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindStore {
		return appErr.Message
	}
	return "internal error"
}

var (
	ErrProductUnavailable  = New(KindNotFound, "product not available")
	ErrOutOfStock          = New(KindConflict, "out of stock")
	ErrInvalidAmount       = New(KindValidation, "amount does not match product price")
	ErrPrizeUnavailable    = New(KindNotFound, "prize not available")
	ErrInsufficientBalance = New(KindConflict, "insufficient cashback balance")
	ErrUntrustedEvent      = New(KindUntrustedEvent, "event signature verification failed")
	ErrOrderNotFound       = New(KindNotFound, "order not found")
	ErrUserNotFound        = New(KindNotFound, "user not found")
	ErrUnauthorized        = New(KindUnauthorized, "unauthorized")
	ErrInvalidToken        = New(KindUnauthorized, "invalid or expired token")
	ErrForbidden           = New(KindForbidden, "admin access required")
	ErrInvalidCredentials  = New(KindUnauthorized, "invalid email or password")
	ErrEmailTaken          = New(KindConflict, "email already registered")
	ErrCodeNotVerified     = New(KindValidation, "please verify your code first")
	ErrCodeInvalid         = New(KindValidation, "invalid code")
	ErrCodeExpired         = New(KindValidation, "code not found or expired")
	ErrCodeAttempts        = New(KindValidation, "too many attempts, request a new code")
	ErrVersionConflict     = New(KindConflict, "resource was modified concurrently")
	ErrPaymentProvider     = New(KindInternal, "payment provider unavailable")
)
