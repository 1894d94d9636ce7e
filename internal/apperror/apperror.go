// Package apperror defines the error taxonomy shared by every layer.
//
// Services return *AppError values wrapping one of the sentinels below.
// Handlers never inspect messages; they match sentinels with errors.Is and
// pick the HTTP status from that (see handler/response.go).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthenticated means the caller identity is missing or invalid.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotConnected means no OAuth token record exists for (user, provider).
	// Remediation is the initial consent flow.
	ErrNotConnected = errors.New("mail provider not connected")

	// ErrAuthExpired means the stored grant can no longer be refreshed.
	// Remediation is re-consent; it is never retried automatically.
	ErrAuthExpired = errors.New("mail provider authorization expired")

	// ErrProvider covers network and 4xx/5xx failures from a mail provider.
	ErrProvider = errors.New("mail provider error")
)

type AppError struct {
	Err     error  // sentinel
	Message string // human-readable message, safe to show to users
	Field   string // optional: field causing the error
	Cause   error  // optional: underlying error, kept for logs only
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// NotConnected is returned when a sync is requested for a provider the user
// never authorized.
func NotConnected(provider string) *AppError {
	return &AppError{
		Err:     ErrNotConnected,
		Message: fmt.Sprintf("%s is not connected; connect it from settings first", provider),
	}
}

// AuthExpired is returned when the provider refused to refresh the grant.
func AuthExpired(provider string, cause error) *AppError {
	return &AppError{
		Err:     ErrAuthExpired,
		Message: fmt.Sprintf("%s authorization expired; reconnect it from settings", provider),
		Cause:   cause,
	}
}

func Provider(provider string, cause error) *AppError {
	return &AppError{
		Err:     ErrProvider,
		Message: fmt.Sprintf("%s request failed; try again later", provider),
		Cause:   cause,
	}
}
