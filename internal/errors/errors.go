// Package errors provides the closed set of error kinds surfaced by the gate client.
// Callers branch on ErrorCode (e.g. show a login prompt only for ErrAuthRequired),
// never on message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies the kind of failure.
type ErrorCode string

const (
	// ErrTransient means the request never reached the server or no response came back.
	// It is the only kind that is retried and the only one that triggers offline queuing.
	ErrTransient ErrorCode = "TRANSIENT_NETWORK"
	// ErrAuthRequired means the server answered 401 and no refresh could fix it.
	ErrAuthRequired ErrorCode = "AUTH_REQUIRED"
	// ErrRefreshFailed means the refresh exchange itself failed.
	ErrRefreshFailed ErrorCode = "REFRESH_FAILED"
	// ErrHTTP means the server answered with a non-2xx, non-401 status.
	ErrHTTP ErrorCode = "HTTP_ERROR"
	// ErrPersistence means the config store or queue storage failed.
	ErrPersistence ErrorCode = "PERSISTENCE_ERROR"

	// General errors
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a typed failure with optional HTTP details.
type AppError struct {
	Code    ErrorCode
	Message string
	// Status is the HTTP status for ErrAuthRequired and ErrHTTP; zero otherwise.
	Status int
	// Detail is the server-provided human readable message, if any.
	Detail string
	// ServerCode is the server-provided machine code, if any.
	ServerCode string
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Transient wraps a connection-level failure.
func Transient(message string, err error) *AppError {
	return Wrap(ErrTransient, message, err)
}

// Persistence wraps a storage failure.
func Persistence(message string, err error) *AppError {
	return Wrap(ErrPersistence, message, err)
}

// AuthRequired builds the error for an unrecoverable 401. detail is shown to the operator.
func AuthRequired(status int, detail string) *AppError {
	if detail == "" {
		detail = fmt.Sprintf("HTTP %d", status)
	}
	return &AppError{
		Code:    ErrAuthRequired,
		Message: detail,
		Status:  status,
		Detail:  detail,
	}
}

// HTTP builds the error for a rejected request. When the server sent neither a
// message nor a code the message falls back to "HTTP {status}".
func HTTP(status int, detail, serverCode string) *AppError {
	msg := detail
	if msg == "" {
		msg = serverCode
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return &AppError{
		Code:       ErrHTTP,
		Message:    msg,
		Status:     status,
		Detail:     detail,
		ServerCode: serverCode,
	}
}

// Is checks if err, or any error it wraps, is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}

// IsTransient reports whether err is a connection-level failure.
func IsTransient(err error) bool {
	return Is(err, ErrTransient)
}

// IsAuthRequired reports whether the operator has to log in again.
func IsAuthRequired(err error) bool {
	return Is(err, ErrAuthRequired)
}

// RefreshFailed wraps a failed token refresh exchange.
func RefreshFailed(message string, err error) *AppError {
	return Wrap(ErrRefreshFailed, message, err)
}

// InChain reports whether any AppError in err's chain has code, not only the outermost.
func InChain(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// NeedsLogin reports whether the operator must log in again: the server rejected the
// credentials, or rejected the refresh token. A refresh that failed only because the
// network dropped does not count.
func NeedsLogin(err error) bool {
	switch CodeOf(err) {
	case ErrAuthRequired:
		return true
	case ErrRefreshFailed:
		return !InChain(err, ErrTransient)
	default:
		return false
	}
}
