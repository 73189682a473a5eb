package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a tcap error code.
type ErrorCode string

const (
	ErrConfig     ErrorCode = "CONFIG"     // missing or placeholder deployment config, fatal
	ErrAuth       ErrorCode = "AUTH"       // identity provider rejected the request
	ErrAPI        ErrorCode = "API"        // non-2xx from the backend
	ErrTransport  ErrorCode = "TRANSPORT"  // network-level failure
	ErrUpload     ErrorCode = "UPLOAD"     // attachment encoding or upload failure
	ErrValidation ErrorCode = "VALIDATION" // client-side input rules
	ErrInternal   ErrorCode = "INTERNAL"   // 500
)

// Auth failure reasons carried in Details["reason"].
const (
	ReasonUserExists     = "user_exists"
	ReasonWeakPassword   = "weak_password"
	ReasonBadCredentials = "bad_credentials"
	ReasonUnconfirmed    = "unconfirmed"
	ReasonCodeMismatch   = "code_mismatch"
	ReasonCodeExpired    = "code_expired"
	ReasonNoSuchUser     = "no_such_user"
	ReasonLimitExceeded  = "limit_exceeded"
	ReasonChallenge      = "unsupported_challenge"
	ReasonProvider       = "provider"
	ReasonNoSession      = "no_session"
)

// TcapError represents a structured error with code, status, and details.
type TcapError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *TcapError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *TcapError) Unwrap() error {
	return e.Err
}

// NewConfig creates an error for missing or placeholder deployment settings.
func NewConfig(msg string, fields ...string) *TcapError {
	e := &TcapError{
		Code:    ErrConfig,
		Status:  500,
		Message: msg,
	}
	if len(fields) > 0 {
		e.Details = map[string]any{"fields": fields}
	}
	return e
}

// NewAuth creates a 401 error for identity provider failures.
// reason is one of the Reason* constants; cause may be nil.
func NewAuth(reason, msg string, cause error) *TcapError {
	return &TcapError{
		Code:    ErrAuth,
		Status:  401,
		Message: msg,
		Details: map[string]any{"reason": reason},
		Err:     cause,
	}
}

// NewAPI creates an error for a non-2xx backend response.
// An empty msg falls back to a generic message.
func NewAPI(status int, msg string) *TcapError {
	if msg == "" {
		msg = "API request failed"
	}
	return &TcapError{
		Code:    ErrAPI,
		Status:  status,
		Message: msg,
	}
}

// NewTransport creates a 502 error for network-level failures.
func NewTransport(cause error) *TcapError {
	msg := "network error"
	if cause != nil {
		msg = cause.Error()
	}
	return &TcapError{
		Code:    ErrTransport,
		Status:  502,
		Message: msg,
		Err:     cause,
	}
}

// NewUpload creates an error for a failed attachment upload.
func NewUpload(fileName string, cause error) *TcapError {
	msg := fmt.Sprintf("upload of %s failed", fileName)
	if cause != nil {
		msg = fmt.Sprintf("upload of %s failed: %s", fileName, Message(cause))
	}
	return &TcapError{
		Code:    ErrUpload,
		Status:  502,
		Message: msg,
		Details: map[string]any{"file_name": fileName},
		Err:     cause,
	}
}

// NewValidation creates a 400 error for client-side validation failures.
func NewValidation(msg string) *TcapError {
	return &TcapError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *TcapError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &TcapError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is checks if err (or anything it wraps) is a TcapError with the given code.
func Is(err error, code ErrorCode) bool {
	var tErr *TcapError
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// Reason returns the auth reason recorded on err, or "".
func Reason(err error) string {
	var tErr *TcapError
	if stderrors.As(err, &tErr) && tErr.Details != nil {
		if r, ok := tErr.Details["reason"].(string); ok {
			return r
		}
	}
	return ""
}

// Message returns the human-readable part of err without the code prefix.
func Message(err error) string {
	var tErr *TcapError
	if stderrors.As(err, &tErr) {
		return tErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// As wraps the standard library errors.As so callers need only one errors import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
