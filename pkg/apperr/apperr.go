// Package apperr defines the normalized error taxonomy used across the
// sync engine and the API surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeForbidden    = "FORBIDDEN"

	// Validation errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeMissingField = "MISSING_FIELD"

	// Resource errors
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"

	// Sync engine errors
	CodeCredentialRejected  = "CREDENTIAL_REJECTED"  // upstream auth failure; no retry
	CodeCredentialTampered  = "CREDENTIAL_TAMPERED"  // vault ciphertext failed authentication
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE" // DNS/TLS/5xx/timeouts; retryable
	CodeProtocolError       = "PROTOCOL_ERROR"       // unexpected IMAP response, malformed Graph payload
	CodeParseError          = "PARSE_ERROR"          // malformed RFC 5322 message

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
)

// AppError is a structured application error.
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"-"`
	Retryable bool   `json:"-"`
	Err       error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code.
func (e *AppError) HTTPStatus() int {
	return e.Status
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// Auth errors

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{Code: CodeUnauthorized, Message: message, Status: http.StatusUnauthorized}
}

func InvalidToken(message string) *AppError {
	return &AppError{Code: CodeInvalidToken, Message: message, Status: http.StatusUnauthorized}
}

// Validation errors

func BadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
	}
}

// Resource errors

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resource),
		Status:  http.StatusConflict,
	}
}

// Sync engine errors

// CredentialRejected marks an upstream AUTH failure. The sync job fails
// immediately; the account needs user intervention.
func CredentialRejected(provider string, err error) *AppError {
	return &AppError{
		Code:      CodeCredentialRejected,
		Message:   fmt.Sprintf("%s rejected the stored credentials", provider),
		Status:    http.StatusBadRequest,
		Retryable: false,
		Err:       err,
	}
}

// CredentialTampered marks a vault ciphertext that failed authentication.
func CredentialTampered(err error) *AppError {
	return &AppError{
		Code:      CodeCredentialTampered,
		Message:   "stored credential failed integrity check",
		Status:    http.StatusInternalServerError,
		Retryable: false,
		Err:       err,
	}
}

// ProviderUnavailable marks transient upstream failures (DNS, TLS, 5xx,
// socket timeouts). The queue retries these.
func ProviderUnavailable(provider string, err error) *AppError {
	return &AppError{
		Code:      CodeProviderUnavailable,
		Message:   fmt.Sprintf("%s is unavailable", provider),
		Status:    http.StatusBadGateway,
		Retryable: true,
		Err:       err,
	}
}

// ProtocolError marks an unexpected upstream response. The affected folder
// is skipped; siblings continue.
func ProtocolError(provider string, err error) *AppError {
	return &AppError{
		Code:      CodeProtocolError,
		Message:   fmt.Sprintf("unexpected %s response", provider),
		Status:    http.StatusBadGateway,
		Retryable: false,
		Err:       err,
	}
}

// ParseError marks a single malformed message. The message is skipped and
// counted; the chunk continues.
func ParseError(err error) *AppError {
	return &AppError{
		Code:      CodeParseError,
		Message:   "malformed message",
		Status:    http.StatusUnprocessableEntity,
		Retryable: false,
		Err:       err,
	}
}

// Internal errors

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{Code: CodeInternalError, Message: message, Status: http.StatusInternalServerError}
}

func ConfigError(message string) *AppError {
	return &AppError{Code: CodeConfigError, Message: message, Status: http.StatusInternalServerError}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Helpers

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// IsRetryable reports whether the queue should retry a job that failed
// with err. Unknown errors are retried; explicitly non-retryable kinds
// (credential failures, protocol and parse errors) are not.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
