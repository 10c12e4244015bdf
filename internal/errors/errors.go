// Package errors defines the service error taxonomy surfaced by the gateway.
// Every failure that crosses the HTTP boundary is mapped to a ServiceError so
// callers see a stable code and status while internals stay in the logs.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error category on the wire.
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeSignatureInvalid Code = "SIGNATURE_INVALID"
	CodeTimestampExpired Code = "TIMESTAMP_EXPIRED"
	CodePayloadMalformed Code = "PAYLOAD_MALFORMED"
	CodeInvalidLicense   Code = "INVALID_LICENSE"
	CodeSessionActive    Code = "SESSION_ACTIVE"
	CodeAccountMismatch  Code = "ACCOUNT_MISMATCH"
	CodeInsufficient     Code = "INSUFFICIENT_CREDITS"
	CodeUnknownAction    Code = "UNKNOWN_ACTION"
	CodeConflict         Code = "TRANSACTION_CONFLICT"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// ServiceError carries an error code, HTTP status and optional public details.
type ServiceError struct {
	Code       Code
	HTTPStatus int
	Message    string
	Details    map[string]interface{}
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a public detail field and returns the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, HTTPStatus: status, Message: message, cause: cause}
}

// Validation reports a malformed request (missing fields, bad JSON).
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// SignatureInvalid reports a failed HMAC check on a signed envelope.
func SignatureInvalid() *ServiceError {
	return newError(CodeSignatureInvalid, http.StatusBadRequest, "request signature does not match payload", nil)
}

// TimestampExpired reports an envelope timestamp outside the accepted window.
func TimestampExpired(windowSeconds int64) *ServiceError {
	e := newError(CodeTimestampExpired, http.StatusBadRequest, "request timestamp outside valid window", nil)
	return e.WithDetails("window_seconds", windowSeconds)
}

// PayloadMalformed reports an envelope payload that could not be decoded.
func PayloadMalformed(cause error) *ServiceError {
	return newError(CodePayloadMalformed, http.StatusBadRequest, "request payload could not be decoded", cause)
}

// InvalidLicense reports an unknown or inactive license key.
func InvalidLicense() *ServiceError {
	return newError(CodeInvalidLicense, http.StatusUnauthorized, "invalid or inactive license key", nil)
}

// SessionActive reports the license being held by another caller.
func SessionActive(activeSince string, timeoutSeconds int64) *ServiceError {
	e := newError(CodeSessionActive, http.StatusUnauthorized, "license key is currently in use by another session", nil)
	e.WithDetails("active_since", activeSince)
	return e.WithDetails("session_timeout_seconds", timeoutSeconds)
}

// AccountMismatch reports a permanently bound license used with a different identity.
func AccountMismatch(boundTo string) *ServiceError {
	e := newError(CodeAccountMismatch, http.StatusUnauthorized, "license key is bound to a different identity", nil)
	return e.WithDetails("bound_to", boundTo)
}

// InsufficientCredits reports a balance too low for the requested action.
func InsufficientCredits(needed, remaining int64) *ServiceError {
	e := newError(CodeInsufficient, http.StatusPaymentRequired, "insufficient credits", nil)
	e.WithDetails("credits_needed", needed)
	return e.WithDetails("credits_remaining", remaining)
}

// UnknownAction reports an action no routing rule matched.
func UnknownAction(action string) *ServiceError {
	e := newError(CodeUnknownAction, http.StatusNotFound, "unknown action", nil)
	return e.WithDetails("action", action)
}

// Conflict reports a transaction that was already finalized.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// Unauthorized reports a generic authentication failure.
func Unauthorized(message string) *ServiceError {
	return newError(CodeInvalidLicense, http.StatusUnauthorized, message, nil)
}

// Internal wraps an unexpected fault. The cause is logged, never serialized.
func Internal(message string, cause error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, cause)
}

// GetServiceError extracts a *ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == code
}
