// Package apperrors carries the console's error envelope from handlers to
// the error middleware.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError is rendered as {"error": {code, message, details}}.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return NewDomainError("NOT_FOUND", resource+" not found", http.StatusNotFound, details)
}

// NewUnauthenticated tells a JSON client where to sign in.
func NewUnauthenticated(message, loginPath string) error {
	return NewDomainError("UNAUTHENTICATED", message, http.StatusUnauthorized, map[string]any{"redirect": loginPath})
}

// NewLoginFailed carries the message shown on the login form.
func NewLoginFailed(message string) error {
	return NewDomainError("LOGIN_FAILED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

// NewAccessDenied reports a valid session lacking the rights a view requires.
func NewAccessDenied(details map[string]any) error {
	return NewDomainError("ACCESS_DENIED", "you don't have access to this page", http.StatusForbidden, details)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewTooManyRequests(message string) error {
	return NewDomainError("RATE_LIMITED", message, http.StatusTooManyRequests, nil)
}

// NewBackendRejected passes a backend 4xx through with its own status.
func NewBackendRejected(status int, message string) error {
	if status < 400 || status > 499 {
		status = http.StatusBadGateway
	}
	return NewDomainError("BACKEND_REJECTED", message, status, nil)
}

// NewUpstreamUnavailable wraps a network or timeout failure talking to the backend.
func NewUpstreamUnavailable(err error) error {
	return &DomainError{
		Code:       "UPSTREAM_UNAVAILABLE",
		Message:    "backend is unavailable, please try again",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError unwraps a DomainError from err, treating anything else as internal.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	de, _ := NewInternalError(err).(*DomainError)
	return de
}
