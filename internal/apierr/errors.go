// Package apierr normalizes every failure raised while talking to the
// backend into a single error shape and keeps a bounded log of them.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNetwork    = "NETWORK_ERROR"
	CodeValidation = "VALIDATION_ERROR"
	CodeUnknown    = "UNKNOWN_ERROR"
)

// Error is the normalized failure returned to callers of the API client.
type Error struct {
	Message string         `json:"message" yaml:"message"`
	Code    string         `json:"code" yaml:"code"`
	Status  int            `json:"status" yaml:"status"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.Status)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// StatusCode returns the HTTP status associated with the error; zero for
// failures that never received a response.
func (e *Error) StatusCode() int {
	return e.Status
}

// ResponseError is a request that received a non-success response.
type ResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s %s: request failed with status code %d", e.Method, e.URL, e.StatusCode)
}

// RequestError is a request that was attempted but received no response.
type RequestError struct {
	Method string
	URL    string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func as(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsNetworkError reports whether err is a failure without a server response.
func IsNetworkError(err error) bool {
	if e, ok := as(err); ok {
		return e.Code == CodeNetwork
	}
	var re *RequestError
	return errors.As(err, &re)
}

// IsValidationError reports whether err is a normalized validation failure.
func IsValidationError(err error) bool {
	e, ok := as(err)
	return ok && e.Code == CodeValidation
}

// IsAuthError reports whether err is an authentication or authorization
// rejection.
func IsAuthError(err error) bool {
	e, ok := as(err)
	return ok && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}
