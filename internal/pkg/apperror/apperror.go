// Package apperror defines the error taxonomy shared by the gateway client,
// the subscription store and the HTTP layer.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError is a malformed request. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for a single field.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ConfigurationError means a required setting (credentials, bucket, ...) is
// missing. Operator-actionable.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Setting)
}

// GatewayError is a failure reported by, or reaching, the payment gateway.
type GatewayError struct {
	Op         string
	StatusCode int // 0 when the gateway was never reached
	Message    string
	Retryable  bool
	Attempts   int
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "payment gateway request failed"
	}
	out := fmt.Sprintf("gateway %s", e.Op)
	if e.StatusCode > 0 {
		out += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		out += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	return out + ": " + msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NotFoundError covers unknown plan ids and unknown payment ids.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// NotFound builds a NotFoundError.
func NotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

// IsRetryable reports whether the caller may try the same request again later.
func IsRetryable(err error) bool {
	var gw *GatewayError
	return errors.As(err, &gw) && gw.Retryable
}

// HTTPStatus maps an error onto the status code surfaced to API clients.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ce *ConfigurationError
		ge *GatewayError
		ne *NotFoundError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ne):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusInternalServerError
	case errors.As(err, &ge):
		switch {
		case ge.Retryable && ge.StatusCode == 0:
			return http.StatusServiceUnavailable
		case ge.Retryable:
			return http.StatusBadGateway
		case ge.StatusCode == http.StatusNotFound:
			return http.StatusNotFound
		case ge.StatusCode >= 400 && ge.StatusCode < 500:
			return http.StatusBadRequest
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// Code is the short machine-readable error identifier used in JSON bodies.
func Code(err error) string {
	var (
		ve *ValidationError
		ce *ConfigurationError
		ge *GatewayError
		ne *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &ce):
		return "configuration_error"
	case errors.As(err, &ge):
		return "gateway_error"
	default:
		return "internal_error"
	}
}
