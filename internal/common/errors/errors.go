// Package errors provides the standardized error taxonomy for the recommendation pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	ErrCodeKeysExhausted ErrorCode = "KEYS_EXHAUSTED"
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"
	ErrCodeProviderError ErrorCode = "PROVIDER_ERROR"

	ErrCodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	ErrCodeParseError        ErrorCode = "PARSE_ERROR"

	ErrCodeCatalogUnavailable   ErrorCode = "CATALOG_UNAVAILABLE"
	ErrCodeProductRequestFailed ErrorCode = "PRODUCT_REQUEST_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is reports whether target carries the same error code, so that
// errors.Is(err, ErrRateLimited) matches any rate-limit error.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidRequest       = &StandardError{Code: ErrCodeInvalidRequest}
	ErrKeysExhausted        = &StandardError{Code: ErrCodeKeysExhausted}
	ErrRateLimited          = &StandardError{Code: ErrCodeRateLimited}
	ErrProviderError        = &StandardError{Code: ErrCodeProviderError}
	ErrMalformedResponse    = &StandardError{Code: ErrCodeMalformedResponse}
	ErrParseError           = &StandardError{Code: ErrCodeParseError}
	ErrCatalogUnavailable   = &StandardError{Code: ErrCodeCatalogUnavailable}
	ErrProductRequestFailed = &StandardError{Code: ErrCodeProductRequestFailed}
)

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidRequestError creates a non-retryable input validation error.
func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   "Invalid request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewKeysExhaustedError is returned when a provider has no usable credential.
func NewKeysExhaustedError(providerID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeKeysExhausted,
		Message:   "No usable API key",
		Details:   fmt.Sprintf("provider: %s", providerID),
		Retryable: false,
		Metadata:  map[string]interface{}{"provider": providerID},
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError is returned when the vendor answered 429.
func NewRateLimitedError(providerID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Provider rate limit reached",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"provider": providerID},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderError carries the vendor's HTTP status and message.
func NewProviderError(providerID string, status int, message string, cause error) *StandardError {
	details := message
	if status > 0 {
		details = fmt.Sprintf("status %d: %s", status, message)
	}
	return &StandardError{
		Code:      ErrCodeProviderError,
		Message:   "Provider request failed",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"provider": providerID, "status": status},
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewMalformedResponseError is returned when a 2xx body lacks the expected text field.
func NewMalformedResponseError(providerID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedResponse,
		Message:   "Provider response missing text",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"provider": providerID},
		Timestamp: time.Now().UTC(),
	}
}

// NewParseError is returned when model output does not match the expected JSON shape.
func NewParseError(stage string, cause error) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      ErrCodeParseError,
		Message:   "Model output could not be parsed",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"stage": stage},
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewCatalogUnavailableError wraps a failed catalog read.
func NewCatalogUnavailableError(operation string, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCatalogUnavailable,
		Message:   "Catalog read failed",
		Details:   fmt.Sprintf("%s: %v", operation, cause),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewInternalError covers failures that are not caused by input or collaborators.
func NewInternalError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Internal error",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProductRequestFailedError wraps a failed product request write.
func NewProductRequestFailedError(cause error) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      ErrCodeProductRequestFailed,
		Message:   "Product request could not be saved",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// CodeOf returns the error code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return Normalize(err).Code
}

// IsRetryable reports whether a provider should retry after err.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeRateLimited, ErrCodeProviderError:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "KEYS"):
		return "CREDENTIALS"
	case strings.Contains(codeStr, "RATE") || strings.Contains(codeStr, "PROVIDER"):
		return "PROVIDER"
	case strings.Contains(codeStr, "MALFORMED") || strings.Contains(codeStr, "PARSE"):
		return "MODEL_OUTPUT"
	case strings.Contains(codeStr, "CATALOG") || strings.Contains(codeStr, "PRODUCT_REQUEST"):
		return "COLLABORATOR"
	default:
		return "OTHER"
	}
}
