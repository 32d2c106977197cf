// Package errors defines the error taxonomy shared by the replica client:
// authentication, network, server, decode and storage failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuthentication means the session token is missing, expired or rejected
	CategoryAuthentication ErrorCategory = "authentication"
	// CategoryNetwork represents connectivity failures and timeouts
	CategoryNetwork ErrorCategory = "network"
	// CategoryServer represents non-2xx responses and HTML-shaped bodies
	CategoryServer ErrorCategory = "server"
	// CategoryDecode represents malformed or unexpected JSON
	CategoryDecode ErrorCategory = "decode"
	// CategoryStorage represents local persistence failures
	CategoryStorage ErrorCategory = "storage"
	// CategoryValidation represents invalid caller input
	CategoryValidation ErrorCategory = "validation"
	// CategoryInternal represents anything not otherwise classified
	CategoryInternal ErrorCategory = "internal"
)

// Error codes used in CategorizedError.Code
const (
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeAuthenticationFailed   = "AUTHENTICATION_FAILED"
	CodeNetworkError           = "NETWORK_ERROR"
	CodeServerError            = "SERVER_ERROR"
	CodeHTMLResponse           = "HTML_RESPONSE"
	CodeDecodeError            = "DECODE_ERROR"
	CodeStorageError           = "STORAGE_ERROR"
	CodeInvalidParameter       = "INVALID_PARAMETER"
	CodeInternalError          = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and, for remote
// failures, the HTTP status code that caused it
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Authentication errors

// NewAuthenticationRequiredError is returned when no usable session token is held
func NewAuthenticationRequiredError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthentication,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeAuthenticationRequired,
		Message:    reason,
	}
}

// NewAuthenticationFailedError is returned when the server rejects credentials or a token
func NewAuthenticationFailedError(statusCode int, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthentication,
		StatusCode: statusCode,
		Code:       CodeAuthenticationFailed,
		Message:    message,
	}
}

// Remote errors

// NewNetworkError wraps a transport failure (connection refused, timeout, open circuit)
func NewNetworkError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryNetwork,
		Code:     CodeNetworkError,
		Message:  fmt.Sprintf("network error during %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServerError creates an error for a non-2xx response
func NewServerError(operation string, statusCode int, body string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryServer,
		StatusCode: statusCode,
		Code:       CodeServerError,
		Message:    fmt.Sprintf("%s returned status %d", operation, statusCode),
		Details: map[string]interface{}{
			"operation": operation,
			"body":      body,
		},
	}
}

// NewHTMLResponseError is returned when the server answers with markup instead
// of JSON, usually a PHP warning or a misconfigured proxy
func NewHTMLResponseError(operation string, preview string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryServer,
		StatusCode: http.StatusOK,
		Code:       CodeHTMLResponse,
		Message:    "server configuration error: HTML returned instead of JSON",
		Details: map[string]interface{}{
			"operation": operation,
			"preview":   preview,
		},
	}
}

// NewDecodeError wraps a JSON decoding failure
func NewDecodeError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryDecode,
		Code:     CodeDecodeError,
		Message:  fmt.Sprintf("unexpected payload from %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Local errors

// NewStorageError wraps a local persistence failure
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryStorage,
		Code:     CodeStorageError,
		Message:  fmt.Sprintf("storage error during %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryInternal,
		Code:     CodeInternalError,
		Message:  message,
		Cause:    cause,
	}
}

// Categorize returns the CategorizedError in err's chain, or wraps err as
// an internal error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// Is reports whether err belongs to the given category
func Is(err error, category ErrorCategory) bool {
	if err == nil {
		return false
	}
	return Categorize(err).Category == category
}

// HasCode reports whether err carries the given code
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return Categorize(err).Code == code
}

// IsRetryable determines if an error is worth retrying. Only transport
// failures are; a server that answered is not asked again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	catErr := Categorize(err)
	switch catErr.Category {
	case CategoryNetwork:
		return true
	case CategoryServer:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// UserMessage returns short advisory text suitable for display
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	catErr := Categorize(err)
	switch catErr.Category {
	case CategoryAuthentication:
		return "Authentication failed. Please log in again."
	case CategoryNetwork:
		return "Connection error. Check your internet connection."
	case CategoryServer:
		if catErr.Code == CodeHTMLResponse {
			return "Server configuration error. Check server logs."
		}
		return fmt.Sprintf("Server error: %s", catErr.Message)
	case CategoryDecode:
		return "Corrupted data received. Please refresh."
	case CategoryStorage:
		return "Local storage error."
	default:
		return catErr.Message
	}
}
