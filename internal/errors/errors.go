// Package errors categorizes the failures the wallet core reports upward.
// Nothing in the core is fatal; every failure maps to one category here.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wallet-sync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryMalformedEvent is an observer event that cannot be resolved; dropped and logged
	CategoryMalformedEvent ErrorCategory = "malformed_event"
	// CategoryRejectedPatch is a store patch violating an invariant; prior state kept
	CategoryRejectedPatch ErrorCategory = "rejected_patch"
	// CategoryBackend is a backend call failure surfaced verbatim to the caller
	CategoryBackend ErrorCategory = "backend"
	// CategoryAbandoned is a queued command dropped after unlock exhaustion or cancel
	CategoryAbandoned ErrorCategory = "abandoned"
	// CategoryValidation represents invalid command input
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents an unknown entity
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents a state conflict (e.g. cancelling an in-flight command)
	CategoryConflict ErrorCategory = "conflict"
	// CategoryCache represents query cache errors
	CategoryCache ErrorCategory = "cache"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// Categorizer is implemented by error types owned by other packages that know their category
type Categorizer interface {
	ErrorCategory() ErrorCategory
}

// CategorizedError represents an error with category and HTTP status code
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

// ErrorCategory implements Categorizer
func (e *CategorizedError) ErrorCategory() ErrorCategory {
	return e.Category
}

// ToServiceError converts to the ServiceError the api reports. The
// category is added to the details.
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details["category"] = string(e.Category)
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// Is matches another CategorizedError by category and code, so callers can test
// errors.Is(err, &CategorizedError{Category: CategoryRejectedPatch, Code: "UNKNOWN_ACCOUNT"})
func (e *CategorizedError) Is(target error) bool {
	t, ok := target.(*CategorizedError)
	if !ok {
		return false
	}
	if t.Category != "" && t.Category != e.Category {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// NewAbandonedError creates an error for a queued command that will never run
func NewAbandonedError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAbandoned,
		StatusCode: StatusFor(CategoryAbandoned),
		Code:       "COMMAND_ABANDONED",
		Message:    "command abandoned: " + reason,
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(code string, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       code,
		Message:    message,
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// CategoryOf returns the category of err, walking wrapped errors
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var c Categorizer
	if stderrors.As(err, &c) {
		return c.ErrorCategory()
	}
	return CategorySystem
}

// Categorize returns err as a CategorizedError
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusBadRequest,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	// errors owned by other packages keep their message verbatim
	var c Categorizer
	if stderrors.As(err, &c) {
		cat := c.ErrorCategory()
		return &CategorizedError{
			Category:   cat,
			StatusCode: StatusFor(cat),
			Code:       strings.ToUpper(string(cat)),
			Message:    err.Error(),
			Cause:      err,
		}
	}

	return NewInternalError("unexpected error", err)
}

// StatusFor maps a category to the HTTP status the api reports for it
func StatusFor(cat ErrorCategory) int {
	switch cat {
	case CategoryMalformedEvent, CategoryValidation:
		return http.StatusBadRequest
	case CategoryRejectedPatch, CategoryAbandoned, CategoryConflict:
		return http.StatusConflict
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRejectedPatch reports whether err is a store rejection
func IsRejectedPatch(err error) bool {
	return CategoryOf(err) == CategoryRejectedPatch
}

// IsAbandoned reports whether err reports an abandoned command
func IsAbandoned(err error) bool {
	return CategoryOf(err) == CategoryAbandoned
}

// IsMalformedEvent reports whether err reports an unresolvable event
func IsMalformedEvent(err error) bool {
	return CategoryOf(err) == CategoryMalformedEvent
}
