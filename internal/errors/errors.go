package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/tonft-app/backend/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed client input (400)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing records (404)
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents uniqueness and state conflicts (409)
	CategoryConflict ErrorCategory = "conflict"
	// CategoryVerification represents a well-formed claim the chain does not support
	CategoryVerification ErrorCategory = "verification"
	// CategoryDuplicate represents a replayed idempotency key
	CategoryDuplicate ErrorCategory = "duplicate"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryGateway represents chain gateway failures
	CategoryGateway ErrorCategory = "gateway"
	// CategorySettlement represents payout service failures
	CategorySettlement ErrorCategory = "settlement"
	// CategoryNotification represents channel delivery failures; never surfaced to clients
	CategoryNotification ErrorCategory = "notification"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategorySystem represents everything else (500)
	CategorySystem ErrorCategory = "system"
)

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

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Client errors (4xx)

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

// NewMissingParameterError creates a missing parameter error
func NewMissingParameterError(param string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "MISSING_PARAMETER",
		Message:    fmt.Sprintf("missing required parameter '%s'", param),
		Details: map[string]interface{}{
			"parameter": param,
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

// NewListingRejectedError creates an error for a listing that was not admitted
func NewListingRejectedError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVerification,
		StatusCode: http.StatusConflict,
		Code:       "LISTING_REJECTED",
		Message:    fmt.Sprintf("listing rejected: %s", reason),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

// NewUnconfirmedPurchaseError is returned when a buy callback cannot be confirmed on chain
func NewUnconfirmedPurchaseError(contract string, attempts int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVerification,
		StatusCode: http.StatusConflict,
		Code:       "FAKE_BUY",
		Message:    "fake buy",
		Details: map[string]interface{}{
			"contractAddress": contract,
			"attempts":        attempts,
		},
	}
}

// NewDuplicateOrderError creates an error for a replayed order hash
func NewDuplicateOrderError(hash string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDuplicate,
		StatusCode: http.StatusConflict,
		Code:       "DUPLICATE_ORDER",
		Message:    "order with this hash already exists",
		Details: map[string]interface{}{
			"hash": hash,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
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

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Upstream errors

// NewChainError creates a chain gateway error
func NewChainError(gateway string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryGateway,
		StatusCode: http.StatusBadGateway,
		Code:       "CHAIN_ERROR",
		Message:    fmt.Sprintf("chain gateway error: %s", gateway),
		Cause:      cause,
		Details: map[string]interface{}{
			"gateway": gateway,
		},
	}
}

// NewChainRateLimitError creates a chain gateway rate limit error
func NewChainRateLimitError(gateway string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryGateway,
		StatusCode: http.StatusTooManyRequests,
		Code:       "CHAIN_RATE_LIMIT",
		Message:    fmt.Sprintf("chain gateway rate limit exceeded: %s", gateway),
		Details: map[string]interface{}{
			"gateway": gateway,
		},
	}
}

// NewSettlementError creates a payout service error
func NewSettlementError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySettlement,
		StatusCode: http.StatusBadGateway,
		Code:       "DISBURSEMENT_ERROR",
		Message:    "disbursement service error",
		Cause:      cause,
	}
}

// NewNotificationError creates a channel delivery error
func NewNotificationError(channel string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotification,
		StatusCode: http.StatusBadGateway,
		Code:       "NOTIFICATION_ERROR",
		Message:    fmt.Sprintf("notification delivery failed: %s", channel),
		Cause:      cause,
		Details: map[string]interface{}{
			"channel": channel,
		},
	}
}

// Categorize categorizes an existing error
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
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	catErr := &CategorizedError{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}

	switch err.Code {
	case "INVALID_PARAMETER", "MISSING_PARAMETER":
		catErr.Category, catErr.StatusCode = CategoryValidation, http.StatusBadRequest
	case "ORDER_NOT_FOUND", "NOT_FOUND":
		catErr.Category, catErr.StatusCode = CategoryNotFound, http.StatusNotFound
	case "DUPLICATE_ORDER":
		catErr.Category, catErr.StatusCode = CategoryDuplicate, http.StatusConflict
	case "ACTIVE_LISTING_EXISTS":
		catErr.Category, catErr.StatusCode = CategoryConflict, http.StatusConflict
	default:
		catErr.Category, catErr.StatusCode = CategorySystem, http.StatusInternalServerError
	}
	return catErr
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryGateway, CategorySettlement, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryValidation
}
