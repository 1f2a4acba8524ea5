package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrUnsupportedMarketplace ErrorType = "UNSUPPORTED_MARKETPLACE"
	ErrAuthFailed             ErrorType = "AUTH_FAILED"
	ErrTransientUpstream      ErrorType = "TRANSIENT_UPSTREAM"
	ErrPermanentUpstream      ErrorType = "PERMANENT_UPSTREAM"
	ErrInsufficientCredits    ErrorType = "INSUFFICIENT_CREDITS"
	ErrInvariantViolation     ErrorType = "INVARIANT_VIOLATION"
	ErrInvalidRequest         ErrorType = "INVALID_REQUEST"
	ErrNotFound               ErrorType = "NOT_FOUND"
	ErrInternal               ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewUnsupportedMarketplace(marketplaceID string) *AppError {
	return New(ErrUnsupportedMarketplace, fmt.Sprintf("marketplace %q is not supported", marketplaceID), nil)
}

func NewAuthFailed(msg string, cause error) *AppError {
	return New(ErrAuthFailed, msg, cause)
}

func NewInsufficientCredits(orgID string) *AppError {
	return New(ErrInsufficientCredits, fmt.Sprintf("organization %s has insufficient credits", orgID), nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsType reports whether err is (or wraps) an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == t
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return IsType(err, ErrTransientUpstream)
}

// FromHTTPStatus classifies an upstream marketplace response code into the
// retryable / non-retryable taxonomy. 401/403 are authentication failures,
// 408/429/5xx are transient, every other 4xx is permanent.
func FromHTTPStatus(status int, msg string) *AppError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(ErrAuthFailed, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return New(ErrTransientUpstream, msg, nil)
	case status >= 400:
		return New(ErrPermanentUpstream, msg, nil)
	default:
		return New(ErrInternal, msg, nil)
	}
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest, ErrInvariantViolation:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrInsufficientCredits:
		return http.StatusPaymentRequired
	case ErrNotFound, ErrUnsupportedMarketplace:
		return http.StatusNotFound
	case ErrTransientUpstream, ErrPermanentUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrUnsupportedMarketplace:
		return "Check the marketplace identifier against /v1/marketplaces."
	case ErrAuthFailed:
		return "Re-enter the marketplace connection credentials."
	case ErrTransientUpstream:
		return "Retry the request."
	case ErrInsufficientCredits:
		return "Top up the organization's credit balance."
	default:
		return ""
	}
}
