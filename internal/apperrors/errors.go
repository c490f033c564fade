package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error codes
const (
	ErrInvalidRequest      = 400
	ErrUnauthorized        = 401
	ErrForbidden           = 403
	ErrNotFound            = 404
	ErrConflict            = 409
	ErrRateLimited         = 429
	ErrInternalServerError = 500

	// Economy error codes (1000+)
	ErrInsufficientFunds = 1001
	ErrBagExpired        = 1002
	ErrBagFull           = 1003
	ErrAlreadyClaimed    = 1004
	ErrBagNotFound       = 1005
	ErrNoActiveCombo     = 1006
	ErrCommitFailure     = 1007
	ErrConfigError       = 1008
	ErrGiftNotFound      = 1009
	ErrNotSeated         = 1010
	ErrItemNotFound      = 1011
	ErrItemOwned         = 1012
)

// AppError represents a custom application error
type AppError struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	DebugMessage string `json:"debug_message,omitempty"`
	Err          error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.DebugMessage != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.DebugMessage)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s [%v]", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code, so errors.Is(err, apperrors.New(code, "")) works.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewWithDebug creates a new AppError with a debug message
func NewWithDebug(code int, message string, debugMessage string) *AppError {
	return &AppError{
		Code:         code,
		Message:      message,
		DebugMessage: debugMessage,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinels for the rejection taxonomy.
var (
	InsufficientFunds = New(ErrInsufficientFunds, "insufficient funds")
	BagExpired        = New(ErrBagExpired, "lucky bag expired")
	BagFull           = New(ErrBagFull, "lucky bag is full")
	AlreadyClaimed    = New(ErrAlreadyClaimed, "lucky bag already claimed")
	BagNotFound       = New(ErrBagNotFound, "lucky bag not found")
	NoActiveCombo     = New(ErrNoActiveCombo, "no active combo")
	GiftNotFound      = New(ErrGiftNotFound, "gift not found")
	NotSeated         = New(ErrNotSeated, "user is not on a seat")
	ItemNotFound      = New(ErrItemNotFound, "store item not found")
	ItemOwned         = New(ErrItemOwned, "item already owned")
)

// GetCode extracts error code from an error
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternalServerError
}

// Is reports whether err carries the given code.
func Is(err error, code int) bool {
	return GetCode(err) == code
}

// HTTPStatusFromCode maps error codes to HTTP status codes
func HTTPStatusFromCode(code int) int {
	switch code {
	case ErrInvalidRequest, ErrInsufficientFunds, ErrConfigError:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden, ErrNotSeated:
		return http.StatusForbidden
	case ErrNotFound, ErrBagNotFound, ErrGiftNotFound, ErrNoActiveCombo, ErrItemNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrBagExpired, ErrBagFull, ErrAlreadyClaimed, ErrItemOwned:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrCommitFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Response returns a map suitable for JSON response
func (e *AppError) Response() map[string]interface{} {
	return map[string]interface{}{
		"code":    e.Code,
		"message": e.Message,
	}
}
