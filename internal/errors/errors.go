package errors

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput        ErrorCode = "invalid_input"
	AccountNotFound     ErrorCode = "account_not_found"
	TransactionNotFound ErrorCode = "transaction_not_found"
	InvalidState        ErrorCode = "invalid_state"
	InsufficientFunds   ErrorCode = "insufficient_funds"
	Contention          ErrorCode = "contention"
	PersistenceError    ErrorCode = "persistence_error"
	InternalError       ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// Retryable reports whether the caller may safely re-submit the original
// request. Only contention qualifies; a persistence failure has unknown
// outcome and requires a status re-query by reference number first.
func (e *AppError) Retryable() bool {
	return e.Code == Contention
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput:
		return http.StatusBadRequest
	case AccountNotFound, TransactionNotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusConflict
	case InsufficientFunds:
		return http.StatusUnprocessableEntity
	case Contention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError normalizes any error into an AppError.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewAppError(InternalError, "an unexpected error occurred").WithDetails(err.Error())
}

// Predefined errors for common cases
var (
	ErrInvalidAmount       = NewAppError(InvalidInput, "amount must be positive")
	ErrSameAccountTransfer = NewAppError(InvalidInput, "cannot transfer to same account")
	ErrAccountNotFound     = NewAppError(AccountNotFound, "account not found")
	ErrTransactionNotFound = NewAppError(TransactionNotFound, "transaction not found")
	ErrAccountNotActive    = NewAppError(InvalidState, "account is not active")
	ErrInsufficientFunds   = NewAppError(InsufficientFunds, "insufficient funds")
	ErrLockTimeout         = NewAppError(Contention, "timed out waiting for account lock")
	ErrVersionConflict     = NewAppError(Contention, "account was modified concurrently")
	ErrDuplicateReference  = NewAppError(Contention, "reference number already exists")
)
