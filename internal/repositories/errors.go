package repositories

import "fmt"

// ErrorCode enumerates machine readable causes for persistence failures.
type ErrorCode string

const (
	// ErrorUnknown represents an unspecified failure.
	ErrorUnknown ErrorCode = "store_unknown"
	// ErrorNotFound indicates the requested row does not exist or is not visible to the caller.
	ErrorNotFound ErrorCode = "store_not_found"
	// ErrorConflict indicates a uniqueness or concurrency constraint rejected the write.
	ErrorConflict ErrorCode = "store_conflict"
	// ErrorInsufficientStock indicates requested quantity exceeds availability.
	ErrorInsufficientStock ErrorCode = "store_insufficient_stock"
	// ErrorInvalidState indicates the row status forbids the requested transition.
	ErrorInvalidState ErrorCode = "store_invalid_state"
	// ErrorUnavailable indicates the backing store could not be reached.
	ErrorUnavailable ErrorCode = "store_unavailable"
)

// StoreError wraps persistence failures with machine readable codes used by services.
type StoreError struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStoreError constructs a typed store error.
func NewStoreError(code ErrorCode, message string, err error) *StoreError {
	if message == "" {
		message = string(code)
	}
	return &StoreError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithOp annotates the error with the originating operation name.
func (e *StoreError) WithOp(op string) *StoreError {
	if e == nil {
		return nil
	}
	e.Op = op
	return e
}
