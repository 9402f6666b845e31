package blocks

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any mutation is applied.
	ErrValidation = errors.New("blocks: validation failed")
	// ErrNotFound marks an update or lookup whose target does not exist.
	ErrNotFound = errors.New("blocks: not found")
)

// TransientError wraps a network or backend failure that a later write may
// overcome.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: transient failure", e.Op)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// ServiceError carries a stable "operation.reason" code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds a ServiceError with the code "operation.reason".
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ErrorCode extracts the ServiceError code from err, or returns fallback.
func ErrorCode(err error, fallback string) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return fallback
}
