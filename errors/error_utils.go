package errors

import (
	"context"
	"errors"
)

// IsRetryableError determines if an error is transient and the operation should be retried.
// Context cancellation is never retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_SERVICE_UNAVAILABLE,
			ERR_STORAGE_UNAVAILABLE,
			ERR_STORAGE_ERROR:
			return true
		case ERR_INVALID_ARGUMENT,
			ERR_CONFIGURATION,
			ERR_CONTEXT_CANCELED:
			return false
		}
	}

	return true
}

// IsSelectionShortfall reports whether the error is one of the two
// insufficient-funds outcomes of a selection.
func IsSelectionShortfall(err error) bool {
	return Is(err, ErrInsufficientBalance) || Is(err, ErrInsufficientUnlocked)
}
