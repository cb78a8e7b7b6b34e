package artcache

import (
	"errors"

	"github.com/unkn0wn-root/artcache/store"
)

// StorageError is the typed error raised on the persistent-write path of
// Set/Delete/Clear/Invalidate. The memory tier remains valid when it occurs.
type StorageError = store.Error

// TransientError marks a failure worth retrying: network failure, a
// 5xx-equivalent response, rate limiting.
type TransientError struct {
	Msg string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Retryable() bool { return true }

// PermanentError marks a failure that must not be retried: auth or
// validation failures.
type PermanentError struct {
	Msg string
	Err error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// retryable is implemented by errors that know their own retry policy.
type retryable interface{ Retryable() bool }

// IsRetryable reports whether err (or anything it wraps) opts into retries.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
