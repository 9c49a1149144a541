// Package errs is the error taxonomy shared by every layer of the store.
package errs

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrOutOfOrderCommit is a commit protocol violation. It aborts the offending
	// transaction, the store stays usable.
	ErrOutOfOrderCommit = errors.New("out of order commit")

	// ErrCacheFull is back-pressure: eviction could not bring resident memory
	// under the cache size without dropping a version some reader still needs.
	ErrCacheFull = errors.New("cache full")

	// ErrCorruption means a history store entry failed structural validation.
	ErrCorruption = errors.New("history store corruption")

	ErrWriteConflict    = errors.New("write conflict")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrTxnClosed        = errors.New("transaction already closed")
	ErrStoreClosed      = errors.New("store closed")
)

// IsRetryable reports whether the caller may retry the same operation later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCacheFull)
}

func OutOfOrder(format string, args ...interface{}) error {
	return errors.Wrapf(ErrOutOfOrderCommit, format, args...)
}

func Corruption(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return errors.Wrapf(ErrCorruption, format, args...)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrCorruption)
}

func InvalidTimestamp(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidTimestamp, format, args...)
}
