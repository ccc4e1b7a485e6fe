package blobsource

import "errors"

// ErrNoBundle means the named user has no adapter bundle in the blob store
// It is never retried.
var ErrNoBundle = errors.New("blobsource: no bundle for user")

// ErrIoError wraps any transient failure talking to the underlying store:
// a network error, a timeout, a non-404 HTTP status.
// Retryable.
var ErrIoError = errors.New("blobsource: io error")

// IsNonRetryable reports whether err should never be retried, for use as a
// resilience.Policy.NonRetryable predicate.
func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrNoBundle)
}
