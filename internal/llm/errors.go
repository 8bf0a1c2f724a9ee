package llm

import "errors"

// transientError marks an error worth retrying (network failures, 429s, 5xx).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// fatalError marks an error that retrying cannot fix (auth, bad request).
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// NewTransientError wraps an error as retryable.
func NewTransientError(err error) error { return &transientError{err: err} }

// NewFatalError wraps an error as non-retryable.
func NewFatalError(err error) error { return &fatalError{err: err} }

// IsFatal reports whether retrying the request cannot succeed.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// IsTransient reports whether the error is explicitly retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
