package errors

import "errors"

// Snapshot and record validation errors.
var (
	ErrValidation = errors.New("validation failed")
)

// Synchronization errors.
var (
	// ErrRemoteOperation wraps a single failed insert, update or delete
	// against the remote store. It is recorded in the sync report and
	// never aborts a batch.
	ErrRemoteOperation = errors.New("remote operation failed")

	// ErrOrderingPrecondition marks a violated dependency ordering
	// invariant. It indicates a programming defect, not a runtime
	// condition.
	ErrOrderingPrecondition = errors.New("ordering precondition violated")
)

// Store errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
