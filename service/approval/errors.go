package approval

import "errors"

var (
	// ErrDuplicate signals an approval was already requested for the request id.
	ErrDuplicate = errors.New("approval already requested")

	// ErrAlreadyResolved signals the record already left pending.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrNotFound signals no approval record exists for the request id.
	ErrNotFound = errors.New("approval not found")
)
