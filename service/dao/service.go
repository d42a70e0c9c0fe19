package dao

import (
	"context"
)

// Service is the generic persistence contract shared by the request and
// approval ledgers. Implementations hand out copies; mutating a returned
// record never changes stored state without another Save.
type Service[K comparable, T any] interface {
	// Save upserts a record.
	Save(ctx context.Context, t *T) error

	// Load returns the record for id or ErrNotFound.
	Load(ctx context.Context, id K) (*T, error)

	// Delete removes the record for id or returns ErrNotFound.
	Delete(ctx context.Context, id K) error

	// List returns records matching optional equality parameters.
	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
