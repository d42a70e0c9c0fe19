// Package request defines the durable store contract for pipeline requests.
package request

import (
	"context"

	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
)

// Store persists requests and serializes their status transitions. Stores
// hand out copies; mutating a returned record never changes stored state.
type Store interface {
	dao.Service[string, model.Request]

	// Transition applies a compare-and-set status change keyed on id: it
	// fails with dao.ErrNotFound when no record exists, wraps
	// model.ErrStatusConflict when the stored status differs from the
	// expected one or the state machine forbids from -> to, and otherwise
	// applies the optional mutation, moves the status and stamps UpdatedAt
	// atomically. Returns the updated record.
	Transition(ctx context.Context, id string, from, to model.Status, apply func(*model.Request)) (*model.Request, error)
}
