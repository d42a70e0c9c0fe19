// Package approval defines persistence for approval records keyed by request id.
package approval

import (
	"context"
	"time"

	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
)

// Store persists approval records. Create rejects duplicates with
// dao.ErrAlreadyExists so a second approval request for the same id can be
// detected. Decide performs a compare-and-set on the pending decision;
// it returns dao.ErrNotFound for unknown ids and an error wrapping
// model.ErrStatusConflict when the record was already resolved.
type Store interface {
	dao.Service[string, model.ApprovalRecord]

	// Create inserts a new pending record, failing on duplicate request id
	Create(ctx context.Context, record *model.ApprovalRecord) error

	// Decide resolves a pending record exactly once and returns the updated copy
	Decide(ctx context.Context, id string, decision model.Decision, decidedBy, reason string) (*model.ApprovalRecord, error)

	// ListPending returns records still awaiting a decision
	ListPending(ctx context.Context) ([]*model.ApprovalRecord, error)

	// ListOverdue returns pending records whose deadline has passed
	ListOverdue(ctx context.Context, now time.Time) ([]*model.ApprovalRecord, error)
}
