package approval

import (
	"context"
	"time"

	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/event"
)

// Service defines the approval gate interface.
type Service interface {
	// Request registers a pending approval for a request, stamping RequestedAt
	// and Deadline when unset. A second call for the same request id fails
	// with ErrDuplicate; the error detail carries a diff of old vs. new args.
	Request(ctx context.Context, record *model.ApprovalRecord) (*model.ApprovalRecord, error)

	// Resolve applies a decision to a pending record exactly once. It returns
	// ErrNotFound for unknown ids and ErrAlreadyResolved when the record has
	// left pending; the stored record is never changed twice.
	Resolve(ctx context.Context, requestID string, decision model.Decision, decidedBy, reason string) (*model.ApprovalRecord, error)

	// Await blocks until the record leaves pending or the deadline passes, at
	// which point it forces the expired transition and returns it. A zero
	// deadline falls back to the record's own.
	Await(ctx context.Context, requestID string, pollInterval time.Duration, deadline time.Time) (model.Decision, error)

	// ExpireOverdue transitions every overdue pending record to expired and
	// returns how many it moved.
	ExpireOverdue(ctx context.Context) (int, error)

	// Reconcile re-applies resolved decisions to requests still parked in
	// awaiting_approval and returns how many it touched. It covers a crash
	// between the decision write and the request transition.
	Reconcile(ctx context.Context) (int, error)

	// Pending lists records still awaiting a decision.
	Pending(ctx context.Context) ([]*model.ApprovalRecord, error)

	// Get returns the record for a request id.
	Get(ctx context.Context, requestID string) (*model.ApprovalRecord, error)

	// Subscribe streams gate events until ctx is cancelled.
	Subscribe(ctx context.Context) <-chan event.Event
}

// Resubmitter re-enqueues an approved request for dispatch.
type Resubmitter interface {
	EnqueueApproved(ctx context.Context, request *model.Request) error
}
