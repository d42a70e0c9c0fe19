package model

import (
	"errors"
	"fmt"
)

// Status captures where a request is in its lifecycle.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusDispatched       Status = "dispatched"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusExpired          Status = "expired"
)

// ErrStatusConflict is returned by compare-and-set transitions when the
// stored status no longer matches the expected one.
var ErrStatusConflict = errors.New("status conflict")

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusRejected:  true,
	StatusExpired:   true,
}

// Request transitions: queued → (awaiting_approval → approved →) dispatched
// → in_progress → completed|failed. rejected/expired only out of
// awaiting_approval. dispatched → completed|failed covers workers that died
// before reporting in_progress.
var validStatusTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusDispatched:       true,
		StatusAwaitingApproval: true,
		StatusFailed:           true,
	},
	StatusAwaitingApproval: {
		StatusApproved: true,
		StatusRejected: true,
		StatusExpired:  true,
	},
	StatusApproved: {
		StatusDispatched: true,
	},
	StatusDispatched: {
		StatusInProgress: true,
		StatusCompleted:  true,
		StatusFailed:     true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// IsTerminal reports whether no further transition is permitted out of s.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// ValidateTransition rejects transitions outside the request state machine.
func ValidateTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q: %w", from, ErrStatusConflict)
	}
	allowed, ok := validStatusTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid status transition %q -> %q: %w", from, to, ErrStatusConflict)
	}
	return nil
}

// Decision captures the lifecycle of an approval record.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionExpired  Decision = "expired"
)

var resolvedDecisions = map[Decision]bool{
	DecisionApproved: true,
	DecisionRejected: true,
	DecisionExpired:  true,
}

// IsDecisionResolved reports whether d left pending.
func IsDecisionResolved(d Decision) bool {
	return resolvedDecisions[d]
}

// ValidateDecisionTransition permits pending → approved|rejected|expired,
// exactly once.
func ValidateDecisionTransition(from, to Decision) error {
	if IsDecisionResolved(from) {
		return fmt.Errorf("cannot transition from resolved decision %q: %w", from, ErrStatusConflict)
	}
	if from != DecisionPending || !resolvedDecisions[to] {
		return fmt.Errorf("invalid decision transition %q -> %q: %w", from, to, ErrStatusConflict)
	}
	return nil
}
