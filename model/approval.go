package model

import (
	"encoding/json"
	"time"
)

// ApprovalRecord ties one pending-or-resolved human decision to exactly one
// request. Records exist only for requests submitted with approval required.
type ApprovalRecord struct {
	RequestID string `json:"requestId" yaml:"requestId"`
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Args is the JSON summary shown to reviewers, typically the request
	// payload.
	Args json.RawMessage `json:"args,omitempty" yaml:"args,omitempty"`

	Decision    Decision   `json:"decision" yaml:"decision"`
	RequestedAt time.Time  `json:"requestedAt" yaml:"requestedAt"`
	Deadline    time.Time  `json:"deadline" yaml:"deadline"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty" yaml:"decidedAt,omitempty"`
	DecidedBy   string     `json:"decidedBy,omitempty" yaml:"decidedBy,omitempty"`
	Reason      string     `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Resolved reports whether the record left pending.
func (r *ApprovalRecord) Resolved() bool {
	return IsDecisionResolved(r.Decision)
}

// Overdue reports whether a still-pending record passed its deadline.
func (r *ApprovalRecord) Overdue(now time.Time) bool {
	return r.Decision == DecisionPending && !r.Deadline.IsZero() && now.After(r.Deadline)
}

// Clone returns a deep copy.
func (r *ApprovalRecord) Clone() *ApprovalRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Args != nil {
		clone.Args = append(json.RawMessage(nil), r.Args...)
	}
	if r.DecidedAt != nil {
		decidedAt := *r.DecidedAt
		clone.DecidedAt = &decidedAt
	}
	return &clone
}
