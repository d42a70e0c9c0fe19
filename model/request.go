package model

import (
	"encoding/json"
	"time"
)

// Request is one unit of work submitted by a caller. Payload stays opaque to
// the pipeline; Kind selects the worker queue the dispatcher routes to.
type Request struct {
	ID               string          `json:"id" yaml:"id"`
	Kind             string          `json:"kind" yaml:"kind"`
	Payload          json.RawMessage `json:"payload,omitempty" yaml:"payload,omitempty"`
	RequiresApproval bool            `json:"requiresApproval" yaml:"requiresApproval"`
	Status           Status          `json:"status" yaml:"status"`

	// StatusDetail carries the error detail for failed requests and the
	// rejection or expiry reason for gated ones.
	StatusDetail string `json:"statusDetail,omitempty" yaml:"statusDetail,omitempty"`

	// Result is set when a worker outcome has been applied.
	Result *Result `json:"result,omitempty" yaml:"result,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Terminal reports whether the request reached an immutable status.
func (r *Request) Terminal() bool {
	return IsTerminal(r.Status)
}

// Clone returns a deep copy so stores can hand out records without sharing
// mutable state with callers.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	clone.Result = r.Result.Clone()
	return &clone
}
