package model

import (
	"encoding/json"
	"time"
)

// Outcome classifies a worker result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Result is the output a worker produced for a request. Zero or one result
// exists per request; the poller correlates results to waiting callers by
// RequestID.
type Result struct {
	RequestID   string          `json:"requestId" yaml:"requestId"`
	Outcome     Outcome         `json:"outcome" yaml:"outcome"`
	Value       json.RawMessage `json:"value,omitempty" yaml:"value,omitempty"`
	ErrorDetail string          `json:"errorDetail,omitempty" yaml:"errorDetail,omitempty"`
	ProducedAt  time.Time       `json:"producedAt" yaml:"producedAt"`
	WorkerID    string          `json:"workerId,omitempty" yaml:"workerId,omitempty"`
}

// Failed reports whether the worker reported an error outcome.
func (r *Result) Failed() bool {
	return r.Outcome == OutcomeError
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Value != nil {
		clone.Value = append(json.RawMessage(nil), r.Value...)
	}
	return &clone
}
