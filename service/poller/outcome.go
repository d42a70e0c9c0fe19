package poller

import "encoding/json"

// Kind classifies how a wait for a request ended.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindRejected  Kind = "rejected"
	KindExpired   Kind = "expired"

	// KindTimedOut means the request was still in flight when the wait
	// elapsed; the caller may poll again later.
	KindTimedOut Kind = "timed_out"
)

// Outcome is the caller-facing answer for a request. TimedOut is an outcome,
// not an error: it reports that no terminal status arrived in time.
type Outcome struct {
	Kind        Kind            `json:"kind" yaml:"kind"`
	Value       json.RawMessage `json:"value,omitempty" yaml:"value,omitempty"`
	ErrorDetail string          `json:"errorDetail,omitempty" yaml:"errorDetail,omitempty"`
}

// Terminal reports whether the outcome reflects a terminal request status.
func (o Outcome) Terminal() bool {
	return o.Kind != "" && o.Kind != KindTimedOut
}
