// Package progress provides a lightweight tracker that keeps aggregated
// request counters (submitted, dispatched, completed, …) for a running
// pipeline.  The runtime feeds the tracker from the request event stream –
// every surface that needs numbers (stats endpoint, gateway metrics) reads
// snapshots instead of scanning the request store.

package progress

import (
	"sync"
	"time"

	"github.com/viant/nexus/model"
)

// Delta represents an incremental counter change observed on the event
// stream.  The fields are signed and therefore can be either positive
// (increment) or negative (decrement).
type Delta struct {
	Submitted        int
	AwaitingApproval int
	Approved         int
	Rejected         int
	Expired          int
	Dispatched       int
	InProgress       int
	Completed        int
	Failed           int
}

// DeltaForStatus translates one observed request status into its counter
// increment.
func DeltaForStatus(status model.Status) Delta {
	switch status {
	case model.StatusQueued:
		return Delta{Submitted: 1}
	case model.StatusAwaitingApproval:
		return Delta{AwaitingApproval: 1}
	case model.StatusApproved:
		return Delta{Approved: 1}
	case model.StatusRejected:
		return Delta{Rejected: 1}
	case model.StatusExpired:
		return Delta{Expired: 1}
	case model.StatusDispatched:
		return Delta{Dispatched: 1}
	case model.StatusInProgress:
		return Delta{InProgress: 1}
	case model.StatusCompleted:
		return Delta{Completed: 1}
	case model.StatusFailed:
		return Delta{Failed: 1}
	}
	return Delta{}
}

// Progress keeps aggregated request counters for one runtime instance.  It
// is safe for concurrent use.
type Progress struct {
	StartedAt time.Time

	// Counters – modified via Update().
	SubmittedTotal        int
	AwaitingApprovalTotal int
	ApprovedTotal         int
	RejectedTotal         int
	ExpiredTotal          int
	DispatchedTotal       int
	InProgressTotal       int
	CompletedTotal        int
	FailedTotal           int

	sync.Mutex
	onChange func(Progress)
}

// New creates a tracker stamped with the current start time.
func New() *Progress {
	return &Progress{StartedAt: time.Now()}
}

// Update applies the supplied delta to the tracker.  It is safe to call from
// multiple goroutines.  If an onChange callback has been registered it will be
// invoked with a copy of the updated tracker outside the critical section so
// that the callback can perform slow operations (e.g. JSON encoding, I/O)
// without blocking pipeline internals.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.Lock()

	p.SubmittedTotal += d.Submitted
	p.AwaitingApprovalTotal += d.AwaitingApproval
	p.ApprovedTotal += d.Approved
	p.RejectedTotal += d.Rejected
	p.ExpiredTotal += d.Expired
	p.DispatchedTotal += d.Dispatched
	p.InProgressTotal += d.InProgress
	p.CompletedTotal += d.Completed
	p.FailedTotal += d.Failed

	// Make a value-copy for the callback while we still hold the lock to
	// avoid seeing partially updated counters.
	snapshot := *p
	cb := p.onChange

	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return *p
}

// OnChange registers a callback that is invoked after every successful
// Update.  Passing nil disables the callback.  Only one callback can be
// active; subsequent calls overwrite the previous value.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}
