package approval

import (
	"time"

	"github.com/viant/nexus/service/event"
)

type Option func(*gate)

// WithEvents attaches a shared event service so gate events reach the same
// subscribers as the rest of the pipeline
func WithEvents(events *event.Service) Option {
	return func(g *gate) { g.events = events }
}

// WithResubmitter wires the dispatcher so that approved requests are
// re-enqueued automatically once a positive decision is recorded
func WithResubmitter(resubmitter Resubmitter) Option {
	return func(g *gate) { g.resubmit = resubmitter }
}

// WithDeadline overrides the default approval deadline applied to records
// that arrive without one
func WithDeadline(deadline time.Duration) Option {
	return func(g *gate) { g.deadline = deadline }
}
