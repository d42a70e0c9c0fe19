package dispatcher

// Outcome classifies what Dispatch did with a request.
type Outcome string

const (
	// OutcomeDispatched means the request reached its worker queue.
	OutcomeDispatched Outcome = "dispatched"

	// OutcomeAwaitingApproval means the request was handed to the approval
	// gate instead of a worker queue.
	OutcomeAwaitingApproval Outcome = "awaiting_approval"

	// OutcomeRejected means the request is terminally rejected or expired;
	// nothing was enqueued.
	OutcomeRejected Outcome = "rejected"

	// OutcomeFailed means the request could not be routed and was marked
	// failed; such requests are not retried.
	OutcomeFailed Outcome = "failed"

	// OutcomeDuplicate means another delivery already moved the request past
	// dispatch; nothing was published.
	OutcomeDuplicate Outcome = "duplicate"
)
