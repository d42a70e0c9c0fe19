package messaging

const (
	// RequestQueue is the inbound queue every submission lands on.
	RequestQueue = "ai_requests"

	// ResultQueue carries worker results back to the result poller.
	ResultQueue = "ai_results"
)

// WorkerQueue returns the worker queue name for a request kind, e.g.
// ai_requests.generate.
func WorkerQueue(kind string) string {
	return RequestQueue + "." + kind
}

// DeadLetterQueue returns the dead-letter queue name paired with a logical
// queue.
func DeadLetterQueue(name string) string {
	return name + ".dlq"
}
