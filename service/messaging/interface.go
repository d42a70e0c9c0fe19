package messaging

import (
	"context"
	"time"
)

// Vendor represents the name of a messaging vendor
type Vendor string

const (
	VendorMemory Vendor = "memory"
	VendorFs     Vendor = "fs"
	VendorPg     Vendor = "pg"
)

// Queue represents an abstract durable queue for any payload type. Delivery
// is at least once: a consumed message holds a lease and becomes deliverable
// again once the lease expires without acknowledgment, so consumers must be
// idempotent on the payload's correlation key.
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single leased message from the queue. Vendors may
	// return (nil, nil) when no message is ready; callers poll
	Consume(ctx context.Context) (Message[T], error)
}

// Message represents a leased message retrieved from a queue. Processing has
// to settle the message with Ack or Nack before the lease deadline, or push
// the deadline out with ExtendLease.
type Message[T any] interface {
	// ID returns the queue-assigned message identifier
	ID() string

	// T returns the payload of this message
	T() *T

	// DeliveryCount returns how many times this message has been delivered,
	// including the current delivery
	DeliveryCount() int

	// LeaseDeadline returns when the current lease expires
	LeaseDeadline() time.Time

	// Ack acknowledges successful processing of this message
	Ack() error

	// ExtendLease pushes the lease deadline out by extra
	ExtendLease(extra time.Duration) error

	// Nack indicates failure in processing this message and makes it
	// deliverable again without waiting for lease expiry
	Nack(err error) error
}

// Provider opens named queues of one payload type, creating them on first
// use.
type Provider[T any] interface {
	Queue(ctx context.Context, name string) (Queue[T], error)
}

// QueueConfig defines standard configuration options for queue vendors
type QueueConfig struct {
	// LeaseDuration specifies how long a consumed message stays invisible
	// before it becomes deliverable again without acknowledgment
	LeaseDuration time.Duration

	// MaxDeliveryCount caps deliveries; a message exceeding it is routed to
	// the dead-letter path instead of being redelivered
	MaxDeliveryCount int

	// RetryDelay specifies the time to wait before redelivering a nacked
	// message
	RetryDelay time.Duration

	// BatchSize bounds how many messages a vendor claims per fetch
	BatchSize int

	// QueueBuffer sizes vendor-internal buffers
	QueueBuffer int

	// DeadLetter enables the dead-letter path
	DeadLetter bool

	// AdditionalConfig allows vendor-specific configurations
	AdditionalConfig map[string]string
}

// DefaultQueueConfig returns the standard queue configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		LeaseDuration:    30 * time.Second,
		MaxDeliveryCount: 5,
		RetryDelay:       100 * time.Millisecond,
		BatchSize:        16,
		QueueBuffer:      100,
		DeadLetter:       true,
	}
}
