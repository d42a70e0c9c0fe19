package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/service/messaging"
)

// Config for memory queue implementation
type Config struct {
	LeaseDuration    time.Duration
	MaxDeliveryCount int
	RetryDelay       time.Duration
	DeadLetter       bool
	QueueBuffer      int
	ReapInterval     time.Duration
}

// DefaultConfig returns a standard configuration for memory queue
func DefaultConfig() Config {
	return Config{
		LeaseDuration:    30 * time.Second,
		MaxDeliveryCount: 5,
		RetryDelay:       100 * time.Millisecond,
		DeadLetter:       true,
		QueueBuffer:      100,
		ReapInterval:     20 * time.Millisecond,
	}
}

// Message implements messaging.Message for the in-memory queue
type Message[T any] struct {
	id            string
	payload       T
	queue         *Queue[T]
	mu            sync.Mutex
	deliveryCount int
	leaseDeadline time.Time
	lastError     string
	settled       bool
}

// ID returns the queue-assigned message identifier
func (m *Message[T]) ID() string {
	return m.id
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.payload
}

// DeliveryCount returns how many times this message has been delivered
func (m *Message[T]) DeliveryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveryCount
}

// LeaseDeadline returns when the current lease expires
func (m *Message[T]) LeaseDeadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaseDeadline
}

// Ack acknowledges the message as processed successfully
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return messaging.ErrAlreadySettled
	}
	if clock.Now().After(m.leaseDeadline) {
		m.mu.Unlock()
		return messaging.ErrLeaseExpired
	}
	m.settled = true
	m.mu.Unlock()

	m.queue.release(m.id)
	return nil
}

// ExtendLease pushes the lease deadline out by extra
func (m *Message[T]) ExtendLease(extra time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled {
		return messaging.ErrAlreadySettled
	}
	if clock.Now().After(m.leaseDeadline) {
		return messaging.ErrLeaseExpired
	}

	m.leaseDeadline = m.leaseDeadline.Add(extra)
	return nil
}

// Nack indicates a failure in processing the message; the message becomes
// deliverable again after the configured retry delay instead of waiting for
// lease expiry
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return messaging.ErrAlreadySettled
	}
	m.settled = true
	if err != nil {
		m.lastError = err.Error()
	}
	deliveries := m.deliveryCount
	m.mu.Unlock()

	m.queue.release(m.id)

	if deliveries >= m.queue.config.MaxDeliveryCount {
		m.queue.deadLetter(m)
		return nil
	}

	go func() {
		time.Sleep(m.queue.config.RetryDelay)
		m.queue.requeue(m)
	}()
	return nil
}

// Queue implements an in-memory messaging.Queue with visibility-timeout
// leases, redelivery and a dead-letter path
type Queue[T any] struct {
	name     string
	messages chan *Message[T]
	inflight map[string]*Message[T]
	dlq      []*Message[T]
	config   Config
	mu       sync.Mutex
	dlqMu    sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewQueue creates a new in-memory queue and starts its lease reaper
func NewQueue[T any](name string, config Config) *Queue[T] {
	defaults := DefaultConfig()
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = defaults.QueueBuffer
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaults.LeaseDuration
	}
	if config.MaxDeliveryCount <= 0 {
		config.MaxDeliveryCount = defaults.MaxDeliveryCount
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = defaults.ReapInterval
	}

	q := &Queue[T]{
		name:     name,
		messages: make(chan *Message[T], config.QueueBuffer),
		inflight: make(map[string]*Message[T]),
		dlq:      make([]*Message[T], 0),
		config:   config,
		stopCh:   make(chan struct{}),
	}
	go q.reapLoop()
	return q
}

// Name returns the queue name
func (q *Queue[T]) Name() string {
	return q.name
}

// Publish adds a new item to the queue
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		msg := &Message[T]{
			id:      uuid.New().String(),
			payload: *t,
			queue:   q,
		}

		select {
		case q.messages <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Consume retrieves a single item from the queue and leases it
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		q.lease(msg)
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the current number of deliverable messages in the queue
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// InflightSize returns the number of leased, unsettled messages
func (q *Queue[T]) InflightSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// DLQSize returns the number of messages in the dead letter queue
func (q *Queue[T]) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

// DeadLettered returns the payloads parked on the dead-letter path
func (q *Queue[T]) DeadLettered() []*T {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	out := make([]*T, 0, len(q.dlq))
	for _, msg := range q.dlq {
		out = append(out, &msg.payload)
	}
	return out
}

// Close stops the lease reaper
func (q *Queue[T]) Close() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
}

func (q *Queue[T]) lease(m *Message[T]) {
	m.mu.Lock()
	m.deliveryCount++
	m.leaseDeadline = clock.Now().Add(q.config.LeaseDuration)
	m.settled = false
	m.mu.Unlock()

	q.mu.Lock()
	q.inflight[m.id] = m
	q.mu.Unlock()
}

func (q *Queue[T]) release(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

func (q *Queue[T]) requeue(m *Message[T]) {
	select {
	case q.messages <- m:
	case <-q.stopCh:
	}
}

func (q *Queue[T]) deadLetter(m *Message[T]) {
	if !q.config.DeadLetter {
		return
	}
	q.dlqMu.Lock()
	q.dlq = append(q.dlq, m)
	q.dlqMu.Unlock()
}

// reapLoop returns expired leases to the queue so unacknowledged messages get
// redelivered; messages over the delivery limit move to the dead-letter path
func (q *Queue[T]) reapLoop() {
	ticker := time.NewTicker(q.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.reapExpired()
		}
	}
}

func (q *Queue[T]) reapExpired() {
	now := clock.Now()

	q.mu.Lock()
	candidates := make([]*Message[T], 0, len(q.inflight))
	for _, msg := range q.inflight {
		candidates = append(candidates, msg)
	}
	q.mu.Unlock()

	for _, msg := range candidates {
		msg.mu.Lock()
		if msg.settled || !now.After(msg.leaseDeadline) {
			msg.mu.Unlock()
			continue
		}
		msg.settled = true
		deliveries := msg.deliveryCount
		msg.mu.Unlock()

		q.release(msg.id)
		if deliveries >= q.config.MaxDeliveryCount {
			q.deadLetter(msg)
			continue
		}
		q.requeue(msg)
	}
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
