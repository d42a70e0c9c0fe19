// Package pg implements a Postgres-backed messaging.Queue. All queues share
// one table; consumers claim batches with FOR UPDATE SKIP LOCKED and lease
// deadlines stored on the row, so redelivery survives process crashes.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/nexus/service/messaging"
)

// Config holds configuration for the Postgres queue
type Config struct {
	LeaseDuration    time.Duration
	MaxDeliveryCount int
	BatchSize        int
}

// DefaultConfig returns a default queue configuration
func DefaultConfig() Config {
	return Config{
		LeaseDuration:    30 * time.Second,
		MaxDeliveryCount: 5,
		BatchSize:        16,
	}
}

// Message implements messaging.Message for the Postgres queue
type Message[T any] struct {
	id            string
	payload       T
	deliveryCount int
	leaseDeadline time.Time
	queue         *Queue[T]
	mu            sync.Mutex
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
	return m.deliveryCount
}

// LeaseDeadline returns when the current lease expires
func (m *Message[T]) LeaseDeadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaseDeadline
}

// Ack deletes the message; it fails with ErrLeaseExpired when the row lease
// already lapsed and the message may be redelivered elsewhere
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled {
		return messaging.ErrAlreadySettled
	}
	affected, err := m.queue.exec(context.Background(),
		`DELETE FROM nexus_messages WHERE id = $1 AND queue = $2 AND lease_deadline >= now()`,
		m.id, m.queue.name)
	if err != nil {
		return fmt.Errorf("failed to ack message %v: %w", m.id, err)
	}
	if affected == 0 {
		return messaging.ErrLeaseExpired
	}
	m.settled = true
	return nil
}

// ExtendLease pushes the row lease deadline out by extra
func (m *Message[T]) ExtendLease(extra time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled {
		return messaging.ErrAlreadySettled
	}
	affected, err := m.queue.exec(context.Background(),
		`UPDATE nexus_messages SET lease_deadline = lease_deadline + make_interval(secs => $3)
		  WHERE id = $1 AND queue = $2 AND lease_deadline >= now()`,
		m.id, m.queue.name, extra.Seconds())
	if err != nil {
		return fmt.Errorf("failed to extend lease for message %v: %w", m.id, err)
	}
	if affected == 0 {
		return messaging.ErrLeaseExpired
	}
	m.leaseDeadline = m.leaseDeadline.Add(extra)
	return nil
}

// Nack clears the row lease so the message is deliverable again right away;
// a message over the delivery limit moves to the paired dead-letter queue
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled {
		return messaging.ErrAlreadySettled
	}

	lastError := ""
	if err != nil {
		lastError = err.Error()
	}

	ctx := context.Background()
	if m.deliveryCount >= m.queue.config.MaxDeliveryCount {
		if dlErr := m.queue.deadLetter(ctx, m.id, lastError); dlErr != nil {
			return dlErr
		}
		m.settled = true
		return nil
	}

	affected, execErr := m.queue.exec(ctx,
		`UPDATE nexus_messages SET lease_deadline = NULL, last_error = NULLIF($3, '')
		  WHERE id = $1 AND queue = $2 AND dead_lettered_at IS NULL`,
		m.id, m.queue.name, lastError)
	if execErr != nil {
		return fmt.Errorf("failed to nack message %v: %w", m.id, execErr)
	}
	if affected == 0 {
		return messaging.ErrLeaseExpired
	}
	m.settled = true
	return nil
}

// Queue implements a Postgres-backed messaging.Queue
type Queue[T any] struct {
	db     *sql.DB
	name   string
	config Config
	mu     sync.Mutex
	buffer []*Message[T]
}

// NewQueue creates a Postgres queue over an opened database handle
func NewQueue[T any](db *sql.DB, name string, config Config) *Queue[T] {
	defaults := DefaultConfig()
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaults.LeaseDuration
	}
	if config.MaxDeliveryCount <= 0 {
		config.MaxDeliveryCount = defaults.MaxDeliveryCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &Queue[T]{db: db, name: name, config: config}
}

// Name returns the queue name
func (q *Queue[T]) Name() string {
	return q.name
}

// Publish appends a new message row
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO nexus_messages (id, queue, payload) VALUES ($1, $2, $3)`,
		uuid.New().String(), q.name, payload)
	if err != nil {
		return fmt.Errorf("failed to publish to %v: %w", q.name, err)
	}
	return nil
}

// Consume returns one claimed message, fetching a fresh batch when the local
// buffer is empty. Returns (nil, nil) when nothing is deliverable.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buffer) == 0 {
		if err := q.claimBatch(ctx); err != nil {
			return nil, err
		}
	}
	if len(q.buffer) == 0 {
		return nil, nil
	}

	msg := q.buffer[0]
	q.buffer = q.buffer[1:]
	return msg, nil
}

// claimBatch leases up to BatchSize deliverable rows; rows over the delivery
// limit are routed to the dead-letter queue instead of being returned
func (q *Queue[T]) claimBatch(ctx context.Context) error {
	rows, err := q.db.QueryContext(ctx,
		`UPDATE nexus_messages
		    SET lease_deadline = now() + make_interval(secs => $2),
		        delivery_count = delivery_count + 1
		  WHERE id IN (
		        SELECT id FROM nexus_messages
		         WHERE queue = $1
		           AND dead_lettered_at IS NULL
		           AND (lease_deadline IS NULL OR lease_deadline < now())
		         ORDER BY enqueue_time
		           FOR UPDATE SKIP LOCKED
		         LIMIT $3)
		  RETURNING id, payload, lease_deadline, delivery_count`,
		q.name, q.config.LeaseDuration.Seconds(), q.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim messages from %v: %w", q.name, err)
	}
	defer rows.Close()

	var overLimit []string
	for rows.Next() {
		var (
			id            string
			payload       []byte
			leaseDeadline time.Time
			deliveryCount int
		)
		if err := rows.Scan(&id, &payload, &leaseDeadline, &deliveryCount); err != nil {
			return fmt.Errorf("failed to scan claimed message: %w", err)
		}
		if deliveryCount > q.config.MaxDeliveryCount {
			overLimit = append(overLimit, id)
			continue
		}

		msg := &Message[T]{
			id:            id,
			deliveryCount: deliveryCount,
			leaseDeadline: leaseDeadline,
			queue:         q,
		}
		if err := json.Unmarshal(payload, &msg.payload); err != nil {
			overLimit = append(overLimit, id)
			continue
		}
		q.buffer = append(q.buffer, msg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read claimed messages: %w", err)
	}

	for _, id := range overLimit {
		if err := q.deadLetter(ctx, id, "delivery limit exceeded"); err != nil {
			return err
		}
	}
	return nil
}

// deadLetter moves a row to the paired dead-letter queue
func (q *Queue[T]) deadLetter(ctx context.Context, id, lastError string) error {
	_, err := q.exec(ctx,
		`UPDATE nexus_messages
		    SET queue = $2, dead_lettered_at = now(), lease_deadline = NULL, last_error = NULLIF($3, '')
		  WHERE id = $1`,
		id, messaging.DeadLetterQueue(q.name), lastError)
	if err != nil {
		return fmt.Errorf("failed to dead-letter message %v: %w", id, err)
	}
	return nil
}

func (q *Queue[T]) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
