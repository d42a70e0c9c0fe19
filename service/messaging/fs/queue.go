package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/storage"
	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/service/messaging"
)

// MessageState represents the state of a message in the filesystem queue
type MessageState string

const (
	// MessageStatePending indicates a message is waiting to be delivered
	MessageStatePending MessageState = "pending"

	// MessageStateProcessing indicates a message is leased by a consumer
	MessageStateProcessing MessageState = "processing"

	// MessageStateCompleted indicates a message was acknowledged
	MessageStateCompleted MessageState = "completed"

	// MessageStateDeadLettered indicates a message exceeded its delivery
	// limit and was parked
	MessageStateDeadLettered MessageState = "deadLettered"
)

// Message implements messaging.Message for the filesystem queue
type Message[T any] struct {
	MessageID      string       `json:"id"`
	Data           T            `json:"data"`
	State          MessageState `json:"state"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Deliveries     int          `json:"deliveries"`
	LeaseExpiresAt time.Time    `json:"leaseExpiresAt,omitempty"`

	queue   *Queue[T]
	settled bool
	mu      sync.Mutex
}

// ID returns the queue-assigned message identifier
func (m *Message[T]) ID() string {
	return m.MessageID
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.Data
}

// DeliveryCount returns how many times this message has been delivered
func (m *Message[T]) DeliveryCount() int {
	return m.Deliveries
}

// LeaseDeadline returns when the current lease expires
func (m *Message[T]) LeaseDeadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LeaseExpiresAt
}

// Ack acknowledges that the message was processed successfully
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled {
		return messaging.ErrAlreadySettled
	}
	if clock.Now().After(m.LeaseExpiresAt) {
		return messaging.ErrLeaseExpired
	}

	m.settled = true
	m.State = MessageStateCompleted
	m.UpdatedAt = clock.Now()

	return m.queue.completeMessage(context.Background(), m)
}

// ExtendLease pushes the persisted lease deadline out by extra
func (m *Message[T]) ExtendLease(extra time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled {
		return messaging.ErrAlreadySettled
	}
	if clock.Now().After(m.LeaseExpiresAt) {
		return messaging.ErrLeaseExpired
	}

	m.LeaseExpiresAt = m.LeaseExpiresAt.Add(extra)
	m.UpdatedAt = clock.Now()

	return m.queue.persistProcessing(context.Background(), m)
}

// Nack indicates that the message processing failed; the message becomes
// deliverable again without waiting for lease expiry, or moves to the
// dead-letter directory once over the delivery limit
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled {
		return messaging.ErrAlreadySettled
	}

	m.settled = true
	if err != nil {
		m.Error = err.Error()
	}
	m.UpdatedAt = clock.Now()

	return m.queue.failMessage(context.Background(), m)
}

// QueueConfig holds configuration for filesystem queue
type QueueConfig struct {
	BasePath         string        // Base directory for queue files
	LeaseDuration    time.Duration // How long a consumed message stays invisible
	MaxDeliveryCount int           // Delivery cap before dead-lettering
}

// DefaultConfig returns a default queue configuration
func DefaultConfig() QueueConfig {
	return QueueConfig{
		BasePath:         "/tmp/nexus/queue",
		LeaseDuration:    30 * time.Second,
		MaxDeliveryCount: 5,
	}
}

// Queue implements a filesystem-based messaging.Queue. Message envelopes move
// between per-state directories; the lease deadline is persisted inside the
// envelope so expired leases survive process restarts.
type Queue[T any] struct {
	fs            afs.Service
	config        QueueConfig
	pendingDir    string
	processingDir string
	completedDir  string
	dlqDir        string
	mu            sync.Mutex
}

// NewQueue creates a new filesystem-based queue
func NewQueue[T any](fs afs.Service, config QueueConfig) (*Queue[T], error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	defaults := DefaultConfig()
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaults.LeaseDuration
	}
	if config.MaxDeliveryCount <= 0 {
		config.MaxDeliveryCount = defaults.MaxDeliveryCount
	}

	q := &Queue[T]{
		fs:            fs,
		config:        config,
		pendingDir:    path.Join(config.BasePath, "pending"),
		processingDir: path.Join(config.BasePath, "processing"),
		completedDir:  path.Join(config.BasePath, "completed"),
		dlqDir:        path.Join(config.BasePath, "dlq"),
	}

	dirs := []string{
		q.pendingDir,
		q.processingDir,
		q.completedDir,
		q.dlqDir,
	}

	ctx := context.Background()
	for _, dir := range dirs {
		exists, _ := fs.Exists(ctx, dir)
		if !exists {
			if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return q, nil
}

// Publish adds a new message to the queue
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	message := &Message[T]{
		MessageID: uuid.New().String(),
		Data:      *t,
		State:     MessageStatePending,
		CreatedAt: clock.Now(),
		UpdatedAt: clock.Now(),
		queue:     q,
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	filePath := path.Join(q.pendingDir, q.generateFilename(message.MessageID))
	return q.uploadMessage(ctx, filePath, data)
}

// Consume retrieves a pending message and leases it. Returns (nil, nil) when
// nothing is deliverable; callers poll.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	// Return expired leases to pending first so crashed consumers do not
	// strand messages in processing
	if err := q.reapExpired(ctx); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	objects, err := q.fs.List(ctx, q.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}

	var pendingFiles []storage.Object
	for _, obj := range objects {
		if !obj.IsDir() && strings.HasSuffix(obj.Name(), ".json") {
			pendingFiles = append(pendingFiles, obj)
		}
	}

	if len(pendingFiles) == 0 {
		return nil, nil
	}

	obj := pendingFiles[0]
	message, err := q.readMessageFromURL(ctx, obj.URL())
	if err != nil {
		// Park the unreadable envelope so it does not wedge the queue
		destURL := path.Join(q.dlqDir, fmt.Sprintf("invalid-%s", obj.Name()))
		_ = q.fs.Move(ctx, obj.URL(), destURL)
		return nil, err
	}

	message.queue = q
	message.Deliveries++
	message.State = MessageStateProcessing
	message.LeaseExpiresAt = clock.Now().Add(q.config.LeaseDuration)
	message.UpdatedAt = clock.Now()

	if message.Deliveries > q.config.MaxDeliveryCount {
		message.State = MessageStateDeadLettered
		if err := q.moveMessage(ctx, message, obj.URL(), q.dlqDir); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := q.moveMessage(ctx, message, obj.URL(), q.processingDir); err != nil {
		return nil, err
	}
	return message, nil
}

// Size returns the number of pending messages
func (q *Queue[T]) Size(ctx context.Context) (int, error) {
	return q.countFiles(ctx, q.pendingDir)
}

// DLQSize returns the number of dead-lettered messages
func (q *Queue[T]) DLQSize(ctx context.Context) (int, error) {
	return q.countFiles(ctx, q.dlqDir)
}

// reapExpired moves lease-expired processing envelopes back to pending, or to
// the dead-letter directory once over the delivery limit
func (q *Queue[T]) reapExpired(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	objects, err := q.fs.List(ctx, q.processingDir)
	if err != nil {
		return fmt.Errorf("failed to list processing messages: %w", err)
	}

	now := clock.Now()
	for _, obj := range objects {
		if obj.IsDir() || !strings.HasSuffix(obj.Name(), ".json") {
			continue
		}
		message, err := q.readMessageFromURL(ctx, obj.URL())
		if err != nil {
			destURL := path.Join(q.dlqDir, fmt.Sprintf("invalid-%s", obj.Name()))
			_ = q.fs.Move(ctx, obj.URL(), destURL)
			continue
		}
		if !now.After(message.LeaseExpiresAt) {
			continue
		}

		message.UpdatedAt = now
		if message.Deliveries >= q.config.MaxDeliveryCount {
			message.State = MessageStateDeadLettered
			if err := q.moveMessage(ctx, message, obj.URL(), q.dlqDir); err != nil {
				return err
			}
			continue
		}
		message.State = MessageStatePending
		message.LeaseExpiresAt = time.Time{}
		if err := q.moveMessage(ctx, message, obj.URL(), q.pendingDir); err != nil {
			return err
		}
	}
	return nil
}

// completeMessage moves an acknowledged message to the completed directory
func (q *Queue[T]) completeMessage(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	filename := q.generateFilename(m.MessageID)
	processingPath := path.Join(q.processingDir, filename)

	exists, _ := q.fs.Exists(ctx, processingPath)
	if !exists {
		// The lease reaper already reclaimed this delivery
		return messaging.ErrLeaseExpired
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal completed message: %w", err)
	}
	completedPath := path.Join(q.completedDir, filename)
	if err := q.uploadMessage(ctx, completedPath, data); err != nil {
		return fmt.Errorf("failed to write message to completed directory: %w", err)
	}
	if err := q.fs.Delete(ctx, processingPath); err != nil {
		return fmt.Errorf("failed to delete message from processing directory: %w", err)
	}
	return nil
}

// failMessage returns a nacked message to pending, or parks it in the
// dead-letter directory once over the delivery limit
func (q *Queue[T]) failMessage(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	filename := q.generateFilename(m.MessageID)
	processingPath := path.Join(q.processingDir, filename)

	exists, _ := q.fs.Exists(ctx, processingPath)
	if !exists {
		return messaging.ErrLeaseExpired
	}

	destDir := q.pendingDir
	if m.Deliveries >= q.config.MaxDeliveryCount {
		destDir = q.dlqDir
		m.State = MessageStateDeadLettered
	} else {
		m.State = MessageStatePending
		m.LeaseExpiresAt = time.Time{}
	}

	return q.moveMessage(ctx, m, processingPath, destDir)
}

// persistProcessing rewrites the processing envelope, used by lease extension
func (q *Queue[T]) persistProcessing(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	filename := q.generateFilename(m.MessageID)
	processingPath := path.Join(q.processingDir, filename)

	exists, _ := q.fs.Exists(ctx, processingPath)
	if !exists {
		return messaging.ErrLeaseExpired
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.uploadMessage(ctx, processingPath, data)
}

// moveMessage writes the envelope into destDir and removes the source file
func (q *Queue[T]) moveMessage(ctx context.Context, m *Message[T], srcURL, destDir string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	destPath := path.Join(destDir, q.generateFilename(m.MessageID))
	if err := q.uploadMessage(ctx, destPath, data); err != nil {
		return fmt.Errorf("failed to write message to %s: %w", destDir, err)
	}
	if err := q.fs.Delete(ctx, srcURL); err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", srcURL, err)
	}
	return nil
}

func (q *Queue[T]) countFiles(ctx context.Context, dir string) (int, error) {
	objects, err := q.fs.List(ctx, dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, obj := range objects {
		if !obj.IsDir() && strings.HasSuffix(obj.Name(), ".json") {
			count++
		}
	}
	return count, nil
}

// generateFilename generates a consistent filename for a message
func (q *Queue[T]) generateFilename(id string) string {
	return fmt.Sprintf("%s.json", id)
}

// uploadMessage abstracts the common operation of uploading message data
func (q *Queue[T]) uploadMessage(ctx context.Context, path string, data []byte) error {
	return q.fs.Upload(ctx, path, file.DefaultFileOsMode, bytes.NewBuffer(data))
}

// readMessageFromURL abstracts the common operation of reading and unmarshaling a message
func (q *Queue[T]) readMessageFromURL(ctx context.Context, url string) (*Message[T], error) {
	data, err := q.fs.DownloadWithURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", url, err)
	}

	var message Message[T]
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", url, err)
	}

	return &message, nil
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
