package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/nexus/service/messaging"
)

type TestPayload struct {
	ID      string
	Message string
	Count   int
}

func TestQueue(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 10 * time.Millisecond // Speed up for testing
	queue := NewQueue[TestPayload]("test", config)
	defer queue.Close()

	ctx := context.Background()
	payload := TestPayload{
		ID:      "test-1",
		Message: "Hello, world!",
		Count:   1,
	}

	// Publish a message
	err := queue.Publish(ctx, &payload)
	assert.NoError(t, err)
	assert.Equal(t, 1, queue.Size())

	// Consume the message
	message, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.Equal(t, 0, queue.Size())

	// Verify the envelope
	msgData := message.T()
	assert.Equal(t, payload.ID, msgData.ID)
	assert.Equal(t, payload.Message, msgData.Message)
	assert.Equal(t, payload.Count, msgData.Count)
	assert.NotEmpty(t, message.ID())
	assert.Equal(t, 1, message.DeliveryCount())
	assert.True(t, message.LeaseDeadline().After(time.Now()))

	// Test acknowledgment
	err = message.Ack()
	assert.NoError(t, err)
	assert.Equal(t, 0, queue.InflightSize())

	// Test double ack (should error)
	err = message.Ack()
	assert.ErrorIs(t, err, messaging.ErrAlreadySettled)
}

func TestQueueLeaseExpiry(t *testing.T) {
	config := DefaultConfig()
	config.LeaseDuration = 30 * time.Millisecond
	config.ReapInterval = 10 * time.Millisecond
	queue := NewQueue[TestPayload]("test", config)
	defer queue.Close()

	ctx := context.Background()
	err := queue.Publish(ctx, &TestPayload{ID: "lease-test"})
	assert.NoError(t, err)

	first, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, first.DeliveryCount())

	// Let the lease expire without acknowledging
	time.Sleep(100 * time.Millisecond)

	// The message must be redeliverable with an incremented delivery count
	second, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "lease-test", second.T().ID)
	assert.Equal(t, 2, second.DeliveryCount())

	// The original delivery handle can no longer settle the message
	err = first.Ack()
	assert.Error(t, err)

	// The redelivered handle can
	err = second.Ack()
	assert.NoError(t, err)
}

func TestQueueExtendLease(t *testing.T) {
	config := DefaultConfig()
	config.LeaseDuration = 50 * time.Millisecond
	config.ReapInterval = 10 * time.Millisecond
	queue := NewQueue[TestPayload]("test", config)
	defer queue.Close()

	ctx := context.Background()
	err := queue.Publish(ctx, &TestPayload{ID: "extend-test"})
	assert.NoError(t, err)

	message, err := queue.Consume(ctx)
	assert.NoError(t, err)

	deadline := message.LeaseDeadline()
	err = message.ExtendLease(500 * time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, message.LeaseDeadline().After(deadline))

	// Outlive the original lease; the extension keeps the message ours
	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, message.Ack())
	assert.Equal(t, 0, queue.Size())
}

func TestQueueNackRedelivery(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 10 * time.Millisecond
	queue := NewQueue[TestPayload]("test", config)
	defer queue.Close()

	ctx := context.Background()
	err := queue.Publish(ctx, &TestPayload{ID: "nack-test"})
	assert.NoError(t, err)

	message, err := queue.Consume(ctx)
	assert.NoError(t, err)

	// Nack makes the message deliverable again without lease expiry
	err = message.Nack(errors.New("handler blew up"))
	assert.NoError(t, err)

	redelivered, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "nack-test", redelivered.T().ID)
	assert.Equal(t, 2, redelivered.DeliveryCount())
	assert.NoError(t, redelivered.Ack())
}

func TestQueueDeadLetter(t *testing.T) {
	config := DefaultConfig()
	config.MaxDeliveryCount = 2
	config.RetryDelay = 5 * time.Millisecond
	queue := NewQueue[TestPayload]("test", config)
	defer queue.Close()

	ctx := context.Background()
	err := queue.Publish(ctx, &TestPayload{ID: "dlq-test"})
	assert.NoError(t, err)

	for i := 1; i <= 2; i++ {
		message, err := queue.Consume(ctx)
		assert.NoError(t, err)
		assert.Equal(t, i, message.DeliveryCount())
		assert.NoError(t, message.Nack(errors.New("still failing")))
		time.Sleep(20 * time.Millisecond)
	}

	// Delivery limit reached, the message is parked instead of redelivered
	assert.Equal(t, 1, queue.DLQSize())
	assert.Equal(t, 0, queue.Size())

	deadLettered := queue.DeadLettered()
	assert.Len(t, deadLettered, 1)
	assert.Equal(t, "dlq-test", deadLettered[0].ID)

	consumeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = queue.Consume(consumeCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueConcurrency(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 10 * time.Millisecond
	queue := NewQueue[TestPayload]("test", config)
	defer queue.Close()

	ctx := context.Background()
	concurrency := 10
	messagesPerProducer := 10

	// Use WaitGroup to coordinate test completion
	var wg sync.WaitGroup
	wg.Add(concurrency * 2) // producers + consumers

	// Track consumed messages
	var consumedCount int
	var consumedMu sync.Mutex

	// Start consumers
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()

			for j := 0; j < messagesPerProducer; j++ {
				message, err := queue.Consume(ctx)
				if err != nil {
					t.Errorf("Error consuming: %v", err)
					continue
				}

				err = message.Ack()
				assert.NoError(t, err)

				consumedMu.Lock()
				consumedCount++
				consumedMu.Unlock()
			}
		}()
	}

	// Start producers
	for i := 0; i < concurrency; i++ {
		go func(producerID int) {
			defer wg.Done()

			for j := 0; j < messagesPerProducer; j++ {
				payload := TestPayload{
					ID:      fmt.Sprintf("p%d-m%d", producerID, j),
					Message: fmt.Sprintf("Message %d from producer %d", j, producerID),
					Count:   j,
				}

				if err := queue.Publish(ctx, &payload); err != nil {
					t.Errorf("Error publishing: %v", err)
				}

				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	// Wait for completion with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Success
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out")
	}

	// Verify all messages were consumed exactly once
	assert.Equal(t, concurrency*messagesPerProducer, consumedCount)
	assert.Equal(t, 0, queue.Size())
	assert.Equal(t, 0, queue.InflightSize())
}

func TestQueueContextCancellation(t *testing.T) {
	queue := NewQueue[TestPayload]("test", DefaultConfig())
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Publish with cancelled context fails
	payload := TestPayload{ID: "test"}
	err := queue.Publish(ctx, &payload)
	assert.Error(t, err)

	// Consume returns once the context is done
	ctxWithTimeout, cancelTimeout := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelTimeout()
	_, err = queue.Consume(ctxWithTimeout)
	assert.Error(t, err)

	// The queue stays usable afterwards
	emptyCtx := context.Background()
	err = queue.Publish(emptyCtx, &payload)
	assert.NoError(t, err)

	message, err := queue.Consume(emptyCtx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.NoError(t, message.Ack())
}

func TestProvider(t *testing.T) {
	provider := NewProvider[TestPayload](DefaultConfig())
	defer provider.Close()

	ctx := context.Background()
	first, err := provider.Queue(ctx, "ai_requests")
	assert.NoError(t, err)
	again, err := provider.Queue(ctx, "ai_requests")
	assert.NoError(t, err)
	assert.Same(t, first, again)

	other, err := provider.Queue(ctx, "ai_results")
	assert.NoError(t, err)
	assert.NotSame(t, first, other)

	assert.NotNil(t, provider.Lookup("ai_requests"))
	assert.Nil(t, provider.Lookup("unknown"))
}
