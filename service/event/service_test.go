package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/nexus/service/messaging"
)

func TestServiceFanOut(t *testing.T) {
	service, err := New(messaging.VendorMemory)
	assert.NoError(t, err)
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := service.Subscribe(ctx)
	second := service.Subscribe(ctx)

	err = service.Publish(ctx, TopicRequestCreated, "req-1")
	assert.NoError(t, err)

	for _, ch := range []<-chan Event{first, second} {
		select {
		case event := <-ch:
			assert.Equal(t, TopicRequestCreated, event.Topic)
			assert.Equal(t, "req-1", event.Data)
			assert.False(t, event.CreatedAt.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestServiceUnsubscribe(t *testing.T) {
	service, err := New(messaging.VendorMemory)
	assert.NoError(t, err)
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := service.Subscribe(ctx)
	cancel()

	// channel closes once the subscription is dropped
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for channel close")
		}
	}
}
