package event

import (
	"context"
	"time"

	"github.com/viant/nexus/service/messaging"
)

// Publisher pushes events through a backing queue so delivery survives the
// producing goroutine.
type Publisher struct {
	queue messaging.Queue[Event]
}

func NewPublisher(queue messaging.Queue[Event]) *Publisher {
	return &Publisher{queue: queue}
}

func (p *Publisher) Publish(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return p.queue.Publish(ctx, event)
}

func (p *Publisher) Consume(ctx context.Context) (*Event, error) {
	msg, err := p.queue.Consume(ctx)
	if err != nil || msg == nil {
		return nil, err
	}
	if err = msg.Ack(); err != nil {
		return nil, err
	}
	return msg.T(), nil
}
