package event

import (
	"context"
	"log"
	"time"
)

// Listener drains the publisher queue and invokes a handler per event.
type Listener struct {
	publisher *Publisher
	handler   func(*Event)
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewListener(publisher *Publisher, handler func(*Event)) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		publisher: publisher,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (l *Listener) Stop() {
	l.cancel()
}

func (l *Listener) Start() {
	go func() {
		for {
			select {
			case <-l.ctx.Done():
				return
			default:
				event, err := l.publisher.Consume(l.ctx)
				if err != nil {
					if l.ctx.Err() != nil {
						return
					}
					log.Printf("error consuming event: %v", err)
					continue
				}
				if event == nil {
					time.Sleep(10 * time.Millisecond)
					continue
				}
				l.handler(event)
			}
		}
	}()
}
