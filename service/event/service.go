package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/nexus/service/messaging"
	"github.com/viant/nexus/service/messaging/fs"
	"github.com/viant/nexus/service/messaging/memory"
)

const subscriberBuffer = 64

// Service publishes pipeline events through a backing queue and fans them out
// to channel subscribers. Slow subscribers lose events rather than stall the
// pipeline.
type Service struct {
	publisher         *Publisher
	listener          *Listener
	subscribers       map[int]chan Event
	nextID            int
	mux               sync.RWMutex
	queueVendor       messaging.Vendor
	fsNewQueueConfig  func(name string) fs.QueueConfig
	memNewQueueConfig func(name string) memory.Config
}

func New(queueVendor messaging.Vendor, opts ...Option) (*Service, error) {
	ret := &Service{
		queueVendor: queueVendor,
		subscribers: make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(ret)
	}

	switch queueVendor {
	case messaging.VendorFs:
		if ret.fsNewQueueConfig == nil {
			return nil, fmt.Errorf("fs queue vendor requires fsNewQueueConfig")
		}
	case messaging.VendorMemory:
		if ret.memNewQueueConfig == nil {
			ret.memNewQueueConfig = func(name string) memory.Config {
				return memory.DefaultConfig()
			}
		}
	default:
		return nil, fmt.Errorf("unsupported queue vendor: %s", queueVendor)
	}

	queue, err := queueOf(ret, "events")
	if err != nil {
		return nil, err
	}
	ret.publisher = NewPublisher(queue)
	ret.listener = NewListener(ret.publisher, ret.fanOut)
	ret.listener.Start()
	return ret, nil
}

// Publish emits an event on the given topic
func (s *Service) Publish(ctx context.Context, topic string, data interface{}) error {
	return s.publisher.Publish(ctx, NewEvent(topic, data))
}

// Subscribe registers a channel receiving every published event until ctx is
// cancelled
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	s.mux.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mux.Unlock()

	go func() {
		<-ctx.Done()
		s.mux.Lock()
		delete(s.subscribers, id)
		s.mux.Unlock()
		close(ch)
	}()
	return ch
}

// Close stops the fan-out listener
func (s *Service) Close() {
	if s.listener != nil {
		s.listener.Stop()
	}
}

func (s *Service) fanOut(event *Event) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- *event:
		default:
		}
	}
}

func queueOf(s *Service, name string) (messaging.Queue[Event], error) {
	switch s.queueVendor {
	case messaging.VendorFs:
		return fs.NewQueue[Event](afs.New(), s.fsNewQueueConfig(name))
	case messaging.VendorMemory:
		return memory.NewQueue[Event](name, s.memNewQueueConfig(name)), nil
	}
	return nil, fmt.Errorf("unsupported queue vendor: %s", s.queueVendor)
}
