package worker

import (
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/messaging"
)

// Option customises the worker harness.
type Option func(*Service)

// WithHandlers registers handlers by their kind
func WithHandlers(handlers ...Handler) Option {
	return func(s *Service) {
		for _, handler := range handlers {
			s.handlers[handler.Kind()] = handler
		}
	}
}

// WithKindQueue overrides the queue name consumed for a kind; the default is
// the conventional per-kind worker queue
func WithKindQueue(kind, queue string) Option {
	return func(s *Service) {
		s.queueNames[kind] = queue
	}
}

// WithRequestStore sets the request store implementation
func WithRequestStore(store request.Store) Option {
	return func(s *Service) {
		s.requests = store
	}
}

// WithQueueProvider sets the provider used to open worker queues
func WithQueueProvider(provider messaging.Provider[model.Request]) Option {
	return func(s *Service) {
		s.provider = provider
	}
}

// WithResultProvider sets the provider used to open the result queue
func WithResultProvider(provider messaging.Provider[model.Result]) Option {
	return func(s *Service) {
		s.resultsBy = provider
	}
}

// WithResultQueue sets the result queue explicitly
func WithResultQueue(queue messaging.Queue[model.Result]) Option {
	return func(s *Service) {
		s.results = queue
	}
}

// WithEvents sets the event service request updates are published to
func WithEvents(events *event.Service) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithID sets the worker id stamped on produced results
func WithID(id string) Option {
	return func(s *Service) {
		s.id = id
	}
}

// WithWorkers sets the number of worker goroutines per kind
func WithWorkers(count int) Option {
	return func(s *Service) {
		s.config.WorkerCount = count
	}
}

// WithConfig sets the configuration for the harness
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
