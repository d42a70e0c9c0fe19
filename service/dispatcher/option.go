package dispatcher

import (
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/approval"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/dispatcher/rule"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/messaging"
)

// Option customises the dispatcher service.
type Option func(*Service)

// WithRequestStore sets the request store implementation
func WithRequestStore(store request.Store) Option {
	return func(s *Service) {
		s.requests = store
	}
}

// WithRules sets the routing rule set
func WithRules(rules *rule.Set) Option {
	return func(s *Service) {
		s.rules = rules
	}
}

// WithApprovalGate sets the approval gate requests are handed to
func WithApprovalGate(gate approval.Service) Option {
	return func(s *Service) {
		s.gate = gate
	}
}

// WithQueueProvider sets the provider used to open the inbound and worker
// queues
func WithQueueProvider(provider messaging.Provider[model.Request]) Option {
	return func(s *Service) {
		s.provider = provider
	}
}

// WithQueue sets the inbound queue explicitly instead of opening it from the
// provider
func WithQueue(queue messaging.Queue[model.Request]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithEvents sets the event service request updates are published to
func WithEvents(events *event.Service) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithWorkers sets the number of worker goroutines
func WithWorkers(count int) Option {
	return func(s *Service) {
		s.config.WorkerCount = count
	}
}

// WithConfig sets the configuration for the service
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
