package gateway

import (
	"github.com/viant/nexus/progress"
	"github.com/viant/nexus/service/approval"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/poller"
)

// Option configures the gateway.
type Option func(*Service)

// WithConfig replaces the whole configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(s *Service) {
		s.config.Addr = addr
	}
}

// WithSubmitter sets the pipeline entry point for POST /v1/requests.
func WithSubmitter(submitter Submitter) Option {
	return func(s *Service) {
		s.submit = submitter
	}
}

// WithRequestStore sets the store backing request reads.
func WithRequestStore(store request.Store) Option {
	return func(s *Service) {
		s.requests = store
	}
}

// WithAwaiter sets the blocking outcome reader.
func WithAwaiter(awaiter Awaiter) Option {
	return func(s *Service) {
		s.results = awaiter
	}
}

// WithApprovalGate sets the gate behind the approval endpoints.
func WithApprovalGate(gate approval.Service) Option {
	return func(s *Service) {
		s.gate = gate
	}
}

// WithProgress surfaces the runtime counters on /v1/stats and as gauges.
func WithProgress(tracker *progress.Progress) Option {
	return func(s *Service) {
		s.tracker = tracker
	}
}

// WithResultStats exposes poller drop counters on /v1/stats and /metrics.
func WithResultStats(stats func() poller.Stats) Option {
	return func(s *Service) {
		s.stats = stats
	}
}

// WithLogger overrides the request logger.
func WithLogger(logger *Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
