package nexus

import (
	"database/sql"

	"github.com/viant/nexus/internal/secret"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/policy"
	"github.com/viant/nexus/service/approval"
	astore "github.com/viant/nexus/service/dao/approval"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/dispatcher/rule"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/messaging"
	"github.com/viant/nexus/service/worker"
	"github.com/viant/nexus/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises the assembled pipeline.
type Option func(s *Service)

// WithConfig sets the pipeline configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithRequestStore overrides the configured request ledger.
func WithRequestStore(store request.Store) Option {
	return func(s *Service) {
		s.requests = store
	}
}

// WithApprovalStore overrides the configured approval ledger.
func WithApprovalStore(store astore.Store) Option {
	return func(s *Service) {
		s.approvals = store
	}
}

// WithApprovalService sets the approval gate implementation.
func WithApprovalService(svc approval.Service) Option {
	return func(s *Service) { s.gate = svc }
}

// WithQueueProvider overrides the request queue vendor.
func WithQueueProvider(provider messaging.Provider[model.Request]) Option {
	return func(s *Service) {
		s.requestQueues = provider
	}
}

// WithResultProvider overrides the result queue vendor.
func WithResultProvider(provider messaging.Provider[model.Result]) Option {
	return func(s *Service) {
		s.resultQueues = provider
	}
}

// WithEventService sets the event service shared by the pipeline.
func WithEventService(service *event.Service) Option {
	return func(s *Service) {
		s.events = service
	}
}

// WithHandlers registers worker handlers in addition to the built-in ones.
func WithHandlers(handlers ...worker.Handler) Option {
	return func(s *Service) {
		s.extraHandlers = append(s.extraHandlers, handlers...)
	}
}

// WithPolicy sets the submission policy.
func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithRules sets pre-parsed routing rules, bypassing config.Routing.
func WithRules(rules *rule.Set) Option {
	return func(s *Service) {
		s.rules = rules
	}
}

// WithDatabase supplies an open database handle for pg vendors.
func WithDatabase(db *sql.DB) Option {
	return func(s *Service) {
		s.db = db
	}
}

// WithSecretResolver overrides the secret resolver.
func WithSecretResolver(resolver *secret.Resolver) Option {
	return func(s *Service) {
		s.secrets = resolver
	}
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The function is
// safe to call multiple times – the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter. This enables
// integrations with exporters other than the built-in stdout exporter, for example OTLP, Jaeger or
// Zipkin. The function is safe to call multiple times – the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
