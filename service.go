package nexus

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/viant/afs"
	"github.com/viant/nexus/extension"
	"github.com/viant/nexus/internal/secret"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/policy"
	"github.com/viant/nexus/progress"
	"github.com/viant/nexus/service/approval"
	"github.com/viant/nexus/service/approval/watcher"
	astore "github.com/viant/nexus/service/dao/approval"
	afsstore "github.com/viant/nexus/service/dao/approval/fs"
	amemory "github.com/viant/nexus/service/dao/approval/memory"
	apg "github.com/viant/nexus/service/dao/approval/pg"
	"github.com/viant/nexus/service/dao/request"
	rfs "github.com/viant/nexus/service/dao/request/fs"
	rmemory "github.com/viant/nexus/service/dao/request/memory"
	rpg "github.com/viant/nexus/service/dao/request/pg"
	"github.com/viant/nexus/service/dispatcher"
	"github.com/viant/nexus/service/dispatcher/rule"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/gateway"
	"github.com/viant/nexus/service/messaging"
	mfs "github.com/viant/nexus/service/messaging/fs"
	mmemory "github.com/viant/nexus/service/messaging/memory"
	mpg "github.com/viant/nexus/service/messaging/pg"
	"github.com/viant/nexus/service/poller"
	"github.com/viant/nexus/service/worker"
	"github.com/viant/nexus/service/worker/handler/exec"
	"github.com/viant/nexus/service/worker/handler/generate"
	"github.com/viant/nexus/tracing"
	"github.com/viant/x"
)

// Service assembles the pipeline: stores, queues, dispatcher, approval gate,
// worker pools, result poller and the optional HTTP gateway. Use Runtime()
// for the operational surface.
type Service struct {
	config   *Config
	runtime  *Runtime
	registry *extension.Handlers

	requests  request.Store
	approvals astore.Store

	requestQueues messaging.Provider[model.Request]
	resultQueues  messaging.Provider[model.Result]

	events  *event.Service
	gate    approval.Service
	policy  *policy.Policy
	rules   *rule.Set
	secrets *secret.Resolver
	db      *sql.DB

	extraHandlers []worker.Handler
}

// New builds a Service from configuration and options. The context covers
// vendor bootstrap only (schema creation, secret resolution), not the
// pipeline lifetime; Start governs that.
func New(ctx context.Context, options ...Option) (*Service, error) {
	ret := &Service{runtime: &Runtime{}, registry: extension.NewHandlers()}
	for _, option := range options {
		option(ret)
	}
	if err := ret.init(ctx); err != nil {
		return nil, err
	}
	return ret, nil
}

// Runtime returns the operational surface of the assembled pipeline.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// RegisterHandlers adds worker handlers; call before Start.
func (s *Service) RegisterHandlers(handlers ...worker.Handler) {
	for i := range handlers {
		s.registry.Register(handlers[i])
	}
}

// RegisterTypes records payload types for introspection.
func (s *Service) RegisterTypes(types ...*x.Type) {
	for i := range types {
		s.registry.Types().Register(types[i])
	}
}

func (s *Service) init(ctx context.Context) error {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.secrets == nil {
		s.secrets = secret.New()
	}
	if err := s.ensureDatabase(ctx); err != nil {
		return err
	}
	if err := s.ensureStores(ctx); err != nil {
		return err
	}
	if err := s.ensureQueues(ctx); err != nil {
		return err
	}
	if s.events == nil {
		events, err := event.New(messaging.VendorMemory)
		if err != nil {
			return err
		}
		s.events = events
	}
	if s.rules == nil && len(s.config.Routing) > 0 {
		rules, err := rule.Parse([]byte(strings.Join(s.config.Routing, "\n")))
		if err != nil {
			return fmt.Errorf("invalid routing rules: %w", err)
		}
		s.rules = rules
	}
	if s.config.Tracing.Enabled {
		if err := s.initTracing(); err != nil {
			return err
		}
	}

	s.registry.Register(generate.New())
	s.registry.Register(exec.New())
	for _, handler := range s.extraHandlers {
		s.registry.Register(handler)
	}

	return s.assemble(ctx)
}

// assemble wires the runtime services. The gate resubmits approved requests
// through the dispatcher, which itself needs the gate to park gated
// requests; a function adapter pointing at the runtime closes the cycle.
func (s *Service) assemble(ctx context.Context) error {
	runtime := s.runtime
	runtime.requests = s.requests
	runtime.events = s.events
	runtime.policy = s.policy
	runtime.rules = s.rules
	runtime.tracker = progress.New()
	runtime.provider = s.requestQueues
	runtime.sweepInterval = s.config.Approval.SweepInterval.Duration()

	if s.gate == nil {
		gate, err := approval.New(s.approvals, s.requests,
			approval.WithEvents(s.events),
			approval.WithDeadline(s.config.Approval.ApprovalDeadline.Duration()),
			approval.WithResubmitter(resubmitterFunc(func(ctx context.Context, req *model.Request) error {
				if runtime.dispatcher == nil {
					return fmt.Errorf("dispatcher is not assembled yet")
				}
				return runtime.dispatcher.EnqueueApproved(ctx, req)
			})))
		if err != nil {
			return err
		}
		s.gate = gate
	}
	runtime.gate = s.gate

	dispatcherService, err := dispatcher.New(
		dispatcher.WithRequestStore(s.requests),
		dispatcher.WithQueueProvider(s.requestQueues),
		dispatcher.WithApprovalGate(s.gate),
		dispatcher.WithRules(s.rules),
		dispatcher.WithEvents(s.events),
		dispatcher.WithWorkers(s.config.Dispatcher.Workers))
	if err != nil {
		return err
	}
	runtime.dispatcher = dispatcherService

	pollerService, err := poller.New(
		poller.WithRequestStore(s.requests),
		poller.WithQueueProvider(s.resultQueues),
		poller.WithEvents(s.events),
		poller.WithConfig(poller.Config{
			WorkerCount:     s.config.Poller.Workers,
			PollInterval:    s.config.Poller.PollInterval.Duration(),
			MaxPollInterval: s.config.Poller.MaxPollInterval.Duration(),
			PollTimeout:     s.config.Poller.PollTimeout.Duration(),
		}))
	if err != nil {
		return err
	}
	runtime.poller = pollerService

	workerOptions := []worker.Option{
		worker.WithHandlers(s.registry.All()...),
		worker.WithRequestStore(s.requests),
		worker.WithQueueProvider(s.requestQueues),
		worker.WithResultProvider(s.resultQueues),
		worker.WithEvents(s.events),
		worker.WithConfig(worker.Config{
			WorkerCount:       s.config.Worker.Workers,
			HeartbeatInterval: s.config.Worker.HeartbeatInterval.Duration(),
			LeaseExtension:    s.config.Worker.LeaseExtension.Duration(),
		}),
	}
	for _, route := range s.rules.Rules() {
		if route.Queue != "" && route.Kind != rule.Wildcard {
			workerOptions = append(workerOptions, worker.WithKindQueue(route.Kind, route.Queue))
		}
	}
	workerService, err := worker.New(workerOptions...)
	if err != nil {
		return err
	}
	runtime.workers = workerService

	if dir := s.config.Approval.DecisionsDir; dir != "" {
		runtime.watcher = watcher.New(dir, s.gate)
	}

	if s.config.Gateway.Enabled {
		if err := s.assembleGateway(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) assembleGateway(ctx context.Context) error {
	config := gateway.DefaultConfig()
	config.Addr = s.config.Gateway.Addr
	config.APIKeyHash = s.config.Gateway.APIKeyHash
	if !s.config.Gateway.JWTSecret.Empty() {
		jwtSecret, err := s.secrets.Resolve(ctx, s.config.Gateway.JWTSecret)
		if err != nil {
			return fmt.Errorf("failed to resolve gateway jwt secret: %w", err)
		}
		config.JWTSecret = []byte(jwtSecret)
	}
	gatewayService, err := gateway.New(
		gateway.WithConfig(config),
		gateway.WithSubmitter(s.runtime),
		gateway.WithRequestStore(s.requests),
		gateway.WithAwaiter(s.runtime.poller),
		gateway.WithApprovalGate(s.gate),
		gateway.WithProgress(s.runtime.tracker),
		gateway.WithResultStats(s.runtime.poller.Stats))
	if err != nil {
		return err
	}
	s.runtime.gateway = gatewayService
	return nil
}

func (s *Service) ensureDatabase(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if s.config.Queue.Vendor != "pg" && s.config.Store.Vendor != "pg" {
		return nil
	}
	dsn, err := s.secrets.Resolve(ctx, &s.config.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to resolve database dsn: %w", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.db = db
	return nil
}

func (s *Service) ensureStores(ctx context.Context) error {
	if s.requests == nil {
		switch s.config.Store.Vendor {
		case "fs":
			s.requests = rfs.New(afs.New(), path.Join(s.config.Store.BaseURL, "requests"))
		case "pg":
			store, err := rpg.New(ctx, s.db)
			if err != nil {
				return err
			}
			s.requests = store
		default:
			s.requests = rmemory.New()
		}
	}
	if s.approvals == nil {
		switch s.config.Store.Vendor {
		case "fs":
			s.approvals = afsstore.New(afs.New(), path.Join(s.config.Store.BaseURL, "approvals"))
		case "pg":
			store, err := apg.New(ctx, s.db)
			if err != nil {
				return err
			}
			s.approvals = store
		default:
			s.approvals = amemory.New()
		}
	}
	return nil
}

func (s *Service) ensureQueues(ctx context.Context) error {
	queue := s.config.Queue
	if s.requestQueues == nil {
		switch queue.Vendor {
		case "fs":
			s.requestQueues = mfs.NewProvider[model.Request](afs.New(), path.Join(queue.BaseURL, "requests"), fsQueueConfig(queue))
		case "pg":
			provider, err := mpg.NewProvider[model.Request](ctx, s.db, pgQueueConfig(queue))
			if err != nil {
				return err
			}
			s.requestQueues = provider
		default:
			s.requestQueues = mmemory.NewProvider[model.Request](memoryQueueConfig(queue))
		}
	}
	if s.resultQueues == nil {
		switch queue.Vendor {
		case "fs":
			s.resultQueues = mfs.NewProvider[model.Result](afs.New(), path.Join(queue.BaseURL, "results"), fsQueueConfig(queue))
		case "pg":
			provider, err := mpg.NewProvider[model.Result](ctx, s.db, pgQueueConfig(queue))
			if err != nil {
				return err
			}
			s.resultQueues = provider
		default:
			s.resultQueues = mmemory.NewProvider[model.Result](memoryQueueConfig(queue))
		}
	}
	return nil
}

func (s *Service) initTracing() error {
	name := s.config.Tracing.ServiceName
	if name == "" {
		name = "nexus"
	}
	return tracing.Init(name, s.config.Tracing.Version, s.config.Tracing.OutputFile)
}

func memoryQueueConfig(queue QueueConfig) mmemory.Config {
	config := mmemory.DefaultConfig()
	config.LeaseDuration = queue.LeaseDuration.Duration()
	config.MaxDeliveryCount = queue.MaxDeliveryCount
	config.RetryDelay = queue.RetryDelay.Duration()
	if queue.Buffer > 0 {
		config.QueueBuffer = queue.Buffer
	}
	return config
}

func fsQueueConfig(queue QueueConfig) mfs.QueueConfig {
	config := mfs.DefaultConfig()
	config.LeaseDuration = queue.LeaseDuration.Duration()
	config.MaxDeliveryCount = queue.MaxDeliveryCount
	return config
}

func pgQueueConfig(queue QueueConfig) mpg.Config {
	config := mpg.DefaultConfig()
	config.LeaseDuration = queue.LeaseDuration.Duration()
	config.MaxDeliveryCount = queue.MaxDeliveryCount
	if queue.BatchSize > 0 {
		config.BatchSize = queue.BatchSize
	}
	return config
}

// resubmitterFunc adapts a function to approval.Resubmitter.
type resubmitterFunc func(ctx context.Context, request *model.Request) error

func (f resubmitterFunc) EnqueueApproved(ctx context.Context, request *model.Request) error {
	return f(ctx, request)
}
