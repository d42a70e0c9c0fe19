// Package worker runs handler pools over per-kind queues. Each consumed
// request is claimed through the dispatched -> in_progress transition before
// its handler runs, the message lease is extended by a heartbeat while the
// handler works, and the outcome is published to the result queue. Handler
// errors become error results; they are terminal and never retried here.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/messaging"
	"github.com/viant/nexus/tracing"
)

// Config represents worker harness configuration
type Config struct {
	// WorkerCount is the number of workers per kind
	WorkerCount int

	// HeartbeatInterval is the gap between lease extensions while a handler
	// runs; zero disables the heartbeat
	HeartbeatInterval time.Duration

	// LeaseExtension is how far each heartbeat pushes the lease deadline out
	LeaseExtension time.Duration
}

// DefaultConfig returns the default worker harness configuration
func DefaultConfig() Config {
	return Config{
		WorkerCount:       2,
		HeartbeatInterval: 10 * time.Second,
		LeaseExtension:    30 * time.Second,
	}
}

// Service consumes worker queues and invokes the handler registered for each
// kind.
type Service struct {
	config     Config
	id         string
	handlers   map[string]Handler
	queueNames map[string]string
	requests   request.Store
	provider   messaging.Provider[model.Request]
	resultsBy  messaging.Provider[model.Result]
	results    messaging.Queue[model.Result]
	events     *event.Service

	workers  []*worker
	workerWg sync.WaitGroup
}

type worker struct {
	id       string
	handler  Handler
	queue    messaging.Queue[model.Request]
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// New creates a worker harness
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:     DefaultConfig(),
		id:         "worker-" + uuid.New().String(),
		handlers:   make(map[string]Handler),
		queueNames: make(map[string]string),
	}
	for _, opt := range options {
		opt(s)
	}
	if len(s.handlers) == 0 {
		return nil, fmt.Errorf("at least one handler is required")
	}
	if s.requests == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if s.provider == nil {
		return nil, fmt.Errorf("queue provider is required")
	}
	if s.resultsBy == nil && s.results == nil {
		return nil, fmt.Errorf("result queue is required")
	}
	return s, nil
}

// Start opens the per-kind queues and begins consuming them
func (s *Service) Start(ctx context.Context) error {
	if s.results == nil {
		results, err := s.resultsBy.Queue(ctx, messaging.ResultQueue)
		if err != nil {
			return fmt.Errorf("failed to open queue %s: %w", messaging.ResultQueue, err)
		}
		s.results = results
	}
	for kind, handler := range s.handlers {
		queueName := s.queueNames[kind]
		if queueName == "" {
			queueName = messaging.WorkerQueue(kind)
		}
		queue, err := s.provider.Queue(ctx, queueName)
		if err != nil {
			return fmt.Errorf("failed to open queue %s: %w", queueName, err)
		}
		for i := 0; i < s.config.WorkerCount; i++ {
			workerCtx, cancel := context.WithCancel(ctx)
			worker := &worker{
				id:       fmt.Sprintf("%s-%d", kind, i),
				handler:  handler,
				queue:    queue,
				service:  s,
				ctx:      workerCtx,
				cancelFn: cancel,
			}
			s.workers = append(s.workers, worker)
			s.workerWg.Add(1)
			go worker.run()
		}
	}
	return nil
}

// run processes messages from one worker queue
func (w *worker) run() {
	defer w.service.workerWg.Done()

	for {
		msg, err := w.queue.Consume(w.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if msg == nil {
			// the fs/pg vendors return immediately when idle
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if pErr := w.service.processMessage(w.ctx, w.handler, msg); pErr != nil {
			log.Printf("worker %s: failed to process message: %v", w.id, pErr)
		}
	}
}

// processMessage claims the request, runs the handler under a lease
// heartbeat and publishes the result. The message is acknowledged only after
// the result is on the queue, so a crash in between redelivers the work.
func (s *Service) processMessage(ctx context.Context, handler Handler, message messaging.Message[model.Request]) error {
	req := message.T()
	proceed, err := s.claim(ctx, req.ID)
	if err != nil {
		return message.Nack(err)
	}
	if !proceed {
		return message.Ack()
	}

	stop := s.heartbeat(ctx, message)
	result := s.handle(ctx, handler, req)
	stop()

	if err := s.results.Publish(ctx, result); err != nil {
		return message.Nack(fmt.Errorf("failed to publish result for %s: %w", req.ID, err))
	}
	return message.Ack()
}

// claim decides whether this delivery owns the request. Only one delivery
// wins the dispatched -> in_progress move; a request already in_progress is
// reclaimed (its previous lease expired), terminal ones are skipped, and a
// record still ahead of the dispatcher CAS retries via redelivery.
func (s *Service) claim(ctx context.Context, id string) (bool, error) {
	for {
		current, err := s.requests.Load(ctx, id)
		if err != nil {
			if errors.Is(err, dao.ErrNotFound) {
				log.Printf("worker: dropping message for unknown request %s", id)
				return false, nil
			}
			return false, err
		}
		switch current.Status {
		case model.StatusDispatched:
			updated, err := s.requests.Transition(ctx, id, model.StatusDispatched, model.StatusInProgress, nil)
			if err != nil {
				if errors.Is(err, model.ErrStatusConflict) {
					continue
				}
				return false, err
			}
			s.publishUpdate(ctx, updated)
			return true, nil
		case model.StatusInProgress:
			return true, nil
		case model.StatusQueued, model.StatusAwaitingApproval, model.StatusApproved:
			return false, fmt.Errorf("request %s not yet dispatched: %w", id, messaging.ErrTransient)
		default:
			return false, nil
		}
	}
}

// handle invokes the handler and shapes its outcome into a result. Handler
// errors are terminal worker failures, reported verbatim rather than retried.
func (s *Service) handle(ctx context.Context, handler Handler, req *model.Request) *model.Result {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("worker.Handle %s", req.Kind), "INTERNAL")
	span.WithAttributes(map[string]string{"request.id": req.ID, "request.kind": req.Kind})
	result, err := handler.Handle(ctx, req)
	tracing.EndSpan(span, err)
	if err != nil {
		result = &model.Result{
			RequestID:   req.ID,
			Outcome:     model.OutcomeError,
			ErrorDetail: err.Error(),
		}
	}
	if result.RequestID == "" {
		result.RequestID = req.ID
	}
	result.ProducedAt = clock.Now()
	result.WorkerID = s.id
	return result
}

// heartbeat keeps the message lease alive while the handler runs; the
// returned stop releases the goroutine.
func (s *Service) heartbeat(ctx context.Context, message messaging.Message[model.Request]) func() {
	if s.config.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := message.ExtendLease(s.config.LeaseExtension); err != nil {
					log.Printf("worker: failed to extend lease for message %s: %v", message.ID(), err)
					return
				}
			}
		}
	}()
	return func() {
		once.Do(func() { close(done) })
	}
}

func (s *Service) publishUpdate(ctx context.Context, updated *model.Request) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, event.TopicRequestUpdated, updated)
}

// Shutdown stops all handler workers
func (s *Service) Shutdown() {
	for _, worker := range s.workers {
		worker.cancelFn()
	}
	s.workerWg.Wait()
}
