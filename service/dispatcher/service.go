// Package dispatcher consumes the inbound request queue and routes each
// request to its per-kind worker queue, handing approval-gated requests to
// the approval gate first. Dispatch is idempotent on the request id: the
// durable record is consulted before any publish, so queue redeliveries
// observe the stored status and publish at most once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/viant/nexus/model"
	"github.com/viant/nexus/policy"
	"github.com/viant/nexus/service/approval"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/dispatcher/rule"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/messaging"
	"github.com/viant/nexus/tracing"
)

// Config represents dispatcher service configuration
type Config struct {
	// WorkerCount is the number of workers consuming the inbound queue
	WorkerCount int
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{WorkerCount: 5}
}

// Service routes requests from the inbound queue to worker queues.
type Service struct {
	config   Config
	rules    *rule.Set
	requests request.Store
	gate     approval.Service
	provider messaging.Provider[model.Request]
	queue    messaging.Queue[model.Request]
	events   *event.Service

	workers  []*worker
	workerWg sync.WaitGroup
}

type worker struct {
	id       int
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// New creates a dispatcher service
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, opt := range options {
		opt(s)
	}
	if s.requests == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if s.provider == nil && s.queue == nil {
		return nil, fmt.Errorf("queue provider is required")
	}
	if s.gate == nil {
		return nil, fmt.Errorf("approval gate is required")
	}
	return s, nil
}

// Start opens the inbound queue and begins consuming it
func (s *Service) Start(ctx context.Context) error {
	if s.queue == nil {
		queue, err := s.provider.Queue(ctx, messaging.RequestQueue)
		if err != nil {
			return fmt.Errorf("failed to open queue %s: %w", messaging.RequestQueue, err)
		}
		s.queue = queue
	}
	for i := 0; i < s.config.WorkerCount; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		worker := &worker{
			id:       i,
			service:  s,
			ctx:      workerCtx,
			cancelFn: cancel,
		}
		s.workers = append(s.workers, worker)
		s.workerWg.Add(1)
		go worker.run()
	}
	return nil
}

// run processes messages from the inbound queue
func (w *worker) run() {
	defer w.service.workerWg.Done()

	for {
		msg, err := w.service.queue.Consume(w.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Transient error (e.g. queue closed); back off a bit.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if msg == nil {
			// the fs/pg vendors return immediately when idle
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if pErr := w.service.processMessage(w.ctx, msg); pErr != nil {
			log.Printf("dispatcher worker %d: failed to process message: %v", w.id, pErr)
		}
	}
}

// processMessage settles one delivery: transient dispatch errors nack the
// message so the queue redelivers it, everything else acknowledges.
func (s *Service) processMessage(ctx context.Context, message messaging.Message[model.Request]) error {
	if _, err := s.Dispatch(ctx, message.T()); err != nil {
		return message.Nack(err)
	}
	return message.Ack()
}

// Dispatch routes a single request according to the stored record, which is
// authoritative over the message payload. A non-nil error means the attempt
// may succeed later and the delivery must not be acknowledged; every outcome
// with a nil error is final for this delivery.
func (s *Service) Dispatch(ctx context.Context, req *model.Request) (outcome Outcome, err error) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("dispatcher.Dispatch %s", req.Kind), "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"request.id": req.ID, "request.kind": req.Kind})

	current, err := s.requests.Load(ctx, req.ID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			// No durable record to transition; retrying cannot create one.
			log.Printf("dispatcher: dropping message for unknown request %s", req.ID)
			return OutcomeFailed, nil
		}
		return OutcomeFailed, err
	}

	switch current.Status {
	case model.StatusQueued:
		return s.dispatchQueued(ctx, current)
	case model.StatusApproved:
		queueName, rErr := s.route(current.Kind)
		if rErr != nil {
			return OutcomeFailed, rErr
		}
		return s.enqueue(ctx, current, model.StatusApproved, queueName)
	case model.StatusAwaitingApproval:
		return OutcomeAwaitingApproval, nil
	case model.StatusRejected, model.StatusExpired:
		return OutcomeRejected, nil
	default:
		// dispatched, in_progress, completed, failed: an earlier delivery
		// already moved the request past dispatch.
		return OutcomeDuplicate, nil
	}
}

// dispatchQueued handles the first delivery of a freshly queued request.
func (s *Service) dispatchQueued(ctx context.Context, current *model.Request) (Outcome, error) {
	matched := s.rules.Match(current.Kind)
	if matched == nil && len(s.rules.Rules()) > 0 {
		return s.fail(ctx, current, fmt.Sprintf("no route for kind %q", current.Kind))
	}
	if matched != nil && matched.Mode == policy.ModeDeny {
		return s.fail(ctx, current, fmt.Sprintf("kind %q denied by routing rule", current.Kind))
	}
	if current.RequiresApproval {
		return s.handOff(ctx, current)
	}
	queueName := messaging.WorkerQueue(current.Kind)
	if matched != nil && matched.Queue != "" {
		queueName = matched.Queue
	}
	return s.enqueue(ctx, current, model.StatusQueued, queueName)
}

// route resolves the worker queue for a kind. An empty rule set routes every
// kind to its conventional queue; a non-empty one is authoritative.
func (s *Service) route(kind string) (string, error) {
	route := s.rules.Match(kind)
	if route == nil {
		if len(s.rules.Rules()) > 0 {
			return "", fmt.Errorf("no route for kind %q", kind)
		}
		return messaging.WorkerQueue(kind), nil
	}
	if route.Queue == "" {
		return messaging.WorkerQueue(kind), nil
	}
	return route.Queue, nil
}

// handOff registers the pending approval before moving the request, so a
// crash between the two steps redelivers into the same idempotent sequence.
func (s *Service) handOff(ctx context.Context, current *model.Request) (Outcome, error) {
	record := &model.ApprovalRecord{
		RequestID: current.ID,
		Kind:      current.Kind,
		Args:      current.Payload,
	}
	if _, err := s.gate.Request(ctx, record); err != nil && !errors.Is(err, approval.ErrDuplicate) {
		return OutcomeAwaitingApproval, fmt.Errorf("failed to request approval for %s: %w", current.ID, err)
	}
	updated, err := s.requests.Transition(ctx, current.ID, model.StatusQueued, model.StatusAwaitingApproval, nil)
	if err != nil {
		if errors.Is(err, model.ErrStatusConflict) {
			// a previous delivery already moved the request on
			return OutcomeAwaitingApproval, nil
		}
		return OutcomeAwaitingApproval, err
	}
	s.publishUpdate(ctx, updated)
	return OutcomeAwaitingApproval, nil
}

// enqueue publishes the request to its worker queue and then moves the
// status to dispatched. Publishing first keeps the failure window safe: a
// crash before the transition leaves the status unchanged, the delivery is
// never acknowledged and the redelivered message lands in the CAS conflict
// branch, while the extra publish stays inert because workers claim work via
// the dispatched -> in_progress move.
func (s *Service) enqueue(ctx context.Context, current *model.Request, from model.Status, queueName string) (Outcome, error) {
	queue, err := s.workerQueue(ctx, queueName)
	if err != nil {
		return OutcomeFailed, err
	}
	if err := queue.Publish(ctx, current); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to publish request %s to %s: %w", current.ID, queueName, err)
	}
	updated, err := s.requests.Transition(ctx, current.ID, from, model.StatusDispatched, nil)
	if err != nil {
		if errors.Is(err, model.ErrStatusConflict) {
			return OutcomeDuplicate, nil
		}
		return OutcomeDispatched, err
	}
	s.publishUpdate(ctx, updated)
	return OutcomeDispatched, nil
}

// fail marks an unroutable request failed; it is not redelivered.
func (s *Service) fail(ctx context.Context, current *model.Request, detail string) (Outcome, error) {
	updated, err := s.requests.Transition(ctx, current.ID, current.Status, model.StatusFailed, func(r *model.Request) {
		r.StatusDetail = detail
	})
	if err != nil {
		if errors.Is(err, model.ErrStatusConflict) {
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, err
	}
	s.publishUpdate(ctx, updated)
	return OutcomeFailed, nil
}

// EnqueueApproved publishes an approved request to its worker queue and
// moves it to dispatched. The approval gate calls it after a positive
// decision; the runtime sweep calls it again for requests stuck in approved
// after a transient publish failure.
func (s *Service) EnqueueApproved(ctx context.Context, req *model.Request) error {
	current, err := s.requests.Load(ctx, req.ID)
	if err != nil {
		return err
	}
	if current.Status != model.StatusApproved {
		// the request already moved on
		return nil
	}
	queueName, err := s.route(current.Kind)
	if err != nil {
		return err
	}
	_, err = s.enqueue(ctx, current, model.StatusApproved, queueName)
	return err
}

func (s *Service) workerQueue(ctx context.Context, name string) (messaging.Queue[model.Request], error) {
	queue, err := s.provider.Queue(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue %s: %w", name, err)
	}
	return queue, nil
}

func (s *Service) publishUpdate(ctx context.Context, updated *model.Request) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, event.TopicRequestUpdated, updated)
}

// Shutdown stops the dispatcher workers
func (s *Service) Shutdown() {
	for _, worker := range s.workers {
		worker.cancelFn()
	}
	s.workerWg.Wait()
}

var _ approval.Resubmitter = (*Service)(nil)
