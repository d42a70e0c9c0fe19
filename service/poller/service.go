// Package poller applies worker results to request records and lets callers
// wait for a terminal status. Results arrive on the ai_results queue; a
// repeated result for an already-terminal request is dropped, so redeliveries
// and duplicate worker runs collapse into one stored outcome.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/messaging"
	"github.com/viant/nexus/tracing"
)

// Config represents poller service configuration
type Config struct {
	// WorkerCount is the number of workers applying results
	WorkerCount int

	// PollInterval is the initial gap between record checks in AwaitResult
	PollInterval time.Duration

	// MaxPollInterval caps the exponential growth of the poll gap
	MaxPollInterval time.Duration

	// PollTimeout bounds AwaitResult when the caller passes no timeout
	PollTimeout time.Duration
}

// DefaultConfig returns the default poller configuration
func DefaultConfig() Config {
	return Config{
		WorkerCount:     5,
		PollInterval:    50 * time.Millisecond,
		MaxPollInterval: 2 * time.Second,
		PollTimeout:     30 * time.Second,
	}
}

// Stats counts anomalies observed while applying results.
type Stats struct {
	// Duplicates counts results dropped because the request was already
	// terminal
	Duplicates uint64 `json:"duplicates"`

	// Unknown counts results dropped because no request record exists
	Unknown uint64 `json:"unknown"`
}

// Service consumes the result queue and answers waits for terminal statuses.
type Service struct {
	config   Config
	requests request.Store
	provider messaging.Provider[model.Result]
	queue    messaging.Queue[model.Result]
	events   *event.Service

	duplicates uint64
	unknown    uint64

	workers  []*worker
	workerWg sync.WaitGroup
}

type worker struct {
	id       int
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// New creates a poller service
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
	if s.config.PollInterval <= 0 {
		s.config.PollInterval = DefaultConfig().PollInterval
	}
	if s.config.MaxPollInterval < s.config.PollInterval {
		s.config.MaxPollInterval = s.config.PollInterval
	}
	return s, nil
}

// Start opens the result queue and begins consuming it
func (s *Service) Start(ctx context.Context) error {
	if s.queue == nil {
		queue, err := s.provider.Queue(ctx, messaging.ResultQueue)
		if err != nil {
			return fmt.Errorf("failed to open queue %s: %w", messaging.ResultQueue, err)
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

// run processes messages from the result queue
func (w *worker) run() {
	defer w.service.workerWg.Done()

	for {
		msg, err := w.service.queue.Consume(w.ctx)
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
		if pErr := w.service.processMessage(w.ctx, msg); pErr != nil {
			log.Printf("poller worker %d: failed to process result: %v", w.id, pErr)
		}
	}
}

func (s *Service) processMessage(ctx context.Context, message messaging.Message[model.Result]) error {
	if err := s.Apply(ctx, message.T()); err != nil {
		return message.Nack(err)
	}
	return message.Ack()
}

// Apply stores one worker result on its request record exactly once. A nil
// error settles the delivery; duplicates and unknown request ids are counted
// and dropped rather than retried.
func (s *Service) Apply(ctx context.Context, result *model.Result) (err error) {
	ctx, span := tracing.StartSpan(ctx, "poller.Apply", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"request.id": result.RequestID, "result.outcome": string(result.Outcome)})

	current, err := s.requests.Load(ctx, result.RequestID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			atomic.AddUint64(&s.unknown, 1)
			log.Printf("poller: dropping result for unknown request %s", result.RequestID)
			return nil
		}
		return err
	}
	if current.Terminal() {
		atomic.AddUint64(&s.duplicates, 1)
		return nil
	}

	to := model.StatusCompleted
	if result.Failed() {
		to = model.StatusFailed
	}
	updated, err := s.requests.Transition(ctx, result.RequestID, current.Status, to, func(r *model.Request) {
		r.Result = result
		if result.Failed() {
			r.StatusDetail = result.ErrorDetail
		}
	})
	if err != nil {
		if errors.Is(err, model.ErrStatusConflict) {
			latest, lErr := s.requests.Load(ctx, result.RequestID)
			if lErr == nil && latest.Terminal() {
				atomic.AddUint64(&s.duplicates, 1)
				return nil
			}
			// the record is mid-transition; redelivery applies the result
			// once the dispatcher CAS lands
			return err
		}
		return err
	}
	s.publishUpdate(ctx, updated)
	return nil
}

// AwaitResult blocks until the request reaches a terminal status or timeout
// elapses, checking the record with bounded exponential backoff. A timed-out
// wait returns KindTimedOut with a nil error and never mutates the request.
func (s *Service) AwaitResult(ctx context.Context, requestID string, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		timeout = s.config.PollTimeout
	}
	deadline := clock.Now().Add(timeout)
	interval := s.config.PollInterval
	for {
		current, err := s.requests.Load(ctx, requestID)
		if err != nil {
			return Outcome{}, err
		}
		if outcome, terminal := OutcomeOf(current); terminal {
			return outcome, nil
		}
		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return Outcome{Kind: KindTimedOut}, nil
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(wait):
		}
		interval *= 2
		if interval > s.config.MaxPollInterval {
			interval = s.config.MaxPollInterval
		}
	}
}

// OutcomeOf translates a terminal request into its caller-facing outcome;
// terminal is false while the request is still in flight.
func OutcomeOf(request *model.Request) (Outcome, bool) {
	switch request.Status {
	case model.StatusCompleted:
		outcome := Outcome{Kind: KindCompleted}
		if request.Result != nil {
			outcome.Value = request.Result.Value
		}
		return outcome, true
	case model.StatusFailed:
		outcome := Outcome{Kind: KindFailed, ErrorDetail: request.StatusDetail}
		if request.Result != nil && request.Result.ErrorDetail != "" {
			outcome.ErrorDetail = request.Result.ErrorDetail
		}
		return outcome, true
	case model.StatusRejected:
		return Outcome{Kind: KindRejected, ErrorDetail: request.StatusDetail}, true
	case model.StatusExpired:
		return Outcome{Kind: KindExpired, ErrorDetail: request.StatusDetail}, true
	}
	return Outcome{}, false
}

// Stats returns drop counters accumulated since start.
func (s *Service) Stats() Stats {
	return Stats{
		Duplicates: atomic.LoadUint64(&s.duplicates),
		Unknown:    atomic.LoadUint64(&s.unknown),
	}
}

func (s *Service) publishUpdate(ctx context.Context, updated *model.Request) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, event.TopicRequestUpdated, updated)
}

// Shutdown stops the poller workers
func (s *Service) Shutdown() {
	for _, worker := range s.workers {
		worker.cancelFn()
	}
	s.workerWg.Wait()
}
