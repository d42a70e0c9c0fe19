package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/internal/idgen"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/policy"
	"github.com/viant/nexus/progress"
	"github.com/viant/nexus/service/approval"
	"github.com/viant/nexus/service/approval/watcher"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/dispatcher"
	"github.com/viant/nexus/service/dispatcher/rule"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/gateway"
	"github.com/viant/nexus/service/messaging"
	"github.com/viant/nexus/service/poller"
	"github.com/viant/nexus/service/worker"
	"github.com/viant/nexus/tracing"
)

// Stats aggregates the counters one runtime instance accumulates: request
// status totals plus the poller's drop counters.
type Stats struct {
	Progress progress.Progress `json:"progress"`
	Results  poller.Stats      `json:"results"`
}

// Runtime is the operational surface of an assembled pipeline. Callers
// submit requests and wait for outcomes; reviewers resolve pending
// approvals. Start spins the consumer pools, the reconciliation sweep and
// the optional gateway; Shutdown stops them in reverse order.
type Runtime struct {
	requests request.Store
	events   *event.Service
	policy   *policy.Policy
	rules    *rule.Set
	tracker  *progress.Progress
	provider messaging.Provider[model.Request]

	sweepInterval time.Duration

	gate       approval.Service
	dispatcher *dispatcher.Service
	poller     *poller.Service
	workers    *worker.Service
	watcher    *watcher.Service
	gateway    *gateway.Service

	inboundMux sync.Mutex
	inbound    messaging.Queue[model.Request]

	group  *errgroup.Group
	cancel context.CancelFunc

	mux     sync.Mutex
	started bool
}

var _ gateway.Submitter = (*Runtime)(nil)

// Submit accepts one unit of work into the pipeline and returns its request
// id. The record is persisted before the inbound publish, so the dispatcher
// always finds a durable status to transition. Policy (runtime-level or
// carried in ctx) may force the approval flag or reject the submission
// outright; a rejected submission still yields an id whose record reports
// the rejection.
func (r *Runtime) Submit(ctx context.Context, kind string, payload json.RawMessage, requiresApproval bool) (id string, err error) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("runtime.Submit %s", kind), "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	if kind == "" {
		return "", fmt.Errorf("request kind is required")
	}
	now := clock.Now()
	req := &model.Request{
		ID:               idgen.New(),
		Kind:             kind,
		Payload:          payload,
		RequiresApproval: requiresApproval,
		Status:           model.StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	span.WithAttributes(map[string]string{"request.id": req.ID, "request.kind": kind})

	if detail := r.applyPolicy(ctx, req); detail != "" {
		req.Status = model.StatusRejected
		req.StatusDetail = detail
	}
	if err = r.requests.Save(ctx, req); err != nil {
		return "", fmt.Errorf("failed to persist request %s: %w", req.ID, err)
	}
	r.publish(ctx, event.TopicRequestCreated, req)
	if req.Status == model.StatusRejected {
		return req.ID, nil
	}

	queue, err := r.inboundQueue(ctx)
	if err != nil {
		return "", err
	}
	if err = queue.Publish(ctx, req); err != nil {
		return "", fmt.Errorf("failed to enqueue request %s: %w", req.ID, err)
	}
	return req.ID, nil
}

// applyPolicy computes the final approval flag; a non-empty return is the
// rejection detail.
func (r *Runtime) applyPolicy(ctx context.Context, req *model.Request) string {
	p := policy.FromContext(ctx)
	if p == nil {
		p = r.policy
	}
	if p == nil {
		return ""
	}
	if !p.IsAllowed(req.Kind) {
		return fmt.Sprintf("kind %q blocked by policy", req.Kind)
	}
	switch p.Mode {
	case policy.ModeDeny:
		return "submission denied by policy"
	case policy.ModeAsk:
		if p.Ask != nil {
			if p.Ask(ctx, req.Kind, req.Payload, p) {
				req.RequiresApproval = false
				return ""
			}
			return "submission rejected by ask policy"
		}
		req.RequiresApproval = true
	case policy.ModeAuto:
		req.RequiresApproval = false
	}
	return ""
}

// Poll returns the current durable record for a request id, including the
// applied result once the request is terminal.
func (r *Runtime) Poll(ctx context.Context, requestID string) (*model.Request, error) {
	return r.requests.Load(ctx, requestID)
}

// AwaitResult blocks until the request reaches a terminal status or timeout
// elapses; a timed-out wait is an outcome, not an error, and leaves the
// record untouched.
func (r *Runtime) AwaitResult(ctx context.Context, requestID string, timeout time.Duration) (poller.Outcome, error) {
	return r.poller.AwaitResult(ctx, requestID, timeout)
}

// AwaitDecision blocks until the approval record for a request leaves
// pending or the deadline forces it to expire.
func (r *Runtime) AwaitDecision(ctx context.Context, requestID string, pollInterval time.Duration, deadline time.Time) (model.Decision, error) {
	return r.gate.Await(ctx, requestID, pollInterval, deadline)
}

// Resolve applies an external human decision to a pending approval.
func (r *Runtime) Resolve(ctx context.Context, requestID string, decision model.Decision, decidedBy, reason string) (*model.ApprovalRecord, error) {
	return r.gate.Resolve(ctx, requestID, decision, decidedBy, reason)
}

// Pending lists approvals still awaiting a decision.
func (r *Runtime) Pending(ctx context.Context) ([]*model.ApprovalRecord, error) {
	return r.gate.Pending(ctx)
}

// Gate exposes the approval service for embedders that wire their own
// decision sources.
func (r *Runtime) Gate() approval.Service {
	return r.gate
}

// Stats returns the counters accumulated since Start.
func (r *Runtime) Stats() Stats {
	ret := Stats{}
	if r.tracker != nil {
		ret.Progress = r.tracker.Snapshot()
	}
	if r.poller != nil {
		ret.Results = r.poller.Stats()
	}
	return ret
}

// Start spins the dispatcher, poller and worker pools, the decision watcher,
// the reconciliation sweep and the optional gateway. It returns once
// everything is running; failures of the background loops surface from
// Shutdown.
func (r *Runtime) Start(ctx context.Context) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	r.cancel = cancel
	r.group = group

	if _, err := r.inboundQueue(runCtx); err != nil {
		cancel()
		return err
	}
	if err := r.dispatcher.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := r.poller.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := r.workers.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if r.watcher != nil {
		if err := r.watcher.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}
	group.Go(func() error {
		r.trackLoop(groupCtx)
		return nil
	})
	group.Go(func() error {
		r.sweepLoop(groupCtx)
		return nil
	})
	if r.gateway != nil {
		group.Go(func() error {
			return r.gateway.Start(groupCtx)
		})
	}
	r.started = true
	return nil
}

// Shutdown stops the pipeline in reverse dependency order: the gateway stops
// accepting work, consumers drain, then the background loops exit.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if !r.started {
		return nil
	}
	var err error
	if r.gateway != nil {
		err = r.gateway.Shutdown(ctx)
	}
	if r.watcher != nil {
		r.watcher.Stop()
	}
	r.workers.Shutdown()
	r.dispatcher.Shutdown()
	r.poller.Shutdown()
	if r.cancel != nil {
		r.cancel()
	}
	if gErr := r.group.Wait(); gErr != nil && err == nil {
		err = gErr
	}
	if r.events != nil {
		r.events.Close()
	}
	r.started = false
	return err
}

// trackLoop mirrors the request event stream into the progress counters.
func (r *Runtime) trackLoop(ctx context.Context) {
	if r.events == nil || r.tracker == nil {
		return
	}
	for evt := range r.events.Subscribe(ctx) {
		if evt.Topic != event.TopicRequestCreated && evt.Topic != event.TopicRequestUpdated {
			continue
		}
		if req := requestOf(evt.Data); req != nil {
			r.tracker.Update(progress.DeltaForStatus(req.Status))
		}
	}
}

// sweepLoop periodically reconciles records the asynchronous paths may have
// left behind: overdue approvals expire, resolved decisions whose request
// transition never landed are re-applied, and approved requests whose worker
// publish failed are re-enqueued.
func (r *Runtime) sweepLoop(ctx context.Context) {
	interval := r.sweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runtime) sweep(ctx context.Context) {
	if expired, err := r.gate.ExpireOverdue(ctx); err != nil {
		log.Printf("runtime: approval expiry sweep failed: %v", err)
	} else if expired > 0 {
		log.Printf("runtime: expired %d overdue approvals", expired)
	}
	if applied, err := r.gate.Reconcile(ctx); err != nil {
		log.Printf("runtime: approval reconcile sweep failed: %v", err)
	} else if applied > 0 {
		log.Printf("runtime: re-applied %d resolved approvals", applied)
	}
	stuck, err := r.requests.List(ctx, dao.NewParameter("Status", string(model.StatusApproved)))
	if err != nil {
		log.Printf("runtime: failed to list approved requests: %v", err)
		return
	}
	for _, req := range stuck {
		if err := r.dispatcher.EnqueueApproved(ctx, req); err != nil {
			log.Printf("runtime: failed to re-enqueue approved request %s: %v", req.ID, err)
		}
	}
}

func (r *Runtime) inboundQueue(ctx context.Context) (messaging.Queue[model.Request], error) {
	r.inboundMux.Lock()
	defer r.inboundMux.Unlock()
	if r.inbound != nil {
		return r.inbound, nil
	}
	queue, err := r.provider.Queue(ctx, messaging.RequestQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue %s: %w", messaging.RequestQueue, err)
	}
	r.inbound = queue
	return queue, nil
}

func (r *Runtime) publish(ctx context.Context, topic string, req *model.Request) {
	if r.events == nil {
		return
	}
	_ = r.events.Publish(ctx, topic, req)
}

// requestOf recovers a request record from an event payload; events that
// crossed a serializing queue carry generic JSON instead of the typed
// pointer.
func requestOf(data interface{}) *model.Request {
	switch actual := data.(type) {
	case *model.Request:
		return actual
	case model.Request:
		return &actual
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	req := &model.Request{}
	if err := json.Unmarshal(raw, req); err != nil || req.ID == "" {
		return nil
	}
	return req
}
