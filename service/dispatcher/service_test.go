package dispatcher_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/approval"
	apmem "github.com/viant/nexus/service/dao/approval/memory"
	"github.com/viant/nexus/service/dao/request"
	reqmem "github.com/viant/nexus/service/dao/request/memory"
	"github.com/viant/nexus/service/dispatcher"
	"github.com/viant/nexus/service/dispatcher/rule"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/messaging"
	memqueue "github.com/viant/nexus/service/messaging/memory"
)

type fixture struct {
	service  *dispatcher.Service
	requests request.Store
	gate     approval.Service
	provider *memqueue.Provider[model.Request]
}

func newFixture(t *testing.T, rulesText string) *fixture {
	requests := reqmem.New()
	gate, err := approval.New(apmem.New(), requests, approval.WithDeadline(time.Hour))
	assert.NoError(t, err)
	provider := memqueue.NewProvider[model.Request](memqueue.DefaultConfig())
	options := []dispatcher.Option{
		dispatcher.WithRequestStore(requests),
		dispatcher.WithApprovalGate(gate),
		dispatcher.WithQueueProvider(provider),
	}
	if rulesText != "" {
		rules, err := rule.Parse([]byte(rulesText))
		assert.NoError(t, err)
		options = append(options, dispatcher.WithRules(rules))
	}
	service, err := dispatcher.New(options...)
	assert.NoError(t, err)
	return &fixture{service: service, requests: requests, gate: gate, provider: provider}
}

func (f *fixture) save(t *testing.T, req *model.Request) *model.Request {
	if req.Status == "" {
		req.Status = model.StatusQueued
	}
	err := f.requests.Save(context.Background(), req)
	assert.NoError(t, err)
	return req
}

func (f *fixture) queueSize(name string) int {
	queue := f.provider.Lookup(name)
	if queue == nil {
		return 0
	}
	return queue.Size()
}

func TestService_Dispatch(t *testing.T) {
	testCases := []struct {
		description string
		rules       string
		request     *model.Request
		outcome     dispatcher.Outcome
		status      model.Status
		detail      string
		queue       string
		published   int
	}{
		{
			description: "matched kind reaches its worker queue",
			rules:       "generate -> ai_requests.generate",
			request:     &model.Request{ID: "r1", Kind: "generate"},
			outcome:     dispatcher.OutcomeDispatched,
			status:      model.StatusDispatched,
			queue:       "ai_requests.generate",
			published:   1,
		},
		{
			description: "empty rule set routes by convention",
			request:     &model.Request{ID: "r2", Kind: "summarize"},
			outcome:     dispatcher.OutcomeDispatched,
			status:      model.StatusDispatched,
			queue:       "ai_requests.summarize",
			published:   1,
		},
		{
			description: "wildcard rule catches unlisted kinds",
			rules:       "generate -> ai_requests.generate\n* -> ai_requests.misc",
			request:     &model.Request{ID: "r3", Kind: "translate"},
			outcome:     dispatcher.OutcomeDispatched,
			status:      model.StatusDispatched,
			queue:       "ai_requests.misc",
			published:   1,
		},
		{
			description: "unmatched kind fails and is not retried",
			rules:       "generate -> ai_requests.generate",
			request:     &model.Request{ID: "r4", Kind: "exec"},
			outcome:     dispatcher.OutcomeFailed,
			status:      model.StatusFailed,
			detail:      `no route for kind "exec"`,
			queue:       "ai_requests.exec",
		},
		{
			description: "deny rule fails the request",
			rules:       "exec -> ai_requests.exec deny",
			request:     &model.Request{ID: "r5", Kind: "exec"},
			outcome:     dispatcher.OutcomeFailed,
			status:      model.StatusFailed,
			detail:      `kind "exec" denied by routing rule`,
			queue:       "ai_requests.exec",
		},
		{
			description: "approval required hands off to the gate",
			request:     &model.Request{ID: "r6", Kind: "exec", RequiresApproval: true, Payload: json.RawMessage(`{"command":"ls"}`)},
			outcome:     dispatcher.OutcomeAwaitingApproval,
			status:      model.StatusAwaitingApproval,
			queue:       "ai_requests.exec",
		},
		{
			description: "rejected request enqueues nothing",
			request:     &model.Request{ID: "r7", Kind: "exec", Status: model.StatusRejected},
			outcome:     dispatcher.OutcomeRejected,
			status:      model.StatusRejected,
			queue:       "ai_requests.exec",
		},
		{
			description: "completed request is a duplicate delivery",
			request:     &model.Request{ID: "r8", Kind: "generate", Status: model.StatusCompleted},
			outcome:     dispatcher.OutcomeDuplicate,
			status:      model.StatusCompleted,
			queue:       "ai_requests.generate",
		},
	}

	for _, testCase := range testCases {
		ctx := context.Background()
		f := newFixture(t, testCase.rules)
		f.save(t, testCase.request)

		outcome, err := f.service.Dispatch(ctx, testCase.request)
		assert.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.outcome, outcome, testCase.description)
		assert.Equal(t, testCase.published, f.queueSize(testCase.queue), testCase.description)

		stored, err := f.requests.Load(ctx, testCase.request.ID)
		assert.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.status, stored.Status, testCase.description)
		if testCase.detail != "" {
			assert.Contains(t, stored.StatusDetail, testCase.detail, testCase.description)
		}
	}
}

func TestService_DispatchUnknownRequest(t *testing.T) {
	f := newFixture(t, "")
	outcome, err := f.service.Dispatch(context.Background(), &model.Request{ID: "ghost", Kind: "generate"})
	assert.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeFailed, outcome)
	assert.Equal(t, 0, f.queueSize("ai_requests.generate"))
}

func TestService_DispatchIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	req := f.save(t, &model.Request{ID: "dup-1", Kind: "generate"})

	outcome, err := f.service.Dispatch(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeDispatched, outcome)

	// a queue redelivery of the same request must not publish again
	outcome, err = f.service.Dispatch(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeDuplicate, outcome)
	assert.Equal(t, 1, f.queueSize("ai_requests.generate"))
}

func TestService_DispatchApprovalIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	req := f.save(t, &model.Request{ID: "gated-1", Kind: "exec", RequiresApproval: true})

	for i := 0; i < 2; i++ {
		outcome, err := f.service.Dispatch(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, dispatcher.OutcomeAwaitingApproval, outcome)
	}
	record, err := f.gate.Get(ctx, "gated-1")
	assert.NoError(t, err)
	assert.Equal(t, model.DecisionPending, record.Decision)
	assert.Equal(t, 0, f.queueSize("ai_requests.exec"))
}

type flakyQueue struct {
	messaging.Queue[model.Request]
	failures *int32
}

func (q *flakyQueue) Publish(ctx context.Context, req *model.Request) error {
	if atomic.AddInt32(q.failures, -1) >= 0 {
		return fmt.Errorf("publish: %w", messaging.ErrTransient)
	}
	return q.Queue.Publish(ctx, req)
}

type flakyProvider struct {
	inner    messaging.Provider[model.Request]
	failures int32
}

func (p *flakyProvider) Queue(ctx context.Context, name string) (messaging.Queue[model.Request], error) {
	queue, err := p.inner.Queue(ctx, name)
	if err != nil {
		return nil, err
	}
	return &flakyQueue{Queue: queue, failures: &p.failures}, nil
}

func TestService_DispatchPublishFailure(t *testing.T) {
	ctx := context.Background()
	requests := reqmem.New()
	gate, err := approval.New(apmem.New(), requests, approval.WithDeadline(time.Hour))
	assert.NoError(t, err)
	inner := memqueue.NewProvider[model.Request](memqueue.DefaultConfig())
	provider := &flakyProvider{inner: inner, failures: 1}
	service, err := dispatcher.New(
		dispatcher.WithRequestStore(requests),
		dispatcher.WithApprovalGate(gate),
		dispatcher.WithQueueProvider(provider),
	)
	assert.NoError(t, err)

	req := &model.Request{ID: "flaky-1", Kind: "generate", Status: model.StatusQueued}
	assert.NoError(t, requests.Save(ctx, req))

	// the transient failure surfaces as an error so the delivery gets nacked
	_, err = service.Dispatch(ctx, req)
	assert.Error(t, err)
	stored, err := requests.Load(ctx, "flaky-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusQueued, stored.Status)
	assert.Equal(t, 0, inner.Lookup("ai_requests.generate").Size())

	// the redelivery succeeds once the queue recovers
	outcome, err := service.Dispatch(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeDispatched, outcome)
	assert.Equal(t, 1, inner.Lookup("ai_requests.generate").Size())
}

func TestService_EnqueueApproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	f.save(t, &model.Request{ID: "ap-1", Kind: "exec", RequiresApproval: true, Status: model.StatusApproved})

	err := f.service.EnqueueApproved(ctx, &model.Request{ID: "ap-1"})
	assert.NoError(t, err)
	stored, err := f.requests.Load(ctx, "ap-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusDispatched, stored.Status)
	assert.Equal(t, 1, f.queueSize("ai_requests.exec"))

	// a sweep retry after the request moved on publishes nothing
	err = f.service.EnqueueApproved(ctx, &model.Request{ID: "ap-1"})
	assert.NoError(t, err)
	assert.Equal(t, 1, f.queueSize("ai_requests.exec"))
}

func TestService_ApprovedResume(t *testing.T) {
	ctx := context.Background()
	requests := reqmem.New()
	provider := memqueue.NewProvider[model.Request](memqueue.DefaultConfig())

	var service *dispatcher.Service
	gate, err := approval.New(apmem.New(), requests,
		approval.WithDeadline(time.Hour),
		approval.WithResubmitter(resubmitterFunc(func(ctx context.Context, req *model.Request) error {
			return service.EnqueueApproved(ctx, req)
		})))
	assert.NoError(t, err)
	service, err = dispatcher.New(
		dispatcher.WithRequestStore(requests),
		dispatcher.WithApprovalGate(gate),
		dispatcher.WithQueueProvider(provider),
	)
	assert.NoError(t, err)

	req := &model.Request{ID: "resume-1", Kind: "exec", RequiresApproval: true, Status: model.StatusQueued}
	assert.NoError(t, requests.Save(ctx, req))

	outcome, err := service.Dispatch(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeAwaitingApproval, outcome)

	_, err = gate.Resolve(ctx, "resume-1", model.DecisionApproved, "alice", "looks safe")
	assert.NoError(t, err)

	stored, err := requests.Load(ctx, "resume-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusDispatched, stored.Status)
	assert.Equal(t, 1, provider.Lookup("ai_requests.exec").Size())
}

type resubmitterFunc func(ctx context.Context, req *model.Request) error

func (f resubmitterFunc) EnqueueApproved(ctx context.Context, req *model.Request) error {
	return f(ctx, req)
}

func TestService_StartConsumesQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, "")

	req := f.save(t, &model.Request{ID: "run-1", Kind: "generate"})
	inbound, err := f.provider.Queue(ctx, messaging.RequestQueue)
	assert.NoError(t, err)
	assert.NoError(t, inbound.Publish(ctx, req))

	assert.NoError(t, f.service.Start(ctx))
	defer f.service.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := f.requests.Load(ctx, "run-1")
		assert.NoError(t, err)
		if stored.Status == model.StatusDispatched {
			assert.Equal(t, 1, f.queueSize("ai_requests.generate"))
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("request was not dispatched before the deadline")
}

func TestService_Events(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requests := reqmem.New()
	gate, err := approval.New(apmem.New(), requests, approval.WithDeadline(time.Hour))
	assert.NoError(t, err)
	events, err := event.New(messaging.VendorMemory)
	assert.NoError(t, err)
	defer events.Close()
	service, err := dispatcher.New(
		dispatcher.WithRequestStore(requests),
		dispatcher.WithApprovalGate(gate),
		dispatcher.WithQueueProvider(memqueue.NewProvider[model.Request](memqueue.DefaultConfig())),
		dispatcher.WithEvents(events),
	)
	assert.NoError(t, err)

	updates := events.Subscribe(ctx)
	req := &model.Request{ID: "ev-1", Kind: "generate", Status: model.StatusQueued}
	assert.NoError(t, requests.Save(ctx, req))
	_, err = service.Dispatch(ctx, req)
	assert.NoError(t, err)

	select {
	case evt := <-updates:
		assert.Equal(t, event.TopicRequestUpdated, evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("no request update event received")
	}
}

type idleQueue struct {
	consumes int64
}

func (q *idleQueue) Publish(context.Context, *model.Request) error { return nil }

func (q *idleQueue) Consume(ctx context.Context) (messaging.Message[model.Request], error) {
	atomic.AddInt64(&q.consumes, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func TestService_IdleConsumeBackoff(t *testing.T) {
	requests := reqmem.New()
	gate, err := approval.New(apmem.New(), requests, approval.WithDeadline(time.Hour))
	assert.NoError(t, err)
	queue := &idleQueue{}
	service, err := dispatcher.New(
		dispatcher.WithRequestStore(requests),
		dispatcher.WithApprovalGate(gate),
		dispatcher.WithQueue(queue),
		dispatcher.WithWorkers(1),
	)
	assert.NoError(t, err)

	assert.NoError(t, service.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	service.Shutdown()

	// an empty queue is polled, not hammered
	calls := atomic.LoadInt64(&queue.consumes)
	assert.GreaterOrEqual(t, calls, int64(1))
	assert.LessOrEqual(t, calls, int64(10))
}
