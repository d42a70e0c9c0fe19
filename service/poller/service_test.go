package poller_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao/request"
	reqmem "github.com/viant/nexus/service/dao/request/memory"
	"github.com/viant/nexus/service/messaging"
	memqueue "github.com/viant/nexus/service/messaging/memory"
	"github.com/viant/nexus/service/poller"
)

func newService(t *testing.T, options ...poller.Option) (*poller.Service, request.Store, *memqueue.Provider[model.Result]) {
	requests := reqmem.New()
	provider := memqueue.NewProvider[model.Result](memqueue.DefaultConfig())
	options = append([]poller.Option{
		poller.WithRequestStore(requests),
		poller.WithQueueProvider(provider),
	}, options...)
	service, err := poller.New(options...)
	assert.NoError(t, err)
	return service, requests, provider
}

func saveRequest(t *testing.T, requests request.Store, id string, status model.Status) {
	err := requests.Save(context.Background(), &model.Request{
		ID:     id,
		Kind:   "generate",
		Status: status,
	})
	assert.NoError(t, err)
}

func TestService_Apply(t *testing.T) {
	testCases := []struct {
		description string
		status      model.Status
		result      *model.Result
		expected    model.Status
		detail      string
	}{
		{
			description: "success result completes an in-progress request",
			status:      model.StatusInProgress,
			result:      &model.Result{RequestID: "r1", Outcome: model.OutcomeSuccess, Value: json.RawMessage(`{"text":"done"}`)},
			expected:    model.StatusCompleted,
		},
		{
			description: "error result fails the request with its detail",
			status:      model.StatusInProgress,
			result:      &model.Result{RequestID: "r1", Outcome: model.OutcomeError, ErrorDetail: "prompt too long"},
			expected:    model.StatusFailed,
			detail:      "prompt too long",
		},
		{
			description: "result lands on dispatched when the worker never reported in_progress",
			status:      model.StatusDispatched,
			result:      &model.Result{RequestID: "r1", Outcome: model.OutcomeSuccess},
			expected:    model.StatusCompleted,
		},
	}

	for _, testCase := range testCases {
		ctx := context.Background()
		service, requests, _ := newService(t)
		saveRequest(t, requests, "r1", testCase.status)

		err := service.Apply(ctx, testCase.result)
		assert.NoError(t, err, testCase.description)

		stored, err := requests.Load(ctx, "r1")
		assert.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expected, stored.Status, testCase.description)
		assert.NotNil(t, stored.Result, testCase.description)
		assert.Equal(t, testCase.detail, stored.StatusDetail, testCase.description)
	}
}

func TestService_ApplyDuplicate(t *testing.T) {
	ctx := context.Background()
	service, requests, _ := newService(t)
	saveRequest(t, requests, "r1", model.StatusInProgress)

	first := &model.Result{RequestID: "r1", Outcome: model.OutcomeSuccess, Value: json.RawMessage(`{"n":1}`)}
	assert.NoError(t, service.Apply(ctx, first))

	// a redelivered or duplicate result leaves the first outcome in place
	second := &model.Result{RequestID: "r1", Outcome: model.OutcomeError, ErrorDetail: "late failure"}
	assert.NoError(t, service.Apply(ctx, second))

	stored, err := requests.Load(ctx, "r1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	assert.Equal(t, json.RawMessage(`{"n":1}`), stored.Result.Value)
	assert.Equal(t, uint64(1), service.Stats().Duplicates)
}

func TestService_ApplyUnknown(t *testing.T) {
	service, _, _ := newService(t)
	err := service.Apply(context.Background(), &model.Result{RequestID: "ghost", Outcome: model.OutcomeSuccess})
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), service.Stats().Unknown)
}

func TestService_ApplyMidFlight(t *testing.T) {
	ctx := context.Background()
	service, requests, _ := newService(t)
	saveRequest(t, requests, "r1", model.StatusQueued)

	// a result cannot land before dispatch moved the record on; the error
	// nacks the delivery so it retries later
	err := service.Apply(ctx, &model.Result{RequestID: "r1", Outcome: model.OutcomeSuccess})
	assert.Error(t, err)

	stored, err := requests.Load(ctx, "r1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusQueued, stored.Status)
}

func TestService_AwaitResult(t *testing.T) {
	ctx := context.Background()
	service, requests, _ := newService(t, poller.WithConfig(poller.Config{
		WorkerCount:     1,
		PollInterval:    5 * time.Millisecond,
		MaxPollInterval: 20 * time.Millisecond,
		PollTimeout:     time.Second,
	}))
	saveRequest(t, requests, "r1", model.StatusInProgress)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = service.Apply(ctx, &model.Result{RequestID: "r1", Outcome: model.OutcomeSuccess, Value: json.RawMessage(`{"text":"hi"}`)})
	}()

	outcome, err := service.AwaitResult(ctx, "r1", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, poller.KindCompleted, outcome.Kind)
	assert.Equal(t, json.RawMessage(`{"text":"hi"}`), outcome.Value)
	assert.True(t, outcome.Terminal())
}

func TestService_AwaitResultRejected(t *testing.T) {
	ctx := context.Background()
	service, requests, _ := newService(t)
	err := requests.Save(ctx, &model.Request{
		ID:           "r1",
		Kind:         "exec",
		Status:       model.StatusRejected,
		StatusDetail: "reviewer denied",
	})
	assert.NoError(t, err)

	outcome, err := service.AwaitResult(ctx, "r1", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, poller.KindRejected, outcome.Kind)
	assert.Equal(t, "reviewer denied", outcome.ErrorDetail)
}

func TestService_AwaitResultTimeout(t *testing.T) {
	ctx := context.Background()
	service, requests, _ := newService(t, poller.WithConfig(poller.Config{
		WorkerCount:     1,
		PollInterval:    5 * time.Millisecond,
		MaxPollInterval: 10 * time.Millisecond,
		PollTimeout:     time.Second,
	}))
	saveRequest(t, requests, "r1", model.StatusInProgress)

	outcome, err := service.AwaitResult(ctx, "r1", 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, poller.KindTimedOut, outcome.Kind)
	assert.False(t, outcome.Terminal())

	// the timed-out wait must leave the request untouched
	stored, err := requests.Load(ctx, "r1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, stored.Status)
}

func TestService_AwaitResultCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	service, requests, _ := newService(t)
	saveRequest(t, requests, "r1", model.StatusInProgress)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := service.AwaitResult(ctx, "r1", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_StartConsumesResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, requests, provider := newService(t)
	saveRequest(t, requests, "r1", model.StatusInProgress)

	results, err := provider.Queue(ctx, messaging.ResultQueue)
	assert.NoError(t, err)
	result := &model.Result{RequestID: "r1", Outcome: model.OutcomeSuccess, Value: json.RawMessage(`{"ok":true}`)}
	assert.NoError(t, results.Publish(ctx, result))
	assert.NoError(t, results.Publish(ctx, result))

	assert.NoError(t, service.Start(ctx))
	defer service.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := requests.Load(ctx, "r1")
		assert.NoError(t, err)
		if stored.Status == model.StatusCompleted && service.Stats().Duplicates == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("duplicate result was not collapsed before the deadline")
}
