package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao/request"
	reqmem "github.com/viant/nexus/service/dao/request/memory"
	"github.com/viant/nexus/service/messaging"
	memqueue "github.com/viant/nexus/service/messaging/memory"
	"github.com/viant/nexus/service/worker"
)

type echoHandler struct {
	fail bool
}

func (h *echoHandler) Kind() string {
	return "echo"
}

func (h *echoHandler) Handle(_ context.Context, request *model.Request) (*model.Result, error) {
	if h.fail {
		return nil, fmt.Errorf("echo blew up")
	}
	return &model.Result{RequestID: request.ID, Outcome: model.OutcomeSuccess, Value: request.Payload}, nil
}

type harness struct {
	service     *worker.Service
	requests    request.Store
	reqProvider *memqueue.Provider[model.Request]
	resProvider *memqueue.Provider[model.Result]
}

func newHarness(t *testing.T, handler worker.Handler) *harness {
	requests := reqmem.New()
	reqProvider := memqueue.NewProvider[model.Request](memqueue.DefaultConfig())
	resProvider := memqueue.NewProvider[model.Result](memqueue.DefaultConfig())
	service, err := worker.New(
		worker.WithHandlers(handler),
		worker.WithRequestStore(requests),
		worker.WithQueueProvider(reqProvider),
		worker.WithResultProvider(resProvider),
		worker.WithWorkers(1),
		worker.WithID("test-worker"),
	)
	assert.NoError(t, err)
	return &harness{service: service, requests: requests, reqProvider: reqProvider, resProvider: resProvider}
}

func (h *harness) enqueue(t *testing.T, req *model.Request) {
	ctx := context.Background()
	assert.NoError(t, h.requests.Save(ctx, req))
	queue, err := h.reqProvider.Queue(ctx, messaging.WorkerQueue(req.Kind))
	assert.NoError(t, err)
	assert.NoError(t, queue.Publish(ctx, req))
}

func (h *harness) consumeResult(t *testing.T) *model.Result {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	queue, err := h.resProvider.Queue(ctx, messaging.ResultQueue)
	assert.NoError(t, err)
	message, err := queue.Consume(ctx)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	assert.NoError(t, message.Ack())
	return message.T()
}

func TestService_ProcessesRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, &echoHandler{})
	h.enqueue(t, &model.Request{
		ID:      "w1",
		Kind:    "echo",
		Payload: json.RawMessage(`{"text":"hello"}`),
		Status:  model.StatusDispatched,
	})

	assert.NoError(t, h.service.Start(ctx))
	defer h.service.Shutdown()

	result := h.consumeResult(t)
	assert.Equal(t, "w1", result.RequestID)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Equal(t, json.RawMessage(`{"text":"hello"}`), result.Value)
	assert.Equal(t, "test-worker", result.WorkerID)
	assert.False(t, result.ProducedAt.IsZero())

	stored, err := h.requests.Load(ctx, "w1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, stored.Status)
}

func TestService_SkipsTerminalRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, &echoHandler{})
	h.enqueue(t, &model.Request{
		ID:     "w2",
		Kind:   "echo",
		Status: model.StatusCompleted,
	})

	assert.NoError(t, h.service.Start(ctx))
	defer h.service.Shutdown()

	// the duplicate delivery is acked without running the handler
	deadline := time.Now().Add(time.Second)
	inbound := h.reqProvider.Lookup(messaging.WorkerQueue("echo"))
	for time.Now().Before(deadline) {
		if inbound.Size() == 0 && inbound.InflightSize() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	results, err := h.resProvider.Queue(ctx, messaging.ResultQueue)
	assert.NoError(t, err)
	assert.Equal(t, 0, results.(*memqueue.Queue[model.Result]).Size())
}

func TestService_HandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, &echoHandler{fail: true})
	h.enqueue(t, &model.Request{
		ID:     "w3",
		Kind:   "echo",
		Status: model.StatusDispatched,
	})

	assert.NoError(t, h.service.Start(ctx))
	defer h.service.Shutdown()

	result := h.consumeResult(t)
	assert.Equal(t, "w3", result.RequestID)
	assert.Equal(t, model.OutcomeError, result.Outcome)
	assert.Equal(t, "echo blew up", result.ErrorDetail)
}

func TestTyped(t *testing.T) {
	type input struct {
		Prompt string `json:"prompt"`
		Max    int    `json:"max"`
	}
	type output struct {
		Echo string `json:"echo"`
	}
	handler := worker.Typed("echo", func(_ context.Context, in *input) (*output, error) {
		return &output{Echo: fmt.Sprintf("%s/%d", in.Prompt, in.Max)}, nil
	})
	assert.Equal(t, "echo", handler.Kind())

	result, err := handler.Handle(context.Background(), &model.Request{
		ID:      "r1",
		Payload: json.RawMessage(`{"prompt":"hi","max":3}`),
	})
	assert.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Equal(t, `{"echo":"hi/3"}`, string(result.Value))

	_, err = handler.Handle(context.Background(), &model.Request{
		ID:      "r2",
		Payload: json.RawMessage(`{not json`),
	})
	assert.Error(t, err)

	typer, ok := handler.(worker.InputTyper)
	assert.True(t, ok)
	assert.Equal(t, reflect.TypeOf(input{}), typer.InputType())
}
