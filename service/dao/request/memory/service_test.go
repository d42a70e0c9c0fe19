package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
)

func newRequest(id string, status model.Status) *model.Request {
	return &model.Request{
		ID:        id,
		Kind:      "generate",
		Payload:   json.RawMessage(`{"prompt":"hello"}`),
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestService_CRUD(t *testing.T) {
	service := New()
	ctx := context.Background()

	err := service.Save(ctx, nil)
	assert.True(t, errors.Is(err, dao.ErrNilEntity))

	err = service.Save(ctx, newRequest("", model.StatusQueued))
	assert.True(t, errors.Is(err, dao.ErrInvalidID))

	request := newRequest("req-1", model.StatusQueued)
	err = service.Save(ctx, request)
	assert.NoError(t, err)

	loaded, err := service.Load(ctx, "req-1")
	assert.NoError(t, err)
	assert.Equal(t, "req-1", loaded.ID)
	assert.Equal(t, model.StatusQueued, loaded.Status)

	// mutating the loaded copy must not leak into the store
	loaded.Status = model.StatusFailed
	again, err := service.Load(ctx, "req-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusQueued, again.Status)

	_, err = service.Load(ctx, "unknown")
	assert.True(t, errors.Is(err, dao.ErrNotFound))

	err = service.Delete(ctx, "req-1")
	assert.NoError(t, err)

	err = service.Delete(ctx, "req-1")
	assert.True(t, errors.Is(err, dao.ErrNotFound))
}

func TestService_List(t *testing.T) {
	service := New()
	ctx := context.Background()

	for _, request := range []*model.Request{
		newRequest("req-1", model.StatusQueued),
		newRequest("req-2", model.StatusDispatched),
		newRequest("req-3", model.StatusQueued),
	} {
		assert.NoError(t, service.Save(ctx, request))
	}

	all, err := service.List(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(all))

	queued, err := service.List(ctx, &dao.Parameter{Name: "Status", Value: string(model.StatusQueued)})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(queued))
}

func TestService_Transition(t *testing.T) {
	testCases := []struct {
		description string
		initial     model.Status
		from        model.Status
		to          model.Status
		expectError error
	}{
		{
			description: "queued to dispatched",
			initial:     model.StatusQueued,
			from:        model.StatusQueued,
			to:          model.StatusDispatched,
		},
		{
			description: "stale expectation",
			initial:     model.StatusDispatched,
			from:        model.StatusQueued,
			to:          model.StatusDispatched,
			expectError: model.ErrStatusConflict,
		},
		{
			description: "invalid edge rejected before load",
			initial:     model.StatusQueued,
			from:        model.StatusQueued,
			to:          model.StatusCompleted,
			expectError: model.ErrStatusConflict,
		},
		{
			description: "terminal status is frozen",
			initial:     model.StatusCompleted,
			from:        model.StatusCompleted,
			to:          model.StatusFailed,
			expectError: model.ErrStatusConflict,
		},
	}

	for _, testCase := range testCases {
		service := New()
		ctx := context.Background()
		assert.NoError(t, service.Save(ctx, newRequest("req-1", testCase.initial)), testCase.description)

		updated, err := service.Transition(ctx, "req-1", testCase.from, testCase.to, nil)
		if testCase.expectError != nil {
			assert.True(t, errors.Is(err, testCase.expectError), testCase.description)
			continue
		}
		assert.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.to, updated.Status, testCase.description)

		stored, err := service.Load(ctx, "req-1")
		assert.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.to, stored.Status, testCase.description)
	}
}

func TestService_TransitionNotFound(t *testing.T) {
	service := New()
	_, err := service.Transition(context.Background(), "ghost", model.StatusQueued, model.StatusDispatched, nil)
	assert.True(t, errors.Is(err, dao.ErrNotFound))
}

func TestService_TransitionApply(t *testing.T) {
	service := New()
	ctx := context.Background()
	assert.NoError(t, service.Save(ctx, newRequest("req-1", model.StatusQueued)))

	updated, err := service.Transition(ctx, "req-1", model.StatusQueued, model.StatusFailed, func(r *model.Request) {
		r.StatusDetail = "no route for kind"
	})
	assert.NoError(t, err)
	assert.Equal(t, "no route for kind", updated.StatusDetail)

	stored, err := service.Load(ctx, "req-1")
	assert.NoError(t, err)
	assert.Equal(t, "no route for kind", stored.StatusDetail)
	assert.False(t, stored.UpdatedAt.IsZero())
}

func TestService_TransitionSingleWinner(t *testing.T) {
	service := New()
	ctx := context.Background()
	assert.NoError(t, service.Save(ctx, newRequest("req-1", model.StatusQueued)))

	var waitGroup sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	conflicts := 0

	for i := 0; i < 16; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.Transition(ctx, "req-1", model.StatusQueued, model.StatusDispatched, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			if errors.Is(err, model.ErrStatusConflict) {
				conflicts++
			}
		}()
	}
	waitGroup.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 15, conflicts)

	stored, err := service.Load(ctx, "req-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusDispatched, stored.Status)
}
