package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
)

func newRecord(id string, deadline time.Time) *model.ApprovalRecord {
	return &model.ApprovalRecord{
		RequestID:   id,
		Kind:        "exec",
		Args:        json.RawMessage(`{"command":"ls"}`),
		Decision:    model.DecisionPending,
		RequestedAt: time.Now(),
		Deadline:    deadline,
	}
}

func TestService_Create(t *testing.T) {
	service := New()
	ctx := context.Background()

	err := service.Create(ctx, newRecord("req-1", time.Now().Add(time.Hour)))
	assert.NoError(t, err)

	err = service.Create(ctx, newRecord("req-1", time.Now().Add(time.Hour)))
	assert.True(t, errors.Is(err, dao.ErrAlreadyExists))

	loaded, err := service.Load(ctx, "req-1")
	assert.NoError(t, err)
	assert.Equal(t, model.DecisionPending, loaded.Decision)

	_, err = service.Load(ctx, "unknown")
	assert.True(t, errors.Is(err, dao.ErrNotFound))
}

func TestService_Decide(t *testing.T) {
	service := New()
	ctx := context.Background()
	assert.NoError(t, service.Create(ctx, newRecord("req-1", time.Now().Add(time.Hour))))

	updated, err := service.Decide(ctx, "req-1", model.DecisionApproved, "reviewer-1", "looks safe")
	assert.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, updated.Decision)
	assert.Equal(t, "reviewer-1", updated.DecidedBy)
	assert.NotNil(t, updated.DecidedAt)

	// a second decision must not overwrite the first
	_, err = service.Decide(ctx, "req-1", model.DecisionRejected, "reviewer-2", "changed my mind")
	assert.True(t, errors.Is(err, model.ErrStatusConflict))

	stored, err := service.Load(ctx, "req-1")
	assert.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, stored.Decision)
	assert.Equal(t, "reviewer-1", stored.DecidedBy)

	_, err = service.Decide(ctx, "unknown", model.DecisionApproved, "reviewer-1", "")
	assert.True(t, errors.Is(err, dao.ErrNotFound))
}

func TestService_ListPending(t *testing.T) {
	service := New()
	ctx := context.Background()

	assert.NoError(t, service.Create(ctx, newRecord("req-1", time.Now().Add(time.Hour))))
	assert.NoError(t, service.Create(ctx, newRecord("req-2", time.Now().Add(time.Hour))))
	assert.NoError(t, service.Create(ctx, newRecord("req-3", time.Now().Add(time.Hour))))

	_, err := service.Decide(ctx, "req-2", model.DecisionRejected, "reviewer-1", "unsafe command")
	assert.NoError(t, err)

	pending, err := service.ListPending(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(pending))
	for _, record := range pending {
		assert.Equal(t, model.DecisionPending, record.Decision)
	}
}

func TestService_ListOverdue(t *testing.T) {
	service := New()
	ctx := context.Background()
	now := time.Now()

	assert.NoError(t, service.Create(ctx, newRecord("req-due", now.Add(-time.Minute))))
	assert.NoError(t, service.Create(ctx, newRecord("req-live", now.Add(time.Hour))))
	assert.NoError(t, service.Create(ctx, newRecord("req-decided", now.Add(-time.Minute))))
	_, err := service.Decide(ctx, "req-decided", model.DecisionApproved, "reviewer-1", "")
	assert.NoError(t, err)

	overdue, err := service.ListOverdue(ctx, now)
	assert.NoError(t, err)
	if assert.Equal(t, 1, len(overdue)) {
		assert.Equal(t, "req-due", overdue[0].RequestID)
	}
}
