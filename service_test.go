package nexus_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/nexus"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/policy"
	"github.com/viant/nexus/service/poller"
)

// testConfig returns a memory-vendor configuration tuned for fast tests.
func testConfig() *nexus.Config {
	config := nexus.DefaultConfig()
	config.Queue.LeaseDuration = nexus.Duration(5 * time.Second)
	config.Queue.RetryDelay = nexus.Duration(10 * time.Millisecond)
	config.Approval.ApprovalDeadline = nexus.Duration(time.Hour)
	config.Approval.SweepInterval = nexus.Duration(25 * time.Millisecond)
	config.Poller.PollInterval = nexus.Duration(10 * time.Millisecond)
	config.Poller.MaxPollInterval = nexus.Duration(50 * time.Millisecond)
	config.Poller.PollTimeout = nexus.Duration(5 * time.Second)
	return config
}

func startRuntime(t *testing.T, options ...nexus.Option) *nexus.Runtime {
	t.Helper()
	ctx := context.Background()
	options = append([]nexus.Option{nexus.WithConfig(testConfig())}, options...)
	service, err := nexus.New(ctx, options...)
	require.NoError(t, err)
	runtime := service.Runtime()
	require.NoError(t, runtime.Start(ctx))
	t.Cleanup(func() {
		_ = runtime.Shutdown(context.Background())
	})
	return runtime
}

// waitPending polls until the approval record for a request exists.
func waitPending(t *testing.T, runtime *nexus.Runtime, requestID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if record, err := runtime.Gate().Get(context.Background(), requestID); err == nil && record != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("approval record for %s never appeared", requestID)
}

func TestPipeline_DirectDispatch(t *testing.T) {
	runtime := startRuntime(t)
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"hello pipeline"}`), false)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	outcome, err := runtime.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.KindCompleted, outcome.Kind)
	assert.True(t, strings.Contains(string(outcome.Value), "hello pipeline"))

	// an ungated request never touches the approval gate
	pending, err := runtime.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	record, err := runtime.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, record.Status)
	assert.NotNil(t, record.Result)
}

func TestPipeline_ApprovedFlow(t *testing.T) {
	runtime := startRuntime(t)
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"needs review"}`), true)
	require.NoError(t, err)
	waitPending(t, runtime, id)

	record, err := runtime.Resolve(ctx, id, model.DecisionApproved, "reviewer", "looks safe")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, record.Decision)
	assert.Equal(t, "reviewer", record.DecidedBy)

	outcome, err := runtime.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.KindCompleted, outcome.Kind)

	// exactly-once: a second decision is rejected and changes nothing
	_, err = runtime.Resolve(ctx, id, model.DecisionRejected, "reviewer2", "too late")
	assert.Error(t, err)
	latest, err := runtime.Gate().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, latest.Decision)
	assert.Equal(t, "reviewer", latest.DecidedBy)
}

func TestPipeline_RejectedFlow(t *testing.T) {
	runtime := startRuntime(t)
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"risky"}`), true)
	require.NoError(t, err)
	waitPending(t, runtime, id)

	_, err = runtime.Resolve(ctx, id, model.DecisionRejected, "reviewer", "not allowed")
	require.NoError(t, err)

	outcome, err := runtime.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.KindRejected, outcome.Kind)

	record, err := runtime.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, record.Status)
	assert.Nil(t, record.Result)
}

func TestPipeline_ExpiredFlow(t *testing.T) {
	config := testConfig()
	config.Approval.ApprovalDeadline = nexus.Duration(150 * time.Millisecond)
	runtime := startRuntime(t, nexus.WithConfig(config))
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"nobody looks"}`), true)
	require.NoError(t, err)
	waitPending(t, runtime, id)

	decision, err := runtime.AwaitDecision(ctx, id, 10*time.Millisecond, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionExpired, decision)

	outcome, err := runtime.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.KindExpired, outcome.Kind)

	record, err := runtime.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, record.Status)
}

func TestPipeline_SweepExpiresOverdueApprovals(t *testing.T) {
	config := testConfig()
	config.Approval.ApprovalDeadline = nexus.Duration(100 * time.Millisecond)
	runtime := startRuntime(t, nexus.WithConfig(config))
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"overdue"}`), true)
	require.NoError(t, err)
	waitPending(t, runtime, id)

	// no Await in flight: the periodic sweep alone must expire the record
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		record, gErr := runtime.Gate().Get(ctx, id)
		require.NoError(t, gErr)
		if record.Decision == model.DecisionExpired {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	record, err := runtime.Gate().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionExpired, record.Decision)

	outcome, err := runtime.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.KindExpired, outcome.Kind)
}

func TestPipeline_WorkerFailure(t *testing.T) {
	runtime := startRuntime(t)
	ctx := context.Background()

	// the generation handler rejects an empty prompt
	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{}`), false)
	require.NoError(t, err)

	outcome, err := runtime.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.KindFailed, outcome.Kind)
	assert.Contains(t, outcome.ErrorDetail, "prompt is required")

	record, err := runtime.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.Status)
}

func TestPipeline_AwaitResultTimesOut(t *testing.T) {
	runtime := startRuntime(t)
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"stalled"}`), true)
	require.NoError(t, err)
	waitPending(t, runtime, id)

	outcome, err := runtime.AwaitResult(ctx, id, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, poller.KindTimedOut, outcome.Kind)

	// a timed-out wait mutates nothing; the request is still gated
	record, err := runtime.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingApproval, record.Status)
}

func TestPipeline_UnroutableKindFails(t *testing.T) {
	config := testConfig()
	config.Routing = []string{"generate -> ai_requests.generate"}
	runtime := startRuntime(t, nexus.WithConfig(config))
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "mystery", json.RawMessage(`{}`), false)
	require.NoError(t, err)

	outcome, err := runtime.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.KindFailed, outcome.Kind)
	assert.Contains(t, outcome.ErrorDetail, "no route")
}

func TestPipeline_PolicyDeny(t *testing.T) {
	runtime := startRuntime(t, nexus.WithPolicy(&policy.Policy{Mode: policy.ModeDeny}))
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"blocked"}`), false)
	require.NoError(t, err)

	record, err := runtime.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, record.Status)
	assert.Contains(t, record.StatusDetail, "denied by policy")

	outcome, err := runtime.AwaitResult(ctx, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.KindRejected, outcome.Kind)
}

func TestPipeline_PolicyAskForcesApproval(t *testing.T) {
	runtime := startRuntime(t, nexus.WithPolicy(&policy.Policy{Mode: policy.ModeAsk}))
	ctx := context.Background()

	// submitted without the approval flag, the ask policy still gates it
	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"gated"}`), false)
	require.NoError(t, err)
	waitPending(t, runtime, id)

	record, err := runtime.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingApproval, record.Status)
	assert.True(t, record.RequiresApproval)
}

func TestPipeline_Stats(t *testing.T) {
	runtime := startRuntime(t)
	ctx := context.Background()

	id, err := runtime.Submit(ctx, "generate", json.RawMessage(`{"prompt":"count me"}`), false)
	require.NoError(t, err)
	outcome, err := runtime.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, poller.KindCompleted, outcome.Kind)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.Stats().Progress.CompletedTotal >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	stats := runtime.Stats()
	assert.GreaterOrEqual(t, stats.Progress.SubmittedTotal, 1)
	assert.GreaterOrEqual(t, stats.Progress.CompletedTotal, 1)
}
