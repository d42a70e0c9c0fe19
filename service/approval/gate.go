package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	astore "github.com/viant/nexus/service/dao/approval"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/event"
	"github.com/viant/nexus/service/messaging"
)

const (
	defaultDeadline     = 15 * time.Minute
	defaultPollInterval = 20 * time.Millisecond
	systemDecider       = "system"
	expiredDetail       = "approval deadline passed"
)

type gate struct {
	store    astore.Store
	requests request.Store
	events   *event.Service
	resubmit Resubmitter
	deadline time.Duration
}

var _ Service = (*gate)(nil)

// New creates an approval gate over the supplied stores
func New(store astore.Store, requests request.Store, options ...Option) (Service, error) {
	ret := &gate{
		store:    store,
		requests: requests,
		deadline: defaultDeadline,
	}
	for _, option := range options {
		option(ret)
	}
	if ret.events == nil {
		events, err := event.New(messaging.VendorMemory)
		if err != nil {
			return nil, err
		}
		ret.events = events
	}
	return ret, nil
}

func (g *gate) Request(ctx context.Context, record *model.ApprovalRecord) (*model.ApprovalRecord, error) {
	if record == nil {
		return nil, dao.ErrNilEntity
	}
	if record.RequestID == "" {
		return nil, dao.ErrInvalidID
	}

	pending := record.Clone()
	if pending.Decision == "" {
		pending.Decision = model.DecisionPending
	}
	if pending.RequestedAt.IsZero() {
		pending.RequestedAt = clock.Now()
	}
	if pending.Deadline.IsZero() {
		pending.Deadline = pending.RequestedAt.Add(g.deadline)
	}

	if err := g.store.Create(ctx, pending); err != nil {
		if errors.Is(err, dao.ErrAlreadyExists) {
			return nil, g.duplicateError(ctx, pending)
		}
		return nil, err
	}
	_ = g.events.Publish(ctx, event.TopicApprovalRequested, pending)
	return pending, nil
}

func (g *gate) Resolve(ctx context.Context, requestID string, decision model.Decision, decidedBy, reason string) (*model.ApprovalRecord, error) {
	switch decision {
	case model.DecisionApproved, model.DecisionRejected, model.DecisionExpired:
	default:
		return nil, fmt.Errorf("invalid decision %q for approval %s", decision, requestID)
	}

	record, err := g.store.Decide(ctx, requestID, decision, decidedBy, reason)
	if err != nil {
		switch {
		case errors.Is(err, dao.ErrNotFound):
			return nil, fmt.Errorf("approval %s: %w", requestID, ErrNotFound)
		case errors.Is(err, model.ErrStatusConflict):
			return nil, fmt.Errorf("approval %s: %w", requestID, ErrAlreadyResolved)
		}
		return nil, err
	}
	g.applyToRequest(ctx, record, reason)
	_ = g.events.Publish(ctx, event.TopicDecisionCreated, record)
	return record, nil
}

func (g *gate) Await(ctx context.Context, requestID string, pollInterval time.Duration, deadline time.Time) (model.Decision, error) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	for {
		record, err := g.Get(ctx, requestID)
		if err != nil {
			return "", err
		}
		if record.Resolved() {
			return record.Decision, nil
		}

		limit := deadline
		if limit.IsZero() {
			limit = record.Deadline
		}
		if !limit.IsZero() && !clock.Now().Before(limit) {
			resolved, err := g.Resolve(ctx, requestID, model.DecisionExpired, systemDecider, expiredDetail)
			if err != nil {
				// a racing decision won; report what it decided
				if errors.Is(err, ErrAlreadyResolved) {
					record, err = g.Get(ctx, requestID)
					if err != nil {
						return "", err
					}
					return record.Decision, nil
				}
				return "", err
			}
			return resolved.Decision, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (g *gate) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := g.store.ListOverdue(ctx, clock.Now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, record := range overdue {
		if _, err := g.Resolve(ctx, record.RequestID, model.DecisionExpired, systemDecider, expiredDetail); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// Reconcile picks up decisions whose request transition never landed: the
// record is resolved but the request still sits in awaiting_approval. It
// re-runs the request-side application for each such pair.
func (g *gate) Reconcile(ctx context.Context) (int, error) {
	parked, err := g.requests.List(ctx, dao.NewParameter("Status", string(model.StatusAwaitingApproval)))
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, req := range parked {
		record, err := g.store.Load(ctx, req.ID)
		if err != nil {
			if errors.Is(err, dao.ErrNotFound) {
				continue
			}
			return applied, err
		}
		if record == nil || !record.Resolved() {
			continue
		}
		g.applyToRequest(ctx, record, record.Reason)
		applied++
	}
	return applied, nil
}

func (g *gate) Pending(ctx context.Context) ([]*model.ApprovalRecord, error) {
	return g.store.ListPending(ctx)
}

func (g *gate) Get(ctx context.Context, requestID string) (*model.ApprovalRecord, error) {
	record, err := g.store.Load(ctx, requestID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fmt.Errorf("approval %s: %w", requestID, ErrNotFound)
		}
		return nil, err
	}
	return record, nil
}

func (g *gate) Subscribe(ctx context.Context) <-chan event.Event {
	return g.events.Subscribe(ctx)
}

// applyToRequest moves the owning request out of awaiting_approval to match
// the decision. Failures are logged, not returned: the decision already
// stands and Reconcile re-runs the application on the next sweep.
func (g *gate) applyToRequest(ctx context.Context, record *model.ApprovalRecord, reason string) {
	switch record.Decision {
	case model.DecisionApproved:
		updated, err := g.requests.Transition(ctx, record.RequestID, model.StatusAwaitingApproval, model.StatusApproved, nil)
		if err != nil {
			log.Printf("approval %s: request transition failed: %v", record.RequestID, err)
			return
		}
		if g.resubmit != nil {
			if err := g.resubmit.EnqueueApproved(ctx, updated); err != nil {
				log.Printf("approval %s: resubmit failed: %v", record.RequestID, err)
			}
		}
	case model.DecisionRejected:
		if _, err := g.requests.Transition(ctx, record.RequestID, model.StatusAwaitingApproval, model.StatusRejected, func(r *model.Request) {
			r.StatusDetail = reason
		}); err != nil {
			log.Printf("approval %s: request transition failed: %v", record.RequestID, err)
		}
	case model.DecisionExpired:
		if _, err := g.requests.Transition(ctx, record.RequestID, model.StatusAwaitingApproval, model.StatusExpired, func(r *model.Request) {
			r.StatusDetail = expiredDetail
		}); err != nil {
			log.Printf("approval %s: request transition failed: %v", record.RequestID, err)
		}
	}
}

func (g *gate) duplicateError(ctx context.Context, requested *model.ApprovalRecord) error {
	existing, err := g.store.Load(ctx, requested.RequestID)
	if err != nil || existing == nil {
		return fmt.Errorf("approval %s: %w", requested.RequestID, ErrDuplicate)
	}
	diff := argsDiff(existing.Args, requested.Args)
	if diff == "" {
		return fmt.Errorf("approval %s (identical args): %w", requested.RequestID, ErrDuplicate)
	}
	return fmt.Errorf("approval %s: %w\nargs diff:\n%s", requested.RequestID, ErrDuplicate, diff)
}

func argsDiff(recorded, requested json.RawMessage) string {
	if bytes.Equal(recorded, requested) {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(recorded)),
		B:        difflib.SplitLines(string(requested)),
		FromFile: "recorded",
		ToFile:   "requested",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}
