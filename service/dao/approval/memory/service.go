// Package memory implements an in-memory approval store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/approval"
	"github.com/viant/nexus/service/dao/criteria"
	"github.com/viant/nexus/service/dao/store"
)

// Service implements an in-memory approval store
type Service struct {
	store *store.MemoryStore[string, model.ApprovalRecord]
	mux   sync.Mutex
}

var _ approval.Store = (*Service)(nil)

// New creates an in-memory approval store
func New() *Service {
	return &Service{
		store: store.NewMemoryStore(func(record *model.ApprovalRecord) string {
			return record.RequestID
		}),
	}
}

// Save stores or overwrites an approval record
func (s *Service) Save(ctx context.Context, record *model.ApprovalRecord) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.RequestID == "" {
		return dao.ErrInvalidID
	}
	return s.store.Save(ctx, record.Clone())
}

// Create inserts a new pending record, failing on duplicate request id
func (s *Service) Create(ctx context.Context, record *model.ApprovalRecord) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.RequestID == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	existing, err := s.store.Load(ctx, record.RequestID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("approval %s: %w", record.RequestID, dao.ErrAlreadyExists)
	}
	return s.store.Save(ctx, record.Clone())
}

// Load retrieves an approval record by request id
func (s *Service) Load(ctx context.Context, id string) (*model.ApprovalRecord, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	record, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, dao.ErrNotFound
	}
	return record.Clone(), nil
}

// Delete removes an approval record
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	record, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return dao.ErrNotFound
	}
	return s.store.Delete(ctx, id)
}

// List returns approval records, optionally filtered with a Decision parameter
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.ApprovalRecord, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.ApprovalRecord
	for _, record := range records {
		if !criteria.Match("Decision", string(record.Decision), parameters) {
			continue
		}
		out = append(out, record.Clone())
	}
	return out, nil
}

// Decide resolves a pending record exactly once
func (s *Service) Decide(ctx context.Context, id string, decision model.Decision, decidedBy, reason string) (*model.ApprovalRecord, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()

	current, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, dao.ErrNotFound
	}
	if err := model.ValidateDecisionTransition(current.Decision, decision); err != nil {
		return nil, fmt.Errorf("approval %s: %w", id, err)
	}

	updated := current.Clone()
	updated.Decision = decision
	decidedAt := clock.Now()
	updated.DecidedAt = &decidedAt
	updated.DecidedBy = decidedBy
	updated.Reason = reason
	if err := s.store.Save(ctx, updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// ListPending returns records still awaiting a decision
func (s *Service) ListPending(ctx context.Context) ([]*model.ApprovalRecord, error) {
	return s.List(ctx, dao.NewParameter("Decision", string(model.DecisionPending)))
}

// ListOverdue returns pending records whose deadline has passed
func (s *Service) ListOverdue(ctx context.Context, now time.Time) ([]*model.ApprovalRecord, error) {
	pending, err := s.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.ApprovalRecord
	for _, record := range pending {
		if record.Overdue(now) {
			out = append(out, record)
		}
	}
	return out, nil
}
