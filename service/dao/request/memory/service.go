package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/criteria"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/dao/store"
)

// Service implements an in-memory, thread-safe request store. All API methods
// work with copies to eliminate data races between goroutines; transitions
// are serialized under one mutex so compare-and-set stays atomic.
type Service struct {
	store *store.MemoryStore[string, model.Request]
	mux   sync.Mutex
}

var _ request.Store = (*Service)(nil)

// New creates an in-memory request store
func New() *Service {
	return &Service{
		store: store.NewMemoryStore[string, model.Request](func(r *model.Request) string { return r.ID }),
	}
}

// Save stores or overwrites a request
func (s *Service) Save(ctx context.Context, r *model.Request) error {
	if r == nil {
		return dao.ErrNilEntity
	}
	if r.ID == "" {
		return dao.ErrInvalidID
	}
	return s.store.Save(ctx, r.Clone())
}

// Load returns a copy of the request with the given id
func (s *Service) Load(ctx context.Context, id string) (*model.Request, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	r, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, dao.ErrNotFound
	}
	return r.Clone(), nil
}

// Delete removes a request
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	r, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return dao.ErrNotFound
	}
	return s.store.Delete(ctx, id)
}

// List returns all requests, optionally filtered with a Status parameter
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Request, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Request, 0, len(records))
	for _, r := range records {
		if !criteria.Match("Status", string(r.Status), parameters) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// Transition applies a compare-and-set status change keyed on id
func (s *Service) Transition(ctx context.Context, id string, from, to model.Status, apply func(*model.Request)) (*model.Request, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	if err := model.ValidateTransition(from, to); err != nil {
		return nil, err
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
	if current.Status != from {
		return nil, fmt.Errorf("request %s is %s, expected %s: %w", id, current.Status, from, model.ErrStatusConflict)
	}

	updated := current.Clone()
	if apply != nil {
		apply(updated)
	}
	updated.Status = to
	updated.UpdatedAt = clock.Now()

	if err := s.store.Save(ctx, updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}
