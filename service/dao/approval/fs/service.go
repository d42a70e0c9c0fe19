// Package fs implements a filesystem-based approval store; one JSON file per
// record so pending approvals survive restarts.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/approval"
	"github.com/viant/nexus/service/dao/criteria"
)

// Service implements a filesystem-based approval store
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ approval.Store = (*Service)(nil)

// New creates a filesystem approval store rooted at basePath
func New(fs afs.Service, basePath string) *Service {
	return &Service{fs: fs, basePath: basePath}
}

// Save persists an approval record to the filesystem
func (s *Service) Save(ctx context.Context, record *model.ApprovalRecord) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.RequestID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload(ctx, record)
}

// Create inserts a new pending record, failing on duplicate request id
func (s *Service) Create(ctx context.Context, record *model.ApprovalRecord) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.RequestID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.recordPath(record.RequestID)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if approval exists: %w", err)
	}
	if exists {
		return fmt.Errorf("approval %s: %w", record.RequestID, dao.ErrAlreadyExists)
	}
	return s.upload(ctx, record)
}

// Load retrieves an approval record from the filesystem
func (s *Service) Load(ctx context.Context, id string) (*model.ApprovalRecord, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(ctx, id)
}

// Delete removes an approval record from the filesystem
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.recordPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if approval exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete approval file: %w", err)
	}
	return nil
}

// List returns approval records, optionally filtered with a Decision parameter
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, _ := s.fs.Exists(ctx, s.basePath)
	if !exists {
		return nil, nil
	}
	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	var out []*model.ApprovalRecord
	for _, obj := range objects {
		if obj.IsDir() || !strings.HasSuffix(obj.Name(), ".json") {
			continue
		}
		data, err := s.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil {
			return nil, fmt.Errorf("failed to read approval file %s: %w", obj.URL(), err)
		}
		var record model.ApprovalRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal approval %s: %w", obj.URL(), err)
		}
		if !criteria.Match("Decision", string(record.Decision), parameters) {
			continue
		}
		out = append(out, &record)
	}
	return out, nil
}

// Decide resolves a pending record exactly once
func (s *Service) Decide(ctx context.Context, id string, decision model.Decision, decidedBy, reason string) (*model.ApprovalRecord, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(ctx, id)
	if err != nil {
		return nil, err
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

	if err := s.upload(ctx, updated); err != nil {
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

func (s *Service) read(ctx context.Context, id string) (*model.ApprovalRecord, error) {
	filePath := s.recordPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if approval exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read approval file: %w", err)
	}
	var record model.ApprovalRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval data: %w", err)
	}
	return &record, nil
}

func (s *Service) upload(ctx context.Context, record *model.ApprovalRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal approval: %w", err)
	}
	filePath := s.recordPath(record.RequestID)
	if err := s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save approval to file %s: %w", filePath, err)
	}
	return nil
}

func (s *Service) recordPath(id string) string {
	return path.Join(s.basePath, id+".json")
}
