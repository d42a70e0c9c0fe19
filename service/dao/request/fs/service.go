package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/criteria"
	"github.com/viant/nexus/service/dao/request"
)

// Service implements a filesystem-based request store; one JSON file per
// request. The mutex serializes transitions within this process, the durable
// file carries state across restarts.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ request.Store = (*Service)(nil)

// New creates a filesystem request store rooted at basePath
func New(fs afs.Service, basePath string) *Service {
	return &Service{fs: fs, basePath: basePath}
}

// Save persists a request to the filesystem
func (s *Service) Save(ctx context.Context, r *model.Request) error {
	if r == nil {
		return dao.ErrNilEntity
	}
	if r.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload(ctx, r)
}

// Load retrieves a request from the filesystem
func (s *Service) Load(ctx context.Context, id string) (*model.Request, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(ctx, id)
}

// Delete removes a request from the filesystem
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.requestPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if request exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete request file: %w", err)
	}
	return nil
}

// List returns all requests, optionally filtered with a Status parameter
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, _ := s.fs.Exists(ctx, s.basePath)
	if !exists {
		return nil, nil
	}
	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	var out []*model.Request
	for _, obj := range objects {
		if obj.IsDir() || !strings.HasSuffix(obj.Name(), ".json") {
			continue
		}
		data, err := s.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil {
			return nil, fmt.Errorf("failed to read request file %s: %w", obj.URL(), err)
		}
		var r model.Request
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request %s: %w", obj.URL(), err)
		}
		if !criteria.Match("Status", string(r.Status), parameters) {
			continue
		}
		out = append(out, &r)
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

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(ctx, id)
	if err != nil {
		return nil, err
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

	if err := s.upload(ctx, updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *Service) read(ctx context.Context, id string) (*model.Request, error) {
	filePath := s.requestPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if request exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	var r model.Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request data: %w", err)
	}
	return &r, nil
}

func (s *Service) upload(ctx context.Context, r *model.Request) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	filePath := s.requestPath(r.ID)
	if err := s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save request to file %s: %w", filePath, err)
	}
	return nil
}

func (s *Service) requestPath(id string) string {
	return path.Join(s.basePath, id+".json")
}
