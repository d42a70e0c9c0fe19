// Package watcher resolves approvals from decision files dropped into a
// watched directory. Each file carries one JSON decision; the watcher funnels
// it into the gate and consumes the file.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/approval"
)

const defaultScanInterval = time.Second

// Decision is the on-disk decision file format.
type Decision struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
	DecidedBy string `json:"decidedBy,omitempty"`
}

// Service watches a directory for decision files.
type Service struct {
	dir      string
	gate     approval.Service
	interval time.Duration
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
}

type Option func(*Service)

// WithScanInterval overrides the fallback rescan interval
func WithScanInterval(interval time.Duration) Option {
	return func(s *Service) { s.interval = interval }
}

// New creates a decision-file watcher over the given directory
func New(dir string, gate approval.Service, options ...Option) *Service {
	ret := &Service{dir: dir, gate: gate, interval: defaultScanInterval}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Start begins watching; events drive processing, a ticker rescan catches
// files written while the watcher was down
func (s *Service) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure decisions dir %s: %w", s.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create decision watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.watcher = watcher

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.eventLoop(ctx)
	go s.scanLoop(ctx)

	s.scan(ctx)
	return nil
}

// Stop shuts the watcher down and waits for its loops to exit
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	s.wg.Wait()
}

func (s *Service) eventLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.processFile(ctx, event.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("decision watcher: %v", err)
		}
	}
}

func (s *Service) scanLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Service) scan(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("decision watcher: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		s.processFile(ctx, filepath.Join(s.dir, entry.Name()))
	}
}

func (s *Service) processFile(ctx context.Context, path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("decision file %s: %v", path, err)
		}
		return
	}
	var decision Decision
	if err := json.Unmarshal(data, &decision); err != nil {
		// possibly a partial write; the next event or scan retries
		log.Printf("decision file %s: %v", path, err)
		return
	}
	if decision.RequestID == "" {
		log.Printf("decision file %s: missing requestId", path)
		return
	}

	outcome := model.DecisionRejected
	if decision.Approved {
		outcome = model.DecisionApproved
	}
	decidedBy := decision.DecidedBy
	if decidedBy == "" {
		decidedBy = "watcher"
	}

	_, err = s.gate.Resolve(ctx, decision.RequestID, outcome, decidedBy, decision.Reason)
	switch {
	case err == nil:
	case errors.Is(err, approval.ErrAlreadyResolved):
		log.Printf("decision file %s: %v", path, err)
	case errors.Is(err, approval.ErrNotFound):
		// the approval may not be recorded yet; keep the file for a rescan
		log.Printf("decision file %s: %v", path, err)
		return
	default:
		log.Printf("decision file %s: %v", path, err)
		return
	}
	_ = os.Remove(path)
}
