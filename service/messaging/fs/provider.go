package fs

import (
	"context"
	"path"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/nexus/service/messaging"
)

// Provider opens filesystem queues by name; each queue lives under its own
// subdirectory of the base path.
type Provider[T any] struct {
	fs       afs.Service
	basePath string
	config   QueueConfig
	mu       sync.Mutex
	queues   map[string]*Queue[T]
}

// NewProvider creates a filesystem queue provider rooted at basePath
func NewProvider[T any](fs afs.Service, basePath string, config QueueConfig) *Provider[T] {
	return &Provider[T]{
		fs:       fs,
		basePath: basePath,
		config:   config,
		queues:   make(map[string]*Queue[T]),
	}
}

// Queue returns the named queue, creating its directory layout on first use
func (p *Provider[T]) Queue(_ context.Context, name string) (messaging.Queue[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.queues[name]; ok {
		return q, nil
	}

	config := p.config
	config.BasePath = path.Join(p.basePath, name)
	q, err := NewQueue[T](p.fs, config)
	if err != nil {
		return nil, err
	}
	p.queues[name] = q
	return q, nil
}

var _ messaging.Provider[any] = (*Provider[any])(nil)
