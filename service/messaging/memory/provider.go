package memory

import (
	"context"
	"sync"

	"github.com/viant/nexus/service/messaging"
)

// Provider opens in-memory queues by name, creating them on first use. All
// queues share one configuration.
type Provider[T any] struct {
	config Config
	mu     sync.Mutex
	queues map[string]*Queue[T]
}

// NewProvider creates an in-memory queue provider
func NewProvider[T any](config Config) *Provider[T] {
	return &Provider[T]{
		config: config,
		queues: make(map[string]*Queue[T]),
	}
}

// Queue returns the named queue, creating it on first use
func (p *Provider[T]) Queue(_ context.Context, name string) (messaging.Queue[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.queues[name]; ok {
		return q, nil
	}
	q := NewQueue[T](name, p.config)
	p.queues[name] = q
	return q, nil
}

// Lookup returns an already opened queue or nil; used for inspection
func (p *Provider[T]) Lookup(name string) *Queue[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queues[name]
}

// Close stops the lease reapers of all opened queues
func (p *Provider[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range p.queues {
		q.Close()
	}
}

var _ messaging.Provider[any] = (*Provider[any])(nil)
