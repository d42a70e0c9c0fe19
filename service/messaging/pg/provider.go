package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/viant/nexus/service/messaging"
)

var schemaDDL = `
CREATE TABLE IF NOT EXISTS nexus_messages (
    id UUID PRIMARY KEY,
    queue TEXT NOT NULL,
    payload JSONB NOT NULL,
    enqueue_time TIMESTAMPTZ NOT NULL DEFAULT now(),
    lease_deadline TIMESTAMPTZ,
    delivery_count INT NOT NULL DEFAULT 0,
    last_error TEXT,
    dead_lettered_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_nexus_messages_claim
    ON nexus_messages (queue, enqueue_time)
    WHERE dead_lettered_at IS NULL;
`

// EnsureSchema creates the shared message table when absent
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure queue schema: %w", err)
	}
	return nil
}

// Provider opens Postgres queues by name over one shared database handle
type Provider[T any] struct {
	db     *sql.DB
	config Config
	mu     sync.Mutex
	queues map[string]*Queue[T]
}

// NewProvider creates a Postgres queue provider and bootstraps the schema
func NewProvider[T any](ctx context.Context, db *sql.DB, config Config) (*Provider[T], error) {
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return &Provider[T]{
		db:     db,
		config: config,
		queues: make(map[string]*Queue[T]),
	}, nil
}

// Queue returns the named queue
func (p *Provider[T]) Queue(_ context.Context, name string) (messaging.Queue[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.queues[name]; ok {
		return q, nil
	}
	q := NewQueue[T](p.db, name, p.config)
	p.queues[name] = q
	return q, nil
}

var _ messaging.Provider[any] = (*Provider[any])(nil)
