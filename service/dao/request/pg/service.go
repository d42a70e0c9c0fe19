// Package pg implements the request store on Postgres. Transitions run as
// single-row compare-and-set updates so concurrent consumers never apply the
// same transition twice.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/criteria"
	"github.com/viant/nexus/service/dao/request"
)

var schemaDDL = `
CREATE TABLE IF NOT EXISTS nexus_requests (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL DEFAULT '',
    payload JSONB,
    requires_approval BOOLEAN NOT NULL DEFAULT false,
    status TEXT NOT NULL,
    status_detail TEXT NOT NULL DEFAULT '',
    result JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_nexus_requests_status ON nexus_requests (status);
`

const selectColumns = `id, kind, payload, requires_approval, status, status_detail, result, created_at, updated_at`

// Service implements a Postgres-backed request store
type Service struct {
	db *sql.DB
}

var _ request.Store = (*Service)(nil)

// New creates a Postgres request store and bootstraps its schema
func New(ctx context.Context, db *sql.DB) (*Service, error) {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("failed to ensure request schema: %w", err)
	}
	return &Service{db: db}, nil
}

// Save stores or overwrites a request
func (s *Service) Save(ctx context.Context, r *model.Request) error {
	if r == nil {
		return dao.ErrNilEntity
	}
	if r.ID == "" {
		return dao.ErrInvalidID
	}
	result, err := marshalResult(r.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO nexus_requests (id, kind, payload, requires_approval, status, status_detail, result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			requires_approval = EXCLUDED.requires_approval,
			status = EXCLUDED.status,
			status_detail = EXCLUDED.status_detail,
			result = EXCLUDED.result,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Kind, nullableJSON(r.Payload), r.RequiresApproval, string(r.Status),
		r.StatusDetail, result, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save request %s: %w", r.ID, err)
	}
	return nil
}

// Load retrieves a request by id
func (s *Service) Load(ctx context.Context, id string) (*model.Request, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM nexus_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dao.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load request %s: %w", id, err)
	}
	return r, nil
}

// Delete removes a request
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM nexus_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete request %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return dao.ErrNotFound
	}
	return nil
}

// List returns all requests, optionally filtered with a Status parameter
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM nexus_requests ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		if !criteria.Match("Status", string(r.Status), parameters) {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transition applies a compare-and-set status change keyed on id
func (s *Service) Transition(ctx context.Context, id string, from, to model.Status, apply func(*model.Request)) (*model.Request, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	if err := model.ValidateTransition(from, to); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM nexus_requests WHERE id = $1 FOR UPDATE`, id)
	current, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dao.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load request %s: %w", id, err)
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

	result, err := marshalResult(updated.Result)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE nexus_requests
		   SET kind = $2, payload = $3, requires_approval = $4, status = $5,
		       status_detail = $6, result = $7, updated_at = $8
		 WHERE id = $1 AND status = $9`,
		id, updated.Kind, nullableJSON(updated.Payload), updated.RequiresApproval,
		string(updated.Status), updated.StatusDetail, result, updated.UpdatedAt, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to transition request %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition for %s: %w", id, err)
	}
	return updated, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner) (*model.Request, error) {
	var (
		r          model.Request
		status     string
		payload    []byte
		resultData []byte
	)
	err := row.Scan(&r.ID, &r.Kind, &payload, &r.RequiresApproval, &status,
		&r.StatusDetail, &resultData, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.Status(status)
	if len(payload) > 0 {
		r.Payload = json.RawMessage(payload)
	}
	if len(resultData) > 0 {
		var result model.Result
		if err := json.Unmarshal(resultData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request result: %w", err)
		}
		r.Result = &result
	}
	return &r, nil
}

func marshalResult(result *model.Result) (interface{}, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request result: %w", err)
	}
	return data, nil
}

func nullableJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
