// Package pg implements the approval store on Postgres.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/viant/nexus/internal/clock"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/dao/approval"
	"github.com/viant/nexus/service/dao/criteria"
)

var schemaDDL = `
CREATE TABLE IF NOT EXISTS nexus_approvals (
    request_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL DEFAULT '',
    args JSONB,
    decision TEXT NOT NULL DEFAULT 'pending',
    requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deadline TIMESTAMPTZ NOT NULL,
    decided_at TIMESTAMPTZ,
    decided_by TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_nexus_approvals_decision ON nexus_approvals (decision);
`

const selectColumns = `request_id, kind, args, decision, requested_at, deadline, decided_at, decided_by, reason`

// Service implements a Postgres-backed approval store
type Service struct {
	db *sql.DB
}

var _ approval.Store = (*Service)(nil)

// New creates a Postgres approval store and bootstraps its schema
func New(ctx context.Context, db *sql.DB) (*Service, error) {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("failed to ensure approval schema: %w", err)
	}
	return &Service{db: db}, nil
}

// Save stores or overwrites an approval record
func (s *Service) Save(ctx context.Context, record *model.ApprovalRecord) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.RequestID == "" {
		return dao.ErrInvalidID
	}
	query := `
		INSERT INTO nexus_approvals (request_id, kind, args, decision, requested_at, deadline, decided_at, decided_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			args = EXCLUDED.args,
			decision = EXCLUDED.decision,
			deadline = EXCLUDED.deadline,
			decided_at = EXCLUDED.decided_at,
			decided_by = EXCLUDED.decided_by,
			reason = EXCLUDED.reason
	`
	_, err := s.db.ExecContext(ctx, query,
		record.RequestID, record.Kind, nullableJSON(record.Args), string(record.Decision),
		record.RequestedAt, record.Deadline, record.DecidedAt, record.DecidedBy, record.Reason)
	if err != nil {
		return fmt.Errorf("failed to save approval %s: %w", record.RequestID, err)
	}
	return nil
}

// Create inserts a new pending record, failing on duplicate request id
func (s *Service) Create(ctx context.Context, record *model.ApprovalRecord) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.RequestID == "" {
		return dao.ErrInvalidID
	}
	query := `
		INSERT INTO nexus_approvals (request_id, kind, args, decision, requested_at, deadline, decided_at, decided_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		record.RequestID, record.Kind, nullableJSON(record.Args), string(record.Decision),
		record.RequestedAt, record.Deadline, record.DecidedAt, record.DecidedBy, record.Reason)
	if err != nil {
		return fmt.Errorf("failed to create approval %s: %w", record.RequestID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("approval %s: %w", record.RequestID, dao.ErrAlreadyExists)
	}
	return nil
}

// Load retrieves an approval record by request id
func (s *Service) Load(ctx context.Context, id string) (*model.ApprovalRecord, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM nexus_approvals WHERE request_id = $1`, id)
	record, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dao.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load approval %s: %w", id, err)
	}
	return record, nil
}

// Delete removes an approval record
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM nexus_approvals WHERE request_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete approval %s: %w", id, err)
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

// List returns approval records, optionally filtered with a Decision parameter
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM nexus_approvals ORDER BY requested_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []*model.ApprovalRecord
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		if !criteria.Match("Decision", string(record.Decision), parameters) {
			continue
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Decide resolves a pending record exactly once
func (s *Service) Decide(ctx context.Context, id string, decision model.Decision, decidedBy, reason string) (*model.ApprovalRecord, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM nexus_approvals WHERE request_id = $1 FOR UPDATE`, id)
	current, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dao.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load approval %s: %w", id, err)
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

	_, err = tx.ExecContext(ctx, `
		UPDATE nexus_approvals
		   SET decision = $2, decided_at = $3, decided_by = $4, reason = $5
		 WHERE request_id = $1 AND decision = $6`,
		id, string(updated.Decision), updated.DecidedAt, updated.DecidedBy, updated.Reason,
		string(model.DecisionPending))
	if err != nil {
		return nil, fmt.Errorf("failed to decide approval %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit decision for %s: %w", id, err)
	}
	return updated, nil
}

// ListPending returns records still awaiting a decision
func (s *Service) ListPending(ctx context.Context) ([]*model.ApprovalRecord, error) {
	return s.List(ctx, dao.NewParameter("Decision", string(model.DecisionPending)))
}

// ListOverdue returns pending records whose deadline has passed
func (s *Service) ListOverdue(ctx context.Context, now time.Time) ([]*model.ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM nexus_approvals WHERE decision = $1 AND deadline < $2 ORDER BY deadline`,
		string(model.DecisionPending), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue approvals: %w", err)
	}
	defer rows.Close()

	var out []*model.ApprovalRecord
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row scanner) (*model.ApprovalRecord, error) {
	var (
		record   model.ApprovalRecord
		decision string
		args     []byte
	)
	err := row.Scan(&record.RequestID, &record.Kind, &args, &decision, &record.RequestedAt,
		&record.Deadline, &record.DecidedAt, &record.DecidedBy, &record.Reason)
	if err != nil {
		return nil, err
	}
	record.Decision = model.Decision(decision)
	if len(args) > 0 {
		record.Args = json.RawMessage(args)
	}
	return &record, nil
}

func nullableJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
