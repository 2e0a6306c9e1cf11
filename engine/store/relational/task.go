package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nexusmem/graphrag/engine/domain"
)

type taskRow struct {
	ID        string         `db:"id"`
	CompanyID string         `db:"company_id"`
	AppID     string         `db:"app_id"`
	UserID    string         `db:"user_id"`
	Kind      string         `db:"kind"`
	Status    string         `db:"status"`
	Version   int            `db:"version"`
	Payload   []byte         `db:"payload"`
	Error     sql.NullString `db:"error"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func toTaskRow(t domain.Task) (taskRow, error) {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return taskRow{}, fmt.Errorf("relational: encode task payload: %w", err)
	}
	row := taskRow{
		ID: t.ID, CompanyID: t.Tenant.CompanyID, AppID: t.Tenant.AppID, UserID: t.Tenant.UserID,
		Kind: string(t.Kind), Status: string(t.Status), Version: t.Version, Payload: payload,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
	if t.Error != "" {
		row.Error = sql.NullString{String: t.Error, Valid: true}
	}
	return row, nil
}

func (row taskRow) toTask() (domain.Task, error) {
	var payload map[string]any
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return domain.Task{}, fmt.Errorf("relational: decode task payload: %w", err)
		}
	}
	return domain.Task{
		ID:        row.ID,
		Tenant:    domain.Tenant{CompanyID: row.CompanyID, AppID: row.AppID, UserID: row.UserID},
		Kind:      domain.TaskKind(row.Kind),
		Status:    domain.TaskStatus(row.Status),
		Version:   row.Version,
		Payload:   payload,
		Error:     row.Error.String,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// TaskRepo is the State Reconciler's (C9) backing store, with optimistic
// concurrency on Version and a guard against leaving a terminal status.
type TaskRepo struct {
	db *sqlx.DB
}

// NewTaskRepo creates a TaskRepo.
func NewTaskRepo(db *sqlx.DB) *TaskRepo { return &TaskRepo{db: db} }

// Create inserts a task at version 1.
func (r *TaskRepo) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.Version = 1
	row, err := toTaskRow(t)
	if err != nil {
		return domain.Task{}, err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO tasks (id, company_id, app_id, user_id, kind, status, version, payload, error, created_at, updated_at)
		VALUES (:id, :company_id, :app_id, :user_id, :kind, :status, :version, :payload, :error, :created_at, :updated_at)`,
		row)
	if err != nil {
		return domain.Task{}, fmt.Errorf("relational: create task: %w", err)
	}
	return t, nil
}

// Get fetches a task by id.
func (r *TaskRepo) Get(ctx context.Context, id string) (domain.Task, error) {
	var row taskRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM tasks WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, fmt.Errorf("relational: get task %s: %w", id, err)
	}
	return row.toTask()
}

// ListByStatus returns tasks in a given status, the reconciler's sweep
// query for e.g. finding stuck "running" tasks past a staleness window.
func (r *TaskRepo) ListByStatus(ctx context.Context, status domain.TaskStatus, updatedBefore time.Time) ([]domain.Task, error) {
	var rows []taskRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM tasks WHERE status = $1 AND updated_at < $2 ORDER BY updated_at", string(status), updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("relational: list tasks by status: %w", err)
	}
	out := make([]domain.Task, len(rows))
	for i, row := range rows {
		v, err := row.toTask()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// CompareAndSwapStatus applies an optimistic-concurrency status transition:
// it rejects leaving a terminal status (domain.Task.CanTransition) and
// only commits if expectedVersion still matches the stored row, returning
// domain.ErrConflict when a concurrent writer won the race.
func (r *TaskRepo) CompareAndSwapStatus(ctx context.Context, id string, expectedVersion int, to domain.TaskStatus, taskErr string, now time.Time) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := current.CanTransition(to); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, version = version + 1, error = $2, updated_at = $3
		 WHERE id = $4 AND version = $5`,
		string(to), nullIfEmpty(taskErr), now, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("relational: cas task status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("relational: cas task status %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("relational: cas task status %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
