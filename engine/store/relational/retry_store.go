package relational

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nexusmem/graphrag/engine/domain"
)

// ErrorPatternRepo persists the Retry Analyzer's (C6) learned signature
// table: matching substrings, the class they imply, and the strategy
// chosen last time the pattern was seen.
type ErrorPatternRepo struct {
	db *sqlx.DB
}

// NewErrorPatternRepo creates an ErrorPatternRepo.
func NewErrorPatternRepo(db *sqlx.DB) *ErrorPatternRepo { return &ErrorPatternRepo{db: db} }

type errorPatternRow struct {
	ID          string    `db:"id"`
	Match       string    `db:"match"`
	Class       string    `db:"class"`
	Strategy    string    `db:"strategy"`
	Occurrences int       `db:"occurrences"`
	LastSeen    time.Time `db:"last_seen"`
}

// All returns every recorded error pattern, most frequent first.
func (r *ErrorPatternRepo) All(ctx context.Context) ([]domain.ErrorPattern, error) {
	var rows []errorPatternRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT id, match, class, strategy, occurrences, last_seen FROM error_patterns ORDER BY occurrences DESC")
	if err != nil {
		return nil, fmt.Errorf("relational: list error patterns: %w", err)
	}
	out := make([]domain.ErrorPattern, len(rows))
	for i, row := range rows {
		out[i] = domain.ErrorPattern{
			ID: row.ID, Match: row.Match, Class: domain.ErrorClass(row.Class),
			Strategy: domain.RetryStrategy(row.Strategy), Occurrences: row.Occurrences, LastSeen: row.LastSeen,
		}
	}
	return out, nil
}

// Upsert records a pattern match, bumping its occurrence count if it
// already exists.
func (r *ErrorPatternRepo) Upsert(ctx context.Context, p domain.ErrorPattern) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO error_patterns (id, match, class, strategy, occurrences, last_seen)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (id) DO UPDATE SET occurrences = error_patterns.occurrences + 1, last_seen = $5`,
		p.ID, p.Match, string(p.Class), string(p.Strategy), p.LastSeen)
	if err != nil {
		return fmt.Errorf("relational: upsert error pattern %s: %w", p.ID, err)
	}
	return nil
}

// RetryAttemptRepo persists the attempt ledger the Budget Manager (C7)
// consults to compute AttemptsSoFar for a task.
type RetryAttemptRepo struct {
	db *sqlx.DB
}

// NewRetryAttemptRepo creates a RetryAttemptRepo.
func NewRetryAttemptRepo(db *sqlx.DB) *RetryAttemptRepo { return &RetryAttemptRepo{db: db} }

// Record appends a retry attempt.
func (r *RetryAttemptRepo) Record(ctx context.Context, a domain.RetryAttempt) error {
	var nextAt sql.NullTime
	if a.NextAt != nil {
		nextAt = sql.NullTime{Time: *a.NextAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retry_attempts (id, task_id, attempt, strategy, error, class, attempted_at, next_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TaskID, a.Attempt, string(a.Strategy), a.Error, string(a.Class), a.AttemptedAt, nextAt)
	if err != nil {
		return fmt.Errorf("relational: record retry attempt: %w", err)
	}
	return nil
}

// CountForTask returns how many attempts have been recorded for a task,
// the basis for RetryBudget.AttemptsSoFar.
func (r *RetryAttemptRepo) CountForTask(ctx context.Context, taskID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM retry_attempts WHERE task_id = $1", taskID); err != nil {
		return 0, fmt.Errorf("relational: count retry attempts for %s: %w", taskID, err)
	}
	return n, nil
}

// ByTask returns the ordered attempt history for a task.
func (r *RetryAttemptRepo) ByTask(ctx context.Context, taskID string) ([]domain.RetryAttempt, error) {
	type row struct {
		ID          string         `db:"id"`
		TaskID      string         `db:"task_id"`
		Attempt     int            `db:"attempt"`
		Strategy    string         `db:"strategy"`
		Error       sql.NullString `db:"error"`
		Class       string         `db:"class"`
		AttemptedAt time.Time      `db:"attempted_at"`
		NextAt      sql.NullTime   `db:"next_at"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM retry_attempts WHERE task_id = $1 ORDER BY attempt", taskID)
	if err != nil {
		return nil, fmt.Errorf("relational: list retry attempts for %s: %w", taskID, err)
	}
	out := make([]domain.RetryAttempt, len(rows))
	for i, rw := range rows {
		a := domain.RetryAttempt{
			ID: rw.ID, TaskID: rw.TaskID, Attempt: rw.Attempt,
			Strategy: domain.RetryStrategy(rw.Strategy), Error: rw.Error.String,
			Class: domain.ErrorClass(rw.Class), AttemptedAt: rw.AttemptedAt,
		}
		if rw.NextAt.Valid {
			t := rw.NextAt.Time
			a.NextAt = &t
		}
		out[i] = a
	}
	return out, nil
}
