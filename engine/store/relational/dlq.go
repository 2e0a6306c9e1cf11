package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nexusmem/graphrag/engine/domain"
)

type dlqRow struct {
	ID         string         `db:"id"`
	TaskID     string         `db:"task_id"`
	CompanyID  string         `db:"company_id"`
	AppID      string         `db:"app_id"`
	UserID     string         `db:"user_id"`
	Payload    []byte         `db:"payload"`
	LastError  string         `db:"last_error"`
	Attempts   int            `db:"attempts"`
	Status     string         `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
	ResolvedAt sql.NullTime   `db:"resolved_at"`
}

func toDLQRow(e domain.DeadLetterEntry) (dlqRow, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return dlqRow{}, fmt.Errorf("relational: encode dlq payload: %w", err)
	}
	row := dlqRow{
		ID: e.ID, TaskID: e.TaskID,
		CompanyID: e.Tenant.CompanyID, AppID: e.Tenant.AppID, UserID: e.Tenant.UserID,
		Payload: payload, LastError: e.LastError, Attempts: e.Attempts,
		Status: string(e.Status), CreatedAt: e.CreatedAt,
	}
	if e.ResolvedAt != nil {
		row.ResolvedAt = sql.NullTime{Time: *e.ResolvedAt, Valid: true}
	}
	return row, nil
}

func (row dlqRow) toEntry() (domain.DeadLetterEntry, error) {
	var payload map[string]any
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return domain.DeadLetterEntry{}, fmt.Errorf("relational: decode dlq payload: %w", err)
		}
	}
	e := domain.DeadLetterEntry{
		ID: row.ID, TaskID: row.TaskID,
		Tenant:    domain.Tenant{CompanyID: row.CompanyID, AppID: row.AppID, UserID: row.UserID},
		Payload:   payload,
		LastError: row.LastError, Attempts: row.Attempts,
		Status: domain.DLQStatus(row.Status), CreatedAt: row.CreatedAt,
	}
	if row.ResolvedAt.Valid {
		t := row.ResolvedAt.Time
		e.ResolvedAt = &t
	}
	return e, nil
}

// DLQFilter narrows a DLQ listing; zero-value fields are unconstrained.
type DLQFilter struct {
	Tenant domain.Tenant
	Status domain.DLQStatus
}

// DLQListOpts is the filter/sort/paginate shape spec.md §6/§8 requires for
// DeadLetterEntry listings.
type DLQListOpts struct {
	Filter DLQFilter
	SortBy string // "created_at" or "attempts"; default "created_at"
	Desc   bool
	Limit  int
	Offset int
}

// DLQStats summarizes queue health for operator dashboards.
type DLQStats struct {
	Pending    int
	Processing int
	Resolved   int
	Archived   int
}

// DLQRepo is the Postgres-backed dead-letter queue (C8).
type DLQRepo struct {
	db *sqlx.DB
}

// NewDLQRepo creates a DLQRepo.
func NewDLQRepo(db *sqlx.DB) *DLQRepo { return &DLQRepo{db: db} }

// Add inserts a dead-lettered task.
func (r *DLQRepo) Add(ctx context.Context, e domain.DeadLetterEntry) (domain.DeadLetterEntry, error) {
	row, err := toDLQRow(e)
	if err != nil {
		return domain.DeadLetterEntry{}, err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO dead_letter_entries
			(id, task_id, company_id, app_id, user_id, payload, last_error, attempts, status, created_at, resolved_at)
		VALUES
			(:id, :task_id, :company_id, :app_id, :user_id, :payload, :last_error, :attempts, :status, :created_at, :resolved_at)`,
		row)
	if err != nil {
		return domain.DeadLetterEntry{}, fmt.Errorf("relational: add dlq entry: %w", err)
	}
	return e, nil
}

// FindProcessingByTaskID returns the entry currently being replayed for
// taskID, if any, so a second dead-lettering of the same task reopens
// that entry instead of accumulating a duplicate.
func (r *DLQRepo) FindProcessingByTaskID(ctx context.Context, taskID string) (domain.DeadLetterEntry, bool, error) {
	var row dlqRow
	err := r.db.GetContext(ctx, &row,
		"SELECT * FROM dead_letter_entries WHERE task_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1",
		taskID, string(domain.DLQProcessing))
	if err == sql.ErrNoRows {
		return domain.DeadLetterEntry{}, false, nil
	}
	if err != nil {
		return domain.DeadLetterEntry{}, false, fmt.Errorf("relational: find processing dlq entry for task %s: %w", taskID, err)
	}
	e, err := row.toEntry()
	return e, true, err
}

// Reopen reverts an entry that was replayed and failed again back to
// pending, recording the new error/attempt count for the next replay.
func (r *DLQRepo) Reopen(ctx context.Context, id string, lastError string, attempts int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE dead_letter_entries SET status = $1, last_error = $2, attempts = $3, resolved_at = NULL WHERE id = $4",
		string(domain.DLQPending), lastError, attempts, id)
	if err != nil {
		return fmt.Errorf("relational: reopen dlq entry %s: %w", id, err)
	}
	return nil
}

// GetByID fetches a single entry.
func (r *DLQRepo) GetByID(ctx context.Context, id string) (domain.DeadLetterEntry, error) {
	var row dlqRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM dead_letter_entries WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return domain.DeadLetterEntry{}, domain.ErrNotFound
		}
		return domain.DeadLetterEntry{}, fmt.Errorf("relational: get dlq entry %s: %w", id, err)
	}
	return row.toEntry()
}

// Query lists entries matching opts, filtered, sorted, and paginated.
func (r *DLQRepo) Query(ctx context.Context, opts DLQListOpts) ([]domain.DeadLetterEntry, error) {
	var (
		where []string
		args  []any
	)
	addCond := func(cond string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", cond, len(args)))
	}
	if opts.Filter.Tenant.CompanyID != "" {
		addCond("company_id", opts.Filter.Tenant.CompanyID)
	}
	if opts.Filter.Tenant.AppID != "" {
		addCond("app_id", opts.Filter.Tenant.AppID)
	}
	if opts.Filter.Tenant.UserID != "" {
		addCond("user_id", opts.Filter.Tenant.UserID)
	}
	if opts.Filter.Status != "" {
		addCond("status", string(opts.Filter.Status))
	}

	sortCol := "created_at"
	if opts.SortBy == "attempts" {
		sortCol = "attempts"
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT * FROM dead_letter_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s OFFSET $%d LIMIT $%d", sortCol, dir, len(args)+1, len(args)+2)
	args = append(args, opts.Offset, limit)

	var rows []dlqRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("relational: query dlq: %w", err)
	}
	out := make([]domain.DeadLetterEntry, len(rows))
	for i, row := range rows {
		v, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// UpdateStatus transitions an entry's lifecycle status.
func (r *DLQRepo) UpdateStatus(ctx context.Context, id string, status domain.DLQStatus) error {
	_, err := r.db.ExecContext(ctx, "UPDATE dead_letter_entries SET status = $1 WHERE id = $2", string(status), id)
	if err != nil {
		return fmt.Errorf("relational: update dlq status %s: %w", id, err)
	}
	return nil
}

// Resolve marks an entry resolved, stamping resolved_at.
func (r *DLQRepo) Resolve(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE dead_letter_entries SET status = $1, resolved_at = $2 WHERE id = $3",
		string(domain.DLQResolved), at, id)
	if err != nil {
		return fmt.Errorf("relational: resolve dlq entry %s: %w", id, err)
	}
	return nil
}

// ResolveByTaskID marks the most recent processing entry for taskID
// resolved; a no-op if the task was never dead-lettered or the entry has
// already moved past processing. Called when a replayed task's retry
// finally succeeds.
func (r *DLQRepo) ResolveByTaskID(ctx context.Context, taskID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE dead_letter_entries SET status = $1, resolved_at = $2
		 WHERE task_id = $3 AND status = $4`,
		string(domain.DLQResolved), at, taskID, string(domain.DLQProcessing))
	if err != nil {
		return fmt.Errorf("relational: resolve dlq entry by task %s: %w", taskID, err)
	}
	return nil
}

// Delete permanently removes an entry (operator-triggered discard).
func (r *DLQRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM dead_letter_entries WHERE id = $1", id); err != nil {
		return fmt.Errorf("relational: delete dlq entry %s: %w", id, err)
	}
	return nil
}

// ArchiveOldEntries moves resolved entries older than cutoff to archived
// status, the retention sweep a scheduled job runs periodically.
func (r *DLQRepo) ArchiveOldEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE dead_letter_entries SET status = $1 WHERE status = $2 AND resolved_at < $3",
		string(domain.DLQArchived), string(domain.DLQResolved), cutoff)
	if err != nil {
		return 0, fmt.Errorf("relational: archive old dlq entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("relational: archive old dlq entries: %w", err)
	}
	return n, nil
}

// GetStats returns per-status counts for operator dashboards.
func (r *DLQRepo) GetStats(ctx context.Context, tenant domain.Tenant) (DLQStats, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM dead_letter_entries
		 WHERE company_id = $1 AND app_id = $2 GROUP BY status`,
		tenant.CompanyID, tenant.AppID)
	if err != nil {
		return DLQStats{}, fmt.Errorf("relational: dlq stats: %w", err)
	}
	defer rows.Close()

	var stats DLQStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return DLQStats{}, fmt.Errorf("relational: scan dlq stats: %w", err)
		}
		switch domain.DLQStatus(status) {
		case domain.DLQPending:
			stats.Pending = count
		case domain.DLQProcessing:
			stats.Processing = count
		case domain.DLQResolved:
			stats.Resolved = count
		case domain.DLQArchived:
			stats.Archived = count
		}
	}
	return stats, rows.Err()
}
