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

// memoryRow is the flat relational projection of domain.Memory: Tenant's
// fields are promoted to top-level columns because Postgres has no
// notion of the nested Tenant struct, and Metadata round-trips through
// JSONB rather than Go's native map type.
type memoryRow struct {
	ID               string         `db:"id"`
	CompanyID        string         `db:"company_id"`
	AppID            string         `db:"app_id"`
	UserID           string         `db:"user_id"`
	SessionID        sql.NullString `db:"session_id"`
	ThreadID         sql.NullString `db:"thread_id"`
	Content          string         `db:"content"`
	ContentHash      string         `db:"content_hash"`
	Tags             []string       `db:"tags"`
	Metadata         []byte         `db:"metadata"`
	Importance       sql.NullFloat64 `db:"importance"`
	EnrichmentStatus string         `db:"enrichment_status"`
	CreatedAt        time.Time      `db:"created_at"`
}

func toMemoryRow(m domain.Memory) (memoryRow, error) {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return memoryRow{}, fmt.Errorf("relational: encode memory metadata: %w", err)
	}
	row := memoryRow{
		ID:               m.ID,
		CompanyID:        m.Tenant.CompanyID,
		AppID:            m.Tenant.AppID,
		UserID:           m.Tenant.UserID,
		Content:          m.Content,
		ContentHash:      m.ContentHash,
		Tags:             m.Tags,
		Metadata:         meta,
		EnrichmentStatus: string(m.EnrichmentStatus),
		CreatedAt:        m.CreatedAt,
	}
	if m.Tenant.SessionID != "" {
		row.SessionID = sql.NullString{String: m.Tenant.SessionID, Valid: true}
	}
	if m.Tenant.ThreadID != "" {
		row.ThreadID = sql.NullString{String: m.Tenant.ThreadID, Valid: true}
	}
	if m.Importance != nil {
		row.Importance = sql.NullFloat64{Float64: *m.Importance, Valid: true}
	}
	return row, nil
}

func (row memoryRow) toMemory() (domain.Memory, error) {
	var meta map[string]any
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return domain.Memory{}, fmt.Errorf("relational: decode memory metadata: %w", err)
		}
	}
	m := domain.Memory{
		ID: row.ID,
		Tenant: domain.Tenant{
			CompanyID: row.CompanyID,
			AppID:     row.AppID,
			UserID:    row.UserID,
			SessionID: row.SessionID.String,
			ThreadID:  row.ThreadID.String,
		},
		Content:          row.Content,
		ContentHash:      row.ContentHash,
		Tags:             row.Tags,
		Metadata:         meta,
		EnrichmentStatus: domain.EnrichmentStatus(row.EnrichmentStatus),
		CreatedAt:        row.CreatedAt,
	}
	if row.Importance.Valid {
		v := row.Importance.Float64
		m.Importance = &v
	}
	return m, nil
}

var memoryColumns = []string{
	"id", "company_id", "app_id", "user_id", "session_id", "thread_id",
	"content", "content_hash", "tags", "metadata", "importance",
	"enrichment_status", "created_at",
}

// MemoryRepo handles CRUD for the memories table.
type MemoryRepo struct {
	db *sqlx.DB
}

// NewMemoryRepo creates a MemoryRepo.
func NewMemoryRepo(db *sqlx.DB) *MemoryRepo { return &MemoryRepo{db: db} }

// Create inserts a memory, returning domain.ErrConflict if the
// (tenant, content-hash) uniqueness constraint is violated.
func (r *MemoryRepo) Create(ctx context.Context, m domain.Memory) (domain.Memory, error) {
	row, err := toMemoryRow(m)
	if err != nil {
		return domain.Memory{}, err
	}
	placeholders := make([]string, len(memoryColumns))
	for i, c := range memoryColumns {
		placeholders[i] = ":" + c
	}
	query := fmt.Sprintf("INSERT INTO memories (%s) VALUES (%s)", join(memoryColumns), join(placeholders))
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return domain.Memory{}, fmt.Errorf("relational: create memory: %w", domain.ErrConflict)
		}
		return domain.Memory{}, fmt.Errorf("relational: create memory: %w", err)
	}
	return m, nil
}

// Get fetches a memory by id.
func (r *MemoryRepo) Get(ctx context.Context, id string) (domain.Memory, error) {
	var row memoryRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM memories WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Memory{}, domain.ErrNotFound
		}
		return domain.Memory{}, fmt.Errorf("relational: get memory %s: %w", id, err)
	}
	return row.toMemory()
}

// GetByContentHash resolves the (tenant, content-hash) idempotency key.
func (r *MemoryRepo) GetByContentHash(ctx context.Context, tenant domain.Tenant, hash string) (domain.Memory, bool, error) {
	var row memoryRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM memories WHERE company_id = $1 AND app_id = $2 AND user_id = $3 AND content_hash = $4`,
		tenant.CompanyID, tenant.AppID, tenant.UserID, hash)
	if err == sql.ErrNoRows {
		return domain.Memory{}, false, nil
	}
	if err != nil {
		return domain.Memory{}, false, fmt.Errorf("relational: get memory by hash: %w", err)
	}
	m, err := row.toMemory()
	return m, true, err
}

// UpdateEnrichmentStatus transitions a memory's enrichment lifecycle.
func (r *MemoryRepo) UpdateEnrichmentStatus(ctx context.Context, id string, status domain.EnrichmentStatus) error {
	_, err := r.db.ExecContext(ctx, "UPDATE memories SET enrichment_status = $1 WHERE id = $2", string(status), id)
	if err != nil {
		return fmt.Errorf("relational: update enrichment status %s: %w", id, err)
	}
	return nil
}

// Delete removes a memory by id.
func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM memories WHERE id = $1", id); err != nil {
		return fmt.Errorf("relational: delete memory %s: %w", id, err)
	}
	return nil
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
