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

type documentRow struct {
	ID        string         `db:"id"`
	CompanyID string         `db:"company_id"`
	AppID     string         `db:"app_id"`
	UserID    string         `db:"user_id"`
	Title     string         `db:"title"`
	Source    sql.NullString `db:"source"`
	Content   string         `db:"content"`
	Metadata  []byte         `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func toDocumentRow(d domain.Document) (documentRow, error) {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return documentRow{}, fmt.Errorf("relational: encode document metadata: %w", err)
	}
	row := documentRow{
		ID:        d.ID,
		CompanyID: d.Tenant.CompanyID,
		AppID:     d.Tenant.AppID,
		UserID:    d.Tenant.UserID,
		Title:     d.Title,
		Content:   d.Content,
		Metadata:  meta,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Source != "" {
		row.Source = sql.NullString{String: d.Source, Valid: true}
	}
	return row, nil
}

func (row documentRow) toDocument() (domain.Document, error) {
	var meta map[string]any
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return domain.Document{}, fmt.Errorf("relational: decode document metadata: %w", err)
		}
	}
	return domain.Document{
		ID: row.ID,
		Tenant: domain.Tenant{
			CompanyID: row.CompanyID,
			AppID:     row.AppID,
			UserID:    row.UserID,
		},
		Title:     row.Title,
		Source:    row.Source.String,
		Content:   row.Content,
		Metadata:  meta,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

var documentColumns = []string{
	"id", "company_id", "app_id", "user_id", "title", "source", "content",
	"metadata", "created_at", "updated_at",
}

// DocumentRepo handles CRUD for the documents table.
type DocumentRepo struct {
	db *sqlx.DB
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(db *sqlx.DB) *DocumentRepo { return &DocumentRepo{db: db} }

// Create inserts a document.
func (r *DocumentRepo) Create(ctx context.Context, d domain.Document) (domain.Document, error) {
	row, err := toDocumentRow(d)
	if err != nil {
		return domain.Document{}, err
	}
	placeholders := make([]string, len(documentColumns))
	for i, c := range documentColumns {
		placeholders[i] = ":" + c
	}
	query := fmt.Sprintf("INSERT INTO documents (%s) VALUES (%s)", join(documentColumns), join(placeholders))
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return domain.Document{}, fmt.Errorf("relational: create document: %w", err)
	}
	return d, nil
}

// Get fetches a document by id.
func (r *DocumentRepo) Get(ctx context.Context, id string) (domain.Document, error) {
	var row documentRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM documents WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Document{}, domain.ErrNotFound
		}
		return domain.Document{}, fmt.Errorf("relational: get document %s: %w", id, err)
	}
	return row.toDocument()
}

// Delete removes a document and its chunks (cascade).
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", id); err != nil {
		return fmt.Errorf("relational: delete document %s: %w", id, err)
	}
	return nil
}
