package relational

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nexusmem/graphrag/engine/domain"
)

type chunkRow struct {
	ID         string        `db:"id"`
	DocumentID string        `db:"document_id"`
	Text       string        `db:"text"`
	StartByte  int           `db:"start_byte"`
	EndByte    int           `db:"end_byte"`
	TokenCount int           `db:"token_count"`
	Type       string        `db:"chunk_type"`
	Page       sql.NullInt64 `db:"page"`
	Index      int           `db:"chunk_index"`
}

func toChunkRow(c domain.Chunk) chunkRow {
	row := chunkRow{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Text:       c.Text,
		StartByte:  c.StartByte,
		EndByte:    c.EndByte,
		TokenCount: c.TokenCount,
		Type:       string(c.Type),
		Index:      c.Index,
	}
	if c.Page != nil {
		row.Page = sql.NullInt64{Int64: int64(*c.Page), Valid: true}
	}
	return row
}

func (row chunkRow) toChunk() domain.Chunk {
	c := domain.Chunk{
		ID:         row.ID,
		DocumentID: row.DocumentID,
		Text:       row.Text,
		StartByte:  row.StartByte,
		EndByte:    row.EndByte,
		TokenCount: row.TokenCount,
		Type:       domain.ChunkType(row.Type),
		Index:      row.Index,
	}
	if row.Page.Valid {
		p := int(row.Page.Int64)
		c.Page = &p
	}
	return c
}

var chunkColumns = []string{
	"id", "document_id", "text", "start_byte", "end_byte", "token_count",
	"chunk_type", "page", "chunk_index",
}

// ChunkRepo handles CRUD for the chunks table.
type ChunkRepo struct {
	db *sqlx.DB
}

// NewChunkRepo creates a ChunkRepo.
func NewChunkRepo(db *sqlx.DB) *ChunkRepo { return &ChunkRepo{db: db} }

// CreateBatch inserts all chunks of a document in one transaction, the
// shape a chunking pipeline naturally produces its output in.
func (r *ChunkRepo) CreateBatch(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relational: begin chunk batch: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(chunkColumns))
	for i, c := range chunkColumns {
		placeholders[i] = ":" + c
	}
	query := fmt.Sprintf("INSERT INTO chunks (%s) VALUES (%s)", join(chunkColumns), join(placeholders))
	for _, c := range chunks {
		if _, err := tx.NamedExecContext(ctx, query, toChunkRow(c)); err != nil {
			return fmt.Errorf("relational: insert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("relational: commit chunk batch: %w", err)
	}
	return nil
}

// ByDocument returns all chunks of a document ordered by index.
func (r *ChunkRepo) ByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var rows []chunkRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM chunks WHERE document_id = $1 ORDER BY chunk_index", documentID)
	if err != nil {
		return nil, fmt.Errorf("relational: list chunks for document %s: %w", documentID, err)
	}
	out := make([]domain.Chunk, len(rows))
	for i, row := range rows {
		out[i] = row.toChunk()
	}
	return out, nil
}
