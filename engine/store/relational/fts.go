package relational

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nexusmem/graphrag/engine/domain"
)

// FTSHit is one full-text match, ranked by Postgres's ts_rank against the
// generated tsvector column — the relational sub-query fed into the Hybrid
// Retrieval Engine's merge step alongside the vector and graph sub-queries.
type FTSHit struct {
	SourceID string  // memory id or chunk id
	Kind     string  // "memory" or "chunk"
	Content  string
	Rank     float64
}

// FTS runs the relational full-text sub-query across memories and chunks
// for a tenant, ranking by ts_rank and returning at most topK hits.
type FTS struct {
	db *sqlx.DB
}

// NewFTS creates an FTS query helper.
func NewFTS(db *sqlx.DB) *FTS { return &FTS{db: db} }

type ftsRow struct {
	SourceID string  `db:"source_id"`
	Kind     string  `db:"kind"`
	Content  string  `db:"content"`
	Rank     float64 `db:"rank"`
}

// Search matches query against memories.content_tsv (tenant-scoped) and
// chunks.content_tsv (document-owned, so scoped by document join instead
// of tenant columns, since chunks carry no tenant of their own).
func (f *FTS) Search(ctx context.Context, tenant domain.Tenant, query string, topK int) ([]FTSHit, error) {
	if topK <= 0 {
		topK = 10
	}
	const q = `
	(SELECT id AS source_id, 'memory' AS kind, content,
	        ts_rank(content_tsv, plainto_tsquery('english', $4)) AS rank
	 FROM memories
	 WHERE company_id = $1 AND app_id = $2 AND user_id = $3
	   AND content_tsv @@ plainto_tsquery('english', $4))
	UNION ALL
	(SELECT c.id AS source_id, 'chunk' AS kind, c.text AS content,
	        ts_rank(c.content_tsv, plainto_tsquery('english', $4)) AS rank
	 FROM chunks c
	 JOIN documents d ON d.id = c.document_id
	 WHERE d.company_id = $1 AND d.app_id = $2 AND d.user_id = $3
	   AND c.content_tsv @@ plainto_tsquery('english', $4))
	ORDER BY rank DESC
	LIMIT $5`

	var rows []ftsRow
	err := f.db.SelectContext(ctx, &rows, q,
		tenant.CompanyID, tenant.AppID, tenant.UserID, query, topK)
	if err != nil {
		return nil, fmt.Errorf("relational: fts search: %w", err)
	}
	out := make([]FTSHit, len(rows))
	for i, row := range rows {
		out[i] = FTSHit{SourceID: row.SourceID, Kind: row.Kind, Content: row.Content, Rank: row.Rank}
	}
	return out, nil
}
