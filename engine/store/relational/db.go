// Package relational is the sole owner of all Postgres operations: the
// relational records of Memory/Document/Chunk/Interaction/Task, the
// full-text-search sub-query backing the Hybrid Retrieval Engine, the
// error-pattern table, the retry-attempt ledger, and the dead-letter queue.
package relational

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Open connects to Postgres via pgx's database/sql shim, wrapped in sqlx
// for the Get/Select/NamedExec convenience methods the repos below use.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect(stdlib.GetDefaultDriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: connect: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("relational: ping: %w", err)
	}
	return db, nil
}

// Schema is applied once at startup; there is no migration tool in the
// dependency set, so this is idempotent CREATE TABLE IF NOT EXISTS DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	app_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	session_id TEXT,
	thread_id TEXT,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	tags TEXT[],
	metadata JSONB,
	importance DOUBLE PRECISION,
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
	UNIQUE (company_id, app_id, user_id, content_hash)
);
CREATE INDEX IF NOT EXISTS memories_content_tsv_idx ON memories USING GIN (content_tsv);
CREATE INDEX IF NOT EXISTS memories_tenant_idx ON memories (company_id, app_id, user_id);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	app_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	source TEXT,
	content TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	text TEXT NOT NULL,
	start_byte INT NOT NULL,
	end_byte INT NOT NULL,
	token_count INT NOT NULL,
	chunk_type TEXT NOT NULL,
	page INT,
	chunk_index INT NOT NULL,
	content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', text)) STORED,
	UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS chunks_content_tsv_idx ON chunks USING GIN (content_tsv);

CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	app_id TEXT NOT NULL,
	hashed_user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS error_patterns (
	id TEXT PRIMARY KEY,
	match TEXT NOT NULL,
	class TEXT NOT NULL,
	strategy TEXT NOT NULL,
	occurrences INT NOT NULL DEFAULT 0,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS retry_attempts (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	attempt INT NOT NULL,
	strategy TEXT NOT NULL,
	error TEXT,
	class TEXT NOT NULL,
	attempted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	next_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS retry_attempts_task_idx ON retry_attempts (task_id);

CREATE TABLE IF NOT EXISTS dead_letter_entries (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	app_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	payload JSONB NOT NULL,
	last_error TEXT NOT NULL,
	attempts INT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS dlq_status_idx ON dead_letter_entries (status);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	app_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	version INT NOT NULL DEFAULT 1,
	payload JSONB,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);
`

// ApplySchema runs the DDL above. Safe to call on every startup.
func ApplySchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("relational: apply schema: %w", err)
	}
	return nil
}
