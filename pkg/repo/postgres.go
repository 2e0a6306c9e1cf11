package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo is a generic Postgres-backed repository, the relational
// sibling of Neo4jRepo: callers supply the table name and the mapping
// between T and named-query args via struct tags, and get back the same
// Repository[T, ID] surface regardless of which store backs it.
type PostgresRepo[T any, ID comparable] struct {
	db      *sqlx.DB
	table   string
	idCol   string
	columns []string // insert/update column set, excluding generated columns
	scanOne func(*sqlx.Row) (T, error)
}

// NewPostgresRepo creates a new Postgres-backed repository. columns lists
// the writable struct-tagged fields used in INSERT/UPDATE; scanOne decodes
// a single row into T.
func NewPostgresRepo[T any, ID comparable](db *sqlx.DB, table, idCol string, columns []string, scanOne func(*sqlx.Row) (T, error)) *PostgresRepo[T, ID] {
	return &PostgresRepo[T, ID]{db: db, table: table, idCol: idCol, columns: columns, scanOne: scanOne}
}

// Compile-time interface check.
var _ Repository[any, string] = (*PostgresRepo[any, string])(nil)

func (r *PostgresRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", r.table, r.idCol)
	row := r.db.QueryRowxContext(ctx, query, id)
	v, err := r.scanOne(row)
	if err != nil {
		return zero, fmt.Errorf("repo: get %s: %w", r.table, err)
	}
	return v, nil
}

func (r *PostgresRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s OFFSET $1 LIMIT $2", r.table, r.idCol)
	rows, err := r.db.QueryxContext(ctx, query, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var v T
		if err := rows.StructScan(&v); err != nil {
			return nil, fmt.Errorf("repo: scan %s: %w", r.table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Create inserts entity using a named-parameter INSERT built from the
// repo's configured column set (sqlx db-tagged fields).
func (r *PostgresRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	placeholders := make([]string, len(r.columns))
	for i, c := range r.columns {
		placeholders[i] = ":" + c
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.table, join(r.columns, ", "), join(placeholders, ", "))
	if _, err := r.db.NamedExecContext(ctx, query, entity); err != nil {
		return zero, fmt.Errorf("repo: create %s: %w", r.table, err)
	}
	return entity, nil
}

// Update runs a named-parameter UPDATE over the repo's configured column
// set, matched on idCol.
func (r *PostgresRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	sets := make([]string, len(r.columns))
	for i, c := range r.columns {
		sets[i] = c + " = :" + c
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = :%s",
		r.table, join(sets, ", "), r.idCol, r.idCol)
	if _, err := r.db.NamedExecContext(ctx, query, entity); err != nil {
		return zero, fmt.Errorf("repo: update %s: %w", r.table, err)
	}
	return entity, nil
}

func (r *PostgresRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", r.table, r.idCol)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("repo: delete %s: %w", r.table, err)
	}
	return nil
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
