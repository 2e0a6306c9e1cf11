package relational

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nexusmem/graphrag/engine/domain"
)

type interactionRow struct {
	ID           string    `db:"id"`
	CompanyID    string    `db:"company_id"`
	AppID        string    `db:"app_id"`
	HashedUserID string    `db:"hashed_user_id"`
	Role         string    `db:"role"`
	Content      string    `db:"content"`
	Metadata     []byte    `db:"metadata"`
	CreatedAt    time.Time `db:"created_at"`
}

func toInteractionRow(i domain.Interaction) (interactionRow, error) {
	meta, err := json.Marshal(i.Metadata)
	if err != nil {
		return interactionRow{}, fmt.Errorf("relational: encode interaction metadata: %w", err)
	}
	return interactionRow{
		ID:           i.ID,
		CompanyID:    i.Tenant.CompanyID,
		AppID:        i.Tenant.AppID,
		HashedUserID: i.HashedUserID,
		Role:         i.Role,
		Content:      i.Content,
		Metadata:     meta,
		CreatedAt:    i.CreatedAt,
	}, nil
}

func (row interactionRow) toInteraction() (domain.Interaction, error) {
	var meta map[string]any
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return domain.Interaction{}, fmt.Errorf("relational: decode interaction metadata: %w", err)
		}
	}
	return domain.Interaction{
		ID:           row.ID,
		Tenant:       domain.Tenant{CompanyID: row.CompanyID, AppID: row.AppID},
		HashedUserID: row.HashedUserID,
		Role:         row.Role,
		Content:      row.Content,
		Metadata:     meta,
		CreatedAt:    row.CreatedAt,
	}, nil
}

var interactionColumns = []string{
	"id", "company_id", "app_id", "hashed_user_id", "role", "content",
	"metadata", "created_at",
}

// InteractionRepo handles writes and windowed reads for conversational turns.
type InteractionRepo struct {
	db *sqlx.DB
}

// NewInteractionRepo creates an InteractionRepo.
func NewInteractionRepo(db *sqlx.DB) *InteractionRepo { return &InteractionRepo{db: db} }

// Create inserts an interaction.
func (r *InteractionRepo) Create(ctx context.Context, i domain.Interaction) (domain.Interaction, error) {
	row, err := toInteractionRow(i)
	if err != nil {
		return domain.Interaction{}, err
	}
	placeholders := make([]string, len(interactionColumns))
	for idx, c := range interactionColumns {
		placeholders[idx] = ":" + c
	}
	query := fmt.Sprintf("INSERT INTO interactions (%s) VALUES (%s)", join(interactionColumns), join(placeholders))
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return domain.Interaction{}, fmt.Errorf("relational: create interaction: %w", err)
	}
	return i, nil
}

// Recent returns the last n interactions for a tenant's hashed user, newest
// first, for conversational context assembly.
func (r *InteractionRepo) Recent(ctx context.Context, tenant domain.Tenant, hashedUserID string, n int) ([]domain.Interaction, error) {
	var rows []interactionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM interactions WHERE company_id = $1 AND app_id = $2 AND hashed_user_id = $3
		 ORDER BY created_at DESC LIMIT $4`,
		tenant.CompanyID, tenant.AppID, hashedUserID, n)
	if err != nil {
		return nil, fmt.Errorf("relational: recent interactions: %w", err)
	}
	out := make([]domain.Interaction, len(rows))
	for i, row := range rows {
		v, err := row.toInteraction()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
