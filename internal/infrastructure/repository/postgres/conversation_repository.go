package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// ConversationRepository persists multi-turn conversation state as a JSONB
// document keyed by (tenant, conversation). The conversation layer mutates
// state between turns; the answer engine only ever reads it.
type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) GetState(ctx context.Context, tenantID, conversationID string) (*domain.ConversationState, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT state
FROM conversation_states
WHERE tenant_id = $1 AND conversation_id = $2
`, tenantID, conversationID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get conversation state",
				fmt.Errorf("conversation %s", conversationID))
		}
		return nil, fmt.Errorf("scan conversation state: %w", err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal conversation state: %w", err)
	}
	return &state, nil
}

func (r *ConversationRepository) SaveState(ctx context.Context, tenantID string, state *domain.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO conversation_states (tenant_id, conversation_id, state, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (tenant_id, conversation_id)
DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
`, tenantID, state.ConversationID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert conversation state: %w", err)
	}
	return nil
}
