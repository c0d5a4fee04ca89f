package ports

import (
	"context"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// AnswerRequest is the caller-facing input contract.
type AnswerRequest struct {
	Question       string
	TenantID       string
	Scope          string
	Limit          int
	Offset         int
	IntentHint     string
	ConversationID string
	Conversation   *domain.ConversationState
}

// AnswerService is the inbound contract for grounded question answering.
type AnswerService interface {
	Answer(ctx context.Context, req AnswerRequest) (*domain.Answer, error)
}
