package ports

import (
	"context"
	"time"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// Embedder builds a vector for query text. Consumed only through the
// resilience executor.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ModelTier selects generation capability vs. latency.
type ModelTier string

const (
	TierFast    ModelTier = "fast"
	TierCapable ModelTier = "capable"
)

// GenerationRequest is one call to the generation provider.
type GenerationRequest struct {
	Prompt      string
	Tier        ModelTier
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	JSONFormat  bool
}

// GenerationResult reports the produced text and which model actually ran.
type GenerationResult struct {
	Text            string
	ModelUsed       string
	FallbackApplied bool
}

// Generator is the tiered generation provider. Implementations may escalate
// to a stronger tier on retryable failure, capped per request.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// ContentStore is the read-only corpus access plus the append-only usage log.
type ContentStore interface {
	FetchCandidates(ctx context.Context, tenantID, scope string) ([]domain.Note, error)
}

// VectorSearcher performs semantic nearest-neighbor search over the corpus
// index maintained by the ingestion pipeline.
type VectorSearcher interface {
	Search(ctx context.Context, tenantID, scope string, queryVector []float32, limit int) ([]domain.RetrievalCandidate, error)
}

// GraphBridge looks up concepts related to the query in the knowledge graph,
// used as a short-budget enrichment step.
type GraphBridge interface {
	RelatedConcepts(ctx context.Context, tenantID string, concepts []string, limit int) ([]string, error)
}

// Cache is the two-tier key/value contract keyed by query fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	DeletePattern(ctx context.Context, prefix string)
}

// UsageLogPublisher publishes quality records fire-and-forget; it must never
// block or fail the response path.
type UsageLogPublisher interface {
	PublishUsage(ctx context.Context, record domain.UsageRecord) error
}

// UsageLogStore persists usage records (worker side).
type UsageLogStore interface {
	AppendUsage(ctx context.Context, record domain.UsageRecord) error
}

// ConversationStore reads and writes multi-turn state for the conversation
// layer. The answer engine itself only ever reads the assembled state.
type ConversationStore interface {
	GetState(ctx context.Context, tenantID, conversationID string) (*domain.ConversationState, error)
	SaveState(ctx context.Context, tenantID string, state *domain.ConversationState) error
}
