package usecase

import (
	"context"
	"fmt"

	"github.com/norwood-labs/marginalia/internal/core/domain"
	"github.com/norwood-labs/marginalia/internal/core/ports"
)

// SemanticStrategy embeds the query and scores nearest neighbors from the
// vector index. Lowest ceiling of the primary strategies: semantic hits fill
// gaps, they never outrank a genuine lexical match.
type SemanticStrategy struct {
	embedder ports.Embedder
	searcher ports.VectorSearcher
	tuning   Tuning
}

func NewSemanticStrategy(embedder ports.Embedder, searcher ports.VectorSearcher, tuning Tuning) *SemanticStrategy {
	return &SemanticStrategy{embedder: embedder, searcher: searcher, tuning: tuning}
}

func (s *SemanticStrategy) Name() string { return "semantic" }

func (s *SemanticStrategy) Search(ctx context.Context, in StrategyInput) ([]domain.RetrievalCandidate, error) {
	vector, err := s.embedder.EmbedQuery(ctx, in.Query.Normalized)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := in.Query.Limit
	if limit <= 0 {
		limit = s.tuning.DefaultLimit
	}
	hits, err := s.searcher.Search(ctx, in.Query.TenantID, in.Query.Scope, vector, limit*2)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]domain.RetrievalCandidate, 0, len(hits))
	for _, hit := range hits {
		hit.MatchType = domain.MatchSemantic
		// Vector similarity arrives in [0,1]; scale onto the semantic tier.
		hit.Score = clampScore(hit.Score*s.tuning.CeilingSemantic, s.tuning.CeilingSemantic)
		out = append(out, hit)
	}
	return out, nil
}
