package usecase

import (
	"context"
	"fmt"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// TypoRescueStrategy re-runs the lexical strategies on a spell-corrected
// query. It only produces candidates when the primary lexical pass was
// sparse and a correction actually differs from the original; callers gate
// on those conditions before invoking it.
type TypoRescueStrategy struct {
	exact  *ExactStrategy
	lemma  *LemmaStrategy
	tuning Tuning
}

func NewTypoRescueStrategy(tuning Tuning) *TypoRescueStrategy {
	return &TypoRescueStrategy{
		exact:  NewExactStrategy(tuning),
		lemma:  NewLemmaStrategy(tuning),
		tuning: tuning,
	}
}

func (s *TypoRescueStrategy) Name() string { return "typo_rescue" }

func (s *TypoRescueStrategy) Search(ctx context.Context, in StrategyInput) ([]domain.RetrievalCandidate, error) {
	exactHits, err := s.exact.Search(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("typo rescue exact: %w", err)
	}
	lemmaHits, err := s.lemma.Search(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("typo rescue lemma: %w", err)
	}

	out := make([]domain.RetrievalCandidate, 0, len(exactHits)+len(lemmaHits))
	for _, hit := range append(exactHits, lemmaHits...) {
		hit.FromCorrect = true
		out = append(out, hit)
	}
	return out, nil
}

// LowConfidenceRescueStrategy pulls lemma matches from a secondary,
// less-trusted pool. Results carry the rescue match type and flag so fusion
// can cap their share of the final window.
type LowConfidenceRescueStrategy struct {
	lemma  *LemmaStrategy
	tuning Tuning
}

func NewLowConfidenceRescueStrategy(tuning Tuning) *LowConfidenceRescueStrategy {
	return &LowConfidenceRescueStrategy{
		lemma:  NewLemmaStrategy(tuning),
		tuning: tuning,
	}
}

func (s *LowConfidenceRescueStrategy) Name() string { return "low_confidence_rescue" }

func (s *LowConfidenceRescueStrategy) Search(ctx context.Context, in StrategyInput) ([]domain.RetrievalCandidate, error) {
	hits, err := s.lemma.Search(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("low confidence rescue: %w", err)
	}

	out := make([]domain.RetrievalCandidate, 0, len(hits))
	for _, hit := range hits {
		hit.MatchType = domain.MatchRescue
		hit.FromRescue = true
		hit.Score = clampScore(hit.Score, s.tuning.CeilingRescue)
		out = append(out, hit)
	}
	return out, nil
}
