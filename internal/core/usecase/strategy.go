package usecase

import (
	"context"
	"unicode/utf8"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// StrategyInput is the shared read-only input one retrieval pass hands to
// every strategy. Notes is the tenant/scope-filtered candidate pool fetched
// once per pass.
type StrategyInput struct {
	Query  domain.Query
	Tokens []string
	Notes  []domain.Note
}

// Strategy is one retrieval tactic. Implementations are stateless,
// side-effect-free, and safe to run concurrently with each other.
type Strategy interface {
	Name() string
	Search(ctx context.Context, in StrategyInput) ([]domain.RetrievalCandidate, error)
}

// ExactStrategy matches normalized, deaccented query tokens verbatim in the
// note body, title, annotation, or tags.
type ExactStrategy struct {
	tuning Tuning
}

func NewExactStrategy(tuning Tuning) *ExactStrategy {
	return &ExactStrategy{tuning: tuning}
}

func (s *ExactStrategy) Name() string { return "exact" }

func (s *ExactStrategy) Search(_ context.Context, in StrategyInput) ([]domain.RetrievalCandidate, error) {
	tokens := contentTokens(in.Tokens)
	if len(tokens) == 0 {
		return nil, nil
	}

	out := make([]domain.RetrievalCandidate, 0, 16)
	for _, note := range in.Notes {
		noteSet := noteTokenSet(note)
		matched := 0
		for _, token := range tokens {
			if _, ok := noteSet[token]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		coverage := float64(matched) / float64(len(tokens))
		score := clampScore(6.0+2.0*coverage, s.tuning.CeilingExact)
		out = append(out, candidateFromNote(note, domain.MatchExact, score))
	}
	return out, nil
}

// LemmaStrategy matches on morphological roots with edit-distance tolerance,
// catching inflections and near-misses the exact pass ignores.
type LemmaStrategy struct {
	tuning Tuning
}

func NewLemmaStrategy(tuning Tuning) *LemmaStrategy {
	return &LemmaStrategy{tuning: tuning}
}

func (s *LemmaStrategy) Name() string { return "lemma" }

func (s *LemmaStrategy) Search(_ context.Context, in StrategyInput) ([]domain.RetrievalCandidate, error) {
	tokens := contentTokens(in.Tokens)
	if len(tokens) == 0 {
		return nil, nil
	}
	queryStems := make([]string, len(tokens))
	for i, token := range tokens {
		queryStems[i] = stem(token)
	}

	out := make([]domain.RetrievalCandidate, 0, 16)
	for _, note := range in.Notes {
		noteStems := noteStemList(note)
		matched := 0
		for i, qs := range queryStems {
			if lemmaHit(qs, tokens[i], noteStems) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		coverage := float64(matched) / float64(len(queryStems))
		score := clampScore(4.0+2.0*coverage, s.tuning.CeilingLemma)
		out = append(out, candidateFromNote(note, domain.MatchLemma, score))
	}
	return out, nil
}

func lemmaHit(queryStem, queryToken string, noteStems []string) bool {
	tolerance := fuzzyTolerance(len(queryToken))
	for _, ns := range noteStems {
		if ns == queryStem {
			return true
		}
		if tolerance > 0 && absInt(len(ns)-len(queryStem)) <= tolerance &&
			editDistance(ns, queryStem) <= tolerance {
			return true
		}
	}
	return false
}

func noteTokenSet(note domain.Note) map[string]struct{} {
	tokens := tokenize(note.Body)
	tokens = append(tokens, tokenize(note.Title)...)
	tokens = append(tokens, tokenize(note.Annotation)...)
	for _, tag := range note.Tags {
		tokens = append(tokens, tokenize(tag)...)
	}
	return toTokenSet(tokens)
}

func noteStemList(note domain.Note) []string {
	set := noteTokenSet(note)
	out := make([]string, 0, len(set))
	seen := make(map[string]struct{}, len(set))
	for token := range set {
		st := stem(token)
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	return out
}

func candidateFromNote(note domain.Note, matchType domain.MatchType, score float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{
		SourceID:   note.ID,
		Title:      note.Title,
		Snippet:    snippetOf(note.Body),
		Annotation: note.Annotation,
		Tags:       note.Tags,
		SourceType: note.SourceType,
		MatchType:  matchType,
		Score:      score,
	}
}

const snippetMaxChars = 400

func snippetOf(body string) string {
	if len(body) <= snippetMaxChars {
		return body
	}
	end := snippetMaxChars
	for end > 0 && !utf8.RuneStart(body[end]) {
		end--
	}
	cut := body[:end]
	if idx := lastSpaceIndex(cut); idx > snippetMaxChars/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func lastSpaceIndex(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}

func clampScore(score, ceiling float64) float64 {
	if score > ceiling {
		return ceiling
	}
	if score < 0 {
		return 0
	}
	return score
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
