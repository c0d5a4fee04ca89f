package usecase

import (
	"sort"
	"strings"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// matchTypePrecedence orders match types for dedupe: when one source was hit
// by several strategies, the strongest match type wins.
var matchTypePrecedence = map[domain.MatchType]int{
	domain.MatchExact:    4,
	domain.MatchLemma:    3,
	domain.MatchSemantic: 2,
	domain.MatchRescue:   1,
}

// fuseCandidates merges the unioned strategy outputs into one ranked list.
// Deterministic for a fixed input set: dedupe keys on source id, scoring is
// pure, and the sort is stable on canonical discovery order, so strategy
// completion order cannot change the result.
func fuseCandidates(queryTokens []string, candidates []domain.RetrievalCandidate, tuning Tuning) []domain.FusedResult {
	if len(candidates) == 0 {
		return nil
	}

	// Canonical discovery order: source id, strongest match type first.
	// This removes any dependence on the order strategies completed in.
	ordered := make([]domain.RetrievalCandidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SourceID != ordered[j].SourceID {
			return ordered[i].SourceID < ordered[j].SourceID
		}
		pi, pj := matchTypePrecedence[ordered[i].MatchType], matchTypePrecedence[ordered[j].MatchType]
		if pi != pj {
			return pi > pj
		}
		return ordered[i].Score > ordered[j].Score
	})

	type entry struct {
		candidate  domain.RetrievalCandidate
		sawCorrect bool
	}

	byID := make(map[string]*entry, len(ordered))
	order := make([]string, 0, len(ordered))
	for _, c := range ordered {
		e, seen := byID[c.SourceID]
		if !seen {
			byID[c.SourceID] = &entry{candidate: c, sawCorrect: c.FromCorrect}
			order = append(order, c.SourceID)
			continue
		}
		e.sawCorrect = e.sawCorrect || c.FromCorrect
		// Keep the highest-scoring match type per id; the strongest type
		// already sorts first, so only a better score of the same or weaker
		// type can matter here.
		if matchTypePrecedence[c.MatchType] == matchTypePrecedence[e.candidate.MatchType] && c.Score > e.candidate.Score {
			e.candidate.Score = c.Score
		}
		e.candidate.FromRescue = e.candidate.FromRescue && c.FromRescue
	}

	contentQ := contentTokens(queryTokens)
	out := make([]domain.FusedResult, 0, len(order))
	for _, id := range order {
		e := byID[id]
		c := e.candidate
		ceiling := tuning.ceilingFor(c.MatchType)

		final := c.Score
		final += tokenFrequencyBoost(contentQ, c, tuning)
		final += locationBoost(contentQ, c, tuning)
		if e.sawCorrect {
			final += tuning.MultiSignalBonus
			c.FromCorrect = true
		}
		final = clampScore(final, ceiling)

		out = append(out, domain.FusedResult{
			RetrievalCandidate: c,
			FinalScore:         final,
			InPrimaryContent:   !c.FromRescue,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InPrimaryContent != out[j].InPrimaryContent {
			return out[i].InPrimaryContent
		}
		return out[i].FinalScore > out[j].FinalScore
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// tokenFrequencyBoost rewards query-token coverage in the candidate body,
// capped so frequency alone cannot dominate the base score.
func tokenFrequencyBoost(queryTokens []string, c domain.RetrievalCandidate, tuning Tuning) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	body := normalizeText(c.Snippet)
	occurrences := 0
	for _, token := range queryTokens {
		occurrences += strings.Count(body, token)
	}
	boost := 0.25 * float64(occurrences)
	if boost > tuning.TokenFrequencyBoostMax {
		boost = tuning.TokenFrequencyBoostMax
	}
	return boost
}

// locationBoost rewards a hit in a high-value field. Only the single highest
// applicable boost is used, never a sum.
func locationBoost(queryTokens []string, c domain.RetrievalCandidate, tuning Tuning) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	if fieldContainsToken(c.Annotation, queryTokens) {
		return tuning.BoostAnnotation
	}
	for _, tag := range c.Tags {
		if fieldContainsToken(tag, queryTokens) {
			return tuning.BoostTags
		}
	}
	if fieldContainsToken(c.Title, queryTokens) {
		return tuning.BoostTitle
	}
	return 0
}

func fieldContainsToken(field string, tokens []string) bool {
	if field == "" {
		return false
	}
	set := toTokenSet(tokenize(field))
	for _, token := range tokens {
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}

// applyMixPolicy reorders and truncates the fused list to the result window:
// lexical results lead, semantic-only results fill up to their share, and
// rescue-origin results never exceed the rescue ratio of a page. Paging is
// over the policy-shaped sequence: offset skips whole entries of it, and
// ranks stay global so page two starts at rank offset+1.
func applyMixPolicy(fused []domain.FusedResult, limit, offset int, tuning Tuning) []domain.FusedResult {
	if limit <= 0 {
		limit = tuning.DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if len(fused) == 0 {
		return fused
	}

	semanticCap := int(float64(limit) * tuning.SemanticFillRatio)
	rescueCap := int(float64(limit) * tuning.RescueMaxRatio)
	if offset > 0 {
		// Caps scale with the amount of content paged over, so every page
		// sees the same mix proportions.
		pages := offset/limit + 1
		semanticCap *= pages
		rescueCap *= pages
	}
	target := offset + limit

	out := make([]domain.FusedResult, 0, target)
	semanticUsed, rescueUsed := 0, 0
	skippedSemantic := make([]domain.FusedResult, 0, 4)

	for _, r := range fused {
		if len(out) == target {
			break
		}
		switch {
		case r.FromRescue:
			if rescueUsed >= rescueCap {
				continue
			}
			rescueUsed++
		case r.MatchType == domain.MatchSemantic:
			if semanticUsed >= semanticCap {
				skippedSemantic = append(skippedSemantic, r)
				continue
			}
			semanticUsed++
		}
		out = append(out, r)
	}

	// If the window still has room after lexical and rescue content ran
	// out, semantic results may fill beyond their nominal share.
	for _, r := range skippedSemantic {
		if len(out) == target {
			break
		}
		out = append(out, r)
	}

	for i := range out {
		out[i].Rank = i + 1
	}
	if offset >= len(out) {
		return nil
	}
	return out[offset:]
}
