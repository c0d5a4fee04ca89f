package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// Definitional / evaluative patterns around the concept. %s is substituted
// with the regex-quoted concept before compilation.
var definitionalPatterns = []string{
	`\b%s\b\s+(is|are|was|were)\s+(defined\s+as|a|an|the)\b`,
	`\b%s\b\s+(means|refers\s+to|denotes|describes|can\s+be\s+defined\s+as)\b`,
	`\b(definition|meaning|essence)\s+of\s+\b%s\b`,
	`\b%s\b\s+(is|are|was|were)\s+(very\s+|so\s+|\w+ly\s+)?(good|bad|important|essential|crucial|valuable|wrong|right|central|fundamental)\b`,
	`\b%s\b:\s`,
}

// classifyChunks grades each fused result by how directly it bears on the
// query concept. Levels are computed once per retrieval pass.
func classifyChunks(concept string, results []domain.FusedResult) []domain.Chunk {
	patterns := compileConceptPatterns(concept)

	chunks := make([]domain.Chunk, 0, len(results))
	for _, r := range results {
		level := classifyLevel(concept, patterns, r)
		chunks = append(chunks, domain.Chunk{
			FusedResult:   r,
			Level:         level,
			Answerability: answerability(level, r.FinalScore),
		})
	}
	return chunks
}

func compileConceptPatterns(concept string) []*regexp.Regexp {
	if concept == "" {
		return nil
	}
	quoted := regexp.QuoteMeta(concept)
	out := make([]*regexp.Regexp, 0, len(definitionalPatterns))
	for _, p := range definitionalPatterns {
		re, err := regexp.Compile(strings.ReplaceAll(p, "%s", quoted))
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

func classifyLevel(concept string, patterns []*regexp.Regexp, r domain.FusedResult) domain.EpistemicLevel {
	if concept == "" {
		return domain.LevelC
	}
	text := normalizeText(r.Snippet + " " + r.Annotation)
	if !containsConcept(text, concept) {
		return domain.LevelC
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return domain.LevelA
		}
	}
	return domain.LevelB
}

func containsConcept(normalizedText, concept string) bool {
	set := toTokenSet(tokenize(normalizedText))
	for _, token := range tokenize(concept) {
		if _, ok := set[token]; !ok {
			return false
		}
	}
	return true
}

func answerability(level domain.EpistemicLevel, finalScore float64) float64 {
	base := 0.3
	switch level {
	case domain.LevelA:
		base = 1.0
	case domain.LevelB:
		base = 0.6
	}
	// Final score contributes a small nudge within the level band.
	return base + 0.01*finalScore
}

// decideAnswerMode picks the epistemic stance from the level distribution
// and the query intent. Explorer mode is selected upstream for open-ended
// multi-turn sessions, never derived from level counts.
func decideAnswerMode(chunks []domain.Chunk, intent domain.QueryIntent, exploratory bool) domain.AnswerMode {
	if exploratory || intent == domain.IntentExploratory {
		return domain.ModeExplorer
	}

	levelA, levelB := 0, 0
	for _, c := range chunks {
		switch c.Level {
		case domain.LevelA:
			levelA++
		case domain.LevelB:
			levelB++
		}
	}

	if isComplexIntent(intent) && levelA > 0 && levelB > 0 {
		return domain.ModeHybrid
	}
	if levelA >= 1 || levelB >= 2 {
		return domain.ModeQuote
	}
	return domain.ModeSynthesis
}

var levelPriority = map[domain.EpistemicLevel]int{
	domain.LevelA: 0,
	domain.LevelB: 1,
	domain.LevelC: 2,
}

// assembleContext orders chunks strongest-evidence-first and truncates to
// the character budget, always dropping the lowest-priority chunks.
func assembleContext(chunks []domain.Chunk, charBudget int) []domain.Chunk {
	ordered := make([]domain.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if levelPriority[ordered[i].Level] != levelPriority[ordered[j].Level] {
			return levelPriority[ordered[i].Level] < levelPriority[ordered[j].Level]
		}
		return ordered[i].Rank < ordered[j].Rank
	})

	if charBudget <= 0 {
		return ordered
	}
	used := 0
	out := make([]domain.Chunk, 0, len(ordered))
	for _, c := range ordered {
		cost := len(c.Snippet) + len(c.Title)
		if used+cost > charBudget && len(out) > 0 {
			break
		}
		out = append(out, c)
		used += cost
	}
	return out
}

// coverageInNetwork reports whether the corpus holds direct evidence for the
// concept: any A or B chunk counts, topical-only coverage does not.
func coverageInNetwork(chunks []domain.Chunk) bool {
	for _, c := range chunks {
		if c.Level == domain.LevelA || c.Level == domain.LevelB {
			return true
		}
	}
	return false
}
