package usecase

import (
	"strings"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

var comparativeMarkers = []string{
	" vs ", " versus ", "compare", "difference between", "better than",
	"worse than", "rather than", "compared to",
}

var definitionPrefixes = []string{
	"what is ", "what are ", "what does ", "define ", "meaning of ",
	"definition of ", "who is ", "who was ",
}

// classifyIntent derives the query intent from surface form. A caller-side
// hint wins when present; exploratory conversations are flagged upstream.
func classifyIntent(normalized string, hint string, conv *domain.ConversationState) domain.QueryIntent {
	if hint != "" {
		switch domain.QueryIntent(hint) {
		case domain.IntentSimple, domain.IntentDefinition, domain.IntentComparative,
			domain.IntentComplex, domain.IntentExploratory:
			return domain.QueryIntent(hint)
		}
	}
	if conv != nil && conv.Exploratory {
		return domain.IntentExploratory
	}

	padded := " " + normalized + " "
	for _, marker := range comparativeMarkers {
		if strings.Contains(padded, marker) {
			return domain.IntentComparative
		}
	}

	tokens := tokenize(normalized)
	meaningful := contentTokens(tokens)
	if len(tokens) > 12 || len(meaningful) > 7 || strings.Contains(normalized, " and ") && len(meaningful) > 4 {
		return domain.IntentComplex
	}

	for _, prefix := range definitionPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return domain.IntentDefinition
		}
	}
	return domain.IntentSimple
}

// coreConcept extracts the concept a question is about: the longest run of
// consecutive non-stop-word tokens, preferring the tail of the question where
// English puts its object ("what is X", "tell me about X").
func coreConcept(normalized string) string {
	tokens := tokenize(normalized)

	var best []string
	var run []string
	flush := func() {
		if len(run) >= len(best) {
			best = run
		}
		run = nil
	}
	for _, token := range tokens {
		if _, stop := stopWords[token]; stop {
			flush()
			continue
		}
		run = append(run, token)
	}
	flush()

	return strings.Join(best, " ")
}

// isComplexIntent reports whether an intent forces the full evaluate loop.
func isComplexIntent(intent domain.QueryIntent) bool {
	return intent == domain.IntentComparative || intent == domain.IntentComplex
}
