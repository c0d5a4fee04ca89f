package usecase

import (
	"sort"
	"strings"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// correctQuery re-spells query tokens against the corpus vocabulary. A token
// is replaced only when it is absent from the vocabulary and a vocabulary
// word sits within the fuzzy tolerance for its length; ties prefer the more
// frequent word. Returns the corrected string and whether anything changed.
func correctQuery(tokens []string, notes []domain.Note) (string, bool) {
	if len(tokens) == 0 || len(notes) == 0 {
		return "", false
	}

	vocab := corpusVocabulary(notes)
	corrected := make([]string, len(tokens))
	changed := false
	for i, token := range tokens {
		if _, known := vocab[token]; known {
			corrected[i] = token
			continue
		}
		if _, stop := stopWords[token]; stop {
			corrected[i] = token
			continue
		}
		if best := nearestWord(token, vocab); best != "" {
			corrected[i] = best
			changed = true
			continue
		}
		corrected[i] = token
	}
	if !changed {
		return "", false
	}
	return strings.Join(corrected, " "), true
}

func corpusVocabulary(notes []domain.Note) map[string]int {
	vocab := make(map[string]int, 512)
	for _, note := range notes {
		for token := range noteTokenSet(note) {
			vocab[token]++
		}
	}
	return vocab
}

func nearestWord(token string, vocab map[string]int) string {
	tolerance := fuzzyTolerance(len(token))
	if tolerance == 0 {
		return ""
	}

	type match struct {
		word     string
		distance int
		freq     int
	}
	matches := make([]match, 0, 4)
	for word, freq := range vocab {
		if absInt(len(word)-len(token)) > tolerance {
			continue
		}
		if d := editDistance(word, token); d > 0 && d <= tolerance {
			matches = append(matches, match{word: word, distance: d, freq: freq})
		}
	}
	if len(matches) == 0 {
		return ""
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		if matches[i].freq != matches[j].freq {
			return matches[i].freq > matches[j].freq
		}
		return matches[i].word < matches[j].word
	})
	return matches[0].word
}
