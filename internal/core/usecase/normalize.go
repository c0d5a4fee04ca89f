package usecase

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "to": {}, "of": {}, "and": {}, "or": {}, "in": {}, "on": {},
	"at": {}, "it": {}, "that": {}, "this": {}, "for": {}, "with": {},
	"as": {}, "by": {}, "from": {}, "what": {}, "who": {}, "how": {},
	"why": {}, "when": {}, "where": {}, "which": {}, "do": {}, "does": {},
	"not": {}, "my": {}, "me": {}, "i": {}, "you": {}, "about": {},
}

// normalizeText folds case, strips diacritics, and collapses whitespace and
// punctuation. Two inputs differing only in formatting normalize to the same
// string, so normalized text is safe to fingerprint.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		r = foldDiacritic(unicode.ToLower(r))
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}

// foldDiacritic maps common accented latin letters to their base letter.
func foldDiacritic(r rune) rune {
	switch r {
	case 'à', 'á', 'â', 'ã', 'ä', 'å', 'ā', 'ă':
		return 'a'
	case 'è', 'é', 'ê', 'ë', 'ē', 'ė':
		return 'e'
	case 'ì', 'í', 'î', 'ï', 'ī':
		return 'i'
	case 'ò', 'ó', 'ô', 'õ', 'ö', 'ō':
		return 'o'
	case 'ù', 'ú', 'û', 'ü', 'ū':
		return 'u'
	case 'ç', 'ć', 'č':
		return 'c'
	case 'ñ', 'ń':
		return 'n'
	case 'ß':
		return 's'
	case 'ý', 'ÿ':
		return 'y'
	case 'ž', 'ż', 'ź':
		return 'z'
	case 'š', 'ś':
		return 's'
	default:
		return r
	}
}

// tokenize splits normalized text into lowercase alphanumeric tokens.
func tokenize(s string) []string {
	s = normalizeText(s)
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// contentTokens drops stop words, keeping only tokens that carry meaning.
func contentTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, skip := stopWords[t]; skip {
			continue
		}
		out = append(out, t)
	}
	return out
}

func toTokenSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[t] = struct{}{}
	}
	return out
}

// stem strips common English suffixes. Deliberately crude: it only needs to
// put inflected forms of the same word into one bucket.
func stem(token string) string {
	if len(token) <= 3 {
		return token
	}
	for _, suffix := range []string{"ingly", "edly", "ings", "ing", "ied", "ies", "ed", "es", "ly", "s"} {
		if strings.HasSuffix(token, suffix) && len(token)-len(suffix) >= 3 {
			return token[:len(token)-len(suffix)]
		}
	}
	return token
}

// editDistance is the Levenshtein distance between two short tokens.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(values ...int) int {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}

// fuzzyTolerance is how many edits a token of a given length may absorb and
// still count as the same word.
func fuzzyTolerance(length int) int {
	switch {
	case length >= 8:
		return 2
	case length >= 5:
		return 1
	default:
		return 0
	}
}
