package incident

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "he": {}, "her": {},
	"his": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"our": {}, "she": {}, "that": {}, "the": {}, "their": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "will": {}, "with": {}, "you": {},
	"says": {}, "said": {}, "about": {}, "after": {}, "over": {}, "into": {}, "than": {},
}

// fingerprint is the comparable form of a mention's claim.
type fingerprint struct {
	tokens   map[string]struct{}
	entities map[string]struct{}
}

// claimText is the text a mention is clustered on.
func claimText(m *MentionEvent) string {
	if s := strings.TrimSpace(m.ClaimSummary); s != "" {
		return s
	}
	return m.RawText
}

func fingerprintOf(m *MentionEvent) fingerprint {
	fp := fingerprint{
		tokens:   make(map[string]struct{}),
		entities: make(map[string]struct{}),
	}

	// entities come from the raw text so a rewritten summary keeps proper nouns
	for i, w := range splitWords(m.RawText) {
		r := []rune(w)
		if len(r) > 1 && unicode.IsUpper(r[0]) && (i > 0 || hasUpperAfterFirst(r)) {
			fp.entities[strings.ToLower(w)] = struct{}{}
		}
	}

	for _, w := range splitWords(claimText(m)) {
		w = strings.ToLower(w)
		if len([]rune(w)) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		fp.tokens[w] = struct{}{}
	}
	return fp
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasUpperAfterFirst(r []rune) bool {
	for _, c := range r[1:] {
		if unicode.IsUpper(c) {
			return true
		}
	}
	return false
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// similarity is symmetric in its arguments.
func similarity(a, b fingerprint) float64 {
	text := jaccard(a.tokens, b.tokens)
	if len(a.entities) == 0 || len(b.entities) == 0 {
		return text
	}
	return 0.7*text + 0.3*jaccard(a.entities, b.entities)
}

// Similarity returns how closely two mentions describe the same claim, in 0..1.
func Similarity(a, b *MentionEvent) float64 {
	return similarity(fingerprintOf(a), fingerprintOf(b))
}
