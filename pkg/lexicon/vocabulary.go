// Package lexicon pulls learnable vocabulary and simple personal facts out of
// free text. Everything here is pure; callers decide what to persist.
package lexicon

import (
	"strings"
	"unicode"
)

const (
	MaxVocabularyPerMessage = 10
	minWordLength           = 3
)

// Vocabulary returns up to MaxVocabularyPerMessage distinct lower-cased,
// punctuation-stripped words longer than two characters, in first-seen order.
func Vocabulary(text string) []string {
	out := make([]string, 0, MaxVocabularyPerMessage)
	seen := map[string]struct{}{}
	for _, raw := range strings.Fields(text) {
		word := normalizeWord(raw)
		if len([]rune(word)) < minWordLength {
			continue
		}
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
		if len(out) == MaxVocabularyPerMessage {
			break
		}
	}
	return out
}

func normalizeWord(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Excerpt trims a source message down to something short enough to keep
// beside a vocabulary entry.
func Excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
