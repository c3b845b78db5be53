// Package textutil holds the lexical helpers shared by classification,
// retrieval and learning: normalization, tokenization, Spanish stopwords,
// set similarity and phrase matching over token sequences.
package textutil

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, strips diacritics, replaces every non letter/digit
// with a space and collapses whitespace. "¿Qué pasa si NO pago la multa?"
// becomes "que pasa si no pago la multa".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	space := true
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Tokens splits a normalized string on whitespace.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// Significant returns the distinct non-stopword tokens of s longer than two
// characters, in first-seen order. s need not be normalized.
func Significant(s string) []string {
	tokens := Tokens(Normalize(s))
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if len(tok) <= 2 || IsStopword(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Key is the canonical lookup key for an utterance.
func Key(s string) string {
	return Normalize(s)
}

// KeywordKey is the order-independent key built from significant words.
func KeywordKey(words []string) string {
	sorted := append([]string(nil), words...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}
