package textutil

import "strings"

// Phrase is a sequence of normalized words matched contiguously against an
// utterance's tokens. A word ending in '*' matches any token with that prefix,
// so "multa*" matches "multa" and "multas".
type Phrase struct {
	raw   string
	words []phraseWord
}

type phraseWord struct {
	text   string
	prefix bool
}

// ParsePhrase normalizes s into a Phrase. Trailing '*' markers survive
// normalization.
func ParsePhrase(s string) Phrase {
	fields := strings.Fields(s)
	words := make([]phraseWord, 0, len(fields))
	for _, f := range fields {
		prefix := strings.HasSuffix(f, "*")
		norm := Normalize(strings.TrimSuffix(f, "*"))
		for _, part := range strings.Fields(norm) {
			words = append(words, phraseWord{text: part})
		}
		if prefix && len(words) > 0 {
			words[len(words)-1].prefix = true
		}
	}
	return Phrase{raw: s, words: words}
}

// String returns the phrase as written.
func (p Phrase) String() string { return p.raw }

// Empty reports whether the phrase has no words after normalization.
func (p Phrase) Empty() bool { return len(p.words) == 0 }

// Match reports whether the phrase occurs contiguously in tokens.
func (p Phrase) Match(tokens []string) bool {
	n := len(p.words)
	if n == 0 || n > len(tokens) {
		return false
	}
	for i := 0; i+n <= len(tokens); i++ {
		if p.matchAt(tokens, i) {
			return true
		}
	}
	return false
}

func (p Phrase) matchAt(tokens []string, i int) bool {
	for j, w := range p.words {
		tok := tokens[i+j]
		if w.prefix {
			if !strings.HasPrefix(tok, w.text) {
				return false
			}
		} else if tok != w.text {
			return false
		}
	}
	return true
}

// Pattern is a set of alternative phrases written "a|b|c". It matches when
// any alternative does.
type Pattern struct {
	raw  string
	alts []Phrase
}

// ParsePattern parses a '|'-separated list of phrases.
func ParsePattern(s string) Pattern {
	parts := strings.Split(s, "|")
	alts := make([]Phrase, 0, len(parts))
	for _, part := range parts {
		if p := ParsePhrase(part); !p.Empty() {
			alts = append(alts, p)
		}
	}
	return Pattern{raw: s, alts: alts}
}

// String returns the pattern as written.
func (p Pattern) String() string { return p.raw }

// Empty reports whether the pattern has no usable alternative.
func (p Pattern) Empty() bool { return len(p.alts) == 0 }

// Match reports whether any alternative occurs in tokens.
func (p Pattern) Match(tokens []string) bool {
	for _, a := range p.alts {
		if a.Match(tokens) {
			return true
		}
	}
	return false
}

// PatternList is an ordered set of patterns.
type PatternList []Pattern

// Patterns parses each entry of src, dropping those that normalize to nothing.
func Patterns(src []string) PatternList {
	out := make(PatternList, 0, len(src))
	for _, s := range src {
		if p := ParsePattern(s); !p.Empty() {
			out = append(out, p)
		}
	}
	return out
}

// Count returns how many patterns of the list occur in tokens.
func (l PatternList) Count(tokens []string) int {
	n := 0
	for _, p := range l {
		if p.Match(tokens) {
			n++
		}
	}
	return n
}

// Any reports whether at least one pattern occurs in tokens.
func (l PatternList) Any(tokens []string) bool {
	for _, p := range l {
		if p.Match(tokens) {
			return true
		}
	}
	return false
}

// Matched returns the patterns that occur in tokens, in list order.
func (l PatternList) Matched(tokens []string) []string {
	var out []string
	for _, p := range l {
		if p.Match(tokens) {
			out = append(out, p.raw)
		}
	}
	return out
}
