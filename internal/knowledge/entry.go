package knowledge

import (
	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

// Entry is one pre-authored question/answer unit.
type Entry struct {
	ID         string   `koanf:"id" json:"id"`
	Topic      string   `koanf:"topic" json:"topic"`
	Questions  []string `koanf:"questions" json:"questions"`
	Keywords   []string `koanf:"keywords" json:"keywords"`
	Exclusions []string `koanf:"exclusions" json:"exclusions,omitempty"`
	Answer     string   `koanf:"answer" json:"answer"`
	Sources    []string `koanf:"sources" json:"sources,omitempty"`

	questionWords [][]string
	keywords      []string
	exclusions    textutil.PatternList
}

func (e *Entry) compile() {
	e.questionWords = make([][]string, 0, len(e.Questions))
	for _, q := range e.Questions {
		if words := textutil.Significant(q); len(words) > 0 {
			e.questionWords = append(e.questionWords, words)
		}
	}
	e.keywords = make([]string, 0, len(e.Keywords))
	for _, k := range e.Keywords {
		if n := textutil.Normalize(k); n != "" {
			e.keywords = append(e.keywords, n)
		}
	}
	e.exclusions = textutil.Patterns(e.Exclusions)
}

// QuestionWords returns the significant words of each question variant.
func (e *Entry) QuestionWords() [][]string { return e.questionWords }

// NormalizedKeywords returns the entry keywords in normalized form.
func (e *Entry) NormalizedKeywords() []string { return e.keywords }

// Excluded reports whether any exclusion phrase occurs in tokens.
func (e *Entry) Excluded(tokens []string) bool {
	return e.exclusions.Any(tokens)
}
