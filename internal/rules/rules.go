// Package rules holds the declarative routing data: topic rules, off-topic
// clusters, social and substantive vocabularies, follow-up markers and
// feedback phrases. Rules are authored in YAML (or TOML) and compiled once into
// an immutable Set; adding a topic is a data change.
package rules

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

// Reserved topic ids produced by the classifier itself.
const (
	TopicOffTopic = "off_topic"
	TopicSocial   = "social"
	TopicGeneral  = "general"
)

// ErrInvalidRules is returned when a rule file fails validation.
var ErrInvalidRules = errors.New("invalid rules")

// File is the authored form of a rule set.
type File struct {
	Version         int             `koanf:"version" toml:"version"`
	OffTopic        []Cluster       `koanf:"off_topic" toml:"off_topic"`
	DomainTerms     []string        `koanf:"domain_terms" toml:"domain_terms"`
	Social          []string        `koanf:"social" toml:"social"`
	Substantive     []string        `koanf:"substantive" toml:"substantive"`
	FollowUpMarkers []string        `koanf:"follow_up_markers" toml:"follow_up_markers"`
	Feedback        FeedbackPhrases `koanf:"feedback" toml:"feedback"`
	Topics          []TopicRule     `koanf:"topics" toml:"topics"`
}

// Cluster is a named group of domain-foreign phrases.
type Cluster struct {
	Name    string   `koanf:"name" toml:"name"`
	Phrases []string `koanf:"phrases" toml:"phrases"`
}

// FeedbackPhrases are checked in the order correction, negative, positive.
type FeedbackPhrases struct {
	Correction []string `koanf:"correction" toml:"correction"`
	Negative   []string `koanf:"negative" toml:"negative"`
	Positive   []string `koanf:"positive" toml:"positive"`
}

// TopicRule routes utterances to a topic.
//
// Safety rules additionally fire in the early safety pass: Context is the
// co-occurrence list (optional), and Base/Step/Cap shape the confidence.
type TopicRule struct {
	Topic      string   `koanf:"topic" toml:"topic"`
	Label      string   `koanf:"label" toml:"label"`
	Priority   int      `koanf:"priority" toml:"priority"`
	Safety     bool     `koanf:"safety" toml:"safety"`
	Triggers   []string `koanf:"triggers" toml:"triggers"`
	Exclusions []string `koanf:"exclusions" toml:"exclusions"`
	Requires   []string `koanf:"requires" toml:"requires"`
	Context    []string `koanf:"context" toml:"context"`
	Base       float64  `koanf:"base" toml:"base"`
	Step       float64  `koanf:"step" toml:"step"`
	Cap        float64  `koanf:"cap" toml:"cap"`
}

// Set is a compiled, immutable rule set.
type Set struct {
	Version     int
	OffTopic    []CompiledCluster
	DomainTerms textutil.PatternList
	Social      textutil.PatternList
	Substantive textutil.PatternList
	FollowUp    textutil.PatternList
	Correction  textutil.PatternList
	Negative    textutil.PatternList
	Positive    textutil.PatternList
	Topics      []*Topic

	byID map[string]*Topic
}

// CompiledCluster is a Cluster with parsed phrases.
type CompiledCluster struct {
	Name    string
	Phrases textutil.PatternList
}

// Topic is a compiled TopicRule. Order is its declaration index, used to
// break ties.
type Topic struct {
	ID         string
	Label      string
	Priority   int
	Safety     bool
	Order      int
	Triggers   textutil.PatternList
	Exclusions textutil.PatternList
	Requires   textutil.PatternList
	Context    textutil.PatternList
	Base       float64
	Step       float64
	Cap        float64
}

// Compile validates f and parses every phrase.
func (f *File) Compile() (*Set, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s := &Set{
		Version:     f.Version,
		DomainTerms: textutil.Patterns(f.DomainTerms),
		Social:      textutil.Patterns(f.Social),
		Substantive: textutil.Patterns(f.Substantive),
		FollowUp:    textutil.Patterns(f.FollowUpMarkers),
		Correction:  textutil.Patterns(f.Feedback.Correction),
		Negative:    textutil.Patterns(f.Feedback.Negative),
		Positive:    textutil.Patterns(f.Feedback.Positive),
		byID:        make(map[string]*Topic, len(f.Topics)),
	}
	for _, c := range f.OffTopic {
		s.OffTopic = append(s.OffTopic, CompiledCluster{Name: c.Name, Phrases: textutil.Patterns(c.Phrases)})
	}
	for i, r := range f.Topics {
		t := &Topic{
			ID:         r.Topic,
			Label:      r.Label,
			Priority:   r.Priority,
			Safety:     r.Safety,
			Order:      i,
			Triggers:   textutil.Patterns(r.Triggers),
			Exclusions: textutil.Patterns(r.Exclusions),
			Requires:   textutil.Patterns(r.Requires),
			Context:    textutil.Patterns(r.Context),
			Base:       r.Base,
			Step:       r.Step,
			Cap:        r.Cap,
		}
		if t.Label == "" {
			t.Label = t.ID
		}
		s.Topics = append(s.Topics, t)
		s.byID[t.ID] = t
	}
	return s, nil
}

// Validate checks the authored rules for structural errors.
func (f *File) Validate() error {
	if len(f.Topics) == 0 {
		return fmt.Errorf("%w: no topics defined", ErrInvalidRules)
	}
	seen := make(map[string]bool, len(f.Topics))
	for i, r := range f.Topics {
		switch {
		case r.Topic == "":
			return fmt.Errorf("%w: topic %d has no id", ErrInvalidRules, i)
		case r.Topic == TopicOffTopic || r.Topic == TopicSocial || r.Topic == TopicGeneral:
			return fmt.Errorf("%w: topic id %q is reserved", ErrInvalidRules, r.Topic)
		case seen[r.Topic]:
			return fmt.Errorf("%w: duplicate topic %q", ErrInvalidRules, r.Topic)
		case r.Priority < 1 || r.Priority > 10:
			return fmt.Errorf("%w: topic %q priority %d outside 1-10", ErrInvalidRules, r.Topic, r.Priority)
		case len(textutil.Patterns(r.Triggers)) == 0:
			return fmt.Errorf("%w: topic %q has no triggers", ErrInvalidRules, r.Topic)
		}
		seen[r.Topic] = true

		if r.Safety {
			if r.Base <= 0 || r.Base > 1 || r.Cap < r.Base || r.Cap > 1 || r.Step < 0 {
				return fmt.Errorf("%w: safety topic %q needs 0 < base <= cap <= 1 and step >= 0", ErrInvalidRules, r.Topic)
			}
		}
	}
	for _, c := range f.OffTopic {
		if c.Name == "" || len(c.Phrases) == 0 {
			return fmt.Errorf("%w: off-topic clusters need a name and phrases", ErrInvalidRules)
		}
	}
	return nil
}

// Topic returns the compiled rule for id.
func (s *Set) Topic(id string) (*Topic, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// IsSafety reports whether id is a high-priority safety topic.
func (s *Set) IsSafety(id string) bool {
	t, ok := s.byID[id]
	return ok && t.Safety
}

// Label returns a human readable name for id.
func (s *Set) Label(id string) string {
	if t, ok := s.byID[id]; ok {
		return t.Label
	}
	return id
}

// Routable reports whether a topic can become a session's active topic.
func Routable(topic string) bool {
	return topic != "" && topic != TopicGeneral && topic != TopicSocial && topic != TopicOffTopic
}
