// Package learning keeps the learned utterance-to-topic patterns and the
// feedback learner that maintains them.
//
// The in-memory Store is authoritative for reads. Every update is handed to
// Publishers (the durable Writer, the NATS Broadcaster) without waiting.
package learning

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

// Kind distinguishes the two lookup paths for a pattern.
type Kind string

const (
	// KindExact patterns are keyed by the normalized utterance.
	KindExact Kind = "exact"
	// KindKeywords patterns are keyed by the sorted significant words and
	// matched by Jaccard similarity.
	KindKeywords Kind = "keywords"
)

// ErrInvalidPattern is returned for patterns without kind, key or topic.
var ErrInvalidPattern = errors.New("invalid pattern")

// Pattern is a learned mapping from an utterance (or its keywords) to a topic.
type Pattern struct {
	Kind      Kind      `json:"kind"`
	Key       string    `json:"key"`
	Topic     string    `json:"topic"`
	Success   bool      `json:"success"`
	Keywords  []string  `json:"keywords,omitempty"`
	Frequency int       `json:"frequency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the identifying fields.
func (p Pattern) Validate() error {
	switch {
	case p.Kind != KindExact && p.Kind != KindKeywords:
		return ErrInvalidPattern
	case p.Key == "" || p.Topic == "":
		return ErrInvalidPattern
	case p.Frequency < 0:
		return ErrInvalidPattern
	}
	return nil
}

// Reusable reports whether the pattern may override a classification.
func (p Pattern) Reusable(threshold int) bool {
	return p.Success && p.Frequency >= threshold
}

// ExactKey returns the exact-pattern key for an utterance.
func ExactKey(utterance string) string {
	return textutil.Key(utterance)
}

// KeywordsOf returns the significant words of an utterance and their key.
func KeywordsOf(utterance string) ([]string, string) {
	words := textutil.Significant(utterance)
	return words, textutil.KeywordKey(words)
}

// merge folds incoming into current. Frequency never decreases; the newer
// update decides topic and success.
func merge(current, incoming Pattern) Pattern {
	out := current
	if incoming.Frequency > out.Frequency {
		out.Frequency = incoming.Frequency
	}
	if !incoming.UpdatedAt.Before(current.UpdatedAt) {
		out.Topic = incoming.Topic
		out.Success = incoming.Success
		out.UpdatedAt = incoming.UpdatedAt
		if len(incoming.Keywords) > 0 {
			out.Keywords = incoming.Keywords
		}
	}
	return out
}
