// Package session tracks per-conversation state across turns and decides
// when a short follow-up inherits the topic of the conversation.
package session

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/transitd/internal/classifier"
)

var (
	// ErrInvalidSessionID is returned for empty or malformed session ids.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrStoreUnavailable wraps backend failures of a Store.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// PendingClarification is the question a clarifying turn left open.
type PendingClarification struct {
	Question string `json:"question"`
	// Utterance is the ambiguous message that triggered the question.
	Utterance  string                 `json:"utterance"`
	Candidates []classifier.Candidate `json:"candidates,omitempty"`
	AskedAt    time.Time              `json:"asked_at"`
}

// State is the conversation state of one session.
type State struct {
	SessionID           string                `json:"session_id"`
	Turn                int                   `json:"turn"`
	ActiveTopic         string                `json:"active_topic,omitempty"`
	TopicsDiscussed     []string              `json:"topics_discussed,omitempty"`
	ClarificationsAsked int                   `json:"clarifications_asked"`
	Pending             *PendingClarification `json:"pending,omitempty"`

	LastUtterance  string          `json:"last_utterance,omitempty"`
	LastTopic      string          `json:"last_topic,omitempty"`
	LastConfidence float64         `json:"last_confidence,omitempty"`
	LastPath       classifier.Path `json:"last_path,omitempty"`
	// LastAnswered is set when the previous turn returned knowledge entries.
	LastAnswered bool `json:"last_answered,omitempty"`
	// LastLearned is set when the current turn already produced a pattern
	// update, so a turn never learns twice.
	LastLearned bool `json:"last_learned,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns the empty state of a new session.
func NewState(id string, now time.Time) *State {
	return &State{SessionID: id, CreatedAt: now, UpdatedAt: now}
}

// ClarificationCount implements classifier.Conversation.
func (s *State) ClarificationCount() int {
	if s == nil {
		return 0
	}
	return s.ClarificationsAsked
}

// Discussed reports whether topic came up earlier in the session.
func (s *State) Discussed(topic string) bool {
	for _, t := range s.TopicsDiscussed {
		if t == topic {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.TopicsDiscussed = append([]string(nil), s.TopicsDiscussed...)
	if s.Pending != nil {
		p := *s.Pending
		p.Candidates = append([]classifier.Candidate(nil), s.Pending.Candidates...)
		c.Pending = &p
	}
	return &c
}
