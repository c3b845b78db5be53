package session

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/logging"
	"github.com/fyrsmithlabs/transitd/internal/metrics"
	"github.com/fyrsmithlabs/transitd/internal/rules"
	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

// Tracker maintains conversation state and applies topic carry-over.
type Tracker struct {
	store   Store
	rules   *rules.Set
	cfg     config.SessionConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTracker creates a tracker persisting to store.
func NewTracker(store Store, set *rules.Set, cfg config.SessionConfig, logger *zap.Logger, mt *metrics.Metrics) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		rules:   set,
		cfg:     cfg,
		logger:  logger,
		metrics: mt,
		now:     time.Now,
	}
}

// Store returns the backing session store.
func (t *Tracker) Store() Store { return t.store }

// State returns the state of id, creating an empty one for new or expired
// sessions. The new state is not persisted until Update or Save.
func (t *Tracker) State(ctx context.Context, id string) (*State, error) {
	if err := logging.ValidateID(id, "session ID"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	st, ok, err := t.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewState(id, t.now()), nil
	}
	return st, nil
}

// Save persists st as is.
func (t *Tracker) Save(ctx context.Context, st *State) error {
	st.UpdatedAt = t.now()
	return t.store.Save(ctx, st)
}

// Update records a completed turn and persists the state. The turn counter
// always advances; the active topic only moves to a routable topic that was
// classified without clarification at or above the minimum confidence.
func (t *Tracker) Update(ctx context.Context, st *State, utterance string, res classifier.Result) error {
	st.Turn++
	st.LastUtterance = utterance
	st.LastTopic = res.Topic
	st.LastConfidence = res.Confidence
	st.LastPath = res.Path

	if res.NeedsClarification {
		st.ClarificationsAsked++
	}
	if rules.Routable(res.Topic) && !st.Discussed(res.Topic) {
		st.TopicsDiscussed = append(st.TopicsDiscussed, res.Topic)
	}
	if rules.Routable(res.Topic) && !res.NeedsClarification && res.Confidence >= t.cfg.MinActiveConfidence {
		if st.ActiveTopic != res.Topic {
			t.logger.Debug("active topic changed",
				append(logging.ContextFields(ctx),
					zap.String("from", st.ActiveTopic),
					zap.String("to", res.Topic))...)
		}
		st.ActiveTopic = res.Topic
	}
	return t.Save(ctx, st)
}

// End forgets the session.
func (t *Tracker) End(ctx context.Context, id string) error {
	if err := logging.ValidateID(id, "session ID"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	return t.store.Delete(ctx, id)
}

// IsFollowUp reports whether utterance reads like a continuation: short
// and containing a follow-up marker.
func (t *Tracker) IsFollowUp(utterance string) bool {
	normalized := textutil.Normalize(utterance)
	if normalized == "" || utf8.RuneCountInString(normalized) >= t.cfg.FollowUpMaxChars {
		return false
	}
	return t.rules.FollowUp.Any(textutil.Tokens(normalized))
}

// CarryOver substitutes the session's active topic for a weak fresh
// classification of a follow-up. Safety and off-topic results are never
// replaced.
func (t *Tracker) CarryOver(st *State, utterance string, fresh classifier.Result) (classifier.Result, bool) {
	if st == nil || !rules.Routable(st.ActiveTopic) {
		return fresh, false
	}
	if fresh.IsOffTopic || fresh.Topic == rules.TopicOffTopic || t.rules.IsSafety(fresh.Topic) {
		return fresh, false
	}
	if fresh.Topic != rules.TopicGeneral && fresh.Confidence >= t.cfg.FollowUpMaxConfidence {
		return fresh, false
	}
	if !t.IsFollowUp(utterance) {
		return fresh, false
	}

	t.metrics.RecordCarryOver(st.ActiveTopic)
	return classifier.Result{
		Topic:       st.ActiveTopic,
		Confidence:  math.Min(1, math.Max(fresh.Confidence, t.cfg.CarryOverConfidence)),
		Path:        classifier.PathCarryOver,
		CarriedOver: true,
	}, true
}
