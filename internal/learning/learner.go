package learning

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/metrics"
	"github.com/fyrsmithlabs/transitd/internal/rules"
	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

// Polarity of a feedback utterance.
type Polarity string

const (
	PolarityPositive   Polarity = "positive"
	PolarityNegative   Polarity = "negative"
	PolarityCorrection Polarity = "correction"
)

// FeedbackEvent is an utterance recognized as feedback on the previous turn.
type FeedbackEvent struct {
	Polarity  Polarity `json:"polarity"`
	Utterance string   `json:"utterance"`
	// Phrase is the feedback pattern that matched.
	Phrase string `json:"phrase"`
	// CorrectedTopic is filled in by the caller once the correction text
	// has been classified.
	CorrectedTopic string `json:"corrected_topic,omitempty"`
}

// FeedbackLearner detects feedback and turns it into pattern updates.
type FeedbackLearner struct {
	store      PatternStore
	rules      *rules.Set
	cfg        config.LearningConfig
	publishers []Publisher
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewFeedbackLearner creates a learner writing to store. Publishers receive
// every resulting update.
func NewFeedbackLearner(store PatternStore, set *rules.Set, cfg config.LearningConfig, logger *zap.Logger, mt *metrics.Metrics, publishers ...Publisher) *FeedbackLearner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackLearner{
		store:      store,
		rules:      set,
		cfg:        cfg,
		publishers: publishers,
		logger:     logger,
		metrics:    mt,
	}
}

// Store returns the pattern store the learner maintains.
func (l *FeedbackLearner) Store() PatternStore { return l.store }

// Detect classifies utterance as feedback. Correction phrases win over
// negative ones, which win over positive ones. It returns nil when the
// utterance is not feedback.
func (l *FeedbackLearner) Detect(utterance string) *FeedbackEvent {
	tokens := textutil.Tokens(textutil.Normalize(utterance))
	if len(tokens) == 0 {
		return nil
	}
	for _, c := range []struct {
		polarity Polarity
		list     textutil.PatternList
	}{
		{PolarityCorrection, l.rules.Correction},
		{PolarityNegative, l.rules.Negative},
		{PolarityPositive, l.rules.Positive},
	} {
		if matched := c.list.Matched(tokens); len(matched) > 0 {
			l.metrics.RecordFeedback(string(c.polarity))
			return &FeedbackEvent{Polarity: c.polarity, Utterance: utterance, Phrase: matched[0]}
		}
	}
	return nil
}

// LearnFromSuccess records that utterance was correctly resolved to topic.
func (l *FeedbackLearner) LearnFromSuccess(ctx context.Context, utterance, topic string) (Pattern, error) {
	key := ExactKey(utterance)
	if key == "" || !rules.Routable(topic) {
		return Pattern{}, ErrInvalidPattern
	}
	p, err := l.store.Update(KindExact, key, func(p *Pattern) {
		p.Topic = topic
		p.Success = true
		p.Frequency++
	})
	if err != nil {
		return Pattern{}, err
	}
	l.emit(ctx, p)
	l.logger.Debug("learned success",
		zap.String("topic", topic),
		zap.Int("frequency", p.Frequency))
	return p, nil
}

// LearnFromCorrection marks the mapping of utterance to wrongTopic as bad.
// When correctTopic is known, the nearest keyword pattern (or a new one) is
// pointed at it so similar utterances benefit without an exact match.
func (l *FeedbackLearner) LearnFromCorrection(ctx context.Context, utterance, wrongTopic, correctionText, correctTopic string) ([]Pattern, error) {
	var out []Pattern

	if key := ExactKey(utterance); key != "" && wrongTopic != "" {
		p, err := l.store.Update(KindExact, key, func(p *Pattern) {
			if p.Topic == "" {
				p.Topic = wrongTopic
				p.Frequency = 1
			}
			p.Success = false
		})
		if err != nil {
			return nil, err
		}
		l.emit(ctx, p)
		out = append(out, p)
	}

	if !rules.Routable(correctTopic) || correctTopic == wrongTopic {
		return out, nil
	}
	words, key := KeywordsOf(utterance)
	if len(words) == 0 {
		words, key = KeywordsOf(correctionText)
	}
	if len(words) == 0 {
		return out, nil
	}
	if near, _, ok := l.store.Nearest(words, l.cfg.NeighbourSimilarity); ok {
		key = near.Key
		words = near.Keywords
	}
	p, err := l.store.Update(KindKeywords, key, func(p *Pattern) {
		p.Topic = correctTopic
		p.Success = true
		p.Keywords = words
		p.Frequency += l.cfg.CorrectionWeight
	})
	if err != nil {
		return out, err
	}
	l.emit(ctx, p)
	l.logger.Debug("learned correction",
		zap.String("wrong_topic", wrongTopic),
		zap.String("correct_topic", correctTopic),
		zap.Int("frequency", p.Frequency))
	return append(out, p), nil
}

// LearnFromRejection records negative feedback without a correction: the
// exact mapping of utterance to topic stops being reused.
func (l *FeedbackLearner) LearnFromRejection(ctx context.Context, utterance, topic string) (Pattern, error) {
	key := ExactKey(utterance)
	if key == "" || topic == "" {
		return Pattern{}, ErrInvalidPattern
	}
	p, err := l.store.Update(KindExact, key, func(p *Pattern) {
		if p.Topic == "" {
			p.Topic = topic
			p.Frequency = 1
		}
		p.Success = false
	})
	if err != nil {
		return Pattern{}, err
	}
	l.emit(ctx, p)
	return p, nil
}

// Lookup returns the learned topic for utterance, if a reusable pattern
// exists: the exact key first, then the nearest keyword pattern.
func (l *FeedbackLearner) Lookup(utterance string) (Pattern, bool) {
	return Lookup(l.store, utterance, l.cfg.ReuseThreshold, l.cfg.NeighbourSimilarity)
}

// Lookup resolves utterance against store. Exact patterns that are not
// reusable fall through to the keyword path.
func Lookup(store PatternStore, utterance string, reuseThreshold int, minSimilarity float64) (Pattern, bool) {
	if store == nil {
		return Pattern{}, false
	}
	if p, ok := store.Get(KindExact, ExactKey(utterance)); ok && p.Reusable(reuseThreshold) {
		return p, true
	}
	words, _ := KeywordsOf(utterance)
	if p, _, ok := store.Nearest(words, minSimilarity); ok && p.Reusable(reuseThreshold) {
		return p, true
	}
	return Pattern{}, false
}

func (l *FeedbackLearner) emit(ctx context.Context, p Pattern) {
	l.metrics.RecordLearningUpdate(string(p.Kind), p.Success)
	l.metrics.SetPatternsKnown(l.store.Len())
	for _, pub := range l.publishers {
		pub.Publish(ctx, p)
	}
}
