// Package classifier routes an utterance to a topic with a confidence.
//
// Steps run in order and the first three short-circuit: off-topic filter,
// social filter, safety topics. Otherwise the weighted rule scan picks a
// winner, the clarification gate decides whether to ask the user, and a
// reusable learned pattern may replace the winner.
package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/learning"
	"github.com/fyrsmithlabs/transitd/internal/logging"
	"github.com/fyrsmithlabs/transitd/internal/metrics"
	"github.com/fyrsmithlabs/transitd/internal/rules"
	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

// Classifier is safe for concurrent use; it only reads shared state.
type Classifier struct {
	rules    *rules.Set
	cfg      config.ClassifierConfig
	learn    config.LearningConfig
	patterns learning.PatternStore
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New creates a classifier over set. patterns may be nil, which disables
// the learned override.
func New(set *rules.Set, cfg config.ClassifierConfig, learn config.LearningConfig, patterns learning.PatternStore, logger *zap.Logger, mt *metrics.Metrics) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		rules:    set,
		cfg:      cfg,
		learn:    learn,
		patterns: patterns,
		logger:   logger,
		metrics:  mt,
	}
}

// Rules returns the rule set the classifier routes with.
func (c *Classifier) Rules() *rules.Set { return c.rules }

// Classify never fails. conv may be nil for a fresh conversation.
func (c *Classifier) Classify(ctx context.Context, utterance string, conv Conversation) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classifier panic, using fallback",
				append(logging.ContextFields(ctx), zap.String("panic", fmt.Sprint(r)))...)
			res = c.fallback(true)
		}
	}()

	res = c.classify(utterance, conv)
	res.Confidence = clamp01(res.Confidence)

	c.metrics.RecordClassification(res.Topic, string(res.Path))
	c.logger.Debug("classified utterance",
		append(logging.ContextFields(ctx),
			zap.String("topic", res.Topic),
			zap.Float64("confidence", res.Confidence),
			zap.String("path", string(res.Path)),
			zap.Bool("needs_clarification", res.NeedsClarification))...)
	return res
}

func (c *Classifier) classify(utterance string, conv Conversation) Result {
	normalized := textutil.Normalize(utterance)
	tokens := textutil.Tokens(normalized)
	if len(tokens) == 0 {
		return c.fallback(true)
	}

	if r, ok := c.offTopic(tokens); ok {
		return r
	}
	if r, ok := c.social(normalized, tokens); ok {
		return r
	}
	if r, ok := c.safety(tokens); ok {
		return r
	}

	scored := c.scan(tokens)
	var res Result
	if len(scored) == 0 {
		res = c.fallback(false)
	} else {
		w := scored[0]
		res = Result{Topic: w.topic.ID, Confidence: w.score, Path: PathRules}
		for i := 0; i < len(scored) && i < MaxCandidates; i++ {
			res.Candidates = append(res.Candidates, Candidate{
				Topic: scored[i].topic.ID,
				Label: scored[i].topic.Label,
				Score: scored[i].score,
			})
		}
	}

	c.gate(&res, conv)
	c.override(&res, utterance, tokens)
	return res
}

// fallback is the result when nothing routes the utterance.
func (c *Classifier) fallback(clarify bool) Result {
	return Result{
		Topic:              rules.TopicGeneral,
		Confidence:         c.cfg.FallbackConfidence,
		NeedsClarification: clarify,
		Path:               PathFallback,
	}
}

// offTopic fires when a foreign cluster matches and no domain term does.
func (c *Classifier) offTopic(tokens []string) (Result, bool) {
	matches := 0
	for _, cl := range c.rules.OffTopic {
		matches += cl.Phrases.Count(tokens)
	}
	if matches == 0 || c.rules.DomainTerms.Any(tokens) {
		return Result{}, false
	}
	conf := math.Min(c.cfg.OffTopicCap, c.cfg.OffTopicBase+c.cfg.OffTopicStep*float64(matches-1))
	return Result{
		Topic:      rules.TopicOffTopic,
		Confidence: conf,
		IsOffTopic: true,
		Path:       PathOffTopic,
	}, true
}

// social fires on short greetings and closings with no substantive content.
func (c *Classifier) social(normalized string, tokens []string) (Result, bool) {
	if utf8.RuneCountInString(normalized) >= c.cfg.SocialMaxChars {
		return Result{}, false
	}
	if !c.rules.Social.Any(tokens) || c.rules.Substantive.Any(tokens) {
		return Result{}, false
	}
	// "y cuanto vale" or "ok, y donde queda" continue the conversation
	if c.rules.FollowUp.Any(tokens) {
		return Result{}, false
	}
	return Result{Topic: rules.TopicSocial, Confidence: c.cfg.SocialConfidence, Path: PathSocial}, true
}

// safety evaluates the safety topics. A topic fires when a primary trigger
// matches and, if it has a context list, a context term matches too.
// Every hit beyond the required ones adds the topic's step.
func (c *Classifier) safety(tokens []string) (Result, bool) {
	var (
		best     *rules.Topic
		bestConf float64
	)
	for _, t := range c.rules.Topics {
		if !t.Safety || t.Exclusions.Any(tokens) {
			continue
		}
		hits := t.Triggers.Count(tokens)
		if hits == 0 {
			continue
		}
		required := 1
		if len(t.Context) > 0 {
			ctxHits := t.Context.Count(tokens)
			if ctxHits == 0 {
				continue
			}
			hits += ctxHits
			required++
		}
		conf := math.Min(t.Cap, t.Base+t.Step*float64(hits-required))
		if best == nil || better(conf, t, bestConf, best) {
			best, bestConf = t, conf
		}
	}
	if best == nil {
		return Result{}, false
	}
	return Result{
		Topic:      best.ID,
		Confidence: bestConf,
		Path:       PathSafety,
		Candidates: []Candidate{{Topic: best.ID, Label: best.Label, Score: bestConf}},
	}, true
}

type scoredTopic struct {
	topic *rules.Topic
	score float64
}

// scan scores every rule whose exclusions do not match and whose required
// terms are all present, best first.
func (c *Classifier) scan(tokens []string) []scoredTopic {
	var out []scoredTopic
	for _, t := range c.rules.Topics {
		if t.Exclusions.Any(tokens) || !requiresMet(t, tokens) {
			continue
		}
		matched := t.Triggers.Count(tokens)
		if matched == 0 {
			continue
		}
		norm := len(t.Triggers)
		if norm > c.cfg.TriggerNormalizer {
			norm = c.cfg.TriggerNormalizer
		}
		score := clamp01(float64(matched) / float64(norm) * float64(t.Priority) / 10)
		out = append(out, scoredTopic{topic: t, score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return better(out[i].score, out[i].topic, out[j].score, out[j].topic)
	})
	return out
}

func requiresMet(t *rules.Topic, tokens []string) bool {
	for _, r := range t.Requires {
		if !r.Match(tokens) {
			return false
		}
	}
	return true
}

// better orders by score, then priority, then declaration order.
func better(score float64, t *rules.Topic, otherScore float64, other *rules.Topic) bool {
	if score != otherScore {
		return score > otherScore
	}
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	return t.Order < other.Order
}

// gate asks for clarification on weak non-safety winners until the session
// has used up its clarifications.
func (c *Classifier) gate(res *Result, conv Conversation) {
	if res.Confidence <= 0 || res.Confidence >= c.cfg.ClarificationThreshold {
		return
	}
	if c.rules.IsSafety(res.Topic) {
		return
	}
	if conv != nil && conv.ClarificationCount() >= c.cfg.MaxClarifications {
		return
	}
	res.NeedsClarification = true
}

// override replaces the scan winner with a reusable learned topic. Safety
// winners stay, and a learned social mapping never applies to an utterance
// with substantive vocabulary.
func (c *Classifier) override(res *Result, utterance string, tokens []string) {
	if c.patterns == nil || c.rules.IsSafety(res.Topic) {
		return
	}
	p, ok := learning.Lookup(c.patterns, utterance, c.learn.ReuseThreshold, c.learn.NeighbourSimilarity)
	if !ok {
		return
	}
	switch {
	case p.Topic == rules.TopicSocial && c.rules.Substantive.Any(tokens):
		return
	case p.Topic == rules.TopicOffTopic || p.Topic == rules.TopicGeneral:
		return
	}
	res.Topic = p.Topic
	res.Confidence = c.learn.LearnedConfidence
	res.NeedsClarification = false
	res.Path = PathLearned
}
