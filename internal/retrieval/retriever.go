// Package retrieval finds the knowledge entries that answer an utterance.
//
// Retrieval is a cascade of stages. Each stage drops excluded entries,
// scores the rest and, if any entry clears its acceptance threshold, the
// cascade stops there. The intent stage is cheapest and most precise; the
// semantic and keyword stages catch utterances whose topic signal is weak.
package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/knowledge"
	"github.com/fyrsmithlabs/transitd/internal/logging"
	"github.com/fyrsmithlabs/transitd/internal/metrics"
)

// Result is a ranked knowledge entry.
type Result struct {
	Entry *knowledge.Entry `json:"entry"`
	Score float64          `json:"score"`
	Stage StageName        `json:"stage"`
}

// Retriever runs the cascade against the current catalogue of a holder.
type Retriever struct {
	holder     *knowledge.Holder
	stages     []Stage
	maxResults int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithStages replaces the default cascade.
func WithStages(stages ...Stage) Option {
	return func(r *Retriever) { r.stages = stages }
}

// New creates a retriever. The catalogue is read from holder on every call
// so hot reloads apply to the next query.
func New(holder *knowledge.Holder, cfg config.RetrievalConfig, logger *zap.Logger, mt *metrics.Metrics, opts ...Option) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{
		holder:     holder,
		stages:     DefaultStages(cfg),
		maxResults: cfg.MaxResults,
		logger:     logger,
		metrics:    mt,
	}
	if r.maxResults < 1 {
		r.maxResults = 3
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns at most the configured number of results, sorted by
// non-increasing score. An empty slice means no stage accepted any entry.
func (r *Retriever) Retrieve(ctx context.Context, utterance string, res classifier.Result) []Result {
	cat := r.holder.Catalogue()
	if cat == nil {
		r.metrics.RecordRetrieval("")
		return nil
	}
	q := NewQuery(utterance, res)

	for _, stage := range r.stages {
		results := Evaluate(cat, q, stage, r.maxResults)
		if len(results) == 0 {
			continue
		}
		r.metrics.RecordRetrieval(string(stage.Name()))
		r.logger.Debug("retrieved entries",
			append(logging.ContextFields(ctx),
				zap.String("stage", string(stage.Name())),
				zap.String("best", results[0].Entry.ID),
				zap.Float64("score", results[0].Score),
				zap.Int("count", len(results)))...)
		return results
	}

	r.metrics.RecordRetrieval("")
	r.logger.Debug("no entry cleared any stage",
		append(logging.ContextFields(ctx), zap.String("topic", res.Topic))...)
	return nil
}

// Evaluate runs a single stage: it drops excluded candidates, keeps those
// scoring at least the acceptance threshold, and returns the best limit of
// them ordered by score then entry id.
func Evaluate(cat *knowledge.Catalogue, q *Query, stage Stage, limit int) []Result {
	var out []Result
	for _, e := range stage.Candidates(cat, q) {
		if e.Excluded(q.Tokens) {
			continue
		}
		score := stage.Score(cat, q, e)
		if score <= 0 || score < stage.Acceptance() {
			continue
		}
		out = append(out, Result{Entry: e, Score: score, Stage: stage.Name()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
