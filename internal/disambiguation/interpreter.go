// Package disambiguation interprets the user's reply to a clarification
// question. A local heuristic handles ordinals, topic names, topic vocabulary
// and yes/no answers; when it is not certain, an optional external
// collaborator is consulted under a timeout and a rate limit.
package disambiguation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/logging"
	"github.com/fyrsmithlabs/transitd/internal/metrics"
	"github.com/fyrsmithlabs/transitd/internal/rules"
	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

var (
	// ErrCollaboratorFailed wraps transport and decoding failures of a
	// collaborator.
	ErrCollaboratorFailed = errors.New("disambiguation collaborator failed")

	// ErrRateLimited is returned when the collaborator budget is exhausted.
	ErrRateLimited = errors.New("disambiguation collaborator rate limited")
)

// Option is one answer the clarification question offered.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Request describes a clarification reply to interpret.
type Request struct {
	Question string   `json:"question"`
	Expected []Option `json:"expected"`
	Reply    string   `json:"reply"`
}

// Interpretation is the meaning of a reply. Value is one of the expected
// option values when IsValid is set.
type Interpretation struct {
	IsValid    bool    `json:"is_valid"`
	Value      string  `json:"value,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// Collaborator interprets replies the local heuristic is unsure about.
type Collaborator interface {
	Interpret(ctx context.Context, req Request) (Interpretation, error)
}

// Sources of an interpretation.
const (
	SourceLocal        = "local"
	SourceCollaborator = "collaborator"
)

// Local confidences.
const (
	labelConfidence   = 0.95
	ordinalConfidence = 0.9
	yesNoConfidence   = 0.9
	triggerBase       = 0.7
	triggerStep       = 0.1
	triggerCap        = 0.9
	overlapConfidence = 0.6
)

var (
	ordinals = []textutil.PatternList{
		textutil.Patterns([]string{"primera|primero|primer|1|uno|opcion a"}),
		textutil.Patterns([]string{"segunda|segundo|2|dos|opcion b"}),
		textutil.Patterns([]string{"tercera|tercero|3|tres|opcion c"}),
	}
	lastOrdinal = textutil.Patterns([]string{"ultima|ultimo|la otra"})
	yes         = textutil.Patterns([]string{"si|claro|correcto|exacto|asi es|eso|afirmativo|dale"})
	no          = textutil.Patterns([]string{"no|ninguna|ninguno|nada que ver|otra cosa"})
)

// Interpreter resolves clarification replies.
type Interpreter struct {
	rules        *rules.Set
	collaborator Collaborator
	limiter      *rate.Limiter
	timeout      time.Duration
	certain      float64
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewInterpreter creates an interpreter. collaborator may be nil.
func NewInterpreter(set *rules.Set, collaborator Collaborator, cfg config.DisambiguationConfig, logger *zap.Logger, mt *metrics.Metrics) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := int(math.Ceil(cfg.RateLimit))
	if burst < 1 {
		burst = 1
	}
	return &Interpreter{
		rules:        set,
		collaborator: collaborator,
		limiter:      rate.NewLimiter(limit, burst),
		timeout:      cfg.Timeout.Duration(),
		certain:      cfg.CertainThreshold,
		logger:       logger,
		metrics:      mt,
	}
}

// Interpret returns the local interpretation when it is certain, otherwise
// the collaborator's when it is more confident. Collaborator failures fall
// back to the local result.
func (i *Interpreter) Interpret(ctx context.Context, req Request) Interpretation {
	local := i.Local(req)
	if local.Confidence >= i.certain || i.collaborator == nil || len(req.Expected) == 0 {
		return local
	}

	remote, err := i.consult(ctx, req)
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			result = "timeout"
		case errors.Is(err, ErrRateLimited):
			result = "rate_limited"
		}
		i.metrics.RecordCollaboratorCall(result)
		i.logger.Warn("disambiguation collaborator unavailable, using local interpretation",
			append(logging.ContextFields(ctx), zap.String("result", result), zap.Error(err))...)
		return local
	}
	i.metrics.RecordCollaboratorCall("ok")

	if remote.IsValid && !expects(req.Expected, remote.Value) {
		i.logger.Debug("collaborator answered an unexpected value",
			append(logging.ContextFields(ctx), zap.String("value", remote.Value))...)
		return local
	}
	remote.Confidence = math.Max(0, math.Min(1, remote.Confidence))
	remote.Source = SourceCollaborator
	if remote.Confidence > local.Confidence {
		return remote
	}
	return local
}

func (i *Interpreter) consult(ctx context.Context, req Request) (Interpretation, error) {
	if !i.limiter.Allow() {
		return Interpretation{}, ErrRateLimited
	}
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	type answer struct {
		in  Interpretation
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		in, err := i.collaborator.Interpret(ctx, req)
		ch <- answer{in, err}
	}()
	select {
	case a := <-ch:
		return a.in, a.err
	case <-ctx.Done():
		return Interpretation{}, fmt.Errorf("%w: %w", ErrCollaboratorFailed, ctx.Err())
	}
}

// Local interprets req with heuristics only.
func (i *Interpreter) Local(req Request) Interpretation {
	tokens := textutil.Tokens(textutil.Normalize(req.Reply))
	if len(tokens) == 0 || len(req.Expected) == 0 {
		return Interpretation{Source: SourceLocal}
	}

	if v, ok := byLabel(req.Expected, tokens); ok {
		return valid(v, labelConfidence)
	}
	if v, ok := byOrdinal(req.Expected, tokens); ok {
		return valid(v, ordinalConfidence)
	}
	if v, conf, ok := i.byTriggers(req.Expected, tokens); ok {
		return valid(v, conf)
	}
	if len(req.Expected) == 1 && len(tokens) <= 3 {
		switch {
		case no.Any(tokens):
			return Interpretation{Confidence: yesNoConfidence, Source: SourceLocal}
		case yes.Any(tokens):
			return valid(req.Expected[0].Value, yesNoConfidence)
		}
	}
	if v, ok := byOverlap(req.Expected, req.Reply); ok {
		return valid(v, overlapConfidence)
	}
	return Interpretation{Source: SourceLocal}
}

func valid(value string, confidence float64) Interpretation {
	return Interpretation{IsValid: true, Value: value, Confidence: confidence, Source: SourceLocal}
}

func byLabel(options []Option, tokens []string) (string, bool) {
	joined := " " + strings.Join(tokens, " ") + " "
	for _, o := range options {
		for _, name := range []string{o.Label, strings.ReplaceAll(o.Value, "_", " ")} {
			n := textutil.Normalize(name)
			if n != "" && strings.Contains(joined, " "+n+" ") {
				return o.Value, true
			}
		}
	}
	return "", false
}

func byOrdinal(options []Option, tokens []string) (string, bool) {
	if lastOrdinal.Any(tokens) {
		return options[len(options)-1].Value, true
	}
	found := -1
	for idx, list := range ordinals {
		if idx >= len(options) || !list.Any(tokens) {
			continue
		}
		if found >= 0 {
			return "", false
		}
		found = idx
	}
	if found < 0 {
		return "", false
	}
	return options[found].Value, true
}

// byTriggers picks the single option whose topic vocabulary the reply uses
// most.
func (i *Interpreter) byTriggers(options []Option, tokens []string) (string, float64, bool) {
	if i.rules == nil {
		return "", 0, false
	}
	best, bestHits, tie := "", 0, false
	for _, o := range options {
		t, ok := i.rules.Topic(o.Value)
		if !ok {
			continue
		}
		hits := t.Triggers.Count(tokens)
		switch {
		case hits > bestHits:
			best, bestHits, tie = o.Value, hits, false
		case hits == bestHits && hits > 0:
			tie = true
		}
	}
	if bestHits == 0 || tie {
		return "", 0, false
	}
	return best, math.Min(triggerCap, triggerBase+triggerStep*float64(bestHits-1)), true
}

func byOverlap(options []Option, reply string) (string, bool) {
	words := textutil.Significant(reply)
	best, bestScore, tie := "", 0.0, false
	for _, o := range options {
		score := textutil.Overlap(words, textutil.Significant(o.Label))
		switch {
		case score > bestScore:
			best, bestScore, tie = o.Value, score, false
		case score == bestScore && score > 0:
			tie = true
		}
	}
	if bestScore < 0.5 || tie {
		return "", false
	}
	return best, true
}

func expects(options []Option, value string) bool {
	for _, o := range options {
		if o.Value == value {
			return true
		}
	}
	return false
}
