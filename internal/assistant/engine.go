// Package assistant runs one conversational turn end to end: feedback on the
// previous answer, clarification replies, classification, topic carry-over
// and knowledge retrieval.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/disambiguation"
	"github.com/fyrsmithlabs/transitd/internal/learning"
	"github.com/fyrsmithlabs/transitd/internal/logging"
	"github.com/fyrsmithlabs/transitd/internal/metrics"
	"github.com/fyrsmithlabs/transitd/internal/retrieval"
	"github.com/fyrsmithlabs/transitd/internal/rules"
	"github.com/fyrsmithlabs/transitd/internal/session"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/transitd/internal/assistant"

// ErrEngineClosed is returned by HandleTurn after Close.
var ErrEngineClosed = errors.New("assistant engine is closed")

// Engine wires the reasoning components together.
type Engine struct {
	classifier  *classifier.Classifier
	tracker     *session.Tracker
	retriever   *retrieval.Retriever
	learner     *learning.FeedbackLearner
	interpreter *disambiguation.Interpreter
	learnCfg    config.LearningConfig
	logger      *zap.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time

	mu     sync.Mutex
	locks  map[string]*sessionLock
	closed bool
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Deps are the components an Engine drives. Interpreter may be nil, in which
// case pending clarifications are dropped and the reply is classified anew.
type Deps struct {
	Classifier  *classifier.Classifier
	Tracker     *session.Tracker
	Retriever   *retrieval.Retriever
	Learner     *learning.FeedbackLearner
	Interpreter *disambiguation.Interpreter
}

// NewEngine creates an engine.
func NewEngine(deps Deps, learnCfg config.LearningConfig, logger *zap.Logger, mt *metrics.Metrics) (*Engine, error) {
	if deps.Classifier == nil || deps.Tracker == nil || deps.Retriever == nil || deps.Learner == nil {
		return nil, errors.New("assistant engine requires classifier, tracker, retriever and learner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		classifier:  deps.Classifier,
		tracker:     deps.Tracker,
		retriever:   deps.Retriever,
		learner:     deps.Learner,
		interpreter: deps.Interpreter,
		learnCfg:    learnCfg,
		logger:      logger,
		metrics:     mt,
		tracer:      otel.Tracer(InstrumentationName),
		now:         time.Now,
		locks:       make(map[string]*sessionLock),
	}, nil
}

// Classifier returns the engine's classifier.
func (e *Engine) Classifier() *classifier.Classifier { return e.classifier }

// Tracker returns the engine's session tracker.
func (e *Engine) Tracker() *session.Tracker { return e.tracker }

// Learner returns the engine's feedback learner.
func (e *Engine) Learner() *learning.FeedbackLearner { return e.learner }

// Close rejects further turns. Turns in flight complete.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// HandleTurn processes one message. Turns of the same session are
// serialized; different sessions run concurrently. Errors are only returned
// for invalid session ids and session store failures.
func (e *Engine) HandleTurn(ctx context.Context, turn Turn) (TurnResult, error) {
	start := e.now()
	if err := logging.ValidateID(turn.SessionID, "session ID"); err != nil {
		return TurnResult{}, fmt.Errorf("%w: %v", session.ErrInvalidSessionID, err)
	}

	unlock, err := e.lock(turn.SessionID)
	if err != nil {
		return TurnResult{}, err
	}
	defer unlock()

	turnID := uuid.NewString()
	ctx = logging.WithSessionID(ctx, turn.SessionID)
	ctx = logging.WithTurnID(ctx, turnID)
	ctx, span := e.tracer.Start(ctx, "assistant.turn", trace.WithAttributes(
		attribute.String("transitd.session_id", turn.SessionID),
		attribute.String("transitd.turn_id", turnID),
	))
	defer span.End()

	st, err := e.tracker.State(ctx, turn.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loading session failed")
		return TurnResult{}, err
	}

	out := TurnResult{TurnID: turnID, SessionID: turn.SessionID}
	asked := st.Pending != nil
	res, utterance, decided := e.resolvePending(ctx, st, turn.Text, &out)
	if !decided && !asked {
		res, decided = e.applyFeedback(ctx, st, turn.Text, &out)
	}
	if !decided {
		res = e.classifier.Classify(ctx, turn.Text, st)
		if carried, ok := e.tracker.CarryOver(st, turn.Text, res); ok {
			res = carried
		}
	}
	out.Classification = res

	st.Pending = nil
	retrievalText := turn.Text
	if utterance != turn.Text {
		retrievalText = utterance + " " + turn.Text
	}
	switch {
	case res.IsOffTopic:
		out.Outcome, out.Reply = OutcomeOffTopic, replyOffTopic
	case res.Topic == rules.TopicSocial:
		out.Outcome, out.Reply = OutcomeSocial, replySocial
	case res.NeedsClarification:
		out.Outcome = OutcomeClarify
		out.Question = clarificationQuestion(e.classifier.Rules(), res.Candidates)
		out.Reply = out.Question
		if len(res.Candidates) > 0 {
			st.Pending = &session.PendingClarification{
				Question:   out.Question,
				Utterance:  turn.Text,
				Candidates: res.Candidates,
				AskedAt:    e.now(),
			}
		}
		e.metrics.RecordClarification(res.Topic)
	default:
		out.Results = e.retriever.Retrieve(ctx, retrievalText, res)
		if len(out.Results) > 0 {
			out.Outcome, out.Reply = OutcomeAnswered, answerReply(out.Results)
		} else {
			out.Outcome, out.Reply = OutcomeNoAnswer, replyNoAnswer
		}
	}

	st.LastAnswered = out.Outcome == OutcomeAnswered
	st.LastLearned = len(out.Learned) > 0
	if err := e.tracker.Update(ctx, st, utterance, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "saving session failed")
		return TurnResult{}, err
	}
	out.Seq = st.Turn
	out.ActiveTopic = st.ActiveTopic
	out.Duration = e.now().Sub(start)

	span.SetAttributes(
		attribute.String("transitd.outcome", string(out.Outcome)),
		attribute.String("transitd.topic", res.Topic),
		attribute.String("transitd.path", string(res.Path)),
		attribute.Float64("transitd.confidence", res.Confidence),
	)
	e.metrics.RecordTurn(string(out.Outcome), out.Duration.Seconds())
	e.logger.Info("turn handled",
		append(logging.ContextFields(ctx),
			zap.Int("seq", out.Seq),
			zap.String("outcome", string(out.Outcome)),
			zap.String("topic", res.Topic),
			zap.String("path", string(res.Path)),
			zap.Float64("confidence", res.Confidence),
			zap.Int("results", len(out.Results)),
			zap.Duration("duration", out.Duration))...)
	return out, nil
}

// resolvePending interprets the reply to an open clarification question. It
// returns the utterance the turn is about: the original ambiguous message
// when the reply resolved it, otherwise the reply itself.
func (e *Engine) resolvePending(ctx context.Context, st *session.State, text string, out *TurnResult) (classifier.Result, string, bool) {
	pending := st.Pending
	if pending == nil || e.interpreter == nil || len(pending.Candidates) == 0 {
		return classifier.Result{}, text, false
	}
	in := e.interpreter.Interpret(ctx, disambiguation.Request{
		Question: pending.Question,
		Expected: options(pending.Candidates),
		Reply:    text,
	})
	out.Interpretation = &in
	if !in.IsValid {
		e.logger.Debug("clarification reply not understood, classifying it",
			logging.ContextFields(ctx)...)
		return classifier.Result{}, text, false
	}
	return classifier.Result{
		Topic:      in.Value,
		Confidence: in.Confidence,
		Path:       classifier.PathDisambiguated,
	}, pending.Utterance, true
}

// applyFeedback treats text as feedback on the previous answer and performs
// at most one learning update. Replies to a clarification question are not
// feedback. A correction also decides the current turn:
// the correction text names what the user actually wants.
func (e *Engine) applyFeedback(ctx context.Context, st *session.State, text string, out *TurnResult) (classifier.Result, bool) {
	ev := e.learner.Detect(text)
	out.Feedback = ev

	prevLearnable := st.LastUtterance != "" && st.LastPath != classifier.PathCarryOver && st.LastPath != classifier.PathDisambiguated
	switch {
	case ev != nil && ev.Polarity == learning.PolarityCorrection:
		res := e.classifier.Classify(ctx, text, st)
		if rules.Routable(res.Topic) {
			ev.CorrectedTopic = res.Topic
			res.NeedsClarification = false
		}
		if prevLearnable {
			patterns, err := e.learner.LearnFromCorrection(ctx, st.LastUtterance, st.LastTopic, text, ev.CorrectedTopic)
			e.learned(ctx, out, err, patterns...)
		}
		return res, ev.CorrectedTopic != ""

	case ev != nil && ev.Polarity == learning.PolarityNegative:
		if prevLearnable && rules.Routable(st.LastTopic) {
			p, err := e.learner.LearnFromRejection(ctx, st.LastUtterance, st.LastTopic)
			e.learned(ctx, out, err, p)
		}

	case prevLearnable && st.LastAnswered && rules.Routable(st.LastTopic):
		explicit := ev != nil && ev.Polarity == learning.PolarityPositive
		if explicit || st.LastConfidence >= e.learnCfg.ImplicitSuccessConfidence {
			p, err := e.learner.LearnFromSuccess(ctx, st.LastUtterance, st.LastTopic)
			e.learned(ctx, out, err, p)
		}
	}
	return classifier.Result{}, false
}

func (e *Engine) learned(ctx context.Context, out *TurnResult, err error, patterns ...learning.Pattern) {
	if err != nil {
		e.logger.Warn("learning update failed",
			append(logging.ContextFields(ctx), zap.Error(err))...)
		return
	}
	for _, p := range patterns {
		if p.Key != "" {
			out.Learned = append(out.Learned, p)
		}
	}
}

// lock serializes turns of one session.
func (e *Engine) lock(sessionID string) (func(), error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		e.locks[sessionID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, sessionID)
		}
		e.mu.Unlock()
	}, nil
}

// Session returns a copy of the state of a session.
func (e *Engine) Session(ctx context.Context, id string) (*session.State, error) {
	st, err := e.tracker.State(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// EndSession forgets a session.
func (e *Engine) EndSession(ctx context.Context, id string) error {
	unlock, err := e.lock(id)
	if err != nil {
		return err
	}
	defer unlock()
	return e.tracker.End(ctx, id)
}
