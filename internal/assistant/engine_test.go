package assistant

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/disambiguation"
	"github.com/fyrsmithlabs/transitd/internal/knowledge"
	"github.com/fyrsmithlabs/transitd/internal/learning"
	"github.com/fyrsmithlabs/transitd/internal/logging"
	"github.com/fyrsmithlabs/transitd/internal/retrieval"
	"github.com/fyrsmithlabs/transitd/internal/rules"
	"github.com/fyrsmithlabs/transitd/internal/session"
)

const patiosQuestion = "me llevaron la moto a los patios, ¿cómo la puedo retirar y cuánto cuesta?"

type engineOptions struct {
	store         session.Store
	logger        *zap.Logger
	noInterpreter bool
}

func newTestEngine(t *testing.T, opts engineOptions) (*Engine, *learning.Store) {
	t.Helper()
	cfg := config.Default()
	set := rules.Default()
	patterns := learning.NewStore()

	cat, err := knowledge.Default()
	require.NoError(t, err)
	if opts.store == nil {
		opts.store = session.NewMemoryStore(time.Hour, 0)
	}
	deps := Deps{
		Classifier: classifier.New(set, cfg.Classifier, cfg.Learning, patterns, nil, nil),
		Tracker:    session.NewTracker(opts.store, set, cfg.Session, nil, nil),
		Retriever:  retrieval.New(knowledge.NewHolder(cat), cfg.Retrieval, nil, nil),
		Learner:    learning.NewFeedbackLearner(patterns, set, cfg.Learning, nil, nil),
	}
	if !opts.noInterpreter {
		deps.Interpreter = disambiguation.NewInterpreter(set, nil, cfg.Disambiguation, nil, nil)
	}
	e, err := NewEngine(deps, cfg.Learning, opts.logger, nil)
	require.NoError(t, err)
	return e, patterns
}

func turn(t *testing.T, e *Engine, sessionID, text string) TurnResult {
	t.Helper()
	out, err := e.HandleTurn(context.Background(), Turn{SessionID: sessionID, Text: text})
	require.NoError(t, err)
	return out
}

func TestHandleTurn_Outcomes(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})

	tests := []struct {
		name    string
		text    string
		outcome Outcome
		topic   string
	}{
		{"greeting", "hola", OutcomeSocial, rules.TopicSocial},
		{"weather", "¿va a llover hoy?", OutcomeOffTopic, rules.TopicOffTopic},
		{"impounded vehicle", patiosQuestion, OutcomeAnswered, "inmovilizacion"},
		{"driving restriction", "¿tengo pico y placa hoy?", OutcomeAnswered, "pico_y_placa"},
		{"ambiguous", "¿y cuánto cuesta?", OutcomeClarify, "documentacion"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := turn(t, e, fmt.Sprintf("sess-outcome-%d", i), tt.text)
			assert.Equal(t, tt.outcome, out.Outcome)
			assert.Equal(t, tt.topic, out.Classification.Topic)
			assert.Equal(t, 1, out.Seq)
			assert.NotEmpty(t, out.TurnID)
			assert.NotEmpty(t, out.Reply)
		})
	}
}

func TestHandleTurn_AnswerCarriesEntry(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	out := turn(t, e, "sess-answer", patiosQuestion)

	require.NotEmpty(t, out.Results)
	assert.Equal(t, "inmovilizacion", out.Results[0].Entry.Topic)
	assert.Contains(t, out.Reply, out.Results[0].Entry.Answer)
	assert.Equal(t, "inmovilizacion", out.ActiveTopic)
}

func TestHandleTurn_FollowUpCarriesTopic(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	turn(t, e, "sess-follow", patiosQuestion)

	out := turn(t, e, "sess-follow", "¿y cuánto cuesta?")
	assert.Equal(t, "inmovilizacion", out.Classification.Topic)
	assert.Equal(t, classifier.PathCarryOver, out.Classification.Path)
	assert.True(t, out.Classification.CarriedOver)
	assert.Equal(t, OutcomeAnswered, out.Outcome)
	assert.Equal(t, 2, out.Seq)
}

func TestHandleTurn_RewordedFollowUpsCarryTopic(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})

	for i, text := range []string{
		"¿y cuánto vale?",
		"¿y qué tal si no pago?",
		"¿y cómo está eso?",
		"ok, ¿y dónde queda?",
	} {
		t.Run(text, func(t *testing.T) {
			sessionID := fmt.Sprintf("sess-reworded-%d", i)
			first := turn(t, e, sessionID, "¿Cómo renuevo la licencia de conducción vencida?")
			require.Equal(t, "documentacion", first.Classification.Topic)

			out := turn(t, e, sessionID, text)
			assert.Equal(t, "documentacion", out.Classification.Topic)
			assert.Equal(t, classifier.PathCarryOver, out.Classification.Path)
			assert.Equal(t, OutcomeAnswered, out.Outcome)
		})
	}
}

func TestHandleTurn_ClarificationRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	first := turn(t, e, "sess-clarify", "¿y cuánto cuesta?")
	require.Equal(t, OutcomeClarify, first.Outcome)
	require.Len(t, first.Classification.Candidates, classifier.MaxCandidates)
	assert.Contains(t, first.Question, "1) documentos del vehículo y del conductor")
	assert.Contains(t, first.Question, "2) inmovilización, grúa y patios")

	st, err := e.Session(ctx, "sess-clarify")
	require.NoError(t, err)
	require.NotNil(t, st.Pending)
	assert.Equal(t, "¿y cuánto cuesta?", st.Pending.Utterance)

	second := turn(t, e, "sess-clarify", "la segunda")
	require.NotNil(t, second.Interpretation)
	assert.True(t, second.Interpretation.IsValid)
	assert.Equal(t, "inmovilizacion", second.Classification.Topic)
	assert.Equal(t, classifier.PathDisambiguated, second.Classification.Path)
	assert.Equal(t, OutcomeAnswered, second.Outcome)
	assert.Equal(t, "inmovilizacion", second.ActiveTopic)
	assert.Nil(t, second.Feedback)

	st, err = e.Session(ctx, "sess-clarify")
	require.NoError(t, err)
	assert.Nil(t, st.Pending)
	assert.Equal(t, 1, st.ClarificationsAsked)
	assert.Equal(t, "¿y cuánto cuesta?", st.LastUtterance)
}

func TestHandleTurn_UnclearReplyIsClassified(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	turn(t, e, "sess-unclear", "¿y cuánto cuesta?")

	out := turn(t, e, "sess-unclear", "¿tengo pico y placa hoy?")
	require.NotNil(t, out.Interpretation)
	assert.False(t, out.Interpretation.IsValid)
	assert.Equal(t, "pico_y_placa", out.Classification.Topic)
	assert.Equal(t, classifier.PathRules, out.Classification.Path)
}

func TestHandleTurn_WithoutInterpreterDropsPending(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{noInterpreter: true})
	turn(t, e, "sess-nointerp", "¿y cuánto cuesta?")

	out := turn(t, e, "sess-nointerp", "la segunda")
	assert.Nil(t, out.Interpretation)
	assert.NotEqual(t, classifier.PathDisambiguated, out.Classification.Path)

	st, err := e.Session(context.Background(), "sess-nointerp")
	require.NoError(t, err)
	assert.Nil(t, st.Pending)
}

func TestHandleTurn_ImplicitSuccess(t *testing.T) {
	e, store := newTestEngine(t, engineOptions{})
	turn(t, e, "sess-implicit", patiosQuestion)

	out := turn(t, e, "sess-implicit", "hola")
	require.Len(t, out.Learned, 1)
	assert.Equal(t, learning.KindExact, out.Learned[0].Kind)
	assert.Equal(t, "inmovilizacion", out.Learned[0].Topic)

	p, ok := store.Get(learning.KindExact, learning.ExactKey(patiosQuestion))
	require.True(t, ok)
	assert.True(t, p.Success)
	assert.Equal(t, 1, p.Frequency)

	// the greeting answered nothing, so the next turn learns nothing
	out = turn(t, e, "sess-implicit", "hola")
	assert.Empty(t, out.Learned)
}

func TestHandleTurn_ExplicitThanks(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	turn(t, e, "sess-thanks", "¿tengo pico y placa hoy?")

	out := turn(t, e, "sess-thanks", "gracias")
	require.NotNil(t, out.Feedback)
	assert.Equal(t, learning.PolarityPositive, out.Feedback.Polarity)
	assert.Equal(t, OutcomeSocial, out.Outcome)
	require.Len(t, out.Learned, 1)
	assert.Equal(t, "pico_y_placa", out.Learned[0].Topic)
	assert.True(t, out.Learned[0].Success)
}

func TestHandleTurn_Rejection(t *testing.T) {
	e, store := newTestEngine(t, engineOptions{})
	turn(t, e, "sess-reject", "¿tengo pico y placa hoy?")

	out := turn(t, e, "sess-reject", "no me sirve")
	require.NotNil(t, out.Feedback)
	assert.Equal(t, learning.PolarityNegative, out.Feedback.Polarity)
	require.Len(t, out.Learned, 1)
	assert.False(t, out.Learned[0].Success)

	p, ok := store.Get(learning.KindExact, learning.ExactKey("¿tengo pico y placa hoy?"))
	require.True(t, ok)
	assert.False(t, p.Success)
}

func TestHandleTurn_CorrectionTeachesNewTopic(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	turn(t, e, "sess-correct", "¿tengo pico y placa hoy?")

	out := turn(t, e, "sess-correct", "no me refiero a eso, me refiero a los comparendos")
	require.NotNil(t, out.Feedback)
	assert.Equal(t, learning.PolarityCorrection, out.Feedback.Polarity)
	assert.Equal(t, "comparendos", out.Feedback.CorrectedTopic)
	assert.Equal(t, "comparendos", out.Classification.Topic)
	assert.False(t, out.Classification.NeedsClarification)
	require.Len(t, out.Learned, 2)
	assert.Equal(t, learning.KindKeywords, out.Learned[1].Kind)

	// the keyword pattern now routes the same question in any session
	again := turn(t, e, "sess-correct-2", "¿tengo pico y placa hoy?")
	assert.Equal(t, "comparendos", again.Classification.Topic)
	assert.Equal(t, classifier.PathLearned, again.Classification.Path)
}

func TestHandleTurn_NoLearningFromCarriedTurns(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	turn(t, e, "sess-carried", patiosQuestion)

	out := turn(t, e, "sess-carried", "¿y cuánto cuesta?")
	require.Equal(t, classifier.PathCarryOver, out.Classification.Path)
	assert.Len(t, out.Learned, 1, "the original question is learned")

	out = turn(t, e, "sess-carried", "hola")
	assert.Empty(t, out.Learned)
}

func TestHandleTurn_InvalidSession(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	for _, id := range []string{"", "bad id", "x;y"} {
		_, err := e.HandleTurn(context.Background(), Turn{SessionID: id, Text: "hola"})
		assert.ErrorIs(t, err, session.ErrInvalidSessionID, id)
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context, string) (*session.State, bool, error) {
	return nil, false, fmt.Errorf("%w: connection refused", session.ErrStoreUnavailable)
}
func (failingStore) Save(context.Context, *session.State) error {
	return session.ErrStoreUnavailable
}
func (failingStore) Delete(context.Context, string) error { return session.ErrStoreUnavailable }
func (failingStore) Close() error                         { return nil }

func TestHandleTurn_StoreFailure(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{store: failingStore{}})
	_, err := e.HandleTurn(context.Background(), Turn{SessionID: "sess-down", Text: "hola"})
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
}

func TestHandleTurn_SerializesSession(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	const n = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.HandleTurn(context.Background(), Turn{SessionID: "sess-busy", Text: "hola"})
			assert.NoError(t, err)
			mu.Lock()
			seqs = append(seqs, out.Seq)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(seqs)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, seqs)
	assert.Empty(t, e.locks)
}

func TestEngine_EndSessionAndClose(t *testing.T) {
	e, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()
	turn(t, e, "sess-end", patiosQuestion)

	require.NoError(t, e.EndSession(ctx, "sess-end"))
	st, err := e.Session(ctx, "sess-end")
	require.NoError(t, err)
	assert.Zero(t, st.Turn)
	assert.Empty(t, st.ActiveTopic)

	e.Close()
	_, err = e.HandleTurn(ctx, Turn{SessionID: "sess-end", Text: "hola"})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestHandleTurn_Logs(t *testing.T) {
	tl := logging.NewTestLogger()
	e, _ := newTestEngine(t, engineOptions{logger: tl.Underlying()})
	turn(t, e, "sess-logs", "hola")

	tl.AssertLogged(t, zapcore.InfoLevel, "turn handled")
	tl.AssertField(t, "turn handled", "outcome", string(OutcomeSocial))
	tl.AssertCorrelated(t, "turn handled", "sess-logs")
	tl.AssertNotLogged(t, zapcore.WarnLevel, "")
	assert.Empty(t, tl.ForSession("sess-other"))
}

func TestNewEngine_RequiresComponents(t *testing.T) {
	_, err := NewEngine(Deps{}, config.Default().Learning, nil, nil)
	assert.Error(t, err)
}

func TestClarificationQuestion(t *testing.T) {
	set := rules.Default()
	assert.Equal(t, questionVague, clarificationQuestion(set, nil))
	assert.Equal(t, "¿Tu pregunta es sobre pico y placa?",
		clarificationQuestion(set, []classifier.Candidate{{Topic: "pico_y_placa", Label: "pico y placa"}}))
	assert.Equal(t, "¿Sobre cuál de estos temas es tu pregunta? 1) pico y placa 2) comparendos y multas",
		clarificationQuestion(set, []classifier.Candidate{{Topic: "pico_y_placa"}, {Topic: "comparendos"}}))
}
