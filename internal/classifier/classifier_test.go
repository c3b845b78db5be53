package classifier

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/learning"
	"github.com/fyrsmithlabs/transitd/internal/rules"
)

type conversation int

func (c conversation) ClarificationCount() int { return int(c) }

type panickingConversation struct{}

func (panickingConversation) ClarificationCount() int { panic("boom") }

func newTestClassifier(t *testing.T, store learning.PatternStore) *Classifier {
	t.Helper()
	cfg := config.Default()
	return New(rules.Default(), cfg.Classifier, cfg.Learning, store, nil, nil)
}

func TestClassify_Scenarios(t *testing.T) {
	c := newTestClassifier(t, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		utterance  string
		topic      string
		confidence float64
		path       Path
		offTopic   bool
		clarify    bool
	}{
		{"greeting", "hola", rules.TopicSocial, 0.95, PathSocial, false, false},
		{"weather", "¿va a llover hoy?", rules.TopicOffTopic, 0.6, PathOffTopic, true, false},
		{"two foreign clusters", "¿cuál es tu película favorita y el pronóstico del clima?", rules.TopicOffTopic, 0.75, PathOffTopic, true, false},
		{"evading an agent", "Me volé de un agente de tránsito", "fuga_autoridad", 0.83, PathSafety, false, false},
		{"accident with injured", "Hola, tuve un accidente y hay heridos", "accidente", 0.80, PathSafety, false, false},
		{"bare follow-up", "¿y cuánto cuesta?", "documentacion", 0.3, PathRules, false, true},
		{"strong match", "¿tengo pico y placa hoy?", "pico_y_placa", 0.9, PathRules, false, false},
		{"nothing matches", "necesito la cita", rules.TopicGeneral, 0.3, PathFallback, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(ctx, tt.utterance, nil)
			assert.Equal(t, tt.topic, got.Topic)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.path, got.Path)
			assert.Equal(t, tt.offTopic, got.IsOffTopic)
			assert.Equal(t, tt.clarify, got.NeedsClarification)
		})
	}
}

func TestClassify_DomainTermSuppressesOffTopic(t *testing.T) {
	c := newTestClassifier(t, nil)
	for _, u := range []string{
		"¿Me ponen multa si manejo cuando está lloviendo y hay lluvia fuerte?",
		"El agente me dijo que votar no sirve",
		"Vi el partido de fútbol y luego me pusieron un comparendo",
	} {
		t.Run(u, func(t *testing.T) {
			got := c.Classify(context.Background(), u, nil)
			assert.False(t, got.IsOffTopic)
			assert.NotEqual(t, rules.TopicOffTopic, got.Topic)
		})
	}
}

func TestClassify_GreetingWithSubstanceIsNotSocial(t *testing.T) {
	c := newTestClassifier(t, nil)
	got := c.Classify(context.Background(), "hola, me pararon en un retén", nil)
	assert.NotEqual(t, rules.TopicSocial, got.Topic)
	assert.Equal(t, "procedimiento_agente", got.Topic)
}

func TestClassify_LongGreetingIsNotSocial(t *testing.T) {
	c := newTestClassifier(t, nil)
	got := c.Classify(context.Background(), "hola buenas tardes, quería saber algo que me tiene pensando hace rato", nil)
	assert.NotEqual(t, rules.TopicSocial, got.Topic)
}

func TestClassify_FollowUpIsNotSocial(t *testing.T) {
	c := newTestClassifier(t, nil)
	for _, utterance := range []string{
		"¿y cuánto vale?",
		"¿y qué tal si no pago?",
		"¿y cómo está eso?",
		"ok, ¿y dónde queda?",
	} {
		t.Run(utterance, func(t *testing.T) {
			got := c.Classify(context.Background(), utterance, nil)
			assert.NotEqual(t, rules.TopicSocial, got.Topic)
			assert.NotEqual(t, PathSocial, got.Path)
		})
	}

	got := c.Classify(context.Background(), "¿qué tal?", nil)
	assert.Equal(t, rules.TopicSocial, got.Topic)
}

func TestClassify_Candidates(t *testing.T) {
	c := newTestClassifier(t, nil)
	got := c.Classify(context.Background(), "¿y cuánto cuesta?", nil)

	require.Len(t, got.Candidates, MaxCandidates)
	assert.Equal(t, "documentacion", got.Candidates[0].Topic)
	assert.Equal(t, "documentos del vehículo y del conductor", got.Candidates[0].Label)
	assert.Equal(t, "inmovilizacion", got.Candidates[1].Topic)
	for i := 1; i < len(got.Candidates); i++ {
		assert.GreaterOrEqual(t, got.Candidates[i-1].Score, got.Candidates[i].Score)
	}
}

func TestClassify_ExclusionSkipsRule(t *testing.T) {
	c := newTestClassifier(t, nil)
	got := c.Classify(context.Background(), "me llegó una fotomulta, ¿cómo la pago?", nil)
	assert.Equal(t, "fotomultas", got.Topic)
	for _, cand := range got.Candidates {
		assert.NotEqual(t, "comparendos", cand.Topic)
	}
}

func TestClassify_MaxClarifications(t *testing.T) {
	c := newTestClassifier(t, nil)
	ctx := context.Background()

	assert.True(t, c.Classify(ctx, "¿y cuánto cuesta?", conversation(1)).NeedsClarification)
	got := c.Classify(ctx, "¿y cuánto cuesta?", conversation(2))
	assert.False(t, got.NeedsClarification)
	assert.Equal(t, "documentacion", got.Topic)
}

func TestClassify_EveryRuleRoutesItsOwnTriggers(t *testing.T) {
	c := newTestClassifier(t, nil)
	set := rules.Default()

	for _, topic := range set.Topics {
		t.Run(topic.ID, func(t *testing.T) {
			var words []string
			for _, p := range topic.Triggers {
				words = append(words, firstAlternative(p.String()))
			}
			if topic.Safety {
				for _, p := range topic.Context {
					words = append(words, firstAlternative(p.String()))
				}
			}
			got := c.Classify(context.Background(), strings.Join(words, " "), nil)

			assert.Equal(t, topic.ID, got.Topic)
			assert.False(t, got.NeedsClarification)
			if topic.Safety {
				assert.Equal(t, PathSafety, got.Path)
				assert.GreaterOrEqual(t, got.Confidence, topic.Base)
				assert.LessOrEqual(t, got.Confidence, topic.Cap)
			} else {
				assert.Equal(t, PathRules, got.Path)
			}
		})
	}
}

func firstAlternative(raw string) string {
	return strings.ReplaceAll(strings.Split(raw, "|")[0], "*", "")
}

func TestClassify_Properties(t *testing.T) {
	c := newTestClassifier(t, nil)
	ctx := context.Background()

	for _, u := range []string{
		"", "   ", "¿?", "hola", "gracias, muy amable",
		"me volé de un retén y después me pidieron plata para la gaseosa",
		"estaba borracho manejando la moto y me paró la policía",
		"tuve un choque con un bus",
		"¿cuánto vale renovar la licencia de conducción?",
		"¿puedo parquear en una zona amarilla?",
		"me llevaron la moto a los patios",
		"cuéntame un chiste",
		strings.Repeat("comparendo ", 200),
	} {
		t.Run(u, func(t *testing.T) {
			first := c.Classify(ctx, u, nil)

			assert.GreaterOrEqual(t, first.Confidence, 0.0)
			assert.LessOrEqual(t, first.Confidence, 1.0)
			if c.Rules().IsSafety(first.Topic) {
				assert.False(t, first.NeedsClarification)
			}
			assert.Equal(t, first, c.Classify(ctx, u, nil), "classification is idempotent")
		})
	}
}

func TestClassify_EmptyIsWorstCase(t *testing.T) {
	c := newTestClassifier(t, nil)
	got := c.Classify(context.Background(), "¡¡!!", nil)
	assert.Equal(t, Result{Topic: rules.TopicGeneral, Confidence: 0.3, NeedsClarification: true, Path: PathFallback}, got)
}

func TestClassify_RecoversFromPanic(t *testing.T) {
	c := newTestClassifier(t, nil)
	got := c.Classify(context.Background(), "¿y cuánto cuesta?", panickingConversation{})
	assert.Equal(t, rules.TopicGeneral, got.Topic)
	assert.True(t, got.NeedsClarification)
	assert.Equal(t, PathFallback, got.Path)
}

func TestClassify_LearnedOverride(t *testing.T) {
	store := learning.NewStore()
	c := newTestClassifier(t, store)
	ctx := context.Background()
	utterance := "necesito la cita"

	set := func(topic string, freq int, success bool) {
		_, err := store.Update(learning.KindExact, learning.ExactKey(utterance), func(p *learning.Pattern) {
			p.Topic, p.Frequency, p.Success = topic, freq, success
		})
		require.NoError(t, err)
	}

	set("documentacion", 2, true)
	assert.Equal(t, PathFallback, c.Classify(ctx, utterance, nil).Path, "below reuse threshold")

	set("documentacion", 3, true)
	got := c.Classify(ctx, "¡Necesito la cita!", nil)
	assert.Equal(t, "documentacion", got.Topic)
	assert.Equal(t, PathLearned, got.Path)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
	assert.False(t, got.NeedsClarification)

	set("documentacion", 3, false)
	assert.Equal(t, PathFallback, c.Classify(ctx, utterance, nil).Path, "rejected patterns are not reused")
}

func TestClassify_LearnedNeverBeatsEarlySteps(t *testing.T) {
	store := learning.NewStore()
	c := newTestClassifier(t, store)
	ctx := context.Background()

	for _, u := range []string{"hola", "¿va a llover hoy?", "Me volé de un agente de tránsito"} {
		_, err := store.Update(learning.KindExact, learning.ExactKey(u), func(p *learning.Pattern) {
			p.Topic, p.Frequency, p.Success = "comparendos", 10, true
		})
		require.NoError(t, err)
		assert.NotEqual(t, PathLearned, c.Classify(ctx, u, nil).Path, u)
	}
}

func TestClassify_LearnedSocialNeedsNoSubstance(t *testing.T) {
	store := learning.NewStore()
	c := newTestClassifier(t, store)
	u := "necesito pagar ya"

	_, err := store.Update(learning.KindExact, learning.ExactKey(u), func(p *learning.Pattern) {
		p.Topic, p.Frequency, p.Success = rules.TopicSocial, 10, true
	})
	require.NoError(t, err)

	got := c.Classify(context.Background(), u, nil)
	assert.NotEqual(t, rules.TopicSocial, got.Topic)
	assert.NotEqual(t, PathLearned, got.Path)
}
