package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/disambiguation"
	"github.com/fyrsmithlabs/transitd/internal/learning"
	"github.com/fyrsmithlabs/transitd/internal/retrieval"
	"github.com/fyrsmithlabs/transitd/internal/rules"
)

// Turn is one user message addressed to a session. Seq is the caller's
// numbering and only informational; TurnResult.Seq is authoritative.
type Turn struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Seq        int       `json:"seq,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Outcome is how a turn was resolved.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeClarify  Outcome = "clarify"
	OutcomeOffTopic Outcome = "off_topic"
	OutcomeSocial   Outcome = "social"
	OutcomeNoAnswer Outcome = "no_answer"
)

// TurnResult is everything the engine decided about a turn.
type TurnResult struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	// Seq is the session's turn counter after this turn.
	Seq     int     `json:"seq"`
	Outcome Outcome `json:"outcome"`

	Classification classifier.Result  `json:"classification"`
	Results        []retrieval.Result `json:"results,omitempty"`
	// Question is set when Outcome is OutcomeClarify.
	Question string `json:"question,omitempty"`
	// Reply is the text to show the user.
	Reply string `json:"reply"`

	Feedback       *learning.FeedbackEvent        `json:"feedback,omitempty"`
	Interpretation *disambiguation.Interpretation `json:"interpretation,omitempty"`
	Learned        []learning.Pattern             `json:"learned,omitempty"`

	ActiveTopic string        `json:"active_topic,omitempty"`
	Duration    time.Duration `json:"duration"`
}

const (
	replyOffTopic = "Solo puedo ayudarte con temas de tránsito y transporte en Colombia: " +
		"comparendos, documentos, inmovilizaciones, accidentes, pico y placa y similares."
	replySocial   = "¡Hola! Cuéntame tu pregunta sobre normas de tránsito y con gusto te oriento."
	replyNoAnswer = "No encontré información precisa sobre eso. ¿Puedes contarme un poco más " +
		"de tu situación de tránsito?"
	questionVague = "¿Podrías darme más detalles? Por ejemplo, si tu pregunta es sobre un " +
		"comparendo, un documento o tu vehículo."
)

// clarificationQuestion asks the user to pick among the candidate topics.
func clarificationQuestion(set *rules.Set, candidates []classifier.Candidate) string {
	switch len(candidates) {
	case 0:
		return questionVague
	case 1:
		return fmt.Sprintf("¿Tu pregunta es sobre %s?", candidates[0].Label)
	}
	var b strings.Builder
	b.WriteString("¿Sobre cuál de estos temas es tu pregunta?")
	for i, c := range candidates {
		label := c.Label
		if label == "" && set != nil {
			label = set.Label(c.Topic)
		}
		fmt.Fprintf(&b, " %d) %s", i+1, label)
	}
	return b.String()
}

// options turns candidates into the answers a clarification offered.
func options(candidates []classifier.Candidate) []disambiguation.Option {
	out := make([]disambiguation.Option, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, disambiguation.Option{Value: c.Topic, Label: c.Label})
	}
	return out
}

// answerReply renders the best entry with its legal sources.
func answerReply(results []retrieval.Result) string {
	e := results[0].Entry
	if len(e.Sources) == 0 {
		return e.Answer
	}
	return e.Answer + "\n\nFuentes: " + strings.Join(e.Sources, "; ")
}
