// Package metrics defines the Prometheus metrics exported by transitd.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the process-wide collectors. A nil *Metrics is valid and
// records nothing, which keeps components usable in tests without a registry.
type Metrics struct {
	// Classification
	ClassificationsTotal *prometheus.CounterVec
	ClarificationsTotal  *prometheus.CounterVec
	CarryOversTotal      *prometheus.CounterVec

	// Retrieval
	RetrievalsTotal      *prometheus.CounterVec
	EmptyRetrievalsTotal prometheus.Counter

	// Learning
	FeedbackTotal        *prometheus.CounterVec
	LearningUpdatesTotal *prometheus.CounterVec
	MirrorFailuresTotal  *prometheus.CounterVec
	MirrorDroppedTotal   prometheus.Counter
	PatternsKnown        prometheus.Gauge

	// Disambiguation
	CollaboratorCallsTotal *prometheus.CounterVec

	// Turns
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram
}

// New creates and registers the transitd metrics.
//
// Registration happens once per process; later calls return the same set.
// All metrics are prefixed with "transitd_".
//
// Metrics:
//   - transitd_classifications_total{topic,path}
//   - transitd_clarifications_total{topic}
//   - transitd_carry_overs_total{topic}
//   - transitd_retrievals_total{stage}
//   - transitd_empty_retrievals_total
//   - transitd_feedback_total{polarity}
//   - transitd_learning_updates_total{kind,outcome}
//   - transitd_mirror_failures_total{op}
//   - transitd_mirror_dropped_total
//   - transitd_patterns_known
//   - transitd_collaborator_calls_total{result}
//   - transitd_turns_total{outcome}
//   - transitd_turn_duration_seconds
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ClassificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_classifications_total",
					Help: "Total number of classified utterances",
				},
				[]string{"topic", "path"},
			),

			ClarificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_clarifications_total",
					Help: "Total number of turns that asked the user to clarify",
				},
				[]string{"topic"},
			),

			CarryOversTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_carry_overs_total",
					Help: "Total number of follow-ups resolved to the active topic",
				},
				[]string{"topic"},
			),

			RetrievalsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_retrievals_total",
					Help: "Total number of retrievals by the stage that answered",
				},
				[]string{"stage"}, // "intent", "semantic", "keyword"
			),

			EmptyRetrievalsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "transitd_empty_retrievals_total",
					Help: "Total number of retrievals where no stage cleared its threshold",
				},
			),

			FeedbackTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_feedback_total",
					Help: "Total number of feedback events detected",
				},
				[]string{"polarity"},
			),

			LearningUpdatesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_learning_updates_total",
					Help: "Total number of learned pattern updates",
				},
				[]string{"kind", "outcome"}, // outcome: "success", "failure"
			),

			MirrorFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_mirror_failures_total",
					Help: "Total number of failed durable mirror operations",
				},
				[]string{"op"}, // "upsert", "load", "publish"
			),

			MirrorDroppedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "transitd_mirror_dropped_total",
					Help: "Total number of pattern writes dropped because the queue was full",
				},
			),

			PatternsKnown: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "transitd_patterns_known",
					Help: "Current number of learned patterns held in memory",
				},
			),

			CollaboratorCallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_collaborator_calls_total",
					Help: "Total number of disambiguation collaborator calls",
				},
				[]string{"result"}, // "ok", "error", "timeout", "rate_limited"
			),

			TurnsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transitd_turns_total",
					Help: "Total number of processed turns",
				},
				[]string{"outcome"},
			),

			TurnDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transitd_turn_duration_seconds",
					Help:    "Duration of turn processing in seconds",
					Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
				},
			),
		}
	})

	return globalMetrics
}

// RecordClassification records a classification result.
func (m *Metrics) RecordClassification(topic, path string) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(topic, path).Inc()
}

// RecordClarification records a clarification request.
func (m *Metrics) RecordClarification(topic string) {
	if m == nil {
		return
	}
	m.ClarificationsTotal.WithLabelValues(topic).Inc()
}

// RecordCarryOver records a follow-up resolved to the active topic.
func (m *Metrics) RecordCarryOver(topic string) {
	if m == nil {
		return
	}
	m.CarryOversTotal.WithLabelValues(topic).Inc()
}

// RecordRetrieval records the answering stage, or an empty retrieval when
// stage is "".
func (m *Metrics) RecordRetrieval(stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		m.EmptyRetrievalsTotal.Inc()
		return
	}
	m.RetrievalsTotal.WithLabelValues(stage).Inc()
}

// RecordFeedback records a detected feedback event.
func (m *Metrics) RecordFeedback(polarity string) {
	if m == nil {
		return
	}
	m.FeedbackTotal.WithLabelValues(polarity).Inc()
}

// RecordLearningUpdate records a learned pattern update.
func (m *Metrics) RecordLearningUpdate(kind string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.LearningUpdatesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordMirrorFailure records a failed durable mirror operation.
func (m *Metrics) RecordMirrorFailure(op string) {
	if m == nil {
		return
	}
	m.MirrorFailuresTotal.WithLabelValues(op).Inc()
}

// RecordMirrorDropped records a pattern write dropped on a full queue.
func (m *Metrics) RecordMirrorDropped() {
	if m == nil {
		return
	}
	m.MirrorDroppedTotal.Inc()
}

// SetPatternsKnown updates the in-memory pattern count.
func (m *Metrics) SetPatternsKnown(n int) {
	if m == nil {
		return
	}
	m.PatternsKnown.Set(float64(n))
}

// RecordCollaboratorCall records the result of a disambiguation call.
func (m *Metrics) RecordCollaboratorCall(result string) {
	if m == nil {
		return
	}
	m.CollaboratorCallsTotal.WithLabelValues(result).Inc()
}

// RecordTurn records a processed turn and its duration.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(durationSeconds)
}
