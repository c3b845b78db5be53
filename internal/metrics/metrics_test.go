package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestNew_Singleton(t *testing.T) {
	assert.Same(t, New(), New())
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordClassification("documentacion", "rules")
		m.RecordClarification("documentacion")
		m.RecordCarryOver("documentacion")
		m.RecordRetrieval("intent")
		m.RecordRetrieval("")
		m.RecordFeedback("positive")
		m.RecordLearningUpdate("exact", true)
		m.RecordMirrorFailure("upsert")
		m.RecordMirrorDropped()
		m.SetPatternsKnown(3)
		m.RecordCollaboratorCall("ok")
		m.RecordTurn("answered", 0.01)
	})
}

func TestRecord(t *testing.T) {
	m := New()

	before := value(t, m.RetrievalsTotal.WithLabelValues("semantic"))
	m.RecordRetrieval("semantic")
	assert.Equal(t, before+1, value(t, m.RetrievalsTotal.WithLabelValues("semantic")))

	emptyBefore := value(t, m.EmptyRetrievalsTotal)
	m.RecordRetrieval("")
	assert.Equal(t, emptyBefore+1, value(t, m.EmptyRetrievalsTotal))

	m.SetPatternsKnown(42)
	assert.Equal(t, 42.0, value(t, m.PatternsKnown))

	failBefore := value(t, m.LearningUpdatesTotal.WithLabelValues("keywords", "failure"))
	m.RecordLearningUpdate("keywords", false)
	assert.Equal(t, failBefore+1, value(t, m.LearningUpdatesTotal.WithLabelValues("keywords", "failure")))
}
