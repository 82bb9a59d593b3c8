package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveJudge("status", time.Now(), nil)
	m.ObserveJudge("status", time.Now(), errors.New("boom"))
	m.Retry("status")
	m.Transition("process", nil)
	m.Progress(3, 48)
	m.SetWatchers(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JudgeRequests.WithLabelValues("status", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JudgeRequests.WithLabelValues("status", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JudgeRetries.WithLabelValues("status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("process", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Round))
	assert.Equal(t, 48.0, testutil.ToFloat64(m.LiveTeams))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Watchers))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveJudge("status", time.Now(), nil)
		m.Retry("status")
		m.Transition("process", nil)
		m.Progress(1, 48)
		m.SetWatchers(0)
	})
}
