package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the tournament collectors. A nil *Metrics records nothing.
type Metrics struct {
	JudgeRequests *prometheus.CounterVec
	JudgeLatency  *prometheus.HistogramVec
	JudgeRetries  *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Round         prometheus.Gauge
	LiveTeams     prometheus.Gauge
	Watchers      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JudgeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tournament",
			Name:      "judge_requests_total",
			Help:      "Requests to the judging system by operation and result.",
		}, []string{"op", "result"}),
		JudgeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tournament",
			Name:      "judge_request_seconds",
			Help:      "Latency of judging system requests, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		JudgeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tournament",
			Name:      "judge_retries_total",
			Help:      "Retried judging system requests.",
		}, []string{"op"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tournament",
			Name:      "transitions_total",
			Help:      "Operator commands by command and result.",
		}, []string{"command", "result"}),
		Round: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tournament",
			Name:      "round",
			Help:      "Current round.",
		}),
		LiveTeams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tournament",
			Name:      "live_teams",
			Help:      "Teams still in the bracket.",
		}),
		Watchers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tournament",
			Name:      "watchers",
			Help:      "Connected live feed clients.",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveJudge(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.JudgeRequests.WithLabelValues(op, result(err)).Inc()
	m.JudgeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}
	m.JudgeRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) Transition(command string, err error) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(command, result(err)).Inc()
}

func (m *Metrics) Progress(round, live int) {
	if m == nil {
		return
	}
	m.Round.Set(float64(round))
	m.LiveTeams.Set(float64(live))
}

func (m *Metrics) SetWatchers(n int) {
	if m == nil {
		return
	}
	m.Watchers.Set(float64(n))
}
