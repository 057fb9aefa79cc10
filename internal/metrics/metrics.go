package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeRelayed = "relayed"
	OutcomeOffline = "offline"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
)

type Metrics struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	dispatch     *prometheus.CounterVec
	liveSessions prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dm_operations_total",
			Help: "Message lifecycle operations by result kind.",
		}, []string{"op", "result"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dm_dispatch_total",
			Help: "Live event dispatch attempts by outcome.",
		}, []string{"event", "outcome"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dm_live_sessions",
			Help: "Live sessions held by this instance.",
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.dispatch,
		m.liveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Operation counts one lifecycle call. result is "ok" or an error code.
func (m *Metrics) Operation(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Dispatch(event, outcome string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.liveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.liveSessions.Dec()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
