package auth

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the auth counters
type Metrics struct {
	events       *prometheus.CounterVec
	tokensPruned prometheus.Counter
	gatherer     prometheus.Gatherer
}

// NewMetrics creates the counters and registers them with reg. A nil reg uses
// a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "blogauth",
				Name:      "events_total",
				Help:      "Auth activity events by type and outcome.",
			},
			[]string{"event", "outcome"},
		),
		tokensPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blogauth",
			Name:      "refresh_tokens_pruned_total",
			Help:      "Expired refresh tokens removed by cleanup.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.events, m.tokensPruned)
	return m
}

// Record implements ActivitySink.
func (m *Metrics) Record(_ context.Context, event ActivityEvent) error {
	outcome := string(event.Outcome)
	if outcome == "" {
		outcome = "ok"
	}
	m.events.WithLabelValues(string(event.EventType), outcome).Inc()
	return nil
}

// AddPrunedTokens counts tokens removed by a cleanup run
func (m *Metrics) AddPrunedTokens(n int64) {
	if n > 0 {
		m.tokensPruned.Add(float64(n))
	}
}

// EventCounter exposes the labelled event counter, mainly for tests
func (m *Metrics) EventCounter(event ActivityEventType, outcome string) prometheus.Counter {
	return m.events.WithLabelValues(string(event), outcome)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

var _ ActivitySink = (*Metrics)(nil)
