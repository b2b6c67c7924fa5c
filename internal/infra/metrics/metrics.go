// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinicrew/internal/domain"
)

// Metrics holds the application collectors.
type Metrics struct {
	registry *prometheus.Registry

	Runs             *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	Terminations     *prometheus.CounterVec
	SpecialistErrors *prometheus.CounterVec
	RetrievalSearch  *prometheus.CounterVec
	RetrievalLatency *prometheus.HistogramVec
	ToolCalls        *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
}

// New registers all collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicrew_runs_total",
			Help: "Orchestrator runs started, by kind (plan or direct).",
		}, []string{"kind"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicrew_turns_total",
			Help: "Specialist turns completed.",
		}, []string{"specialist"}),
		Terminations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicrew_terminations_total",
			Help: "Runs stopped early, by reason.",
		}, []string{"reason"}),
		SpecialistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicrew_specialist_errors_total",
			Help: "Specialist invocations that failed.",
		}, []string{"specialist"}),
		RetrievalSearch: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicrew_retrieval_searches_total",
			Help: "Knowledge index searches, by index and match tier.",
		}, []string{"index", "tier"}),
		RetrievalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinicrew_retrieval_latency_seconds",
			Help:    "Knowledge index search latency including the embedding call.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"index"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicrew_tool_calls_total",
			Help: "Tool calls executed by specialists.",
		}, []string{"tool", "status"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "clinicrew_active_sessions",
			Help: "Sessions currently held in memory.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Subscribe feeds the collectors from bus events. It returns the
// unsubscribe function.
func (m *Metrics) Subscribe(bus domain.EventBus) func() {
	return bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		m.Observe(ev)
	})
}

// Observe updates collectors for a single event.
func (m *Metrics) Observe(ev domain.Event) {
	switch ev.Type {
	case domain.EventRunStarted:
		var p domain.RunPayload
		if decode(ev, &p) {
			m.Runs.WithLabelValues(p.Kind).Inc()
		}
	case domain.EventTurnCompleted:
		var p domain.TurnPayload
		if decode(ev, &p) {
			m.Turns.WithLabelValues(p.Specialist).Inc()
		}
	case domain.EventTerminated:
		var p domain.TurnPayload
		if decode(ev, &p) {
			m.Terminations.WithLabelValues(reasonOr(p.Reason, "phrase")).Inc()
		}
	case domain.EventMaxTurns:
		m.Terminations.WithLabelValues("max_turns").Inc()
	case domain.EventSpecialistFailed:
		var p domain.TurnPayload
		if decode(ev, &p) {
			m.SpecialistErrors.WithLabelValues(p.Specialist).Inc()
		}
	case domain.EventRetrievalSearch:
		var p domain.RetrievalPayload
		if decode(ev, &p) {
			m.RetrievalSearch.WithLabelValues(p.Index, reasonOr(p.Tier, "n/a")).Inc()
			m.RetrievalLatency.WithLabelValues(p.Index).Observe(p.Seconds)
		}
	case domain.EventToolCallCompleted:
		var p domain.ToolCallPayload
		if decode(ev, &p) {
			status := "ok"
			if p.IsError {
				status = "error"
			}
			m.ToolCalls.WithLabelValues(p.Tool, status).Inc()
		}
	case domain.EventSessionCreated:
		m.ActiveSessions.Inc()
	case domain.EventSessionDeleted:
		m.ActiveSessions.Dec()
	}
}

func decode(ev domain.Event, v any) bool {
	if len(ev.Payload) == 0 {
		return false
	}
	return json.Unmarshal(ev.Payload, v) == nil
}

func reasonOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
