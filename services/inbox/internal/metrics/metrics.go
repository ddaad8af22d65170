// Package metrics exposes Prometheus counters for the inbound pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the inbox collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	InboundTotal   *prometheus.CounterVec
	StageOutcomes  *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	Orchestrations *prometheus.CounterVec
	LimiterErrors  *prometheus.CounterVec
}

// New builds and registers the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		InboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lessonhub",
				Subsystem: "inbox",
				Name:      "inbound_messages_total",
				Help:      "Inbound messages received by the bridge",
			},
			[]string{"channel", "result"},
		),
		StageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lessonhub",
				Subsystem: "inbox",
				Name:      "stage_outcomes_total",
				Help:      "Pipeline stage outcomes by stage and outcome tag",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lessonhub",
				Subsystem: "inbox",
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 4, 8, 16},
			},
			[]string{"stage"},
		),
		Orchestrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lessonhub",
				Subsystem: "inbox",
				Name:      "orchestrations_total",
				Help:      "Completed orchestrations by result",
			},
			[]string{"result", "skip_reason"},
		),
		LimiterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lessonhub",
				Subsystem: "inbox",
				Name:      "rate_limiter_errors_total",
				Help:      "Inbound messages admitted without a rate-limit decision",
			},
			[]string{"channel"},
		),
	}
	m.registry.MustRegister(
		m.InboundTotal,
		m.StageOutcomes,
		m.StageDuration,
		m.Orchestrations,
		m.LimiterErrors,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveInbound(channel, result string) {
	if m == nil {
		return
	}
	m.InboundTotal.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObserveStage(stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveOrchestration(drafted bool, skipReason string) {
	if m == nil {
		return
	}
	result := "skipped"
	if drafted {
		result = "drafted"
	}
	m.Orchestrations.WithLabelValues(result, skipReason).Inc()
}

// ObserveLimiterError counts an inbound message let through because the
// limiter could not decide.
func (m *Metrics) ObserveLimiterError(channel string) {
	if m == nil {
		return
	}
	m.LimiterErrors.WithLabelValues(channel).Inc()
}
