package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnsTotal    *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	turnRounds    prometheus.Histogram
	suspensions   *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	activeSession prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
	catalogTools          *prometheus.GaugeVec

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memeagent_turns_total",
					Help: "Total chat turns by status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memeagent_turn_duration_seconds",
					Help:    "Turn duration in seconds, including time spent waiting on the user.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
			),
			turnRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memeagent_turn_rounds",
					Help:    "Number of run/resume rounds per turn.",
					Buckets: []float64{1, 2, 3, 4, 6, 10},
				},
			),
			suspensions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memeagent_suspensions_total",
					Help: "Total suspensions observed by kind.",
				},
				[]string{"kind"},
			),
			decisions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memeagent_decisions_total",
					Help: "Total suspension decisions by kind and outcome.",
				},
				[]string{"kind", "outcome"},
			),
			activeSession: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memeagent_pending_sessions",
					Help: "Sessions with a suspended turn awaiting decisions.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memeagent_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memeagent_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memeagent_tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			catalogTools: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "memeagent_catalog_tools",
					Help: "Tools loaded into the catalog by source.",
				},
				[]string{"source"},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memeagent_model_call_total",
					Help: "Total model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memeagent_model_call_duration_seconds",
					Help:    "Model call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.turnsTotal,
			m.turnDuration,
			m.turnRounds,
			m.suspensions,
			m.decisions,
			m.activeSession,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.catalogTools,
			m.modelCallTotal,
			m.modelCallDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordTurn(duration time.Duration, rounds int, success bool) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(statusLabel(success)).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.turnRounds.Observe(float64(rounds))
}

func RecordSuspension(kind string) {
	getMetrics().suspensions.WithLabelValues(kind).Inc()
}

func RecordDecision(kind string, authorized bool) {
	outcome := "denied"
	if authorized {
		outcome = "authorized"
	}
	getMetrics().decisions.WithLabelValues(kind, outcome).Inc()
}

func SetPendingSessions(count int) {
	getMetrics().activeSession.Set(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func SetCatalogTools(source string, count int) {
	getMetrics().catalogTools.WithLabelValues(source).Set(float64(count))
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
