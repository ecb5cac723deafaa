package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "delver"
	}
}

// Metrics provides Prometheus metrics collection for the agent runtime.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmRetries      *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec
	toolCacheHits    *prometheus.CounterVec

	agentRounds     *prometheus.CounterVec
	agentRuns       *prometheus.CounterVec
	agentActiveRuns prometheus.Gauge

	sessionsCreated    prometheus.Counter
	sessionEventsTotal prometheus.Counter
}

// NewMetrics creates a new Metrics instance from configuration.
// Returns nil when metrics are disabled.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	ns := cfg.Namespace

	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "llm_calls_total",
		Help:      "Total LLM chat-completion calls.",
	}, []string{"model"})
	m.llmCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "llm_call_duration_seconds",
		Help:      "LLM call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"model"})
	m.llmRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "llm_retries_total",
		Help:      "Total LLM call retry attempts.",
	}, []string{"model"})
	m.llmErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "llm_errors_total",
		Help:      "Total failed LLM calls after retries.",
	}, []string{"model"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "tool_calls_total",
		Help:      "Total tool executions.",
	}, []string{"tool"})
	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool execution latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"tool"})
	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "tool_errors_total",
		Help:      "Total failed tool executions.",
	}, []string{"tool"})
	m.toolCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "tool_cache_hits_total",
		Help:      "Idempotent tool-call cache hits.",
	}, []string{"tool"})

	m.agentRounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "agent_rounds_total",
		Help:      "Total agent loop rounds.",
	}, []string{"agent"})
	m.agentRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "agent_runs_total",
		Help:      "Total agent runs by termination status.",
	}, []string{"agent", "termination"})
	m.agentActiveRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "agent_active_runs",
		Help:      "Currently running agent loops.",
	})

	m.sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "sessions_created_total",
		Help:      "Total sessions created.",
	})
	m.sessionEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "session_events_total",
		Help:      "Total progress events recorded.",
	})

	m.registry.MustRegister(
		m.llmCalls, m.llmCallDuration, m.llmRetries, m.llmErrors,
		m.toolCalls, m.toolCallDuration, m.toolErrors, m.toolCacheHits,
		m.agentRounds, m.agentRuns, m.agentActiveRuns,
		m.sessionsCreated, m.sessionEventsTotal,
	)

	return m, nil
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordLLMCall records one LLM call with its duration and outcome.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model).Inc()
	m.llmCallDuration.WithLabelValues(model).Observe(duration.Seconds())
	if err != nil {
		m.llmErrors.WithLabelValues(model).Inc()
	}
}

// RecordLLMRetry records one retry attempt.
func (m *Metrics) RecordLLMRetry(ctx context.Context, model string) {
	if m == nil {
		return
	}
	m.llmRetries.WithLabelValues(model).Inc()
}

// RecordToolExecution records one tool execution with its outcome.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if err != nil {
		m.toolErrors.WithLabelValues(tool).Inc()
	}
}

// RecordToolCacheHit records an idempotent-cache short circuit.
func (m *Metrics) RecordToolCacheHit(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.toolCacheHits.WithLabelValues(tool).Inc()
}

// RecordRound records one agent loop round.
func (m *Metrics) RecordRound(ctx context.Context, agent string) {
	if m == nil {
		return
	}
	m.agentRounds.WithLabelValues(agent).Inc()
}

// RecordRun records a finished agent run.
func (m *Metrics) RecordRun(ctx context.Context, agent, termination string) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(agent, termination).Inc()
}

// RunStarted and RunFinished track the active-run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.agentActiveRuns.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.agentActiveRuns.Dec()
}

// RecordSessionCreated increments the session counter.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// RecordSessionEvent increments the event counter.
func (m *Metrics) RecordSessionEvent() {
	if m == nil {
		return
	}
	m.sessionEventsTotal.Inc()
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// SetGlobalMetrics installs the process-wide metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics instance; nil when
// metrics are disabled. All Record* methods are nil-safe.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}
