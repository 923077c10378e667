package metrics

import (
	"net/http"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records finished extraction sessions. It implements
// extract.Observer.
type Metrics struct {
	registry   *prometheus.Registry
	sessions   *prometheus.CounterVec
	attempts   prometheus.Histogram
	violations *prometheus.CounterVec
	toolCalls  *prometheus.CounterVec
	lookups    *prometheus.CounterVec
	tokens     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ extract.Observer = (*Metrics)(nil)

// New registers the lkgb collectors together with the Go and process
// collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lkgb_sessions_total",
			Help: "Extraction sessions by final status.",
		}, []string{"status"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lkgb_attempts",
			Help:    "Attempts used per extraction session.",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lkgb_violations_total",
			Help: "Violations left in graphs that were not accepted, by kind.",
		}, []string{"kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lkgb_tool_calls_total",
			Help: "Tool calls made by the model, by tool.",
		}, []string{"tool"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lkgb_address_lookups_total",
			Help: "Address lookups by outcome.",
		}, []string{"outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lkgb_model_tokens_total",
			Help: "Model tokens consumed, by direction.",
		}, []string{"direction"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lkgb_session_duration_seconds",
			Help:    "Wall clock duration of extraction sessions.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessions, m.attempts, m.violations, m.toolCalls, m.lookups, m.tokens, m.duration,
	)
	return m
}

func (m *Metrics) SessionFinished(res *extract.Result) {
	status := string(res.Status)
	m.sessions.WithLabelValues(status).Inc()
	m.attempts.Observe(float64(res.Attempts))
	m.duration.WithLabelValues(status).Observe(res.Duration().Seconds())

	for _, v := range res.Violations {
		m.violations.WithLabelValues(string(v.Kind)).Inc()
	}
	for tool, n := range res.Tools.Calls {
		m.toolCalls.WithLabelValues(tool).Add(float64(n))
	}

	hits := res.Tools.CacheHits
	failed := res.Tools.LookupFailures
	m.lookups.WithLabelValues("cached").Add(float64(hits))
	m.lookups.WithLabelValues("failed").Add(float64(failed))
	m.lookups.WithLabelValues("resolved").Add(float64(max(res.Tools.Lookups-hits-failed, 0)))

	m.tokens.WithLabelValues("input").Add(float64(res.Metrics.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(res.Metrics.OutputTokens))
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
