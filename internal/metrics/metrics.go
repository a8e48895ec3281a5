// Package metrics exports gateway call metrics in Prometheus format.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/howard-nolan/cardforge/internal/provider"
)

// Recorder implements provider.Observer. It owns its registry so tests and
// multiple servers in one process don't collide on the global one.
type Recorder struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	chunks   *prometheus.CounterVec
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardforge",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway calls by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cardforge",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Wall time of gateway calls, including the full stream for streaming calls.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "operation"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardforge",
			Subsystem: "gateway",
			Name:      "tokens_total",
			Help:      "Tokens reported by vendors, split into prompt and completion.",
		}, []string{"provider", "model", "kind"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardforge",
			Subsystem: "gateway",
			Name:      "stream_chunks_total",
			Help:      "Stream chunks delivered to callers.",
		}, []string{"provider"}),
	}
	r.registry.MustRegister(
		r.requests, r.duration, r.tokens, r.chunks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveCall records one finished gateway call.
func (r *Recorder) ObserveCall(info provider.CallInfo) {
	id, op := string(info.Provider), string(info.Operation)

	r.requests.WithLabelValues(id, op, Outcome(info.Err)).Inc()
	r.duration.WithLabelValues(id, op).Observe(info.Duration.Seconds())

	if info.Usage != nil {
		r.tokens.WithLabelValues(id, info.Model, "prompt").Add(float64(info.Usage.PromptTokens))
		r.tokens.WithLabelValues(id, info.Model, "completion").Add(float64(info.Usage.CompletionTokens))
	}
	if info.Chunks > 0 {
		r.chunks.WithLabelValues(id).Add(float64(info.Chunks))
	}
}

// Outcome buckets an error into a low-cardinality label value.
func Outcome(err error) string {
	var (
		cfgErr       *provider.ConfigError
		apiErr       *provider.APIError
		transportErr *provider.TransportError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, provider.ErrTimeout):
		return "timeout"
	case errors.As(err, &cfgErr):
		return "config_error"
	case errors.Is(err, provider.ErrInvalidRequest):
		return "invalid_request"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.As(err, &transportErr):
		return "transport_error"
	}
	return "error"
}

// Handler serves the registry for Prometheus to scrape.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
