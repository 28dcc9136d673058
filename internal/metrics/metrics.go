// Package metrics exposes the gateway's ambient observability surface —
// request/token/cost counters and an inference-duration histogram — over
// the standard Prometheus text exposition format. This is ambient
// observability, not the admin/attestation surface the spec excludes, so
// it stays in scope.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the gateway's Prometheus collectors. A nil *Recorder is
// safe to call every method on — callers that don't wire metrics (e.g. a
// unit test) don't need a no-op stand-in.
type Recorder struct {
	requestsTotal    *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	costNanoUSDTotal *prometheus.CounterVec
	inferenceSeconds *prometheus.HistogramVec
}

// New registers the gateway's collectors against reg and returns a
// Recorder. Pass prometheus.NewRegistry() for an isolated registry (tests)
// or prometheus.DefaultRegisterer to expose alongside Go runtime metrics.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "requests_total",
			Help:      "Completion requests handled, by model and terminal status.",
		}, []string{"model", "status"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "tokens_total",
			Help:      "Tokens accounted, by model and direction (prompt|completion).",
		}, []string{"model", "direction"}),
		costNanoUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "cost_nano_usd_total",
			Help:      "Inference cost accounted, in nano-USD, by model.",
		}, []string{"model"}),
		inferenceSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmgateway",
			Name:      "inference_duration_seconds",
			Help:      "Wall-clock duration of a completion request, from dispatch to usage recording.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model", "status"}),
	}
}

// ObserveUsage records one completed or failed inference: the request
// counter, token counters, cost counter, and the duration histogram —
// called once per inference, from the same place usage is recorded
// (§4.D step 6-7, §4.F), regardless of whether the stream ended
// naturally, the client disconnected, or the upstream errored.
func (r *Recorder) ObserveUsage(model, status string, promptTokens, completionTokens int, costNanoUSD int64, duration time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(model, status).Inc()
	r.tokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	r.tokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	r.costNanoUSDTotal.WithLabelValues(model).Add(float64(costNanoUSD))
	r.inferenceSeconds.WithLabelValues(model, status).Observe(duration.Seconds())
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
