// Package metrics exposes the Prometheus collectors recorded by the
// completion pipeline. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for RequestsTotal.
const (
	OutcomeOK            = "ok"
	OutcomeInputError    = "input_error"
	OutcomeProviderError = "provider_error"
	OutcomeCancelled     = "cancelled"
)

// OtherModel labels requests for models outside the catalog, keeping the
// model label bounded.
const OtherModel = "other"

// Request modes.
const (
	ModeStream   = "stream"
	ModeComplete = "complete"
)

// LLMBuckets covers provider latencies from 100ms to two minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Recorder groups the collectors for one registry.
type Recorder struct {
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	streamChunks    *prometheus.CounterVec
	detailIgnored   prometheus.Counter
	inputRejections *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them with reg.
func New(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Chat completion requests by model, mode and outcome",
			},
			[]string{"model", "mode", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Time until the provider answered or opened the stream",
				Buckets:   LLMBuckets,
			},
			[]string{"model", "mode"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_tokens_total",
				Help:      "Tokens reported by the provider by direction",
			},
			[]string{"model", "direction"},
		),
		streamChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_chunks_total",
				Help:      "Chunks emitted on streaming responses",
			},
			[]string{"model"},
		),
		detailIgnored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_detail_ignored_total",
				Help:      "Requests whose image detail hints were ignored",
			},
		),
		inputRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "input_rejections_total",
				Help:      "Requests rejected before reaching the provider",
			},
			[]string{"reason"},
		),
	}

	collectors := []prometheus.Collector{
		r.requests,
		r.latency,
		r.tokens,
		r.streamChunks,
		r.detailIgnored,
		r.inputRejections,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveRequest counts one finished request.
func (r *Recorder) ObserveRequest(model, mode, outcome string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(model, mode, outcome).Inc()
}

// ObserveLatency records how long the provider took to respond.
func (r *Recorder) ObserveLatency(model, mode string, d time.Duration) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(model, mode).Observe(d.Seconds())
}

// AddTokens records usage reported by the provider.
func (r *Recorder) AddTokens(model string, input, output int) {
	if r == nil {
		return
	}
	if input > 0 {
		r.tokens.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		r.tokens.WithLabelValues(model, "output").Add(float64(output))
	}
}

// StreamChunk counts one emitted streaming chunk.
func (r *Recorder) StreamChunk(model string) {
	if r == nil {
		return
	}
	r.streamChunks.WithLabelValues(model).Inc()
}

// DetailIgnored counts a request carrying unsupported image detail hints.
func (r *Recorder) DetailIgnored() {
	if r == nil {
		return
	}
	r.detailIgnored.Inc()
}

// InputRejected counts a request refused before dispatch.
func (r *Recorder) InputRejected(reason string) {
	if r == nil {
		return
	}
	r.inputRejections.WithLabelValues(reason).Inc()
}
