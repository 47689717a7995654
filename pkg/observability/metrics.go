// Package observability holds the Prometheus instruments of the relay.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transcript outcomes.
const (
	OutcomeEmpty       = "empty"
	OutcomeBlocked     = "blocked"
	OutcomeWithContext = "with_context"
	OutcomeNoContext   = "no_context"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveCalls        prometheus.Gauge
	CallEvents         *prometheus.CounterVec
	Transcripts        *prometheus.CounterVec
	ModerationVerdicts *prometheus.CounterVec
	RetrievalLatency   prometheus.Histogram
	RetrievedPassages  prometheus.Histogram
	OutboundFrames     prometheus.Counter
	DroppedFrames      *prometheus.CounterVec
	EngineErrors       *prometheus.CounterVec
}

// NewMetrics registers the instruments on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of phone calls currently relayed.",
		}),
		CallEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle and media stream events by type.",
		}, []string{"event"}),
		Transcripts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Caller transcripts by orchestration outcome.",
		}, []string{"outcome"}),
		ModerationVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_verdicts_total",
			Help:      "Safety gate verdicts; failed counts fail-open or fail-closed fallbacks.",
		}, []string{"verdict"}),
		RetrievalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_latency_ms",
			Help:      "Knowledge retrieval latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 200, 400, 800, 1600, 4000},
		}),
		RetrievedPassages: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_passages",
			Help:      "Passages returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),
		OutboundFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_frames_total",
			Help:      "Assistant audio frames relayed to the phone.",
		}),
		DroppedFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Assistant audio frames not relayed, by reason.",
		}, []string{"reason"}),
		EngineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Errors reported by the dialogue engine by type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
	m.CallEvents.WithLabelValues("start").Inc()
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
	m.CallEvents.WithLabelValues("end").Inc()
}

func (m *Metrics) CallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) Transcript(outcome string) {
	if m == nil {
		return
	}
	m.Transcripts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ModerationVerdict(verdict string) {
	if m == nil {
		return
	}
	m.ModerationVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveRetrieval(d time.Duration, passages int) {
	if m == nil {
		return
	}
	m.RetrievalLatency.Observe(float64(d.Milliseconds()))
	m.RetrievedPassages.Observe(float64(passages))
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.OutboundFrames.Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) EngineError(kind string) {
	if m == nil {
		return
	}
	m.EngineErrors.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
