// Package metrics exports transfer gate activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vanshika/walletgate/internal/domain"
	"github.com/vanshika/walletgate/internal/gate"
)

const namespace = "walletgate"

// Recorder implements gate.Recorder on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	decisions           *prometheus.CounterVec
	latency             *prometheus.HistogramVec
	requeues            *prometheus.CounterVec
	requeueAttempts     prometheus.Histogram
	persistenceFailures *prometheus.CounterVec
	inFlight            prometheus.Gauge
}

var _ gate.Recorder = (*Recorder)(nil)

// NewRecorder builds a Recorder. Go runtime and process collectors are
// registered alongside the gate series.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Terminal decisions reached by the transfer gate.",
		}, []string{"decision", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "evaluation_seconds",
			Help:      "Time spent evaluating a transfer request, including registry writes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"decision"}),
		requeues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "requeues_total",
			Help:      "Requests requeued because their sender was busy.",
		}, []string{"outcome"}),
		requeueAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "requeue_attempt",
			Help:      "Delivery attempt at which a request was requeued.",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "persistence_failures_total",
			Help:      "Decisions whose registry writes did not complete.",
		}, []string{"decision"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "sellers_in_flight",
			Help:      "Sellers currently holding an evaluation slot.",
		}),
	}
	r.registry.MustRegister(
		r.decisions,
		r.latency,
		r.requeues,
		r.requeueAttempts,
		r.persistenceFailures,
		r.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveDecision(decision gate.Decision, reason domain.BlockageReason, elapsed time.Duration) {
	label := string(reason)
	if label == "" {
		label = "none"
	}
	r.decisions.WithLabelValues(string(decision), label).Inc()
	r.latency.WithLabelValues(string(decision)).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveRequeue(attempt int, dropped bool) {
	outcome := "scheduled"
	if dropped {
		outcome = "dropped"
	}
	r.requeues.WithLabelValues(outcome).Inc()
	r.requeueAttempts.Observe(float64(attempt))
}

func (r *Recorder) ObservePersistenceFailure(decision gate.Decision) {
	r.persistenceFailures.WithLabelValues(string(decision)).Inc()
}

func (r *Recorder) SetInFlight(n int) {
	r.inFlight.Set(float64(n))
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
