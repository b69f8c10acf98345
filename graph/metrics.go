package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics under the "questforge"
// namespace:
//
//   - step_latency_ms (histogram): node duration by node_id and status
//   - steps_total (counter): completed steps by node_id
//   - turns_total (counter): finished turns by outcome (completed, paused, error)
//   - resumes_total (counter): resumes by kind (approve, patch)
//   - retries_total (counter): node retries by node_id and reason
//   - inflight_turns (gauge): turns currently running
//
// Expose them with promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	stepLatency *prometheus.HistogramVec
	steps       *prometheus.CounterVec
	turns       *prometheus.CounterVec
	resumes     *prometheus.CounterVec
	retries     *prometheus.CounterVec
	inflight    prometheus.Gauge
}

// NewPrometheusMetrics registers the engine metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "questforge",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node_id", "status"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questforge",
			Name:      "steps_total",
			Help:      "Steps whose checkpoint was persisted",
		}, []string{"node_id"}),
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questforge",
			Name:      "turns_total",
			Help:      "Turns by terminal outcome",
		}, []string{"outcome"}),
		resumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questforge",
			Name:      "resumes_total",
			Help:      "Resumed threads by kind",
		}, []string{"kind"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questforge",
			Name:      "retries_total",
			Help:      "Node retry attempts",
		}, []string{"node_id", "reason"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "questforge",
			Name:      "inflight_turns",
			Help:      "Turns currently executing",
		}),
	}
}

// RecordStepLatency observes a node's duration. status is "success",
// "error" or "timeout".
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if pm == nil {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementSteps counts a persisted step.
func (pm *PrometheusMetrics) IncrementSteps(nodeID string) {
	if pm == nil {
		return
	}
	pm.steps.WithLabelValues(nodeID).Inc()
}

// IncrementTurns counts a finished turn.
func (pm *PrometheusMetrics) IncrementTurns(outcome string) {
	if pm == nil {
		return
	}
	pm.turns.WithLabelValues(outcome).Inc()
}

// IncrementResumes counts a resume.
func (pm *PrometheusMetrics) IncrementResumes(kind string) {
	if pm == nil {
		return
	}
	pm.resumes.WithLabelValues(kind).Inc()
}

// IncrementRetries counts a node retry.
func (pm *PrometheusMetrics) IncrementRetries(nodeID, reason string) {
	if pm == nil {
		return
	}
	pm.retries.WithLabelValues(nodeID, reason).Inc()
}

func (pm *PrometheusMetrics) turnStarted() {
	if pm == nil {
		return
	}
	pm.inflight.Inc()
}

func (pm *PrometheusMetrics) turnFinished() {
	if pm == nil {
		return
	}
	pm.inflight.Dec()
}
