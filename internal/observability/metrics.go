// Package observability provides Prometheus metrics and health reporting
// for a swarm run.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "swarm"

// Admission results.
const (
	AdmissionAdmitted = "admitted"
	AdmissionSkipped  = "skipped"
)

// Metrics holds every collector the scheduler and runners update. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Scheduler
	SlotsOccupied prometheus.Gauge
	Admissions    *prometheus.CounterVec

	// Runner
	Outcomes           *prometheus.CounterVec
	Actions            *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	ExecutorLatency    *prometheus.HistogramVec
}

// NewMetrics registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SlotsOccupied: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "slots_occupied",
			Help:      "Runner slots currently in use",
		}),
		Admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "admissions_total",
			Help:      "Accounts admitted to a slot or skipped on admission timeout",
		}, []string{"result"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "outcomes_total",
			Help:      "Terminal account outcomes",
		}, []string{"venue", "status"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "actions_total",
			Help:      "Executed actions by kind and result",
		}, []string{"venue", "kind", "result"}),
		GenerationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "generation_failures_total",
			Help:      "Actions the generator could not produce",
		}, []string{"venue"}),
		ExecutorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "latency_seconds",
			Help:      "Executor call latency in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"venue"}),
	}
}

// SlotAcquired marks one more occupied slot.
func (m *Metrics) SlotAcquired() {
	if m == nil {
		return
	}
	m.SlotsOccupied.Inc()
}

// SlotReleased marks one slot freed.
func (m *Metrics) SlotReleased() {
	if m == nil {
		return
	}
	m.SlotsOccupied.Dec()
}

// RecordAdmission counts an admission result.
func (m *Metrics) RecordAdmission(result string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(result).Inc()
}

// RecordOutcome counts a terminal outcome.
func (m *Metrics) RecordOutcome(venue, status string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(venue, status).Inc()
}

// RecordAction records one executor call.
func (m *Metrics) RecordAction(venue, kind string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Actions.WithLabelValues(venue, kind, result).Inc()
	m.ExecutorLatency.WithLabelValues(venue).Observe(took.Seconds())
}

// RecordGenerationFailure counts an unknown action.
func (m *Metrics) RecordGenerationFailure(venue string) {
	if m == nil {
		return
	}
	m.GenerationFailures.WithLabelValues(venue).Inc()
}
