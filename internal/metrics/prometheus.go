package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace for all Prometheus metrics.
const metricsNamespace = "tripsync"

// Prometheus holds the exported counters and gauges for jobs and consistency checks.
//
// All operations are thread-safe via Prometheus's internal locking. A nil *Prometheus
// is valid and records nothing, which keeps tests free of registry setup.
type Prometheus struct {
	// JobsCreated counts accepted jobs. Labels: kind
	JobsCreated *prometheus.CounterVec

	// JobsFinished counts jobs reaching a terminal status. Labels: kind, status
	JobsFinished *prometheus.CounterVec

	// JobsRunning tracks jobs currently holding an execution slot. Labels: kind
	JobsRunning *prometheus.GaugeVec

	// JobDuration measures wall time from start to terminal status. Labels: kind, status
	JobDuration *prometheus.HistogramVec

	// ProviderCalls counts travel-time provider calls. Labels: outcome (ok, error, cached)
	ProviderCalls *prometheus.CounterVec

	// ConsistencyNotes counts classifications written to steps. Labels: note
	ConsistencyNotes *prometheus.CounterVec
}

// NewPrometheus creates the instruments and registers them with reg.
// Passing prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		JobsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "jobs",
				Name:      "created_total",
				Help:      "Total number of jobs accepted by kind",
			},
			[]string{"kind"},
		),
		JobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "jobs",
				Name:      "finished_total",
				Help:      "Total number of jobs reaching a terminal status",
			},
			[]string{"kind", "status"},
		),
		JobsRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "jobs",
				Name:      "running",
				Help:      "Number of jobs currently running",
			},
			[]string{"kind"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Job run time from start to terminal status",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind", "status"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "travel",
				Name:      "provider_calls_total",
				Help:      "Travel-time provider calls by outcome",
			},
			[]string{"outcome"},
		),
		ConsistencyNotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "consistency",
				Name:      "notes_total",
				Help:      "Consistency classifications written to steps",
			},
			[]string{"note"},
		),
	}

	reg.MustRegister(
		p.JobsCreated,
		p.JobsFinished,
		p.JobsRunning,
		p.JobDuration,
		p.ProviderCalls,
		p.ConsistencyNotes,
	)
	return p
}

// JobCreated records an accepted job.
func (p *Prometheus) JobCreated(kind string) {
	if p == nil {
		return
	}
	p.JobsCreated.WithLabelValues(kind).Inc()
}

// JobStarted increments the running gauge.
func (p *Prometheus) JobStarted(kind string) {
	if p == nil {
		return
	}
	p.JobsRunning.WithLabelValues(kind).Inc()
}

// JobFinished records a terminal transition of a job that had started.
func (p *Prometheus) JobFinished(kind, status string, seconds float64, started bool) {
	if p == nil {
		return
	}
	if started {
		p.JobsRunning.WithLabelValues(kind).Dec()
		p.JobDuration.WithLabelValues(kind, status).Observe(seconds)
	}
	p.JobsFinished.WithLabelValues(kind, status).Inc()
}

// ProviderCall records the outcome of a travel-time lookup.
func (p *Prometheus) ProviderCall(outcome string) {
	if p == nil {
		return
	}
	p.ProviderCalls.WithLabelValues(outcome).Inc()
}

// ConsistencyNote records a classification written to a step.
func (p *Prometheus) ConsistencyNote(note string) {
	if p == nil {
		return
	}
	p.ConsistencyNotes.WithLabelValues(note).Inc()
}
