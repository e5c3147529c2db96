package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "censord"

// Dispatcher holds the collectors updated by the dispatcher. A nil *Dispatcher
// is valid and records nothing.
type Dispatcher struct {
	jobsTotal        *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	workers          prometheus.Gauge
	backlog          prometheus.Gauge
	evictionsTotal   prometheus.Counter
	registrations    *prometheus.CounterVec
}

func NewDispatcher(reg prometheus.Registerer) *Dispatcher {
	m := &Dispatcher{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "jobs_total",
				Help:      "Count of submitted jobs by outcome.",
			},
			[]string{"outcome"},
		),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "dispatch_duration_seconds",
				Help:      "Round-trip time of one dispatch to a worker.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		workers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "registered_workers",
				Help:      "Number of workers in the registry.",
			},
		),
		backlog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "backlog_jobs",
				Help:      "Jobs submitted but not yet completed.",
			},
		),
		evictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "worker_evictions_total",
				Help:      "Workers removed from the registry after a transport failure.",
			},
		),
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "registrations_total",
				Help:      "Register and unregister calls by status.",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(m.jobsTotal, m.dispatchDuration, m.workers, m.backlog, m.evictionsTotal, m.registrations)
	return m
}

func (m *Dispatcher) RecordJob(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.dispatchDuration.Observe(elapsed.Seconds())
	}
}

func (m *Dispatcher) SetWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}

func (m *Dispatcher) SetBacklog(n int64) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}

func (m *Dispatcher) RecordEviction() {
	if m == nil {
		return
	}
	m.evictionsTotal.Inc()
}

func (m *Dispatcher) RecordRegistration(status string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(status).Inc()
}

// Scaler holds the autoscaler collectors. A nil *Scaler records nothing.
type Scaler struct {
	desired       prometheus.Gauge
	running       prometheus.Gauge
	backlog       prometheus.Gauge
	actions       *prometheus.CounterVec
	observeErrors prometheus.Counter
}

func NewScaler(reg prometheus.Registerer) *Scaler {
	m := &Scaler{
		desired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scaler",
			Name:      "desired_workers",
			Help:      "Worker count computed on the last tick.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scaler",
			Name:      "running_workers",
			Help:      "Worker processes tracked by the autoscaler.",
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scaler",
			Name:      "observed_backlog",
			Help:      "Backlog depth seen on the last successful observation.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scaler",
			Name:      "actions_total",
			Help:      "Scale actions by direction and result.",
		}, []string{"direction", "result"}),
		observeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scaler",
			Name:      "observation_errors_total",
			Help:      "Ticks skipped because the backlog could not be read.",
		}),
	}
	reg.MustRegister(m.desired, m.running, m.backlog, m.actions, m.observeErrors)
	return m
}

func (m *Scaler) SetDesired(n int) {
	if m == nil {
		return
	}
	m.desired.Set(float64(n))
}

func (m *Scaler) SetRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

func (m *Scaler) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}

func (m *Scaler) RecordAction(direction, result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(direction, result).Inc()
}

func (m *Scaler) RecordObserveError() {
	if m == nil {
		return
	}
	m.observeErrors.Inc()
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
