package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Counters
	tasksEnqueued   prometheus.Counter
	tasksDispatched prometheus.Counter
	tasksCompleted  *prometheus.CounterVec
	tasksLost       prometheus.Counter
	tasksRequeued   prometheus.Counter
	relays          *prometheus.CounterVec
	relaysDropped   *prometheus.CounterVec

	// Gauges
	tasksPending       prometheus.Gauge
	workerConnected    prometheus.Gauge
	observersConnected prometheus.Gauge

	// Histograms
	taskDuration prometheus.Histogram
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_tasks_enqueued_total",
				Help: "Total number of tasks accepted into the queue",
			},
		),
		tasksDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_tasks_dispatched_total",
				Help: "Total number of tasks forwarded to the worker",
			},
		),
		tasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tasks_completed_total",
				Help: "Total number of tasks reported finished by the worker",
			},
			[]string{"status"},
		),
		tasksLost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_tasks_lost_total",
				Help: "Tasks in flight when the worker disconnected or was replaced",
			},
		),
		tasksRequeued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_tasks_requeued_total",
				Help: "Lost tasks put back at the head of the queue",
			},
		),
		relays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_forwarded_total",
				Help: "Relayed side-channel messages",
			},
			[]string{"kind"},
		),
		relaysDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_dropped_total",
				Help: "Side-channel messages dropped because no worker is registered",
			},
			[]string{"kind"},
		),
		tasksPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_tasks_pending",
				Help: "Current number of queued tasks",
			},
		),
		workerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_worker_connected",
				Help: "1 if a worker is registered, 0 otherwise",
			},
		),
		observersConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_observers_connected",
				Help: "Number of observer connections",
			},
		),
		taskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_task_duration_seconds",
				Help:    "Time from dispatch to completion report",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
	}

	reg.MustRegister(
		m.tasksEnqueued,
		m.tasksDispatched,
		m.tasksCompleted,
		m.tasksLost,
		m.tasksRequeued,
		m.relays,
		m.relaysDropped,
		m.tasksPending,
		m.workerConnected,
		m.observersConnected,
		m.taskDuration,
	)

	return m
}
