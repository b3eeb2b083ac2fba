package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowrule"

// Metrics are the prometheus collectors fed by the monitor.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	dropped    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with registerer when it is not nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Executions observed on the event bus by automation type and status.",
			},
			[]string{"type", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of finished executions by automation type.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"type"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_dropped_entries_total",
			Help:      "Execution log entries evicted because the log was full.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(m.executions, m.duration, m.dropped)
	}

	return m
}

func (m *Metrics) observe(entry *Entry) {
	m.executions.WithLabelValues(string(entry.Type), entry.Status).Inc()
	m.duration.WithLabelValues(string(entry.Type)).Observe(float64(entry.Duration) / 1000)
}
