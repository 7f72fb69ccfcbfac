package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus collectors of a run.
type Metrics struct {
	workersStarted  *prometheus.CounterVec
	workersFailed   *prometheus.CounterVec
	frames          *prometheus.CounterVec
	missing         prometheus.Gauge
	crossDuplicates prometheus.Gauge
	throughput      prometheus.Gauge
	duration        prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		workersStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipcbench",
			Name:      "workers_started_total",
			Help:      "Workers started, by role.",
		}, []string{"role"}),
		workersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipcbench",
			Name:      "workers_failed_total",
			Help:      "Workers that exited unsuccessfully, by role and reason.",
		}, []string{"role", "reason"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipcbench",
			Name:      "frames_total",
			Help:      "Frames observed by consumers, by classification.",
		}, []string{"class"}),
		missing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipcbench",
			Name:      "missing_messages",
			Help:      "Messages of the last run no consumer accepted.",
		}),
		crossDuplicates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipcbench",
			Name:      "cross_consumer_duplicates",
			Help:      "Messages of the last run accepted by more than one consumer.",
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipcbench",
			Name:      "throughput_messages_per_second",
			Help:      "Throughput of the last run.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ipcbench",
			Name:      "run_duration_seconds",
			Help:      "Wall time from the first worker start to the last consumer exit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	reg.MustRegister(m.workersStarted, m.workersFailed, m.frames,
		m.missing, m.crossDuplicates, m.throughput, m.duration)
	return m
}

func (m *Metrics) observe(r *Result) {
	t := r.Summary.Totals
	m.frames.WithLabelValues("received").Add(float64(t.TotalReceived))
	m.frames.WithLabelValues("duplicate").Add(float64(t.Duplicates))
	m.frames.WithLabelValues("out_of_range").Add(float64(t.OutOfRange))
	m.frames.WithLabelValues("malformed").Add(float64(t.Malformed))
	m.frames.WithLabelValues("corrupted").Add(float64(t.Corrupted))
	m.frames.WithLabelValues("reordered").Add(float64(t.Reordered))
	m.missing.Set(float64(r.Summary.Missing))
	m.crossDuplicates.Set(float64(r.Summary.CrossDuplicates))
	m.throughput.Set(r.Throughput())
	m.duration.Observe(r.Elapsed.Seconds())
}

