package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"docgen/models"
)

// Metrics exposes pool activity through a Prometheus registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	jobsTotal   *prometheus.CounterVec
	rejected    prometheus.Counter
	queueLength prometheus.Gauge
	runningJobs prometheus.Gauge
	duration    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docgen",
			Name:      "conversions_total",
			Help:      "Conversion jobs by terminal outcome",
		}, []string{"outcome"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docgen",
			Name:      "conversions_rejected_total",
			Help:      "Submissions rejected because the queue was full",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docgen",
			Name:      "queue_length",
			Help:      "Conversion jobs waiting for a free slot",
		}),
		runningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docgen",
			Name:      "running_jobs",
			Help:      "Conversion jobs currently holding a slot",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docgen",
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of engine conversions",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	reg.MustRegister(m.jobsTotal, m.rejected, m.queueLength, m.runningJobs, m.duration)
	return m
}

func (m *Metrics) jobSubmitted(queueLen int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(queueLen))
}

func (m *Metrics) jobRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) jobStarted(queueLen int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(queueLen))
	m.runningJobs.Inc()
}

func (m *Metrics) jobFinished(job *models.ConversionJob, queueLen int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(queueLen))
	if job.StartedAt != nil {
		m.runningJobs.Dec()
		m.duration.Observe(job.Duration().Seconds())
	}
	m.jobsTotal.WithLabelValues(string(job.State)).Inc()
}
