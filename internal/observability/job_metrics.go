package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobCollector exposes metrics for periodic jobs driven by the ticker.
type JobCollector struct {
	gatherer prometheus.Gatherer

	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	LastSuccess *prometheus.GaugeVec
}

// NewJobCollector registers job metrics against the provided registerer.
func NewJobCollector(reg prometheus.Registerer) (*JobCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_job_runs_total",
		Help: "Periodic job executions, labeled by job and outcome.",
	}, []string{"job", "outcome"})
	runs, err := registerCounterVec(reg, runs, "orbit_job_runs_total")
	if err != nil {
		return nil, err
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orbit_job_duration_seconds",
		Help:    "Duration of periodic job executions.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
	}, []string{"job"})
	duration, err = registerHistogramVec(reg, duration, "orbit_job_duration_seconds")
	if err != nil {
		return nil, err
	}

	last := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orbit_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run of each job.",
	}, []string{"job"})
	last, err = registerGaugeVec(reg, last, "orbit_job_last_success_timestamp_seconds")
	if err != nil {
		return nil, err
	}

	return &JobCollector{
		gatherer:    gatherer,
		JobRuns:     runs,
		JobDuration: duration,
		LastSuccess: last,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *JobCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveJob records one run of job that finished at end after d.
func (c *JobCollector) ObserveJob(job string, end time.Time, d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else {
		c.LastSuccess.WithLabelValues(job).Set(float64(end.Unix()))
	}
	c.JobRuns.WithLabelValues(job, outcome).Inc()
	c.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}
