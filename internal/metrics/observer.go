// Package metrics exposes Prometheus collectors for the scrape pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Observer records scrape lifecycle metrics. It implements the scrape
// worker's observer interface.
type Observer struct {
	jobsStarted     prometheus.Counter
	jobsCompleted   *prometheus.CounterVec
	jobsRunning     prometheus.Gauge
	scrapeDurations prometheus.Histogram
}

// NewObserver registers the collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func NewObserver(reg prometheus.Registerer) *Observer {
	factory := promauto.With(reg)
	return &Observer{
		jobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scrape_jobs_started_total",
			Help: "Total number of scrape executions started.",
		}),
		jobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_jobs_completed_total",
			Help: "Total number of scrape executions finished, labeled by result.",
		}, []string{"result"}),
		jobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scrape_jobs_running",
			Help: "Number of scrape executions currently in flight.",
		}),
		scrapeDurations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scrape_duration_seconds",
			Help:    "Histogram of scrape execution durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
	}
}

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (o *Observer) JobStarted(string) {
	o.jobsStarted.Inc()
	o.jobsRunning.Inc()
}

func (o *Observer) JobSucceeded(_ string, took time.Duration) {
	o.jobsRunning.Dec()
	o.jobsCompleted.WithLabelValues("success").Inc()
	o.scrapeDurations.Observe(took.Seconds())
}

func (o *Observer) JobFailed(_ string, took time.Duration, terminal bool) {
	o.jobsRunning.Dec()
	result := "retryable_failure"
	if terminal {
		result = "terminal_failure"
	}
	o.jobsCompleted.WithLabelValues(result).Inc()
	o.scrapeDurations.Observe(took.Seconds())
}
