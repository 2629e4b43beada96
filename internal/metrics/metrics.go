// Package metrics exposes the service's Prometheus instruments. A nil
// *Registry is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voteagg"

type Registry struct {
	reg *prometheus.Registry

	votes          *prometheus.CounterVec
	evaluations    *prometheus.CounterVec
	submitAttempts prometheus.Histogram
	sweeps         *prometheus.CounterVec
	sweepDuration  *prometheus.HistogramVec
	running        prometheus.Gauge
	pending        prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Ballots recorded by intake.",
		}, []string{"subject_type"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Subject evaluations by disposition and reason.",
		}, []string{"disposition", "reason"}),
		submitAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_attempts",
			Help:      "Ledger submission attempts per decision.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Aggregation sweeps by trigger.",
		}, []string{"trigger"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of aggregation sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"trigger"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the periodic scheduler is running.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_subjects",
			Help:      "Subjects with unprocessed ballots at the last sweep.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.votes, r.evaluations, r.submitAttempts, r.sweeps, r.sweepDuration,
		r.running, r.pending, r.httpRequests, r.httpLatency,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) IncVote(subjectType string) {
	if r == nil {
		return
	}
	r.votes.WithLabelValues(subjectType).Inc()
}

func (r *Registry) ObserveEvaluation(disposition, reason string, attempts int) {
	if r == nil {
		return
	}
	r.evaluations.WithLabelValues(disposition, reason).Inc()
	if attempts > 0 {
		r.submitAttempts.Observe(float64(attempts))
	}
}

// ObserveSweep records a sweep; a negative pending count leaves the gauge alone.
func (r *Registry) ObserveSweep(trigger string, elapsed time.Duration, pending int) {
	if r == nil {
		return
	}
	r.sweeps.WithLabelValues(trigger).Inc()
	r.sweepDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
	if pending >= 0 {
		r.pending.Set(float64(pending))
	}
}

func (r *Registry) SetSchedulerRunning(running bool) {
	if r == nil {
		return
	}
	if running {
		r.running.Set(1)
	} else {
		r.running.Set(0)
	}
}

func (r *Registry) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}
