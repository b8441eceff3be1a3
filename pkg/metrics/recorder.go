// Package metrics provides Prometheus-based metrics recording for
// orchestrator runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records orchestration metrics. Implementations must be safe for
// concurrent use from lane goroutines.
type Recorder interface {
	ObservePlan(mode string)
	ObserveDispatch(domain, outcome string, duration time.Duration)
	ObserveMerge(domain string, conflicted bool, duration time.Duration)
	ObserveValidation(outcome string, attempt int, duration time.Duration)
	ObserveTerminal(status string)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) ObservePlan(string)                                {}
func (NopRecorder) ObserveDispatch(string, string, time.Duration)     {}
func (NopRecorder) ObserveMerge(string, bool, time.Duration)          {}
func (NopRecorder) ObserveValidation(string, int, time.Duration)      {}
func (NopRecorder) ObserveTerminal(string)                            {}

// PrometheusRecorder implements Recorder on Prometheus collectors.
type PrometheusRecorder struct {
	plansTotal         *prometheus.CounterVec
	dispatchesTotal    *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
	mergesTotal        *prometheus.CounterVec
	mergeDuration      *prometheus.HistogramVec
	validationsTotal   *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	terminalTotal      *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder registered on the default
// Prometheus registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		plansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laneflow_plans_total",
				Help: "Total number of execution plans by mode",
			},
			[]string{"mode"},
		),
		dispatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laneflow_dispatches_total",
				Help: "Total number of lane dispatches by domain and outcome",
			},
			[]string{"domain", "outcome"},
		),
		dispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laneflow_dispatch_duration_seconds",
				Help:    "Duration of lane dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"domain"},
		),
		mergesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laneflow_merges_total",
				Help: "Total number of lane merges by domain and result",
			},
			[]string{"domain", "result"},
		),
		mergeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laneflow_merge_duration_seconds",
				Help:    "Duration of lane merges in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"domain"},
		),
		validationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laneflow_validation_attempts_total",
				Help: "Total number of validation attempts by outcome",
			},
			[]string{"outcome"},
		),
		validationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laneflow_validation_duration_seconds",
				Help:    "Duration of validation attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		terminalTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laneflow_work_items_terminal_total",
				Help: "Total number of work items reaching a terminal status",
			},
			[]string{"status"},
		),
	}
}

func (p *PrometheusRecorder) ObservePlan(mode string) {
	p.plansTotal.WithLabelValues(mode).Inc()
}

func (p *PrometheusRecorder) ObserveDispatch(domain, outcome string, duration time.Duration) {
	p.dispatchesTotal.WithLabelValues(domain, outcome).Inc()
	p.dispatchDuration.WithLabelValues(domain).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveMerge(domain string, conflicted bool, duration time.Duration) {
	result := "merged"
	if conflicted {
		result = "conflict"
	}
	p.mergesTotal.WithLabelValues(domain, result).Inc()
	p.mergeDuration.WithLabelValues(domain).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveValidation(outcome string, _ int, duration time.Duration) {
	p.validationsTotal.WithLabelValues(outcome).Inc()
	p.validationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveTerminal(status string) {
	p.terminalTotal.WithLabelValues(status).Inc()
}
