// Package metrics holds the prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine collectors so tests can use a private registry.
type Metrics struct {
	StepAttempts    *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	LimiterInFlight prometheus.Gauge
	LimiterWait     prometheus.Histogram
	LimiterTimeouts prometheus.Counter
	RunsFinished    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lookflow",
			Name:      "step_attempts_total",
			Help:      "Step attempts by step name and recorded status.",
		}, []string{"step", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lookflow",
			Name:      "step_duration_seconds",
			Help:      "Handler duration per step attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"step"}),
		LimiterInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lookflow",
			Name:      "limiter_in_flight",
			Help:      "Model calls currently holding a limiter token.",
		}),
		LimiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lookflow",
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting for a limiter token.",
			Buckets:   prometheus.DefBuckets,
		}),
		LimiterTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lookflow",
			Name:      "limiter_timeouts_total",
			Help:      "Limiter acquisitions that gave up waiting.",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lookflow",
			Name:      "runs_finished_total",
			Help:      "Runs reaching a terminal status.",
		}, []string{"workflow", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.StepAttempts,
			m.StepDuration,
			m.LimiterInFlight,
			m.LimiterWait,
			m.LimiterTimeouts,
			m.RunsFinished,
		)
	}
	return m
}

// Nop returns collectors that are not registered anywhere.
func Nop() *Metrics {
	return New(nil)
}
