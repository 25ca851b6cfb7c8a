package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"BTProxy/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	lookups     *prometheus.CounterVec
	simulations *prometheus.CounterVec
	simDuration *prometheus.HistogramVec
	promotions  prometheus.Counter
	storeErrors *prometheus.CounterVec
	warms       *prometheus.CounterVec
}

// New creates a recorder registered on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btproxy_cache_lookups_total",
				Help: "Backtest cache lookups by result",
			},
			[]string{"status"},
		),
		simulations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btproxy_simulations_total",
				Help: "Simulation runs by outcome (ok, degenerate, error)",
			},
			[]string{"outcome"},
		),
		simDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "btproxy_simulation_duration_seconds",
				Help:    "Duration of simulation runs including history fetch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		promotions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "btproxy_promotions_total",
				Help: "Cache entries promoted to verified/chain",
			},
		),
		storeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btproxy_cache_store_errors_total",
				Help: "Cache backend failures by operation",
			},
			[]string{"op"},
		),
		warms: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btproxy_warm_attempts_total",
				Help: "Cache-warm message handling attempts by result",
			},
			[]string{"result"},
		),
	}
}

// RecordLookup counts one backtest lookup.
func (r *Recorder) RecordLookup(status models.CacheStatus) {
	r.lookups.WithLabelValues(string(status)).Inc()
}

// RecordSimulation records one simulation run.
func (r *Recorder) RecordSimulation(outcome string, d time.Duration) {
	r.simulations.WithLabelValues(outcome).Inc()
	r.simDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordPromotion adds promoted entries.
func (r *Recorder) RecordPromotion(count int) {
	if count > 0 {
		r.promotions.Add(float64(count))
	}
}

// RecordStoreError counts a cache backend failure.
func (r *Recorder) RecordStoreError(op string) {
	r.storeErrors.WithLabelValues(op).Inc()
}

// RecordWarm counts one cache-warm handling attempt.
func (r *Recorder) RecordWarm(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.warms.WithLabelValues(result).Inc()
}
