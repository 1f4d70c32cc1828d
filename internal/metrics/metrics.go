// Package metrics counts restore activity for a single run and writes it as a
// node_exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is nil-safe: a nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	records   *prometheus.CounterVec
	batches   *prometheus.CounterVec
	retries   *prometheus.CounterVec
	lookups   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	lastRun   prometheus.Gauge
	runFailed prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rkit",
			Name:      "records_total",
			Help:      "Records processed by object and outcome (success, failure, skipped).",
		}, []string{"object", "outcome"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rkit",
			Name:      "batches_total",
			Help:      "Batches submitted by object.",
		}, []string{"object"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rkit",
			Name:      "retries_total",
			Help:      "Selective retry attempts by object.",
		}, []string{"object"}),
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rkit",
			Name:      "reference_lookups_total",
			Help:      "Reference lookups by outcome (resolved, unresolved, failed).",
		}, []string{"outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rkit",
			Name:      "object_restore_seconds",
			Help:      "Time spent restoring one object.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"object"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rkit",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		runFailed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rkit",
			Name:      "last_run_failed",
			Help:      "1 if the last run ended with failures.",
		}),
	}
}

func (r *Recorder) Records(object, outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.records.WithLabelValues(object, outcome).Add(float64(n))
}

func (r *Recorder) Batch(object string, retries int) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(object).Inc()
	if retries > 0 {
		r.retries.WithLabelValues(object).Add(float64(retries))
	}
}

func (r *Recorder) Lookups(resolved, unresolved, failed int64) {
	if r == nil {
		return
	}
	r.lookups.WithLabelValues("resolved").Add(float64(resolved))
	r.lookups.WithLabelValues("unresolved").Add(float64(unresolved))
	r.lookups.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) ObjectDuration(object string, d time.Duration) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(object).Observe(d.Seconds())
}

func (r *Recorder) Finish(at time.Time, failed bool) {
	if r == nil {
		return
	}
	r.lastRun.Set(float64(at.Unix()))
	if failed {
		r.runFailed.Set(1)
	} else {
		r.runFailed.Set(0)
	}
}

// WriteTextfile writes the collected metrics in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
