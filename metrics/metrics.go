// Package metrics exposes the emitter's worker-pool activity as Prometheus
// gauges/counters/histograms, optionally served over HTTP by the CLI's
// --metrics-addr flag.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every counter/gauge/histogram the emitter's worker pool
// reports, registered against its own Registry so a caller embedding this
// planner doesn't collide with the default global registry.
type Metrics struct {
	Registry *prometheus.Registry

	JobsInFlight        prometheus.Gauge
	JobsCompleted        prometheus.Counter
	DifferFailures        prometheus.Counter
	PatchBytesWritten      prometheus.Counter
	PatchComputeSeconds      prometheus.Histogram
}

// New constructs and registers a fresh Metrics instance.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blockimgdiff_differ_jobs_in_flight",
			Help: "Number of patch-computation jobs currently running.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockimgdiff_differ_jobs_completed_total",
			Help: "Number of patch-computation jobs that completed successfully.",
		}),
		DifferFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockimgdiff_differ_failures_total",
			Help: "Number of external differ invocations that exited non-zero.",
		}),
		PatchBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockimgdiff_patch_bytes_written_total",
			Help: "Total bytes written to the patch-data blob.",
		}),
		PatchComputeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockimgdiff_patch_compute_seconds",
			Help:    "Wall time spent computing a single transfer's patch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.JobsInFlight, m.JobsCompleted, m.DifferFailures, m.PatchBytesWritten, m.PatchComputeSeconds)
	return m
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks until
// ctx is done or the server fails; callers typically run it in its own
// goroutine.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
