package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cloven/internal/logging"
)

// Metrics holds the Prometheus collectors of one run on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Keys         *prometheus.GaugeVec
	WorkerCPU    *prometheus.GaugeVec
	WorkerRSS    *prometheus.GaugeVec
	TotalCPU     *prometheus.GaugeVec
	TotalRSS     *prometheus.GaugeVec
	Restarts     *prometheus.GaugeVec
	Flushes      *prometheus.CounterVec
	ChunkSeconds *prometheus.HistogramVec
	ChunkSize    *prometheus.GaugeVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Keys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloven_stage_keys",
				Help: "Keys of the current stage by state (total, loaded, cached, committed, quarantined)",
			},
			[]string{"stage", "state"},
		),
		WorkerCPU: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloven_worker_cpu_percent",
				Help: "CPU usage of each worker process since the previous sample",
			},
			[]string{"stage", "worker"},
		),
		WorkerRSS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloven_worker_rss_bytes",
				Help: "Resident memory of each worker process",
			},
			[]string{"stage", "worker"},
		),
		TotalCPU: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloven_cpu_percent",
				Help: "CPU usage of the coordinator and all workers",
			},
			[]string{"stage"},
		),
		TotalRSS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloven_rss_bytes",
				Help: "Resident memory of the coordinator and all workers",
			},
			[]string{"stage"},
		),
		Restarts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloven_worker_restarts",
				Help: "Worker restarts during the current stage",
			},
			[]string{"stage"},
		),
		Flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloven_commit_flushes_total",
				Help: "Commit cache flushes by outcome",
			},
			[]string{"stage", "outcome"},
		),
		ChunkSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloven_chunk_duration_seconds",
				Help:    "Wall time workers spent on one chunk",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"stage"},
		),
		ChunkSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloven_chunk_size",
				Help: "Keys per chunk chosen by the estimator",
			},
			[]string{"stage"},
		),
	}
	m.registry.MustRegister(
		m.Keys, m.WorkerCPU, m.WorkerRSS, m.TotalCPU, m.TotalRSS,
		m.Restarts, m.Flushes, m.ChunkSeconds, m.ChunkSize,
	)
	return m
}

// Registry exposes the registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve exposes /metrics on bind until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, bind string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("metrics endpoint listening", logging.String("bind", bind))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
