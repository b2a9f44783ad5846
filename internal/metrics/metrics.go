// Package metrics exposes Prometheus instruments for dialogue runs, tool
// invocations and provisioning monitors.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentalon/panelpilot/internal/provision"
)

const namespace = "panelpilot"

// Metrics implements orchestrator.Observer and provision.Observer.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	roundTrips     prometheus.Histogram
	runDuration    prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	activeMonitors prometheus.Gauge
	monitorResults *prometheus.CounterVec
	monitorElapsed prometheus.Histogram
}

// New registers every instrument on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Dialogue runs by outcome.",
		}, []string{"outcome"}),
		roundTrips: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_round_trips",
			Help:      "Model round trips per dialogue run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of dialogue runs.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and result kind.",
		}, []string{"tool", "kind"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		activeMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provisioning_monitors_active",
			Help:      "Provisioning monitors currently running.",
		}),
		monitorResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_monitors_finished_total",
			Help:      "Finished provisioning monitors by terminal phase.",
		}, []string{"phase"}),
		monitorElapsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provisioning_duration_seconds",
			Help:      "Time from creation to terminal phase.",
			Buckets:   []float64{30, 60, 120, 180, 300, 450, 600, 900},
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.roundTrips, m.runDuration,
		m.toolCalls, m.toolDuration,
		m.activeMonitors, m.monitorResults, m.monitorElapsed,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RunFinished(outcome string, roundTrips int, elapsed time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.roundTrips.Observe(float64(roundTrips))
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ToolExecuted(tool, kind string, elapsed time.Duration) {
	m.toolCalls.WithLabelValues(tool, kind).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) MonitorStarted() {
	m.activeMonitors.Inc()
}

func (m *Metrics) MonitorFinished(phase provision.Phase, elapsed time.Duration) {
	m.activeMonitors.Dec()
	m.monitorResults.WithLabelValues(string(phase)).Inc()
	m.monitorElapsed.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "component", "metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
