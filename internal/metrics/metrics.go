// Package metrics exports scheduler state as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khryptorgraphics/schedcore/pkg/sched"
)

var (
	coreLoadDesc = prometheus.NewDesc(
		"schedcore_core_load",
		"Per-core load, 0..1000.",
		[]string{"core"}, nil)
	coreThreadsDesc = prometheus.NewDesc(
		"schedcore_core_threads",
		"Ready non-idle threads assigned to the core, running ones included.",
		[]string{"core"}, nil)
	coreHighLoadDesc = prometheus.NewDesc(
		"schedcore_core_high_load",
		"Whether the core is in the high-load heap.",
		[]string{"core"}, nil)
	reschedulesDesc = prometheus.NewDesc(
		"schedcore_reschedules_total",
		"Reschedule pipeline entries.",
		nil, nil)
	icisDesc = prometheus.NewDesc(
		"schedcore_icis_total",
		"Inter-processor reschedule interrupts sent.",
		nil, nil)
	idlePackagesDesc = prometheus.NewDesc(
		"schedcore_idle_packages",
		"Fully idle packages.",
		nil, nil)
	loadavgDesc = prometheus.NewDesc(
		"schedcore_loadavg",
		"Runnable thread count averages, scaled by fscale.",
		[]string{"window"}, nil)
)

// Collector reads the scheduler's stats snapshot on every scrape.
type Collector struct {
	scheduler *sched.Scheduler
}

// NewCollector builds a collector over a scheduler.
func NewCollector(scheduler *sched.Scheduler) *Collector {
	return &Collector{scheduler: scheduler}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- coreLoadDesc
	ch <- coreThreadsDesc
	ch <- coreHighLoadDesc
	ch <- reschedulesDesc
	ch <- icisDesc
	ch <- idlePackagesDesc
	ch <- loadavgDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.scheduler.Stats()

	for _, core := range stats.Cores {
		label := strconv.Itoa(int(core.ID))
		ch <- prometheus.MustNewConstMetric(coreLoadDesc,
			prometheus.GaugeValue, float64(core.Load), label)
		ch <- prometheus.MustNewConstMetric(coreThreadsDesc,
			prometheus.GaugeValue, float64(core.ThreadCount), label)
		high := 0.0
		if core.HighLoad {
			high = 1.0
		}
		ch <- prometheus.MustNewConstMetric(coreHighLoadDesc,
			prometheus.GaugeValue, high, label)
	}

	ch <- prometheus.MustNewConstMetric(reschedulesDesc,
		prometheus.CounterValue, float64(stats.Reschedules))
	ch <- prometheus.MustNewConstMetric(icisDesc,
		prometheus.CounterValue, float64(stats.ICIs))
	ch <- prometheus.MustNewConstMetric(idlePackagesDesc,
		prometheus.GaugeValue, float64(stats.IdlePackages))

	loadavg := c.scheduler.GetLoadAvg()
	for i, window := range []string{"1m", "5m", "15m"} {
		ch <- prometheus.MustNewConstMetric(loadavgDesc,
			prometheus.GaugeValue, float64(loadavg.Ldavg[i]), window)
	}
}

// Exporter serves the scheduler's metrics over HTTP.
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server
}

// NewExporter builds an exporter for a scheduler.
func NewExporter(scheduler *sched.Scheduler, listen string) *Exporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(scheduler))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry,
		promhttp.HandlerOpts{}))

	return &Exporter{
		registry: registry,
		server:   &http.Server{Addr: listen, Handler: mux},
	}
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Serve blocks serving /metrics until the context is cancelled.
func (e *Exporter) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
