// Package export serves the exporter's own Prometheus metrics and health
// endpoints.
package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "dtmetrics"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Empty disables the server.
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics about export cycles.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Cycles
	CyclesTotal    *prometheus.CounterVec // outcome (ok/partial/failed/empty)
	CycleDuration  prometheus.Histogram
	CyclesInflight prometheus.Gauge

	// Encoding
	LinesTotal        *prometheus.CounterVec // result (ok/invalid/skipped/dropped_http)
	InvalidLines      *prometheus.CounterVec // reason
	DroppedAttributes prometheus.Counter

	// Delivery
	BatchesTotal     *prometheus.CounterVec // status
	BatchBytes       prometheus.Histogram
	DeliveryDuration prometheus.Histogram

	// Enrichment
	MetadataFetches *prometheus.CounterVec // result (ok/unavailable)

	running atomic.Bool
}

// NewHealthMetrics creates the metrics registry and, when cfg.Addr is set,
// the server that exposes it.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_cycles_total",
				Help:      "Total export cycles by outcome.",
			},
			[]string{"outcome"},
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_cycle_duration_seconds",
			Help:      "Duration of a full export cycle.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}, // 5ms-10s
		}),
		CyclesInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "export_cycles_inflight",
			Help:      "Number of export cycles currently running.",
		}),
		LinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_total",
				Help:      "Total metric lines by result.",
			},
			[]string{"result"},
		),
		InvalidLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_lines_total",
				Help:      "Total samples rejected before delivery by reason.",
			},
			[]string{"reason"},
		),
		DroppedAttributes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_attributes_total",
			Help:      "Total non-string or unusable attributes discarded.",
		}),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total batches sent by delivery status.",
			},
			[]string{"status"},
		),
		BatchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_bytes",
			Help:      "Uncompressed size of delivered batches.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB-16MiB
		}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver a single batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10}, // 10ms-10s
		}),
		MetadataFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_fetches_total",
				Help:      "Total metadata fetches by result.",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		h.CyclesTotal,
		h.CycleDuration,
		h.CyclesInflight,
		h.LinesTotal,
		h.InvalidLines,
		h.DroppedAttributes,
		h.BatchesTotal,
		h.BatchBytes,
		h.DeliveryDuration,
		h.MetadataFetches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return h
}

// Registry returns the registry holding the exporter metrics.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Start begins serving /metrics and /healthz. It is a no-op without an
// address.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.log.Debug("Health metrics server disabled")

		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}

	return h.server.Shutdown(ctx)
}
