// Package agent runs the exporter as a standalone process: it serves health
// metrics and periodically exports the process's own runtime metrics.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/ethpandaops/dtmetrics/internal/export"
	"github.com/ethpandaops/dtmetrics/internal/exporter"
	"github.com/ethpandaops/dtmetrics/internal/otelbridge"
	"github.com/ethpandaops/dtmetrics/internal/version"
)

// Agent is the top-level orchestrator for the dtmetrics process.
type Agent interface {
	// Start begins serving health metrics and registers instruments.
	Start(ctx context.Context) error
	// Stop flushes pending metrics and shuts down all components.
	Stop(ctx context.Context) error
}

type agent struct {
	log      logrus.FieldLogger
	cfg      *exporter.Config
	health   *export.HealthMetrics
	exporter *exporter.Exporter
	provider *sdkmetric.MeterProvider
	started  time.Time
	reg      metric.Registration
}

// New creates an Agent from cfg.
func New(log logrus.FieldLogger, cfg *exporter.Config) (Agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	exp, err := exporter.New(log, cfg, exporter.WithMetrics(health))
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	reader := otelbridge.NewPeriodicReader(otelbridge.NewExporter(log, exp), cfg.Interval)

	return &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		health:   health,
		exporter: exp,
		provider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(resource.NewSchemaless(
				attribute.String("service.name", version.Product),
				attribute.String("service.version", version.Release),
			)),
		),
	}, nil
}

func (a *agent) Start(ctx context.Context) error {
	a.started = time.Now()

	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}

	reg, err := registerRuntime(a.provider.Meter(version.Product), a.started)
	if err != nil {
		return fmt.Errorf("registering runtime instruments: %w", err)
	}

	a.reg = reg

	endpoint := a.exporter.Endpoint()

	a.log.WithFields(logrus.Fields{
		"endpoint": endpoint.URL,
		"strategy": endpoint.Strategy.String(),
		"interval": a.cfg.Interval,
		"version":  version.Full(),
	}).Info("Agent started")

	return nil
}

func (a *agent) Stop(ctx context.Context) error {
	var errs []error

	if a.reg != nil {
		if err := a.reg.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("unregistering callbacks: %w", err))
		}
	}

	// Shutting down the provider runs a final export and then shuts down
	// the exporter.
	if err := a.provider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
	}

	if err := a.health.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping health server: %w", err))
	}

	return errors.Join(errs...)
}

// registerRuntime registers observable instruments for the Go runtime of
// this process.
func registerRuntime(meter metric.Meter, started time.Time) (metric.Registration, error) {
	goroutines, err := meter.Int64ObservableGauge(
		"process.runtime.go.goroutines",
		metric.WithDescription("Number of live goroutines."),
	)
	if err != nil {
		return nil, err
	}

	heap, err := meter.Int64ObservableUpDownCounter(
		"process.runtime.go.mem.heap_alloc",
		metric.WithDescription("Bytes of allocated heap objects."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCount, err := meter.Int64ObservableCounter(
		"process.runtime.go.gc.count",
		metric.WithDescription("Completed garbage collection cycles."),
	)
	if err != nil {
		return nil, err
	}

	uptime, err := meter.Float64ObservableGauge(
		"process.uptime",
		metric.WithDescription("Seconds since the agent started."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
		o.ObserveInt64(heap, int64(ms.HeapAlloc))
		o.ObserveInt64(gcCount, int64(ms.NumGC))
		o.ObserveFloat64(uptime, time.Since(started).Seconds())

		return nil
	}, goroutines, heap, gcCount, uptime)
}
