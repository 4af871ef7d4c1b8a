// Package otelbridge connects the OpenTelemetry metrics SDK to the exporter,
// both as a push exporter for a periodic reader and as a pull collector
// over a manual reader.
package otelbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ethpandaops/dtmetrics/internal/exporter"
)

// Temporality prefers delta for monotonic counters and histograms, which
// map to delta counters and summaries, and cumulative for everything that
// is reported as a gauge.
func Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	switch kind {
	case sdkmetric.InstrumentKindCounter,
		sdkmetric.InstrumentKindHistogram,
		sdkmetric.InstrumentKindObservableCounter:
		return metricdata.DeltaTemporality
	default:
		return metricdata.CumulativeTemporality
	}
}

// Exporter adapts an *exporter.Exporter to the SDK's push interface.
type Exporter struct {
	log logrus.FieldLogger
	exp *exporter.Exporter
}

var _ sdkmetric.Exporter = (*Exporter)(nil)

// NewExporter wraps exp. Shutting down the returned Exporter shuts down exp.
func NewExporter(log logrus.FieldLogger, exp *exporter.Exporter) *Exporter {
	return &Exporter{
		log: log.WithField("component", "otelbridge"),
		exp: exp,
	}
}

// Temporality implements sdkmetric.Exporter.
func (e *Exporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return Temporality(kind)
}

// Aggregation implements sdkmetric.Exporter.
func (e *Exporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

// Export implements sdkmetric.Exporter. Partial failures are reported in
// the exporter's logs and metrics; an error is returned only when no batch
// could be delivered.
func (e *Exporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	readings := Convert(e.log, rm)

	res, err := e.exp.Export(ctx, readings)
	if err != nil {
		if errors.Is(err, exporter.ErrShutdown) {
			return sdkmetric.ErrExporterShutdown
		}

		return err
	}

	if res.Failed() {
		return fmt.Errorf("all %d batches failed: %w", res.Batches, errors.Join(res.DeliveryErrors...))
	}

	return nil
}

// ForceFlush implements sdkmetric.Exporter. Nothing is buffered between
// exports.
func (e *Exporter) ForceFlush(ctx context.Context) error {
	return ctx.Err()
}

// Shutdown implements sdkmetric.Exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.exp.Shutdown(ctx)
}

// NewPeriodicReader returns a reader that exports through exp every
// interval. The reader is registered with a MeterProvider by the caller.
func NewPeriodicReader(exp *Exporter, interval time.Duration) *sdkmetric.PeriodicReader {
	return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))
}

// Collector pulls readings from a ManualReader on demand.
type Collector struct {
	log    logrus.FieldLogger
	reader *sdkmetric.ManualReader
}

var _ exporter.Collector = (*Collector)(nil)

// NewCollector creates a Collector. Register Reader with a MeterProvider
// before collecting.
func NewCollector(log logrus.FieldLogger) *Collector {
	return &Collector{
		log:    log.WithField("component", "otelbridge"),
		reader: sdkmetric.NewManualReader(sdkmetric.WithTemporalitySelector(Temporality)),
	}
}

// Reader returns the SDK reader backing the collector.
func (c *Collector) Reader() sdkmetric.Reader {
	return c.reader
}

// Collect implements exporter.Collector.
func (c *Collector) Collect(ctx context.Context) ([]exporter.Reading, error) {
	var rm metricdata.ResourceMetrics

	if err := c.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting from reader: %w", err)
	}

	return Convert(c.log, &rm), nil
}
