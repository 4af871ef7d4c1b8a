// Package exporter drives export cycles: it turns collected readings into
// metric lines, merges dimensions, batches the lines and delivers them.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/dtmetrics/internal/batch"
	"github.com/ethpandaops/dtmetrics/internal/delivery"
	"github.com/ethpandaops/dtmetrics/internal/dimension"
	"github.com/ethpandaops/dtmetrics/internal/enrich"
	"github.com/ethpandaops/dtmetrics/internal/export"
	"github.com/ethpandaops/dtmetrics/internal/serialize"
)

// MetricsSourceKey is the dimension naming the producer of the metrics.
const MetricsSourceKey = "dt.metrics.source"

// Option configures an Exporter.
type Option func(*Exporter)

// WithCollector sets the collector used by Cycle.
func WithCollector(c Collector) Option {
	return func(e *Exporter) {
		e.collector = c
	}
}

// WithEnricher replaces the metadata provider built from the configuration.
// It only takes effect when metadata export is enabled.
func WithEnricher(p enrich.Provider) Option {
	return func(e *Exporter) {
		e.enricher = p
	}
}

// WithMetrics records cycle metrics into h.
func WithMetrics(h *export.HealthMetrics) Option {
	return func(e *Exporter) {
		e.metrics = h
	}
}

// Exporter runs export cycles against one resolved endpoint. Cycles may
// overlap; each works on its own snapshot and produces its own Result.
type Exporter struct {
	log       logrus.FieldLogger
	cfg       *Config
	endpoint  Endpoint
	encoder   *serialize.Encoder
	client    *delivery.Client
	defaults  dimension.List
	static    dimension.List
	enricher  enrich.Provider
	collector Collector
	metrics   *export.HealthMetrics

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	// lifetime is cancelled when Shutdown gives up on in-flight cycles.
	lifetime context.Context
	abandon  context.CancelFunc
}

// New validates cfg, resolves the endpoint and builds an Exporter. All
// configuration problems surface here as a *ConfigError.
func New(log logrus.FieldLogger, cfg *Config, opts ...Option) (*Exporter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = log.WithField("component", "exporter")

	endpoint := ResolveEndpoint(log, cfg)

	client, err := delivery.New(log, endpoint.target(), cfg.Delivery)
	if err != nil {
		return nil, &ConfigError{Field: "delivery", Err: err}
	}

	e := &Exporter{
		log:      log,
		cfg:      cfg,
		endpoint: endpoint,
		encoder: serialize.NewEncoder(serialize.Options{
			Prefix:            cfg.Prefix,
			TruncateLongNames: cfg.TruncateLongNames,
		}),
		client:   client,
		defaults: defaultDimensions(log, cfg.DefaultDimensions),
	}

	if cfg.MetricsSource != "" {
		if d, ok := dimension.New(MetricsSourceKey, cfg.MetricsSource); ok {
			e.static = dimension.NewList(d)
		}
	}

	for _, opt := range opts {
		opt(e)
	}

	if !cfg.ExportDynatraceMetadata {
		e.enricher = nil
	} else if e.enricher == nil {
		e.enricher = enrich.New(log, cfg.Metadata)
	}

	e.lifetime, e.abandon = context.WithCancel(context.Background())

	log.WithFields(logrus.Fields{
		"endpoint": endpoint.URL,
		"strategy": endpoint.Strategy.String(),
		"metadata": cfg.ExportDynatraceMetadata,
	}).Info("Exporter configured")

	return e, nil
}

func defaultDimensions(log logrus.FieldLogger, cfg []DimensionConfig) dimension.List {
	raw := make([]dimension.Dimension, 0, len(cfg))
	for _, d := range cfg {
		raw = append(raw, dimension.Dimension{Key: d.Key, Value: d.Value})
	}

	list, rejected := dimension.Normalize(raw...)
	if rejected > 0 {
		log.WithField("count", rejected).Warn("Dropped default dimensions with unusable keys")
	}

	return list
}

// Endpoint returns the resolved ingest endpoint.
func (e *Exporter) Endpoint() Endpoint {
	return e.endpoint
}

// Cycle collects readings from the configured collector and exports them.
// A collector error aborts this cycle only.
func (e *Exporter) Cycle(ctx context.Context) (Result, error) {
	if e.collector == nil {
		return Result{}, errors.New("no collector configured")
	}

	if err := e.begin(); err != nil {
		return Result{}, err
	}
	defer e.end()

	ctx, cancel := e.scope(ctx)
	defer cancel()

	readings, err := e.collector.Collect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("collecting readings: %w", err)
	}

	return e.run(ctx, readings), nil
}

// Export runs one cycle over readings. Recoverable failures are reported in
// the Result; the only error is ErrShutdown.
func (e *Exporter) Export(ctx context.Context, readings []Reading) (Result, error) {
	if err := e.begin(); err != nil {
		return Result{}, err
	}
	defer e.end()

	ctx, cancel := e.scope(ctx)
	defer cancel()

	return e.run(ctx, readings), nil
}

func (e *Exporter) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrShutdown
	}

	e.inflight.Add(1)

	if e.metrics != nil {
		e.metrics.CyclesInflight.Inc()
	}

	return nil
}

func (e *Exporter) end() {
	if e.metrics != nil {
		e.metrics.CyclesInflight.Dec()
	}

	e.inflight.Done()
}

// scope derives a cycle context that ends when either the caller or
// Shutdown gives up.
func (e *Exporter) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.lifetime, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

func (e *Exporter) run(ctx context.Context, readings []Reading) Result {
	start := time.Now()

	var res Result

	metadata := e.fetchMetadata(ctx, &res)

	lines := e.encode(readings, metadata, &res)

	batches, rejected := batch.Split(lines, e.cfg.Batch)
	for _, r := range rejected {
		res.LinesInvalid++
		res.Invalid = append(res.Invalid, LineError{
			Reason: serialize.ReasonLineTooLong,
			Detail: fmt.Sprintf("line %d is %d bytes, hard cap is %d", r.Index, r.Bytes, e.cfg.Batch.HardCapBytes),
		})
	}

	res.Batches = len(batches)

	e.deliver(ctx, batches, &res)

	res.Duration = time.Since(start)

	e.report(res)

	return res
}

func (e *Exporter) fetchMetadata(ctx context.Context, res *Result) dimension.List {
	if e.enricher == nil {
		return e.static
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Metadata.Timeout)
	defer cancel()

	dims, ok := e.enricher.Fetch(fetchCtx)

	result := "unavailable"
	if ok {
		result = "ok"
		res.MetadataApplied = true
	}

	if e.metrics != nil {
		e.metrics.MetadataFetches.WithLabelValues(result).Inc()
	}

	if !ok {
		return e.static
	}

	return dimension.Merge(dims, e.static)
}

// encode renders every reading, recording rejects in res. Readings are
// independent; one failure never stops the rest.
func (e *Exporter) encode(readings []Reading, metadata dimension.List, res *Result) []serialize.Line {
	lines := make([]serialize.Line, 0, len(readings))

	for _, r := range readings {
		attrs, discarded := dimension.FromAttributes(r.Attributes)
		res.DroppedAttributes += discarded.Total()

		dims := dimension.Merge(e.defaults, attrs, metadata)

		line, err := e.encoder.Encode(r.sample(), dims)
		if err != nil {
			e.recordEncodeError(r, err, res)

			continue
		}

		lines = append(lines, line)
	}

	return lines
}

func (e *Exporter) recordEncodeError(r Reading, err error, res *Result) {
	var encErr *serialize.EncodeError
	if !errors.As(err, &encErr) {
		encErr = &serialize.EncodeError{Metric: r.Name, Reason: serialize.ReasonInvalidValue, Detail: err.Error()}
	}

	if encErr.Reason == serialize.ReasonEmptySummary {
		res.LinesSkipped++

		return
	}

	res.LinesInvalid++
	res.Invalid = append(res.Invalid, LineError{
		Metric: encErr.Metric,
		Reason: encErr.Reason,
		Detail: encErr.Detail,
	})

	e.log.WithFields(logrus.Fields{
		"metric": encErr.Metric,
		"reason": encErr.Reason,
	}).Debug("Skipped invalid reading")
}

// deliver sends batches with bounded concurrency and waits for all of them.
func (e *Exporter) deliver(ctx context.Context, batches []batch.Batch, res *Result) {
	if len(batches) == 0 {
		return
	}

	outcomes := make([]delivery.Outcome, len(batches))

	var g errgroup.Group

	g.SetLimit(e.cfg.Delivery.Concurrency)

	for i, b := range batches {
		g.Go(func() error {
			start := time.Now()
			outcomes[i] = e.client.Send(ctx, b)

			if e.metrics != nil {
				e.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
				e.metrics.BatchBytes.Observe(float64(b.Bytes))
				e.metrics.BatchesTotal.WithLabelValues(outcomes[i].Status.String()).Inc()
			}

			return nil
		})
	}

	_ = g.Wait()

	for _, out := range outcomes {
		res.LinesOK += out.Accepted
		res.LinesDroppedByHTTP += out.Rejected
		res.Dropped = append(res.Dropped, out.Invalid...)

		if out.Err != nil {
			res.DeliveryErrors = append(res.DeliveryErrors, out.Err)
		}
	}
}

func (e *Exporter) report(res Result) {
	outcome := res.Outcome()

	if e.metrics != nil {
		e.metrics.CyclesTotal.WithLabelValues(outcome).Inc()
		e.metrics.CycleDuration.Observe(res.Duration.Seconds())
		e.metrics.LinesTotal.WithLabelValues("ok").Add(float64(res.LinesOK))
		e.metrics.LinesTotal.WithLabelValues("invalid").Add(float64(res.LinesInvalid))
		e.metrics.LinesTotal.WithLabelValues("skipped").Add(float64(res.LinesSkipped))
		e.metrics.LinesTotal.WithLabelValues("dropped_http").Add(float64(res.LinesDroppedByHTTP))
		e.metrics.DroppedAttributes.Add(float64(res.DroppedAttributes))

		for _, inv := range res.Invalid {
			e.metrics.InvalidLines.WithLabelValues(string(inv.Reason)).Inc()
		}
	}

	log := e.log.WithFields(logrus.Fields{
		"outcome":      outcome,
		"lines_ok":     res.LinesOK,
		"invalid":      res.LinesInvalid,
		"skipped":      res.LinesSkipped,
		"dropped_http": res.LinesDroppedByHTTP,
		"batches":      res.Batches,
		"metadata":     res.MetadataApplied,
		"took":         res.Duration,
	})

	switch outcome {
	case "failed":
		log.WithError(errors.Join(res.DeliveryErrors...)).Warn("Export cycle failed")
	case "partial":
		log.Info("Export cycle completed with failures")
	default:
		log.Debug("Export cycle completed")
	}
}

// Shutdown stops accepting cycles and waits for in-flight ones. When ctx has
// no deadline the configured grace period applies. Deliveries still running
// when the wait ends are cancelled.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return nil
	}

	e.closed = true
	e.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownGrace)
		defer cancel()
	}

	done := make(chan struct{})

	go func() {
		e.inflight.Wait()
		close(done)
	}()

	var err error

	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("Shutdown grace period expired, abandoning in-flight deliveries")

		err = ctx.Err()
	}

	e.abandon()
	<-done

	if cerr := e.client.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing delivery client: %w", cerr)
	}

	return err
}
