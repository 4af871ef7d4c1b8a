package exporter

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dtmetrics/internal/batch"
	"github.com/ethpandaops/dtmetrics/internal/delivery"
	"github.com/ethpandaops/dtmetrics/internal/dimension"
	"github.com/ethpandaops/dtmetrics/internal/enrich"
	"github.com/ethpandaops/dtmetrics/internal/export"
	"github.com/ethpandaops/dtmetrics/internal/serialize"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// ingest records request bodies and answers with a fixed response.
type ingest struct {
	mu     sync.Mutex
	bodies []string
	auth   []string
	status int
	reply  func(lines int) string
}

func newIngest(t *testing.T, status int, reply func(lines int) string) (*ingest, *httptest.Server) {
	t.Helper()

	in := &ingest{status: status, reply: reply}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)

		in.mu.Lock()
		in.bodies = append(in.bodies, string(raw))
		in.auth = append(in.auth, r.Header.Get("Authorization"))
		in.mu.Unlock()

		w.WriteHeader(in.status)

		if in.reply != nil {
			_, _ = w.Write([]byte(in.reply(len(strings.Split(string(raw), "\n")))))
		}
	}))
	t.Cleanup(server.Close)

	return in, server
}

func (in *ingest) lines() []string {
	in.mu.Lock()
	defer in.mu.Unlock()

	var out []string
	for _, b := range in.bodies {
		out = append(out, strings.Split(b, "\n")...)
	}

	return out
}

func acceptAll(lines int) string {
	return `{"linesOk":` + strconv.Itoa(lines) + `,"linesInvalid":0}`
}

func newExporter(t *testing.T, cfg *Config, opts ...Option) *Exporter {
	t.Helper()

	e, err := New(testLog(), cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = e.Shutdown(context.Background())
	})

	return e
}

func gauge(name string, v float64, attrs ...dimension.Attribute) Reading {
	return Reading{Name: name, Kind: serialize.KindGauge, Value: serialize.Float(v), Attributes: attrs}
}

func TestExport_ScenarioLine(t *testing.T) {
	in, server := newIngest(t, http.StatusAccepted, acceptAll)

	e := newExporter(t, &Config{EndpointURL: server.URL, APIToken: "tok", Prefix: "myapp"})

	res, err := e.Export(context.Background(), []Reading{{
		Name:       "MyCounter",
		Kind:       serialize.KindCounterAbsolute,
		Value:      serialize.Int(25),
		Attributes: []dimension.Attribute{dimension.String("dimension-1", "value-1")},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, res.LinesOK)
	assert.Equal(t, "ok", res.Outcome())
	assert.Equal(t, []string{"myapp.MyCounter,dimension-1=value-1 count,25"}, in.lines())
	assert.Equal(t, []string{"Api-Token tok"}, in.auth)
}

func TestExport_DefaultConfigAddsNoReservedDimensions(t *testing.T) {
	in, server := newIngest(t, http.StatusAccepted, acceptAll)

	unreachable := httptest.NewServer(http.NotFoundHandler())
	unreachable.Close()

	cfg := DefaultConfig()
	cfg.EndpointURL = server.URL
	cfg.Prefix = "myapp"
	cfg.ExportDynatraceMetadata = true
	cfg.Metadata = enrich.Config{Endpoint: unreachable.URL, Timeout: 100 * time.Millisecond}

	e := newExporter(t, cfg)

	res, err := e.Export(context.Background(), []Reading{{
		Name:       "MyCounter",
		Kind:       serialize.KindCounterAbsolute,
		Value:      serialize.Int(25),
		Attributes: []dimension.Attribute{dimension.String("dimension-1", "value-1")},
	}})
	require.NoError(t, err)

	assert.False(t, res.MetadataApplied)
	assert.Equal(t, 1, res.LinesOK)
	assert.Equal(t, []string{"myapp.MyCounter,dimension-1=value-1 count,25"}, in.lines())
}

func TestExport_InvalidValueIsRecorded(t *testing.T) {
	in, server := newIngest(t, http.StatusAccepted, acceptAll)

	e := newExporter(t, &Config{EndpointURL: server.URL})

	res, err := e.Export(context.Background(), []Reading{
		gauge("a", 1),
		gauge("b", 2),
		gauge("bad", math.NaN()),
		gauge("c", 3),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.LinesOK)
	assert.Equal(t, 1, res.LinesInvalid)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, serialize.ReasonInvalidValue, res.Invalid[0].Reason)
	assert.Equal(t, "bad", res.Invalid[0].Metric)
	assert.Len(t, in.lines(), 3)
	assert.Empty(t, res.DeliveryErrors)
}

func TestExport_EmptySummaryIsSkipped(t *testing.T) {
	_, server := newIngest(t, http.StatusAccepted, acceptAll)

	e := newExporter(t, &Config{EndpointURL: server.URL})

	res, err := e.Export(context.Background(), []Reading{
		{Name: "latency", Kind: serialize.KindSummary},
		gauge("a", 1),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.LinesOK)
	assert.Equal(t, 1, res.LinesSkipped)
	assert.Zero(t, res.LinesInvalid)
}

func TestExport_DimensionPrecedence(t *testing.T) {
	in, server := newIngest(t, http.StatusAccepted, acceptAll)

	meta := dimension.NewList(
		dimension.Dimension{Key: "env", Value: "meta"},
		dimension.Dimension{Key: "dt.entity.host", Value: "HOST-1"},
	)

	e := newExporter(t, &Config{
		EndpointURL:             server.URL,
		ExportDynatraceMetadata: true,
		MetricsSource:           "opentelemetry",
		DefaultDimensions: []DimensionConfig{
			{Key: "env", Value: "default"},
			{Key: "team", Value: "core"},
		},
	}, WithEnricher(staticProvider{dims: meta, ok: true}))

	res, err := e.Export(context.Background(), []Reading{
		gauge("m", 1, dimension.String("env", "attr"), dimension.String("team", "edge")),
	})
	require.NoError(t, err)
	assert.True(t, res.MetadataApplied)

	assert.Equal(t,
		[]string{"m,env=meta,team=edge,dt.entity.host=HOST-1,dt.metrics.source=opentelemetry gauge,1"},
		in.lines(),
	)
}

func TestExport_NonStringAttributesAreCounted(t *testing.T) {
	in, server := newIngest(t, http.StatusAccepted, acceptAll)

	e := newExporter(t, &Config{EndpointURL: server.URL})

	res, err := e.Export(context.Background(), []Reading{{
		Name:  "m",
		Kind:  serialize.KindGauge,
		Value: serialize.Int(1),
		Attributes: []dimension.Attribute{
			{Key: "count", Value: dimension.IntValue(4)},
			{Key: "ok", Value: dimension.BoolValue(true)},
			dimension.String("host", "a"),
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, res.DroppedAttributes)
	assert.Equal(t, []string{"m,host=a gauge,1"}, in.lines())
}

type staticProvider struct {
	dims dimension.List
	ok   bool
}

func (s staticProvider) Fetch(context.Context) (dimension.List, bool) {
	return s.dims, s.ok
}

func TestExport_MetadataTimeoutDoesNotBlock(t *testing.T) {
	release := make(chan struct{})

	meta := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		meta.Close()
	})

	in, server := newIngest(t, http.StatusAccepted, acceptAll)

	e := newExporter(t, &Config{
		EndpointURL:             server.URL,
		ExportDynatraceMetadata: true,
		Metadata:                enrich.Config{Endpoint: meta.URL, Timeout: 50 * time.Millisecond},
	})

	start := time.Now()

	res, err := e.Export(context.Background(), []Reading{gauge("m", 1, dimension.String("host", "a"))})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, res.MetadataApplied)
	assert.Equal(t, 1, res.LinesOK)

	for _, line := range in.lines() {
		assert.NotContains(t, line, "dt.")
	}
}

func TestExport_PartialRejectionNamesTheLine(t *testing.T) {
	_, server := newIngest(t, http.StatusBadRequest, func(int) string {
		return `{"linesOk":2,"linesInvalid":1,"error":{"code":400,"message":"1 invalid",` +
			`"invalidLines":[{"line":2,"reason":"value out of range"}]}}`
	})

	e := newExporter(t, &Config{EndpointURL: server.URL})

	res, err := e.Export(context.Background(), []Reading{gauge("a", 1), gauge("b", 2), gauge("c", 3)})
	require.NoError(t, err)

	assert.Equal(t, 2, res.LinesOK)
	assert.Equal(t, 1, res.LinesDroppedByHTTP)
	assert.Empty(t, res.DeliveryErrors)
	assert.Equal(t, "partial", res.Outcome())

	require.Len(t, res.Dropped, 1)
	assert.Equal(t, 2, res.Dropped[0].Line)
	assert.Equal(t, serialize.Line("b gauge,2"), res.Dropped[0].Content)
	assert.Equal(t, "value out of range", res.Dropped[0].Reason)
}

func TestExport_BatchesAndTotalFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	e := newExporter(t, &Config{
		EndpointURL: url,
		Batch:       batch.Limits{MaxLines: 2},
	})

	readings := make([]Reading, 5)
	for i := range readings {
		readings[i] = gauge("m", float64(i))
	}

	res, err := e.Export(context.Background(), readings)
	require.NoError(t, err, "delivery failures are reported in the result")

	assert.Equal(t, 3, res.Batches)
	assert.Len(t, res.DeliveryErrors, 3)
	assert.Equal(t, 5, res.LinesDroppedByHTTP)
	assert.True(t, res.Failed())
	assert.Equal(t, "failed", res.Outcome())

	for _, derr := range res.DeliveryErrors {
		var te *delivery.TransportError
		assert.True(t, errors.As(derr, &te))
	}
}

func TestExport_BoundedConcurrency(t *testing.T) {
	var (
		current atomic.Int32
		peak    atomic.Int32
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)
		current.Add(-1)

		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	e := newExporter(t, &Config{
		EndpointURL: server.URL,
		Batch:       batch.Limits{MaxLines: 1},
		Delivery:    delivery.Config{Concurrency: 2},
	})

	readings := make([]Reading, 8)
	for i := range readings {
		readings[i] = gauge("m", float64(i))
	}

	res, err := e.Export(context.Background(), readings)
	require.NoError(t, err)

	assert.Equal(t, 8, res.Batches)
	assert.Equal(t, 8, res.LinesOK)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCycle_UsesCollector(t *testing.T) {
	in, server := newIngest(t, http.StatusAccepted, acceptAll)

	calls := 0
	collector := CollectorFunc(func(context.Context) ([]Reading, error) {
		calls++

		return []Reading{gauge("m", float64(calls))}, nil
	})

	e := newExporter(t, &Config{EndpointURL: server.URL}, WithCollector(collector))

	_, err := e.Cycle(context.Background())
	require.NoError(t, err)

	_, err = e.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"m gauge,1", "m gauge,2"}, in.lines())
}

func TestCycle_CollectorError(t *testing.T) {
	_, server := newIngest(t, http.StatusAccepted, acceptAll)

	boom := errors.New("boom")
	e := newExporter(t, &Config{EndpointURL: server.URL}, WithCollector(CollectorFunc(
		func(context.Context) ([]Reading, error) { return nil, boom },
	)))

	_, err := e.Cycle(context.Background())
	require.ErrorIs(t, err, boom)

	e2 := newExporter(t, &Config{EndpointURL: server.URL})
	_, err = e2.Cycle(context.Background())
	require.Error(t, err)
}

func TestExport_RecordsMetrics(t *testing.T) {
	_, server := newIngest(t, http.StatusAccepted, acceptAll)

	h := export.NewHealthMetrics(testLog(), export.HealthConfig{})
	e := newExporter(t, &Config{EndpointURL: server.URL}, WithMetrics(h))

	_, err := e.Export(context.Background(), []Reading{gauge("a", 1), gauge("b", math.Inf(1))})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.CyclesTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.LinesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.InvalidLines.WithLabelValues("InvalidValue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.BatchesTotal.WithLabelValues("accepted")))
	assert.Zero(t, testutil.ToFloat64(h.CyclesInflight))
}

func TestShutdown_RejectsNewCycles(t *testing.T) {
	_, server := newIngest(t, http.StatusAccepted, acceptAll)

	e, err := New(testLog(), &Config{EndpointURL: server.URL})
	require.NoError(t, err)

	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))

	_, err = e.Export(context.Background(), []Reading{gauge("a", 1)})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdown_AbandonsHungDelivery(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	var once sync.Once

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })

		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	e, err := New(testLog(), &Config{
		EndpointURL:   server.URL,
		Timeout:       time.Minute,
		ShutdownGrace: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	results := make(chan Result, 1)

	go func() {
		res, _ := e.Export(context.Background(), []Reading{gauge("a", 1)})
		results <- res
	}()

	<-started

	start := time.Now()
	err = e.Shutdown(context.Background())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	res := <-results
	assert.Zero(t, res.LinesOK)
	assert.Equal(t, 1, res.LinesDroppedByHTTP)
	assert.Len(t, res.DeliveryErrors, 1)
}
