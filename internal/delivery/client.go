// Package delivery sends batches of metric lines to the ingest endpoint.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dtmetrics/internal/batch"
	"github.com/ethpandaops/dtmetrics/internal/version"
)

// Target is the resolved ingest endpoint. Token is empty for the local agent.
type Target struct {
	URL   string
	Token string
}

// Client posts batches to a single ingest endpoint. It makes one attempt per
// batch and keeps no state between calls besides pooled connections.
type Client struct {
	log        logrus.FieldLogger
	target     Target
	cfg        Config
	http       *http.Client
	compressor *compressor
	userAgent  string
}

// New creates a Client for target.
func New(log logrus.FieldLogger, target Target, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	comp, err := newCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Concurrency * 2,
		MaxIdleConnsPerHost: cfg.Concurrency * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Client{
		log:    log.WithField("component", "delivery"),
		target: target,
		cfg:    cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		compressor: comp,
		userAgent:  version.UserAgent(),
	}, nil
}

// Endpoint returns the URL batches are posted to.
func (c *Client) Endpoint() string {
	return c.target.URL
}

// Send posts b and classifies the response. It never returns a Go error;
// failures are described by the Outcome.
func (c *Client) Send(ctx context.Context, b batch.Batch) Outcome {
	if len(b.Lines) == 0 {
		return Outcome{Status: StatusAccepted}
	}

	body := b.Body()

	payload, err := c.compressor.encode(body)
	if err != nil {
		return transportFailure(b, fmt.Errorf("compressing body: %w", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target.URL, bytes.NewReader(payload))
	if err != nil {
		return transportFailure(b, fmt.Errorf("creating request: %w", err), false)
	}

	c.setHeaders(req)

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return transportFailure(b, fmt.Errorf("sending request: %w", err), !errors.Is(err, context.Canceled))
	}

	defer resp.Body.Close()

	parsed, ok := decodeResponse(resp.Body)

	// Drain the remainder to allow connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	out := interpret(resp.StatusCode, parsed, ok, b)

	log := c.log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"lines":    len(b.Lines),
		"bytes":    len(body),
		"sent":     len(payload),
		"accepted": out.Accepted,
		"rejected": out.Rejected,
		"took":     time.Since(start),
	})

	switch out.Status {
	case StatusAccepted:
		log.Debug("Batch accepted")
	case StatusPartiallyAccepted:
		log.Warn("Batch partially accepted")

		for _, le := range out.Invalid {
			log.WithFields(logrus.Fields{
				"line":   le.Line,
				"reason": le.Reason,
			}).Debug("Line rejected by ingest endpoint")
		}
	default:
		log.WithError(out.Err).Warn("Batch rejected")
	}

	return out
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "*/*; q=0")
	req.Header.Set("User-Agent", c.userAgent)

	if encoding := c.compressor.contentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	if c.target.Token != "" {
		req.Header.Set("Authorization", "Api-Token "+c.target.Token)
	}
}

// Close releases the client's resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()

	return c.compressor.close()
}

func transportFailure(b batch.Batch, err error, retryable bool) Outcome {
	return Outcome{
		Status:   StatusTransportError,
		Rejected: len(b.Lines),
		Err:      &TransportError{Err: err, Retryable: retryable},
	}
}
