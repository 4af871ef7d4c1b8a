// Package enrich fetches host and process metadata dimensions from the local
// agent. Every failure degrades to "no metadata" and is never fatal.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	dtdimensions "github.com/dynatrace-oss/dynatrace-metric-utils-go/metric/dimensions"
	"github.com/dynatrace-oss/dynatrace-metric-utils-go/oneagentenrichment"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dtmetrics/internal/dimension"
)

// maxBodyBytes bounds the metadata response read from the agent.
const maxBodyBytes = 1 << 20

// Provider supplies metadata dimensions once per export cycle.
type Provider interface {
	// Fetch returns the metadata dimensions, or false when none are
	// available this cycle.
	Fetch(ctx context.Context) (dimension.List, bool)
}

// HTTPProvider reads metadata from the local agent HTTP endpoint.
type HTTPProvider struct {
	log      logrus.FieldLogger
	endpoint string
	http     *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider for cfg.Endpoint.
func NewHTTPProvider(log logrus.FieldLogger, cfg Config) *HTTPProvider {
	cfg.ApplyDefaults()

	return &HTTPProvider{
		log:      log.WithField("component", "enrich_http"),
		endpoint: cfg.Endpoint,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context) (dimension.List, bool) {
	dims, err := p.get(ctx)
	if err != nil {
		p.log.WithError(err).Debug("Metadata unavailable")

		return dimension.List{}, false
	}

	return dims, dims.Len() > 0
}

func (p *HTTPProvider) get(ctx context.Context) (dimension.List, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return dimension.List{}, fmt.Errorf("creating request for %s: %w", p.endpoint, err)
	}

	req.Header.Set("Accept", "text/plain")

	resp, err := p.http.Do(req)
	if err != nil {
		return dimension.List{}, fmt.Errorf("executing request for %s: %w", p.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return dimension.List{}, fmt.Errorf(
			"unexpected status %d from %s: %s",
			resp.StatusCode,
			p.endpoint,
			strings.TrimSpace(string(body)),
		)
	}

	dims, err := Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return dimension.List{}, fmt.Errorf("parsing response from %s: %w", p.endpoint, err)
	}

	return dims, nil
}

// OneAgentProvider reads host metadata through the OneAgent's well-known
// indirection file in the working directory. The metadata is static for
// the life of the process, so it is read on the first Fetch only.
type OneAgentProvider struct {
	log  logrus.FieldLogger
	read func() dtdimensions.NormalizedDimensionList

	once sync.Once
	dims dimension.List
}

var _ Provider = (*OneAgentProvider)(nil)

// NewOneAgentProvider creates a provider backed by the OneAgent
// enrichment reader.
func NewOneAgentProvider(log logrus.FieldLogger) *OneAgentProvider {
	return &OneAgentProvider{
		log:  log.WithField("component", "enrich_oneagent"),
		read: oneagentenrichment.GetOneAgentMetadata,
	}
}

// Fetch implements Provider. The context is unused; file reads are local.
func (p *OneAgentProvider) Fetch(_ context.Context) (dimension.List, bool) {
	p.once.Do(func() {
		p.dims = fromNormalized(p.read())

		p.log.WithField("dimensions", p.dims.Len()).Debug("Read OneAgent metadata")
	})

	return p.dims, p.dims.Len() > 0
}

// fromNormalized copies dimensions already normalized by the ingest library.
func fromNormalized(list dtdimensions.NormalizedDimensionList) dimension.List {
	var dims []dimension.Dimension

	list.Format(func(ds []dtdimensions.Dimension) string {
		for _, d := range ds {
			dims = append(dims, dimension.Dimension{Key: d.Key, Value: d.Value})
		}

		return ""
	})

	return dimension.NewList(dims...)
}

// FileProvider reads metadata through an explicitly configured indirection
// file: the file holds the path of the properties file to parse.
type FileProvider struct {
	log  logrus.FieldLogger
	path string
}

var _ Provider = (*FileProvider)(nil)

// NewFileProvider creates a provider reading the given indirection file.
// An empty path uses IndirectionFile.
func NewFileProvider(log logrus.FieldLogger, path string) *FileProvider {
	if path == "" {
		path = IndirectionFile
	}

	return &FileProvider{
		log:  log.WithField("component", "enrich_file"),
		path: path,
	}
}

// Fetch implements Provider. The context is unused; file reads are local.
func (p *FileProvider) Fetch(_ context.Context) (dimension.List, bool) {
	dims, err := p.read()
	if err != nil {
		p.log.WithError(err).Debug("Metadata file unavailable")

		return dimension.List{}, false
	}

	return dims, dims.Len() > 0
}

func (p *FileProvider) read() (dimension.List, error) {
	target, err := os.ReadFile(p.path)
	if err != nil {
		return dimension.List{}, fmt.Errorf("reading indirection file: %w", err)
	}

	name := strings.TrimSpace(string(target))
	if name == "" {
		return dimension.List{}, fmt.Errorf("indirection file %s is empty", p.path)
	}

	f, err := os.Open(name)
	if err != nil {
		return dimension.List{}, fmt.Errorf("opening metadata file: %w", err)
	}
	defer f.Close()

	dims, err := Parse(io.LimitReader(f, maxBodyBytes))
	if err != nil {
		return dimension.List{}, fmt.Errorf("parsing %s: %w", name, err)
	}

	return dims, nil
}

// Chain returns the result of the first provider that yields metadata.
type Chain []Provider

var _ Provider = Chain(nil)

// Fetch implements Provider.
func (c Chain) Fetch(ctx context.Context) (dimension.List, bool) {
	for _, p := range c {
		if ctx.Err() != nil {
			return dimension.List{}, false
		}

		if dims, ok := p.Fetch(ctx); ok {
			return dims, true
		}
	}

	return dimension.List{}, false
}

// New builds the provider chain for cfg: the configured indirection file or,
// without one, the OneAgent's well-known file, then the HTTP endpoint.
func New(log logrus.FieldLogger, cfg Config) Provider {
	cfg.ApplyDefaults()

	var local Provider = NewOneAgentProvider(log)
	if cfg.File != "" {
		local = NewFileProvider(log, cfg.File)
	}

	return Chain{local, NewHTTPProvider(log, cfg)}
}
