package delivery

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithms accepted in Config.Compression.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

func validCompression(algorithm string) bool {
	switch algorithm {
	case "", CompressionNone, CompressionGzip, CompressionZstd,
		CompressionZlib, CompressionSnappy:
		return true
	default:
		return false
	}
}

// compressor encodes request bodies. It is safe for concurrent use; batches
// of one cycle are compressed in parallel.
type compressor struct {
	algorithm string
	zstd      *zstd.Encoder
	writers   sync.Pool
}

type resettableWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

func newCompressor(algorithm string) (*compressor, error) {
	c := &compressor{algorithm: algorithm}

	switch algorithm {
	case "", CompressionNone, CompressionSnappy:
	case CompressionZstd:
		// EncodeAll on a shared encoder is safe for concurrent use.
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	case CompressionGzip:
		c.writers.New = func() any { return gzip.NewWriter(nil) }
	case CompressionZlib:
		c.writers.New = func() any { return zlib.NewWriter(nil) }
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	return c, nil
}

// encode returns the compressed body.
func (c *compressor) encode(body []byte) ([]byte, error) {
	switch c.algorithm {
	case "", CompressionNone:
		return body, nil
	case CompressionSnappy:
		return snappy.Encode(nil, body), nil
	case CompressionZstd:
		return c.zstd.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
	default:
		return c.stream(body)
	}
}

func (c *compressor) stream(body []byte) ([]byte, error) {
	w, ok := c.writers.Get().(resettableWriter)
	if !ok {
		return nil, fmt.Errorf("no writer for %s", c.algorithm)
	}
	defer c.writers.Put(w)

	var buf bytes.Buffer

	w.Reset(&buf)

	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
	}

	return buf.Bytes(), nil
}

// contentEncoding returns the Content-Encoding header value, or "" when
// the body is sent as is.
func (c *compressor) contentEncoding() string {
	switch c.algorithm {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionZlib:
		return "deflate"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

func (c *compressor) close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}
