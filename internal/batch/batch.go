// Package batch groups encoded lines into request-sized chunks.
package batch

import (
	"fmt"

	"github.com/ethpandaops/dtmetrics/internal/serialize"
)

// Limits bound the size of a single batch.
type Limits struct {
	// MaxLines is the maximum number of lines per batch.
	MaxLines int `yaml:"max_lines"`

	// MaxBytes is the soft byte limit per batch. A single line larger than
	// this is sent alone in an oversized batch.
	MaxBytes int `yaml:"max_bytes"`

	// HardCapBytes is the absolute byte limit. Lines larger than this are
	// rejected.
	HardCapBytes int `yaml:"hard_cap_bytes"`
}

// Validate checks the limits are usable.
func (l Limits) Validate() error {
	if l.MaxLines <= 0 {
		return fmt.Errorf("max_lines must be positive, got %d", l.MaxLines)
	}

	if l.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be positive, got %d", l.MaxBytes)
	}

	if l.HardCapBytes < l.MaxBytes {
		return fmt.Errorf("hard_cap_bytes (%d) must not be below max_bytes (%d)",
			l.HardCapBytes, l.MaxBytes)
	}

	return nil
}

// Batch is an ordered group of lines sent in one request.
type Batch struct {
	Lines []serialize.Line

	// Bytes is the size of the newline-joined body.
	Bytes int
}

// Body returns the newline-joined request body.
func (b Batch) Body() []byte {
	out := make([]byte, 0, b.Bytes)

	for i, line := range b.Lines {
		if i > 0 {
			out = append(out, '\n')
		}

		out = append(out, line...)
	}

	return out
}

// Rejected is a line that exceeded the hard cap.
type Rejected struct {
	// Index is the position of the line in the input.
	Index int
	Line  serialize.Line
	Bytes int
}

// Split packs lines greedily in input order. A new batch is started when
// adding the next line would exceed MaxLines or MaxBytes. A line larger than
// MaxBytes is placed in its own batch unless it exceeds HardCapBytes.
func Split(lines []serialize.Line, limits Limits) ([]Batch, []Rejected) {
	var (
		batches  []Batch
		rejected []Rejected
		current  Batch
	)

	flush := func() {
		if len(current.Lines) > 0 {
			batches = append(batches, current)
			current = Batch{}
		}
	}

	for i, line := range lines {
		size := len(line)

		if size > limits.HardCapBytes {
			rejected = append(rejected, Rejected{Index: i, Line: line, Bytes: size})

			continue
		}

		if size > limits.MaxBytes {
			flush()

			batches = append(batches, Batch{Lines: []serialize.Line{line}, Bytes: size})

			continue
		}

		added := size
		if len(current.Lines) > 0 {
			added++ // separator
		}

		if len(current.Lines) >= limits.MaxLines || current.Bytes+added > limits.MaxBytes {
			flush()

			added = size
		}

		current.Lines = append(current.Lines, line)
		current.Bytes += added
	}

	flush()

	return batches, rejected
}
