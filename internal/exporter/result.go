package exporter

import (
	"time"

	"github.com/ethpandaops/dtmetrics/internal/delivery"
	"github.com/ethpandaops/dtmetrics/internal/serialize"
)

// LineError is a reading that was not turned into a line.
type LineError struct {
	Metric string
	Reason serialize.Reason
	Detail string
}

// Result summarizes one export cycle. It is built fresh for every cycle and
// never merged with another cycle's result.
type Result struct {
	// LinesOK counts lines the endpoint accepted.
	LinesOK int

	// LinesInvalid counts readings rejected before delivery; Invalid holds
	// the reason for each.
	LinesInvalid int
	Invalid      []LineError

	// LinesSkipped counts readings with nothing to report, such as empty
	// summaries.
	LinesSkipped int

	// LinesDroppedByHTTP counts lines sent but not ingested; Dropped holds
	// the per-line reasons the endpoint reported.
	LinesDroppedByHTTP int
	Dropped            []delivery.LineError

	// DeliveryErrors holds one error per failed batch, in batch order.
	DeliveryErrors []error

	Batches           int
	DroppedAttributes int
	MetadataApplied   bool
	Duration          time.Duration
}

// Outcome summarizes the result for logs and metrics.
func (r Result) Outcome() string {
	switch {
	case r.Batches == 0:
		return "empty"
	case len(r.DeliveryErrors) == r.Batches:
		return "failed"
	case r.LinesDroppedByHTTP > 0 || len(r.DeliveryErrors) > 0 || r.LinesInvalid > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Failed reports whether every batch of the cycle failed delivery.
func (r Result) Failed() bool {
	return r.Batches > 0 && len(r.DeliveryErrors) == r.Batches
}
