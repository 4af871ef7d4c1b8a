package delivery

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/dtmetrics/internal/serialize"
)

// Status classifies the result of sending one batch.
type Status uint8

// Delivery statuses.
const (
	StatusAccepted Status = iota + 1
	StatusPartiallyAccepted
	StatusRejected
	StatusTransportError
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusPartiallyAccepted:
		return "partially_accepted"
	case StatusRejected:
		return "rejected"
	case StatusTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// LineError is a line the ingest endpoint refused.
type LineError struct {
	// Line is the 1-based position of the line within its batch.
	Line int

	// Content is the refused line, empty when the reported position is out
	// of range for the batch.
	Content serialize.Line

	Reason string
}

// Outcome is the result of sending one batch.
type Outcome struct {
	Status Status

	// Accepted is the number of lines the endpoint ingested.
	Accepted int

	// Rejected is the number of lines that were not ingested, including
	// every line of a batch that failed in transport.
	Rejected int

	// Invalid lists the per-line reasons reported by the endpoint.
	Invalid []LineError

	// Err is a *TransportError or *ProtocolError for the failing statuses.
	Err error
}

// TransportError reports a failure to complete the request: connection
// errors and timeouts. Retryable is false when the caller cancelled.
type TransportError struct {
	Err       error
	Retryable bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a non-success response from the endpoint.
type ProtocolError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ingest rejected with status %d", e.StatusCode)
	}

	return fmt.Sprintf("ingest rejected with status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the response indicates a transient condition.
func (e *ProtocolError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable reports whether err marks a batch worth sending again in a
// later cycle.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}

	return false
}
