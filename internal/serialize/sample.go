// Package serialize renders metric samples into Dynatrace metric ingest
// lines.
package serialize

import (
	"strconv"
	"time"
)

// Kind is the wire type of a sample.
type Kind uint8

// Sample kinds. Counters carry their own absolute/delta semantics so one
// export may mix both.
const (
	KindCounterAbsolute Kind = iota + 1
	KindCounterDelta
	KindGauge
	KindSummary
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindCounterAbsolute:
		return "counter"
	case KindCounterDelta:
		return "counter_delta"
	case KindGauge:
		return "gauge"
	case KindSummary:
		return "summary"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Number is an integer or floating point sample value.
type Number struct {
	isFloat bool
	i       int64
	f       float64
}

// Int returns an integer Number.
func Int(v int64) Number {
	return Number{i: v}
}

// Float returns a floating point Number.
func Float(v float64) Number {
	return Number{isFloat: true, f: v}
}

// IsFloat reports whether the value is floating point.
func (n Number) IsFloat() bool {
	return n.isFloat
}

// Float64 returns the value as a float64.
func (n Number) Float64() float64 {
	if n.isFloat {
		return n.f
	}

	return float64(n.i)
}

// Summary is a min/max/sum/count aggregate, usually derived from an explicit
// bucket histogram. Min and Max may be nil, in which case they are estimated
// from Bounds and BucketCounts.
type Summary struct {
	Min   *float64
	Max   *float64
	Sum   float64
	Count uint64

	// Bounds are the explicit upper bounds of each bucket; BucketCounts has
	// one more element than Bounds for the (last bound, +Inf) bucket.
	Bounds       []float64
	BucketCounts []uint64
}

// Sample is one metric data point to be encoded.
type Sample struct {
	Name    string
	Kind    Kind
	Number  Number  // counters and gauges
	Summary Summary // KindSummary only

	// Timestamp is rendered in unix milliseconds. The zero value omits it
	// and lets the receiver assign ingest time.
	Timestamp time.Time
}
