package serialize

import (
	"math"
	"strconv"
	"strings"

	dtserialize "github.com/dynatrace-oss/dynatrace-metric-utils-go/serialize"

	"github.com/ethpandaops/dtmetrics/internal/dimension"
)

// MaxLineLength is the longest line the ingest API accepts.
const MaxLineLength = 50_000

// Line is one encoded metric line, without a trailing newline.
type Line string

// Options configures an Encoder.
type Options struct {
	// Prefix is prepended to every metric name, joined by a dot.
	Prefix string

	// TruncateLongNames truncates metric keys longer than
	// MaxMetricKeyLength instead of rejecting the sample.
	TruncateLongNames bool
}

// Encoder renders samples into lines. It holds no mutable state and is safe
// for concurrent use.
type Encoder struct {
	prefix   string
	truncate bool
}

// NewEncoder creates an Encoder. The prefix is normalized once here; a
// prefix that normalizes to nothing is ignored.
func NewEncoder(opts Options) *Encoder {
	prefix, _ := NormalizeMetricKey(opts.Prefix)

	return &Encoder{
		prefix:   prefix,
		truncate: opts.TruncateLongNames,
	}
}

// Encode renders s with the given, already merged, dimensions. The format is
//
//	<key>[,<dim>=<value>...] <payload>[ <unix_ms>]
//
// where payload is "count,<v>", "count,delta=<v>", "gauge,<v>" or
// "gauge,min=<a>,max=<b>,sum=<c>,count=<d>".
func (e *Encoder) Encode(s Sample, dims dimension.List) (Line, error) {
	key, err := e.metricKey(s.Name)
	if err != nil {
		return "", err
	}

	payload, err := encodePayload(s)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(len(key) + len(payload) + dims.Len()*32 + 16)

	sb.WriteString(key)

	dims.Range(func(d dimension.Dimension) bool {
		sb.WriteByte(',')
		sb.WriteString(d.Key)
		sb.WriteByte('=')
		sb.WriteString(d.Value)

		return true
	})

	sb.WriteByte(' ')
	sb.WriteString(payload)

	if ts := dtserialize.Timestamp(s.Timestamp); ts != "" {
		sb.WriteByte(' ')
		sb.WriteString(ts)
	}

	if sb.Len() > MaxLineLength {
		return "", encodeErr(s.Name, ReasonLineTooLong,
			"%d bytes exceeds limit of %d", sb.Len(), MaxLineLength)
	}

	return Line(sb.String()), nil
}

// metricKey normalizes the name on its own and joins it to the already
// normalized prefix, so a name is never rescued or altered by the prefix.
func (e *Encoder) metricKey(name string) (string, error) {
	// The library truncates long input silently.
	if len(name) > MaxMetricKeyLength && !e.truncate {
		return "", encodeErr(name, ReasonNameTooLong,
			"%d characters exceeds limit of %d", len(name), MaxMetricKeyLength)
	}

	key, ok := NormalizeMetricKey(name)
	if !ok {
		return "", encodeErr(name, ReasonInvalidName, "name is empty after normalization")
	}

	if e.prefix != "" {
		key = e.prefix + "." + key
	}

	if len(key) > MaxMetricKeyLength {
		if !e.truncate {
			return "", encodeErr(name, ReasonNameTooLong,
				"%d characters exceeds limit of %d", len(key), MaxMetricKeyLength)
		}

		key = strings.TrimRight(key[:MaxMetricKeyLength], ".")
	}

	return key, nil
}

func encodePayload(s Sample) (string, error) {
	if s.Kind == KindSummary {
		return encodeSummary(s.Name, s.Summary)
	}

	if !s.Number.isFloat {
		switch s.Kind {
		case KindCounterAbsolute:
			return "count," + strconv.FormatInt(s.Number.i, 10), nil
		case KindCounterDelta:
			return dtserialize.IntCountValue(s.Number.i), nil
		case KindGauge:
			return dtserialize.IntGaugeValue(s.Number.i), nil
		}

		return "", encodeErr(s.Name, ReasonUnsupportedKind, "%s", s.Kind)
	}

	v := s.Number.f
	if !isFinite(v) {
		return "", encodeErr(s.Name, ReasonInvalidValue, "value is %v", v)
	}

	switch s.Kind {
	case KindCounterAbsolute:
		return "count," + formatFloat(v), nil
	case KindCounterDelta:
		return dtserialize.FloatCountValue(canonicalZero(v)), nil
	case KindGauge:
		return dtserialize.FloatGaugeValue(canonicalZero(v)), nil
	default:
		return "", encodeErr(s.Name, ReasonUnsupportedKind, "%s", s.Kind)
	}
}

func encodeSummary(name string, s Summary) (string, error) {
	if s.Count == 0 {
		return "", encodeErr(name, ReasonEmptySummary, "count is zero")
	}

	if s.Count > math.MaxInt64 {
		return "", encodeErr(name, ReasonInvalidValue, "count %d overflows", s.Count)
	}

	if !isFinite(s.Sum) {
		return "", encodeErr(name, ReasonInvalidValue, "sum is %v", s.Sum)
	}

	explicit := s.Min != nil && isFinite(*s.Min) && s.Max != nil && isFinite(*s.Max)
	if !explicit && !validBuckets(s) {
		return "", encodeErr(name, ReasonInvalidValue,
			"%d bucket counts do not match %d bounds", len(s.BucketCounts), len(s.Bounds))
	}

	minVal, maxVal := summaryMinMax(s)
	if !isFinite(minVal) || !isFinite(maxVal) {
		return "", encodeErr(name, ReasonInvalidValue, "min %v, max %v", minVal, maxVal)
	}

	if minVal > maxVal {
		return "", encodeErr(name, ReasonInvalidValue, "min %v is greater than max %v", minVal, maxVal)
	}

	return dtserialize.FloatSummaryValue(
		canonicalZero(minVal),
		canonicalZero(maxVal),
		canonicalZero(s.Sum),
		int64(s.Count),
	), nil
}

// formatFloat renders the shortest decimal that parses back to the same
// float64 in the ingest library's notation. Negative zero renders as "0".
func formatFloat(v float64) string {
	return dtserialize.SerializeFloat64(canonicalZero(v))
}

func canonicalZero(v float64) float64 {
	if v == 0 {
		return 0
	}

	return v
}
