package otelbridge

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ethpandaops/dtmetrics/internal/dimension"
	"github.com/ethpandaops/dtmetrics/internal/exporter"
	"github.com/ethpandaops/dtmetrics/internal/serialize"
)

type number interface {
	int64 | float64
}

// Convert flattens SDK metric data into readings, one per data point.
// Aggregations without a line representation are skipped with a warning.
func Convert(log logrus.FieldLogger, rm *metricdata.ResourceMetrics) []exporter.Reading {
	if rm == nil {
		return nil
	}

	var out []exporter.Reading

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				out = appendSum(out, m.Name, data)
			case metricdata.Sum[float64]:
				out = appendSum(out, m.Name, data)
			case metricdata.Gauge[int64]:
				out = appendGauge(out, m.Name, data)
			case metricdata.Gauge[float64]:
				out = appendGauge(out, m.Name, data)
			case metricdata.Histogram[int64]:
				out = appendHistogram(log, out, m.Name, data)
			case metricdata.Histogram[float64]:
				out = appendHistogram(log, out, m.Name, data)
			default:
				log.WithFields(logrus.Fields{
					"metric": m.Name,
					"type":   typeName(m.Data),
				}).Warn("Skipping metric with unsupported aggregation")
			}
		}
	}

	return out
}

// appendSum maps monotonic sums to counters of the matching temporality and
// non-monotonic sums to gauges.
func appendSum[N number](out []exporter.Reading, name string, s metricdata.Sum[N]) []exporter.Reading {
	kind := serialize.KindGauge

	if s.IsMonotonic {
		kind = serialize.KindCounterAbsolute
		if s.Temporality == metricdata.DeltaTemporality {
			kind = serialize.KindCounterDelta
		}
	}

	for _, dp := range s.DataPoints {
		out = append(out, exporter.Reading{
			Name:       name,
			Kind:       kind,
			Value:      toNumber(dp.Value),
			Attributes: attributes(dp.Attributes),
			Timestamp:  dp.Time,
		})
	}

	return out
}

func appendGauge[N number](out []exporter.Reading, name string, g metricdata.Gauge[N]) []exporter.Reading {
	for _, dp := range g.DataPoints {
		out = append(out, exporter.Reading{
			Name:       name,
			Kind:       serialize.KindGauge,
			Value:      toNumber(dp.Value),
			Attributes: attributes(dp.Attributes),
			Timestamp:  dp.Time,
		})
	}

	return out
}

// appendHistogram turns delta histograms into summaries. Cumulative
// histograms cannot be expressed as summaries of one interval.
func appendHistogram[N number](
	log logrus.FieldLogger,
	out []exporter.Reading,
	name string,
	h metricdata.Histogram[N],
) []exporter.Reading {
	if h.Temporality != metricdata.DeltaTemporality {
		log.WithField("metric", name).Warn("Skipping cumulative histogram")

		return out
	}

	for _, dp := range h.DataPoints {
		summary := serialize.Summary{
			Sum:          float64(dp.Sum),
			Count:        dp.Count,
			Bounds:       dp.Bounds,
			BucketCounts: dp.BucketCounts,
		}

		if v, ok := dp.Min.Value(); ok {
			f := float64(v)
			summary.Min = &f
		}

		if v, ok := dp.Max.Value(); ok {
			f := float64(v)
			summary.Max = &f
		}

		out = append(out, exporter.Reading{
			Name:       name,
			Kind:       serialize.KindSummary,
			Summary:    summary,
			Attributes: attributes(dp.Attributes),
			Timestamp:  dp.Time,
		})
	}

	return out
}

func toNumber[N number](v N) serialize.Number {
	switch x := any(v).(type) {
	case int64:
		return serialize.Int(x)
	case float64:
		return serialize.Float(x)
	default:
		return serialize.Float(float64(v))
	}
}

func attributes(set attribute.Set) []dimension.Attribute {
	if set.Len() == 0 {
		return nil
	}

	out := make([]dimension.Attribute, 0, set.Len())

	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out = append(out, dimension.Attribute{
			Key:   string(kv.Key),
			Value: attributeValue(kv.Value),
		})
	}

	return out
}

func attributeValue(v attribute.Value) dimension.AttributeValue {
	switch v.Type() {
	case attribute.STRING:
		return dimension.StringValue(v.AsString())
	case attribute.INT64:
		return dimension.IntValue(v.AsInt64())
	case attribute.FLOAT64:
		return dimension.FloatValue(v.AsFloat64())
	case attribute.BOOL:
		return dimension.BoolValue(v.AsBool())
	default:
		return dimension.SliceValue(v.Emit())
	}
}

func typeName(data metricdata.Aggregation) string {
	switch data.(type) {
	case metricdata.ExponentialHistogram[int64], metricdata.ExponentialHistogram[float64]:
		return "exponential_histogram"
	default:
		return "unknown"
	}
}
