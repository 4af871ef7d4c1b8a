package exporter

import (
	"context"
	"time"

	"github.com/ethpandaops/dtmetrics/internal/dimension"
	"github.com/ethpandaops/dtmetrics/internal/serialize"
)

// Reading is one metric value handed over by the upstream collector.
type Reading struct {
	Name string
	Kind serialize.Kind

	// Value holds counter and gauge values.
	Value serialize.Number

	// Summary holds the aggregate for serialize.KindSummary.
	Summary serialize.Summary

	Attributes []dimension.Attribute

	// Timestamp is optional; the zero value lets the receiver assign one.
	Timestamp time.Time
}

// Collector yields the readings due for export. Each call returns an
// independent snapshot.
type Collector interface {
	Collect(ctx context.Context) ([]Reading, error)
}

// CollectorFunc adapts a function to a Collector.
type CollectorFunc func(ctx context.Context) ([]Reading, error)

// Collect implements Collector.
func (f CollectorFunc) Collect(ctx context.Context) ([]Reading, error) {
	return f(ctx)
}

func (r Reading) sample() serialize.Sample {
	return serialize.Sample{
		Name:      r.Name,
		Kind:      r.Kind,
		Number:    r.Value,
		Summary:   r.Summary,
		Timestamp: r.Timestamp,
	}
}
