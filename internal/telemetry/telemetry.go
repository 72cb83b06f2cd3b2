// Package telemetry holds the OpenTelemetry instruments used by the refresh
// pipeline. Without an installed MeterProvider the global no-op provider is
// used and recording costs nothing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "saroolsync"

// Instruments records refresh cycles and remote API calls. A nil
// *Instruments is valid and records nothing.
type Instruments struct {
	refreshTotal    metric.Int64Counter
	refreshDuration metric.Float64Histogram
	remoteRequests  metric.Int64Counter
	remoteDuration  metric.Float64Histogram
}

// Default builds instruments on the global MeterProvider.
func Default() *Instruments {
	inst, err := New(otel.Meter(meterName))
	if err != nil {
		return nil
	}
	return inst
}

// New builds instruments on meter.
func New(meter metric.Meter) (*Instruments, error) {
	var (
		inst Instruments
		err  error
	)
	inst.refreshTotal, err = meter.Int64Counter("saroolsync.refresh.total",
		metric.WithDescription("Refresh cycles by outcome"),
		metric.WithUnit("{cycle}"))
	if err != nil {
		return nil, err
	}
	inst.refreshDuration, err = meter.Float64Histogram("saroolsync.refresh.duration",
		metric.WithDescription("Wall time of a full refresh cycle"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	inst.remoteRequests, err = meter.Int64Counter("saroolsync.remote.requests",
		metric.WithDescription("Remote API calls by endpoint and outcome"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	inst.remoteDuration, err = meter.Float64Histogram("saroolsync.remote.duration",
		metric.WithDescription("Remote API call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// RecordRefresh records one refresh cycle. trigger is one of the scheduler
// triggers: "startup", "interval" or "manual".
func (i *Instruments) RecordRefresh(ctx context.Context, trigger, outcome string, elapsed time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)
	i.refreshTotal.Add(ctx, 1, attrs)
	i.refreshDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRemote records one remote API call.
func (i *Instruments) RecordRemote(ctx context.Context, endpoint, outcome string, elapsed time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	)
	i.remoteRequests.Add(ctx, 1, attrs)
	i.remoteDuration.Record(ctx, elapsed.Seconds(), attrs)
}
