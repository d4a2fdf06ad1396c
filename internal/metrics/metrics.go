// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package metrics wires OpenTelemetry metrics for the gateway, following
// the MetricsRecorder pattern from the teacher's metrics middleware
// example: a small set of counters/histograms, recorded from exactly the
// call sites that own the corresponding event, with a stdout exporter by
// default since the gateway has no collector of its own to ship to.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the handful of gauges and counters the multiplexing
// core produces as a side effect of handling traffic. All methods are
// safe for concurrent use — they delegate straight to otel instruments,
// which are themselves concurrency-safe.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	activeSessions metric.Int64UpDownCounter
	requests       metric.Int64Counter
	timeouts       metric.Int64Counter
	dropped        metric.Int64Counter
	batchLatency   metric.Float64Histogram
}

// New constructs a Metrics backed by a periodic stdout exporter. interval
// controls how often aggregated metrics are printed; a production
// deployment that wants a real backend swaps the reader's exporter, not
// the call sites below.
func New(interval time.Duration) (*Metrics, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	meter := provider.Meter("supergateway-httpstream")

	activeSessions, err := meter.Int64UpDownCounter("gateway.sessions.active",
		metric.WithDescription("number of sessions currently registered"))
	if err != nil {
		return nil, err
	}
	requests, err := meter.Int64Counter("gateway.requests.total",
		metric.WithDescription("POST requests forwarded to the child, by response mode"))
	if err != nil {
		return nil, err
	}
	timeouts, err := meter.Int64Counter("gateway.requests.timeouts",
		metric.WithDescription("pending requests that hit batchTimeout with no child reply"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("gateway.replies.dropped",
		metric.WithDescription("child replies that arrived with no live response to deliver to"))
	if err != nil {
		return nil, err
	}
	batchLatency, err := meter.Float64Histogram("gateway.batch.latency_ms",
		metric.WithDescription("time from forwarding a batch request to writing its reply"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		provider:       provider,
		activeSessions: activeSessions,
		requests:       requests,
		timeouts:       timeouts,
		dropped:        dropped,
		batchLatency:   batchLatency,
	}, nil
}

// Shutdown flushes and stops the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// SessionCreated records a newly minted session (C3).
func (m *Metrics) SessionCreated(ctx context.Context) {
	m.activeSessions.Add(ctx, 1)
}

// SessionDeleted records a session removed by DELETE. Gateway shutdown
// does not record it.
func (m *Metrics) SessionDeleted(ctx context.Context) {
	m.activeSessions.Add(ctx, -1)
}

// RequestForwarded records a POST with an id forwarded to the child,
// tagged by the response mode it was handled under (C5).
func (m *Metrics) RequestForwarded(ctx context.Context, mode string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(modeAttr(mode)))
}

// Timeout records the timeout scheduler (C7) firing.
func (m *Metrics) Timeout(ctx context.Context) {
	m.timeouts.Add(ctx, 1)
}

// Dropped records the correlator's (C6) no-live-handler warning path.
func (m *Metrics) Dropped(ctx context.Context) {
	m.dropped.Add(ctx, 1)
}

// BatchLatency records the time between forwarding a batch request and
// its response handle ending, whether by the child's reply, the timeout
// error, or the session's responses being ended.
func (m *Metrics) BatchLatency(ctx context.Context, d time.Duration) {
	m.batchLatency.Record(ctx, float64(d.Milliseconds()))
}

func modeAttr(mode string) attribute.KeyValue {
	return attribute.String("mode", mode)
}
