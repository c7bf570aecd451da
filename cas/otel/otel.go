// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package casotel provides OpenTelemetry instrumentation for CAS
// connections. It implements the [cas.InvokeHook] interface to add
// distributed tracing and metrics to action invocation.
//
// Usage:
//
//	opts := cas.DefaultOptions()
//	casotel.Instrument(&opts, casotel.DefaultConfig())
//	conn, err := cas.Connect(ctx, opts)
package casotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/swat-go/cas"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "swat_cas"

// Config configures OpenTelemetry instrumentation for CAS connections.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator injects trace context into request metadata.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed invocations.
	// Default true.
	RecordExceptions bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with tracing, metrics and exception
// recording enabled. Providers are resolved from the global OTel SDK at
// instrumentation time.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// Instrument installs the hook in opts. Connections made from opts, and
// every connection forked from them, are instrumented.
func Instrument(opts *cas.Options, cfg Config) {
	opts.Hook = NewHook(cfg)
}

// NewHook returns an InvokeHook recording spans and metrics per cfg.
func NewHook(cfg Config) cas.InvokeHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("cas.client.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of CAS action invocations"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("cas.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of CAS action invocations"),
		)
		hook.rowCounter, _ = meter.Int64Counter("cas.client.rows",
			metric.WithUnit("{row}"),
			metric.WithDescription("Result table rows received"),
		)
	}
	return hook
}

type otelHook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
	rowCounter        metric.Int64Counter
}

// spanToken is the HookToken returned by OnInvokeStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnInvokeStart starts a client span and injects its context into the
// request metadata.
func (h *otelHook) OnInvokeStart(ctx context.Context, info cas.InvokeInfo) (context.Context, cas.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "cas"),
		attribute.String("rpc.method", info.Action),
		attribute.String("cas.protocol", string(info.Protocol)),
		attribute.String("cas.session_id", info.SessionID),
		attribute.String("cas.connection_id", info.ConnectionID),
		attribute.String("cas.request_id", info.RequestID),
		attribute.String("server.address", info.Host),
		attribute.Int("server.port", info.Port),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("cas/%s", info.Action),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	// traceparent/tracestate travel with the request
	if h.cfg.Propagator != nil && info.Metadata != nil {
		h.cfg.Propagator.Inject(ctx, propagation.MapCarrier(info.Metadata))
	}

	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnInvokeEnd records span attributes and metrics, then ends the span.
func (h *otelHook) OnInvokeEnd(ctx context.Context, token cas.HookToken, info cas.InvokeInfo, stats *cas.InvokeStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)

	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case stats != nil && stats.Severity >= cas.SeverityError:
		status = "failed"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "cas"),
			attribute.String("rpc.method", info.Action),
			attribute.String("cas.protocol", string(info.Protocol)),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
		if h.rowCounter != nil && stats != nil {
			h.rowCounter.Add(ctx, stats.Rows, metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("cas.responses", stats.Responses),
			attribute.Int64("cas.results", stats.Results),
			attribute.Int64("cas.tables", stats.Tables),
			attribute.Int64("cas.messages", stats.Messages),
			attribute.Int64("cas.rows", stats.Rows),
			attribute.Int64("cas.bytes", stats.Bytes),
			attribute.Int("cas.severity", stats.Severity),
		)
	}

	switch {
	case err != nil:
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		errType := fmt.Sprintf("%T", err)
		var ae *cas.ActionError
		if errors.As(err, &ae) {
			errType = "action_error"
			st.span.SetAttributes(attribute.Int64("cas.status_code", ae.StatusCode))
		}
		st.span.SetAttributes(attribute.String("cas.error_type", errType))
	case status == "failed":
		st.span.SetStatus(codes.Error, "action failed")
	default:
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}
