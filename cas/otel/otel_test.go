// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package casotel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Query-farm/swat-go/cas"
	"github.com/Query-farm/swat-go/castest"
)

type testProviders struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	cfg    Config
}

func newTestProviders() *testProviders {
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	cfg := DefaultConfig()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cfg.Propagator = propagation.TraceContext{}
	return &testProviders{spans: spans, reader: reader, cfg: cfg}
}

func (p *testProviders) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, p.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInjectsTraceContext(t *testing.T) {
	p := newTestProviders()
	hook := NewHook(p.cfg)

	info := cas.InvokeInfo{Action: "simple.summary", Metadata: map[string]string{}}
	ctx, token := hook.OnInvokeStart(context.Background(), info)
	require.Contains(t, info.Metadata, "traceparent")

	sc := trace.SpanContextFromContext(ctx)
	assert.Contains(t, info.Metadata["traceparent"], sc.TraceID().String())

	hook.OnInvokeEnd(ctx, token, info, &cas.InvokeStatistics{Responses: 1}, nil)
	ended := p.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "cas/simple.summary", ended[0].Name())
	assert.Equal(t, trace.SpanKindClient, ended[0].SpanKind())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
}

func TestRecordsErrors(t *testing.T) {
	p := newTestProviders()
	hook := NewHook(p.cfg)

	info := cas.InvokeInfo{Action: "builtins.echo", Metadata: map[string]string{}}
	ctx, token := hook.OnInvokeStart(context.Background(), info)
	hook.OnInvokeEnd(ctx, token, info, &cas.InvokeStatistics{}, errors.New("connection reset"))

	ended := p.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "connection reset", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
}

func TestFailedSeverityMarksSpan(t *testing.T) {
	p := newTestProviders()
	hook := NewHook(p.cfg)

	info := cas.InvokeInfo{Action: "actionTest.fail"}
	ctx, token := hook.OnInvokeStart(context.Background(), info)
	hook.OnInvokeEnd(ctx, token, info, &cas.InvokeStatistics{Severity: cas.SeverityError}, nil)

	ended := p.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	v, ok := spanAttr(ended[0], "cas.severity")
	require.True(t, ok)
	assert.Equal(t, int64(cas.SeverityError), v.AsInt64())
}

func TestTracingDisabled(t *testing.T) {
	p := newTestProviders()
	p.cfg.EnableTracing = false
	hook := NewHook(p.cfg)

	info := cas.InvokeInfo{Action: "builtins.echo", Metadata: map[string]string{}}
	ctx, token := hook.OnInvokeStart(context.Background(), info)
	hook.OnInvokeEnd(ctx, token, info, &cas.InvokeStatistics{}, nil)

	assert.Empty(t, p.spans.Ended())
	assert.NotContains(t, info.Metadata, "traceparent")
	assert.Equal(t, int64(1), p.counter(t, "cas.client.requests"))
}

func TestInstrumentedConnection(t *testing.T) {
	for _, proto := range []cas.Protocol{cas.ProtocolNative, cas.ProtocolHTTP} {
		t.Run(string(proto), func(t *testing.T) {
			srv := castest.Start(t)
			p := newTestProviders()

			opts := srv.Options(proto)
			Instrument(&opts, p.cfg)
			conn, err := cas.Connect(context.Background(), opts)
			require.NoError(t, err)
			defer conn.Close()

			res, err := conn.Retrieve(context.Background(), "simple.summary", cas.Params{"table": "cars"})
			require.NoError(t, err)
			defer res.Release()

			ended := p.spans.Ended()
			require.Len(t, ended, 1)
			span := ended[0]
			assert.Equal(t, "cas/simple.summary", span.Name())
			assert.Equal(t, codes.Ok, span.Status().Code)

			v, ok := spanAttr(span, "cas.protocol")
			require.True(t, ok)
			assert.Equal(t, string(proto), v.AsString())
			v, ok = spanAttr(span, "cas.tables")
			require.True(t, ok)
			assert.Equal(t, int64(1), v.AsInt64())

			assert.Equal(t, int64(1), p.counter(t, "cas.client.requests"))
			assert.Equal(t, int64(3), p.counter(t, "cas.client.rows"))
		})
	}
}
