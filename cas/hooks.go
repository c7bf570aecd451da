// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// InvokeHook provides observability callpoints around action invocation.
// Implementations must be safe for concurrent use; forked connections share
// the hook of their parent.
type InvokeHook interface {
	OnInvokeStart(ctx context.Context, info InvokeInfo) (context.Context, HookToken)
	OnInvokeEnd(ctx context.Context, token HookToken, info InvokeInfo, stats *InvokeStatistics, err error)
}

// HookToken is an opaque value returned by OnInvokeStart and passed back to
// OnInvokeEnd. Only meaningful to the InvokeHook that created it.
type HookToken interface{}

// InvokeInfo describes one action invocation.
type InvokeInfo struct {
	Action       string
	Protocol     Protocol
	Host         string
	Port         int
	SessionID    string
	ConnectionID string
	RequestID    string
	// Metadata is sent with the request: IPC custom metadata on the native
	// protocol, headers over HTTP. Hooks may add entries in OnInvokeStart,
	// such as trace context.
	Metadata map[string]string
}

// InvokeStatistics holds per-invocation counters.
type InvokeStatistics struct {
	Responses int64
	Results   int64
	Tables    int64
	Messages  int64
	Rows      int64
	Bytes     int64
	Severity  int
}

// RecordResponse accumulates the counters of one response.
func (s *InvokeStatistics) RecordResponse(r *Response) {
	s.Responses++
	s.Messages += int64(len(r.Messages))
	s.Results += int64(len(r.Results))
	for _, t := range r.tables() {
		s.Tables++
		s.Rows += int64(t.NumRows())
		s.Bytes += batchBufferSize(t.rec)
	}
	if r.Severity > s.Severity {
		s.Severity = r.Severity
	}
}

// batchBufferSize returns the total top-level buffer size in bytes across all
// columns in a record batch.
func batchBufferSize(batch arrow.RecordBatch) int64 {
	var total int64
	for i := int64(0); i < batch.NumCols(); i++ {
		col := batch.Column(int(i))
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}

type hookCall struct {
	hook   InvokeHook
	token  HookToken
	info   InvokeInfo
	stats  InvokeStatistics
	active bool
}

// startHook calls OnInvokeStart, recovering from panics in the hook.
func startHook(ctx context.Context, hook InvokeHook, info InvokeInfo, o *Options) (context.Context, *hookCall) {
	call := &hookCall{hook: hook, info: info}
	if hook == nil {
		return ctx, call
	}
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				o.logger().Error("invoke hook start panic", "err", rv)
			}
		}()
		hookCtx, token := hook.OnInvokeStart(ctx, call.info)
		if hookCtx != nil {
			ctx = hookCtx
		}
		call.token = token
		call.active = true
	}()
	return ctx, call
}

// end calls OnInvokeEnd once, recovering from panics in the hook.
func (c *hookCall) end(ctx context.Context, err error, o *Options) {
	if !c.active {
		return
	}
	c.active = false
	defer func() {
		if rv := recover(); rv != nil {
			o.logger().Error("invoke hook end panic", "err", rv)
		}
	}()
	stats := c.stats
	c.hook.OnInvokeEnd(ctx, c.token, c.info, &stats, err)
}
