// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCarriesNestedParams(t *testing.T) {
	params := ParamList{
		{Name: "table", Value: TableOf(ParamList{
			{Name: "name", Value: String("cars")},
			{Name: "groupBy", Value: List(String("Origin"), TableOf(ParamList{{Name: "name", Value: String("Type")}}))},
		})},
		{Name: "topk", Value: Int32(5)},
		{Name: "weight", Value: Double(0.25)},
		{Name: "flag", Value: Bool(true)},
		{Name: "missing", Value: Nil()},
		{Name: "big", Value: Int64(1 << 40)},
		{Name: "blob", Value: Binary([]byte{0, 1, 2})},
		{Name: "when", Value: Value{Kind: KindDateTime, Int: 123}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, &Request{
		Action:    "simple.topk",
		Session:   "sess-1",
		RequestID: "req-1",
		Params:    params,
		Metadata:  map[string]string{"traceparent": "00-abc"},
	}))

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, "simple.topk", req.Action)
	assert.Equal(t, "sess-1", req.Session)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "00-abc", req.Metadata["traceparent"])
	assert.Equal(t, params, req.Params)
}

func TestRequestsShareAStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, &Request{Action: "builtins.echo"}))
	require.NoError(t, WriteRequest(&buf, &Request{Action: "builtins.serverStatus"}))

	r := bufio.NewReader(&buf)
	first, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "builtins.echo", first.Action)
	assert.Empty(t, first.Params)

	second, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "builtins.serverStatus", second.Action)

	_, err = ReadRequest(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrames(t *testing.T) {
	tbl, err := NewTableFromRows("Summary", []Column{
		{Name: "Column", Type: "varchar"},
		{Name: "Mean", Type: "double", Format: "BEST8."},
	}, [][]any{{"MSRP", 34000.5}, {"Horsepower", nil}})
	require.NoError(t, err)
	tbl.Label = "Descriptive Statistics"
	tbl.Attrs[AttrAction] = "summary"
	tbl.Attrs[AttrByGroupIndex] = 2

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Kind: FrameLog, Message: "NOTE: Processing."}))
	require.NoError(t, WriteFrame(&buf, &Frame{Kind: FrameResult, Key: "Summary", Table: tbl}))
	require.NoError(t, WriteFrame(&buf, &Frame{Kind: FrameResult, Key: "count", Value: Int64(7), Replace: true}))
	require.NoError(t, WriteFrame(&buf, &Frame{
		Kind:        FrameResponse,
		Disposition: Disposition{Severity: SeverityWarning, Status: "Careful.", StatusCode: 12},
		Performance: &Performance{ElapsedTime: 0.5, SystemNodes: 1},
		UpdateFlags: []string{FlagActionRestart},
		Final:       true,
		Session:     "sess-1",
		SessionName: "py",
	}))
	tbl.Release()

	r := bufio.NewReader(&buf)
	f, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, FrameLog, f.Kind)
	assert.Equal(t, "NOTE: Processing.", f.Message)

	f, err = ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, FrameResult, f.Kind)
	require.NotNil(t, f.Table)
	defer f.Table.Release()
	assert.Equal(t, "Summary", f.Key)
	assert.Equal(t, "Descriptive Statistics", f.Table.Label)
	assert.Equal(t, "summary", f.Table.Action())
	g, ok := f.Table.ByGroupIndex()
	require.True(t, ok)
	assert.Equal(t, 2, g)
	require.Equal(t, 2, f.Table.NumRows())
	assert.Equal(t, []any{"MSRP", 34000.5}, f.Table.Row(0))
	assert.Nil(t, f.Table.Value(1, 1))
	assert.Equal(t, "BEST8.", f.Table.Columns[1].Format)

	f, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "count", f.Key)
	assert.Equal(t, Int64(7), f.Value)
	assert.True(t, f.Replace)

	f, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, FrameResponse, f.Kind)
	assert.True(t, f.Final)
	assert.Equal(t, SeverityWarning, f.Severity)
	assert.Equal(t, "Careful.", f.Status)
	assert.Equal(t, int64(12), f.StatusCode)
	assert.Equal(t, []string{FlagActionRestart}, f.UpdateFlags)
	require.NotNil(t, f.Performance)
	assert.Equal(t, 0.5, f.Performance.ElapsedTime)
	assert.Equal(t, "sess-1", f.Session)
	assert.Equal(t, "py", f.SessionName)
}

func TestReadFrameRejectsForeignProtocol(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("HTTP/1.1 400 Bad Request\r\n\r\n"))
	_, err := ReadFrame(r)
	require.ErrorIs(t, err, ErrProtocol)
}

// appendRaw adds one parameter row with an arbitrary child count.
func appendRaw(b *paramBuilder, name string, kind Kind, nchildren int32) {
	b.rows++
	b.name.Append(name)
	b.kind.Append(int8(kind))
	b.nchildren.Append(nchildren)
	b.boolean.Append(false)
	b.integer.Append(0)
	b.double.Append(0)
	b.str.Append("x")
	b.binary.Append(nil)
}

func TestDecodeParamsRejectsBadChildCounts(t *testing.T) {
	for name, count := range map[string]int32{
		"negative":     -1,
		"past the end": 2,
		"huge":         1 << 30,
	} {
		t.Run(name, func(t *testing.T) {
			b := newParamBuilder(memory.NewGoAllocator())
			defer b.release()
			appendRaw(b, "lst", KindList, count)
			appendRaw(b, "", KindString, 0)
			batch := b.batch(arrow.Metadata{})
			defer batch.Release()

			_, err := decodeParams(batch)
			require.ErrorIs(t, err, ErrProtocol)
		})
	}

	b := newParamBuilder(memory.NewGoAllocator())
	defer b.release()
	appendRaw(b, "lst", KindList, 1)
	appendRaw(b, "", KindString, 0)
	batch := b.batch(arrow.Metadata{})
	defer batch.Release()
	params, err := decodeParams(batch)
	require.NoError(t, err)
	assert.Equal(t, ParamList{{Name: "lst", Value: List(String("x"))}}, params)
}
