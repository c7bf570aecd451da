// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
)

// paramSchema is the layout of an encoded parameter tree. Each row is one
// node in pre-order; a container row is followed by its nchildren items.
var paramSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "kind", Type: arrow.PrimitiveTypes.Int8},
	{Name: "nchildren", Type: arrow.PrimitiveTypes.Int32},
	{Name: "bool", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "int", Type: arrow.PrimitiveTypes.Int64},
	{Name: "double", Type: arrow.PrimitiveTypes.Float64},
	{Name: "string", Type: arrow.BinaryTypes.String},
	{Name: "binary", Type: arrow.BinaryTypes.Binary},
}, nil)

type paramBuilder struct {
	name      *array.StringBuilder
	kind      *array.Int8Builder
	nchildren *array.Int32Builder
	boolean   *array.BooleanBuilder
	integer   *array.Int64Builder
	double    *array.Float64Builder
	str       *array.StringBuilder
	binary    *array.BinaryBuilder
	rows      int64
}

func newParamBuilder(mem memory.Allocator) *paramBuilder {
	return &paramBuilder{
		name:      array.NewStringBuilder(mem),
		kind:      array.NewInt8Builder(mem),
		nchildren: array.NewInt32Builder(mem),
		boolean:   array.NewBooleanBuilder(mem),
		integer:   array.NewInt64Builder(mem),
		double:    array.NewFloat64Builder(mem),
		str:       array.NewStringBuilder(mem),
		binary:    array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary),
	}
}

func (b *paramBuilder) release() {
	b.name.Release()
	b.kind.Release()
	b.nchildren.Release()
	b.boolean.Release()
	b.integer.Release()
	b.double.Release()
	b.str.Release()
	b.binary.Release()
}

func (b *paramBuilder) append(name string, v Value) {
	b.rows++
	b.name.Append(name)
	b.kind.Append(int8(v.Kind))
	b.nchildren.Append(int32(v.Len()))
	b.boolean.Append(v.Bool)
	b.integer.Append(v.Int)
	b.double.Append(v.Double)
	b.str.Append(v.Str)
	b.binary.Append(v.Bytes)
	switch v.Kind {
	case KindList:
		for _, item := range v.List {
			b.append("", item)
		}
	case KindTable:
		for _, item := range v.Table {
			b.append(item.Name, item.Value)
		}
	}
}

func (b *paramBuilder) batch(meta arrow.Metadata) arrow.RecordBatch {
	cols := []arrow.Array{
		b.name.NewArray(),
		b.kind.NewArray(),
		b.nchildren.NewArray(),
		b.boolean.NewArray(),
		b.integer.NewArray(),
		b.double.NewArray(),
		b.str.NewArray(),
		b.binary.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatchWithMetadata(paramSchema, cols, b.rows, meta)
}

// encodeParams builds the parameter-tree batch for params.
func encodeParams(params ParamList, meta arrow.Metadata) arrow.RecordBatch {
	b := newParamBuilder(memory.NewGoAllocator())
	defer b.release()
	for _, p := range params {
		b.append(p.Name, p.Value)
	}
	return b.batch(meta)
}

type paramCursor struct {
	name      *array.String
	kind      *array.Int8
	nchildren *array.Int32
	boolean   *array.Boolean
	integer   *array.Int64
	double    *array.Float64
	str       *array.String
	binary    *array.Binary
	rows      int
	pos       int
}

// decodeParams reads a parameter-tree batch back into a ParamList.
func decodeParams(batch arrow.RecordBatch) (ParamList, error) {
	if batch.NumCols() != int64(paramSchema.NumFields()) {
		return nil, &ProtocolError{Message: "parameter batch has unexpected schema " + batch.Schema().String()}
	}
	c := &paramCursor{rows: int(batch.NumRows())}
	var ok [8]bool
	c.name, ok[0] = batch.Column(0).(*array.String)
	c.kind, ok[1] = batch.Column(1).(*array.Int8)
	c.nchildren, ok[2] = batch.Column(2).(*array.Int32)
	c.boolean, ok[3] = batch.Column(3).(*array.Boolean)
	c.integer, ok[4] = batch.Column(4).(*array.Int64)
	c.double, ok[5] = batch.Column(5).(*array.Float64)
	c.str, ok[6] = batch.Column(6).(*array.String)
	c.binary, ok[7] = batch.Column(7).(*array.Binary)
	for _, good := range ok {
		if !good {
			return nil, &ProtocolError{Message: "parameter batch has unexpected schema " + batch.Schema().String()}
		}
	}
	out := ParamList{}
	for c.pos < c.rows {
		p, err := c.next()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *paramCursor) next() (Param, error) {
	if c.pos >= c.rows {
		return Param{}, &ProtocolError{Message: "parameter tree is truncated"}
	}
	i := c.pos
	c.pos++
	kind := Kind(c.kind.Value(i))
	v := Value{Kind: kind}
	switch kind {
	case KindNil:
	case KindBool:
		v.Bool = c.boolean.Value(i)
	case KindInt32, KindInt64, KindDate, KindTime, KindDateTime:
		v.Int = c.integer.Value(i)
	case KindDouble:
		v.Double = c.double.Value(i)
	case KindString:
		v.Str = c.str.Value(i)
	case KindBinary:
		v.Bytes = append([]byte{}, c.binary.Value(i)...)
	case KindList:
		n, err := c.children(i)
		if err != nil {
			return Param{}, err
		}
		v.List = make([]Value, 0, n)
		for range n {
			child, err := c.next()
			if err != nil {
				return Param{}, err
			}
			v.List = append(v.List, child.Value)
		}
	case KindTable:
		n, err := c.children(i)
		if err != nil {
			return Param{}, err
		}
		v.Table = make(ParamList, 0, n)
		for range n {
			child, err := c.next()
			if err != nil {
				return Param{}, err
			}
			v.Table = append(v.Table, child)
		}
	default:
		return Param{}, &ProtocolError{Message: fmt.Sprintf("unknown parameter kind %d", kind)}
	}
	return Param{Name: c.name.Value(i), Value: v}, nil
}

// children returns the child count of row i. Each child takes at least one
// of the remaining rows.
func (c *paramCursor) children(i int) (int, error) {
	n := int(c.nchildren.Value(i))
	if n < 0 || n > c.rows-c.pos {
		return 0, &ProtocolError{Message: fmt.Sprintf("parameter %q claims %d children with %d rows left", c.name.Value(i), n, c.rows-c.pos)}
	}
	return n, nil
}

// Request is an action request as carried by the native protocol.
type Request struct {
	Action    string
	Session   string
	RequestID string
	Params    ParamList
	Metadata  map[string]string
}

// WriteRequest writes req as one complete IPC stream.
func WriteRequest(w io.Writer, req *Request) error {
	keys := []string{MetaAction, MetaRequestVersion}
	vals := []string{req.Action, ProtocolVersion}
	if req.Session != "" {
		keys = append(keys, MetaSession)
		vals = append(vals, req.Session)
	}
	if req.RequestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, req.RequestID)
	}
	for _, k := range slices.Sorted(maps.Keys(req.Metadata)) {
		keys = append(keys, k)
		vals = append(vals, req.Metadata[k])
	}
	batch := encodeParams(req.Params, arrow.NewMetadata(keys, vals))
	defer batch.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(paramSchema))
	if err := writer.Write(batch); err != nil {
		writer.Close()
		return fmt.Errorf("writing request batch: %w", err)
	}
	return writer.Close()
}

// continuationMarker starts every IPC stream message.
var continuationMarker = []byte{0xFF, 0xFF, 0xFF, 0xFF}

// readBatch reads one complete IPC stream and returns its single batch and
// custom metadata. It returns io.EOF when r is exhausted before a stream
// starts.
func readBatch(r io.Reader) (arrow.RecordBatch, arrow.Metadata, error) {
	if p, ok := r.(interface{ Peek(int) ([]byte, error) }); ok {
		head, err := p.Peek(4)
		if len(head) == 0 && err != nil {
			return nil, arrow.Metadata{}, io.EOF
		}
		if !bytes.Equal(head, continuationMarker[:len(head)]) {
			return nil, arrow.Metadata{}, &ProtocolError{Message: fmt.Sprintf("peer is not speaking the native protocol (read %q)", head)}
		}
	}
	reader, err := ipc.NewReader(r)
	if err != nil {
		if isTransportClosed(err) {
			return nil, arrow.Metadata{}, io.EOF
		}
		return nil, arrow.Metadata{}, &ProtocolError{Message: "reading IPC stream", Err: err}
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, arrow.Metadata{}, &ProtocolError{Message: "reading batch", Err: err}
		}
		return nil, arrow.Metadata{}, &ProtocolError{Message: "IPC stream has no batch"}
	}
	batch := reader.RecordBatch()
	batch.Retain()

	var meta arrow.Metadata
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		meta = rb.Metadata()
	}
	for reader.Next() {
		// drain to EOS
	}
	return batch, meta, nil
}

// ReadRequest reads one request written by WriteRequest.
func ReadRequest(r io.Reader) (*Request, error) {
	batch, meta, err := readBatch(r)
	if err != nil {
		return nil, err
	}
	defer batch.Release()

	action, ok := meta.GetValue(MetaAction)
	if !ok {
		return nil, &ProtocolError{Message: "missing '" + MetaAction + "' in request metadata"}
	}
	version, _ := meta.GetValue(MetaRequestVersion)
	if version != ProtocolVersion {
		return nil, &ProtocolError{Message: fmt.Sprintf("unsupported request version %q, expected %q", version, ProtocolVersion)}
	}
	params, err := decodeParams(batch)
	if err != nil {
		return nil, err
	}
	req := &Request{Action: action, Params: params, Metadata: metadataMap(meta)}
	req.Session, _ = meta.GetValue(MetaSession)
	req.RequestID, _ = meta.GetValue(MetaRequestID)
	return req, nil
}

func metadataMap(meta arrow.Metadata) map[string]string {
	out := make(map[string]string, meta.Len())
	for i := range meta.Len() {
		out[meta.Keys()[i]] = meta.Values()[i]
	}
	return out
}

// FrameKind classifies a server frame.
type FrameKind int

const (
	FrameLog      FrameKind = iota // a server message line
	FrameResult                    // one named result, a table or a value
	FrameResponse                  // the end of a response chunk
)

// Frame is one message of a native reply stream. Which fields are set
// depends on Kind.
type Frame struct {
	Kind FrameKind

	Message string

	Key     string
	Table   *Table
	Value   Value
	Replace bool

	Disposition
	Performance *Performance
	UpdateFlags []string
	Final       bool
	Session     string
	SessionName string
}

// emptyBatch creates a zero-row, zero-column batch carrying meta.
func emptyBatch(meta arrow.Metadata) arrow.RecordBatch {
	return array.NewRecordBatchWithMetadata(arrow.NewSchema(nil, nil), nil, 0, meta)
}

func writeBatch(w io.Writer, batch arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(batch.Schema()))
	if err := writer.Write(batch); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// WriteFrame writes f as one complete IPC stream.
func WriteFrame(w io.Writer, f *Frame) error {
	keys := []string{MetaFrame}
	var vals []string
	var batch arrow.RecordBatch

	switch f.Kind {
	case FrameLog:
		vals = append(vals, frameLog)
		keys = append(keys, MetaLogMessage)
		vals = append(vals, f.Message)
		batch = emptyBatch(arrow.NewMetadata(keys, vals))

	case FrameResult:
		vals = append(vals, frameResult)
		keys = append(keys, MetaResultKey, MetaReplace)
		vals = append(vals, f.Key, strconv.FormatBool(f.Replace))
		if f.Table != nil {
			keys = append(keys, MetaResultKind)
			vals = append(vals, resultTable)
			rec, err := f.Table.Record()
			if err != nil {
				return err
			}
			defer rec.Release()
			batch = array.NewRecordBatchWithMetadata(rec.Schema(), rec.Columns(), rec.NumRows(), arrow.NewMetadata(keys, vals))
		} else {
			keys = append(keys, MetaResultKind)
			vals = append(vals, resultValue)
			batch = encodeParams(ParamList{{Name: f.Key, Value: f.Value}}, arrow.NewMetadata(keys, vals))
		}

	case FrameResponse:
		vals = append(vals, frameResponse)
		keys = append(keys, MetaSeverity, MetaFinal)
		vals = append(vals, strconv.Itoa(f.Severity), strconv.FormatBool(f.Final))
		add := func(k, v string) {
			if v != "" {
				keys = append(keys, k)
				vals = append(vals, v)
			}
		}
		add(MetaReason, f.Reason)
		add(MetaStatus, f.Status)
		if f.StatusCode != 0 {
			add(MetaStatusCode, strconv.FormatInt(f.StatusCode, 10))
		}
		add(MetaDebug, f.Debug)
		add(MetaSession, f.Session)
		add(MetaSessionName, f.SessionName)
		if f.Performance != nil {
			perf, err := json.Marshal(f.Performance)
			if err != nil {
				return fmt.Errorf("encoding performance: %w", err)
			}
			add(MetaPerformance, string(perf))
		}
		if len(f.UpdateFlags) > 0 {
			add(MetaUpdateFlags, strings.Join(f.UpdateFlags, ","))
		}
		batch = emptyBatch(arrow.NewMetadata(keys, vals))

	default:
		return fmt.Errorf("unknown frame kind %d", f.Kind)
	}
	defer batch.Release()
	return writeBatch(w, batch)
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) (*Frame, error) {
	batch, meta, err := readBatch(r)
	if err != nil {
		return nil, err
	}
	defer batch.Release()

	kind, _ := meta.GetValue(MetaFrame)
	switch kind {
	case frameLog:
		msg, _ := meta.GetValue(MetaLogMessage)
		return &Frame{Kind: FrameLog, Message: msg}, nil

	case frameResult:
		f := &Frame{Kind: FrameResult}
		f.Key, _ = meta.GetValue(MetaResultKey)
		replace, _ := meta.GetValue(MetaReplace)
		f.Replace = replace == "true"
		resultKind, _ := meta.GetValue(MetaResultKind)
		if resultKind == resultTable {
			t, err := NewTable(batch)
			if err != nil {
				return nil, err
			}
			f.Table = t
			return f, nil
		}
		params, err := decodeParams(batch)
		if err != nil {
			return nil, err
		}
		if len(params) != 1 {
			return nil, &ProtocolError{Message: fmt.Sprintf("result %q has %d values", f.Key, len(params))}
		}
		f.Value = params[0].Value
		return f, nil

	case frameResponse:
		f := &Frame{Kind: FrameResponse}
		sev, _ := meta.GetValue(MetaSeverity)
		if f.Severity, err = strconv.Atoi(sev); err != nil {
			return nil, &ProtocolError{Message: "bad severity " + strconv.Quote(sev), Err: err}
		}
		final, _ := meta.GetValue(MetaFinal)
		f.Final = final == "true"
		f.Reason, _ = meta.GetValue(MetaReason)
		f.Status, _ = meta.GetValue(MetaStatus)
		if code, ok := meta.GetValue(MetaStatusCode); ok {
			f.StatusCode, _ = strconv.ParseInt(code, 10, 64)
		}
		f.Debug, _ = meta.GetValue(MetaDebug)
		f.Session, _ = meta.GetValue(MetaSession)
		f.SessionName, _ = meta.GetValue(MetaSessionName)
		if perf, ok := meta.GetValue(MetaPerformance); ok {
			f.Performance = &Performance{}
			if err := json.Unmarshal([]byte(perf), f.Performance); err != nil {
				return nil, &ProtocolError{Message: "decoding performance", Err: err}
			}
		}
		if flags, ok := meta.GetValue(MetaUpdateFlags); ok && flags != "" {
			f.UpdateFlags = strings.Split(flags, ",")
		}
		return f, nil
	}
	return nil, &ProtocolError{Message: fmt.Sprintf("unknown frame kind %q", kind)}
}

// isTransportClosed returns true for errors that indicate the transport was
// closed normally.
func isTransportClosed(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "EOF")
}
