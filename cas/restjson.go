// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/goccy/go-json"
)

// tableMarker flags a JSON object as a result table in the REST dialect.
const tableMarker = "_ctb"

// MarshalParamsJSON encodes params as a JSON object whose keys keep their
// order. A list whose items are all unnamed is encoded as a JSON array.
func MarshalParamsJSON(params ParamList) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSONObject(&buf, params); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalValueJSON encodes one Value.
func MarshalValueJSON(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindNil:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.Bool))
	case KindInt32, KindInt64, KindDate, KindTime, KindDateTime:
		buf.WriteString(strconv.FormatInt(v.Int, 10))
	case KindDouble:
		if math.IsNaN(v.Double) || math.IsInf(v.Double, 0) {
			buf.WriteString("null")
		} else {
			buf.WriteString(strconv.FormatFloat(v.Double, 'g', -1, 64))
		}
	case KindString:
		s, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(s)
	case KindBinary:
		return &MarshalError{Type: "blob", Err: ErrCapability}
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindTable:
		if allUnnamed(v.Table) {
			buf.WriteByte('[')
			for i, item := range v.Table {
				if i > 0 {
					buf.WriteByte(',')
				}
				if err := writeJSON(buf, item.Value); err != nil {
					return err
				}
			}
			buf.WriteByte(']')
			return nil
		}
		return writeJSONObject(buf, v.Table)
	default:
		return fmt.Errorf("cas: cannot encode %s as JSON", v.Kind)
	}
	return nil
}

func allUnnamed(p ParamList) bool {
	if len(p) == 0 {
		return false
	}
	for _, item := range p {
		if item.Name != "" {
			return false
		}
	}
	return true
}

func writeJSONObject(buf *bytes.Buffer, params ParamList) error {
	buf.WriteByte('{')
	for i, item := range params {
		if i > 0 {
			buf.WriteByte(',')
		}
		name := item.Name
		if name == "" {
			name = strconv.Itoa(i)
		}
		key, err := json.Marshal(name)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := writeJSON(buf, item.Value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// UnmarshalParamsJSON decodes a JSON object into an ordered ParamList.
// Integers decode as int64, other numbers as double.
func UnmarshalParamsJSON(data []byte) (ParamList, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return ParamList{}, nil
	}
	v, err := UnmarshalValueJSON(data)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindTable {
		return nil, fmt.Errorf("cas: expected a JSON object, got %s", v.Kind)
	}
	return v.Table, nil
}

// UnmarshalValueJSON decodes any JSON value, keeping object key order.
func UnmarshalValueJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeJSONValue(dec)
}

func decodeJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Nil(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int64(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Double(f), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		case '{':
			params := ParamList{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("cas: object key is %T", keyTok)
				}
				item, err := decodeJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				params = append(params, Param{Name: key, Value: item})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return TableOf(params), nil
		}
	}
	return Value{}, fmt.Errorf("cas: unexpected JSON token %v", tok)
}

type tableJSON struct {
	Marker     bool           `json:"_ctb"`
	Name       string         `json:"name"`
	Label      string         `json:"label,omitempty"`
	Title      string         `json:"title,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Schema     []columnJSON   `json:"schema"`
	Rows       [][]any        `json:"rows"`
}

type columnJSON struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Width  int    `json:"width,omitempty"`
	Format string `json:"format,omitempty"`
	Label  string `json:"label,omitempty"`
}

// MarshalJSON encodes the table in the REST dialect. Date, time and
// datetime cells are written as their CAS integer encodings.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := tableJSON{
		Marker:     true,
		Name:       t.Name,
		Label:      t.Label,
		Title:      t.Title,
		Attributes: t.Attrs,
		Rows:       make([][]any, t.NumRows()),
	}
	for _, c := range t.Columns {
		out.Schema = append(out.Schema, columnJSON(c))
	}
	for r := range out.Rows {
		row := make([]any, len(t.Columns))
		for c := range t.Columns {
			row[c] = t.rawCell(r, c)
		}
		out.Rows[r] = row
	}
	return json.Marshal(out)
}

// rawCell returns a cell without date conversion or missing-value mapping.
func (t *Table) rawCell(row, col int) any {
	arr := t.rec.Column(col)
	if arr.IsNull(row) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Float64:
		f := a.Value(row)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case *array.Int32:
		return a.Value(row)
	case *array.Int64:
		return a.Value(row)
	case *array.String:
		return a.Value(row)
	case *array.Binary:
		return a.Value(row)
	}
	return arr.ValueStr(row)
}

// tableFromJSON builds a table from a decoded REST table object.
func tableFromJSON(v Value) (*Table, error) {
	get := func(name string) Value {
		item, _ := v.Table.Get(name)
		return item
	}
	var cols []Column
	for _, cv := range get("schema").List {
		col := Column{}
		for _, f := range cv.Table {
			switch f.Name {
			case "name":
				col.Name = f.Value.Str
			case "type":
				col.Type = f.Value.Str
			case "width":
				col.Width = int(f.Value.Int)
			case "format":
				col.Format = f.Value.Str
			case "label":
				col.Label = f.Value.Str
			}
		}
		cols = append(cols, col)
	}
	rows := make([][]any, 0, len(get("rows").List))
	for _, rv := range get("rows").List {
		row := make([]any, len(rv.List))
		for i, cell := range rv.List {
			row[i] = cell.Interface()
		}
		rows = append(rows, row)
	}
	t, err := NewTableFromRows(get("name").Str, cols, rows)
	if err != nil {
		return nil, err
	}
	t.Label = get("label").Str
	t.Title = get("title").Str
	for _, a := range get("attributes").Table {
		t.Attrs[a.Name] = a.Value.Interface()
	}
	return t, nil
}

func isTableJSON(v Value) bool {
	if v.Kind != KindTable {
		return false
	}
	m, ok := v.Table.Get(tableMarker)
	return ok && m.Kind == KindBool && m.Bool
}

// restReply is the body of a REST action response.
type restReply struct {
	Session     string          `json:"session"`
	SessionName string          `json:"sessionName,omitempty"`
	Disposition Disposition     `json:"disposition"`
	LogEntries  []restLogEntry  `json:"logEntries"`
	Metrics     *Performance    `json:"metrics,omitempty"`
	UpdateFlags []string        `json:"updateFlags,omitempty"`
	Results     json.RawMessage `json:"results,omitempty"`
}

type restLogEntry struct {
	Message string `json:"message"`
}

// EncodeRESTReply writes r as a REST action response. Result values must
// be *Table or Value.
func EncodeRESTReply(w io.Writer, r *Response) error {
	reply := restReply{
		Session:     r.Session,
		SessionName: r.SessionName,
		Disposition: r.Disposition,
		Metrics:     r.Performance,
		UpdateFlags: r.UpdateFlags,
		LogEntries:  []restLogEntry{},
	}
	for _, m := range r.Messages {
		reply.LogEntries = append(reply.LogEntries, restLogEntry{Message: m})
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range r.Results {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(item.Key)
		buf.Write(key)
		buf.WriteByte(':')
		switch v := item.Value.(type) {
		case *Table:
			b, err := v.MarshalJSON()
			if err != nil {
				return err
			}
			buf.Write(b)
		case Value:
			if err := writeJSON(&buf, v); err != nil {
				return fmt.Errorf("result %q: %w", item.Key, err)
			}
		default:
			return fmt.Errorf("result %q: unsupported value %T", item.Key, item.Value)
		}
	}
	buf.WriteByte('}')
	reply.Results = buf.Bytes()
	return json.NewEncoder(w).Encode(reply)
}

// decodeRESTReply parses a REST action response into frames: logs, then
// results, then one final response frame.
func decodeRESTReply(data []byte) ([]*Frame, error) {
	var reply restReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, &ProtocolError{Message: "decoding REST reply", Err: err}
	}
	var frames []*Frame
	for _, e := range reply.LogEntries {
		frames = append(frames, &Frame{Kind: FrameLog, Message: e.Message})
	}
	if len(reply.Results) > 0 && !bytes.Equal(bytes.TrimSpace(reply.Results), []byte("null")) {
		results, err := UnmarshalValueJSON(reply.Results)
		if err != nil {
			return nil, &ProtocolError{Message: "decoding REST results", Err: err}
		}
		if results.Kind != KindTable && !(results.Kind == KindList && len(results.List) == 0) {
			return nil, &ProtocolError{Message: "REST results is not an object"}
		}
		for _, item := range results.Table {
			f := &Frame{Kind: FrameResult, Key: item.Name}
			if isTableJSON(item.Value) {
				t, err := tableFromJSON(item.Value)
				if err != nil {
					return nil, &ProtocolError{Message: "decoding table " + strconv.Quote(item.Name), Err: err}
				}
				f.Table = t
			} else {
				f.Value = item.Value
			}
			frames = append(frames, f)
		}
	}
	frames = append(frames, &Frame{
		Kind:        FrameResponse,
		Disposition: reply.Disposition,
		Performance: reply.Metrics,
		UpdateFlags: reply.UpdateFlags,
		Final:       true,
		Session:     reply.Session,
		SessionName: reply.SessionName,
	})
	return frames, nil
}
