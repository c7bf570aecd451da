// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"

	"github.com/Query-farm/swat-go/casdt"
)

// Column describes one result table column.
type Column struct {
	Name   string
	Type   string // CAS type: double, int32, int64, char, varchar, date, time, datetime, binary, varbinary
	Width  int
	Format string
	Label  string
}

// ByVar is one by-group variable of a table produced under a GROUP BY.
type ByVar struct {
	Name      string
	Value     any
	Formatted string
}

// Table is a result table. Rows are stored in an Arrow record batch; date,
// time and datetime columns hold their CAS encodings.
type Table struct {
	Name    string
	Label   string
	Title   string
	Attrs   map[string]any
	Columns []Column

	rec     arrow.RecordBatch
	missing *MissingValues
}

func arrowType(casType string) (arrow.DataType, error) {
	switch strings.ToLower(casType) {
	case "double":
		return arrow.PrimitiveTypes.Float64, nil
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64", "date", "time", "datetime":
		return arrow.PrimitiveTypes.Int64, nil
	case "char", "varchar":
		return arrow.BinaryTypes.String, nil
	case "binary", "varbinary":
		return arrow.BinaryTypes.Binary, nil
	}
	return nil, fmt.Errorf("cas: unsupported column type %q", casType)
}

func columnField(c Column, dt arrow.DataType) arrow.Field {
	keys := []string{MetaColumnType, MetaColumnWidth}
	vals := []string{strings.ToLower(c.Type), strconv.Itoa(c.Width)}
	if c.Format != "" {
		keys = append(keys, MetaColumnFormat)
		vals = append(vals, c.Format)
	}
	if c.Label != "" {
		keys = append(keys, MetaColumnLabel)
		vals = append(vals, c.Label)
	}
	return arrow.Field{Name: c.Name, Type: dt, Nullable: true, Metadata: arrow.NewMetadata(keys, vals)}
}

func columnFields(cols []Column) ([]arrow.Field, error) {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		dt, err := arrowType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		fields[i] = columnField(c, dt)
	}
	return fields, nil
}

// NewTableFromRows builds a table from row-major values. Cells may be nil,
// Go numbers, strings, []byte, time.Time (date and datetime columns) or
// casdt.TimeOfDay (time columns).
func NewTableFromRows(name string, cols []Column, rows [][]any) (*Table, error) {
	fields, err := columnFields(cols)
	if err != nil {
		return nil, err
	}
	mem := memory.NewGoAllocator()
	builders := make([]array.Builder, len(cols))
	for i, f := range fields {
		builders[i] = array.NewBuilder(mem, f.Type)
		defer builders[i].Release()
	}
	for r, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("cas: table %q row %d has %d values, want %d", name, r, len(row), len(cols))
		}
		for i, v := range row {
			if err := appendCell(builders[i], cols[i], v); err != nil {
				return nil, fmt.Errorf("cas: table %q row %d column %q: %w", name, r, cols[i].Name, err)
			}
		}
	}
	arrs := make([]arrow.Array, len(cols))
	for i, b := range builders {
		arrs[i] = b.NewArray()
		defer arrs[i].Release()
	}
	return &Table{
		Name:    name,
		Attrs:   map[string]any{},
		Columns: cols,
		rec:     array.NewRecordBatch(arrow.NewSchema(fields, nil), arrs, int64(len(rows))),
	}, nil
}

// NewTable wraps a record batch whose schema carries table and column
// metadata, as received from the native protocol. The batch is retained.
func NewTable(rec arrow.RecordBatch) (*Table, error) {
	schema := rec.Schema()
	meta := schema.Metadata()
	t := &Table{Attrs: map[string]any{}, rec: rec}
	t.Name, _ = meta.GetValue(MetaTableName)
	t.Label, _ = meta.GetValue(MetaTableLabel)
	t.Title, _ = meta.GetValue(MetaTableTitle)
	if raw, ok := meta.GetValue(MetaTableAttrs); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Attrs); err != nil {
			return nil, &ProtocolError{Message: "decoding table attributes", Err: err}
		}
	}
	for _, f := range schema.Fields() {
		c := Column{Name: f.Name}
		c.Type, _ = f.Metadata.GetValue(MetaColumnType)
		if c.Type == "" {
			c.Type = casTypeOf(f.Type)
		}
		if w, ok := f.Metadata.GetValue(MetaColumnWidth); ok {
			c.Width, _ = strconv.Atoi(w)
		}
		c.Format, _ = f.Metadata.GetValue(MetaColumnFormat)
		c.Label, _ = f.Metadata.GetValue(MetaColumnLabel)
		t.Columns = append(t.Columns, c)
	}
	rec.Retain()
	return t, nil
}

func casTypeOf(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.FLOAT64:
		return "double"
	case arrow.INT32:
		return "int32"
	case arrow.INT64:
		return "int64"
	case arrow.BINARY:
		return "varbinary"
	}
	return "varchar"
}

// Record returns a batch whose schema carries the table's current metadata.
// The caller must release it.
func (t *Table) Record() (arrow.RecordBatch, error) {
	fields, err := columnFields(t.Columns)
	if err != nil {
		return nil, err
	}
	keys := []string{MetaTableName}
	vals := []string{t.Name}
	if t.Label != "" {
		keys = append(keys, MetaTableLabel)
		vals = append(vals, t.Label)
	}
	if t.Title != "" {
		keys = append(keys, MetaTableTitle)
		vals = append(vals, t.Title)
	}
	if len(t.Attrs) > 0 {
		attrs, err := json.Marshal(t.Attrs)
		if err != nil {
			return nil, fmt.Errorf("cas: encoding attributes of %q: %w", t.Name, err)
		}
		keys = append(keys, MetaTableAttrs)
		vals = append(vals, string(attrs))
	}
	meta := arrow.NewMetadata(keys, vals)
	return array.NewRecordBatch(arrow.NewSchema(fields, &meta), t.rec.Columns(), t.rec.NumRows()), nil
}

// Retain increases the reference count of the underlying Arrow data.
func (t *Table) Retain() { t.rec.Retain() }

// Release decreases the reference count of the underlying Arrow data.
func (t *Table) Release() { t.rec.Release() }

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return int(t.rec.NumRows()) }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.Columns) }

// ColumnIndex returns the index of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// SetMissing sets the sentinels reported as missing by Value. Tables use
// DefaultMissingValues until this is called.
func (t *Table) SetMissing(m MissingValues) { t.missing = &m }

// Value returns the cell at row, col as a Go value. Nulls and missing
// sentinels are returned as nil; date and datetime cells as time.Time and
// time cells as casdt.TimeOfDay.
func (t *Table) Value(row, col int) any {
	arr := t.rec.Column(col)
	if arr.IsNull(row) {
		return nil
	}
	m := DefaultMissingValues()
	if t.missing != nil {
		m = *t.missing
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(row)
	case *array.Int32:
		v := a.Value(row)
		if v == m.Int32 {
			return nil
		}
		return v
	case *array.Int64:
		v := a.Value(row)
		switch strings.ToLower(t.Columns[col].Type) {
		case "date":
			if v == m.Date {
				return nil
			}
			return casdt.CASToDate(v)
		case "time":
			if v == m.Time {
				return nil
			}
			return casdt.CASToTime(v)
		case "datetime":
			if v == m.DateTime {
				return nil
			}
			return casdt.CASToDateTime(v)
		}
		if v == m.Int64 {
			return nil
		}
		return v
	case *array.String:
		return a.Value(row)
	case *array.Binary:
		return bytes.Clone(a.Value(row))
	}
	return arr.ValueStr(row)
}

// Row returns every cell of row i.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.Columns))
	for c := range t.Columns {
		out[c] = t.Value(i, c)
	}
	return out
}

// ColumnValues returns every cell of the named column.
func (t *Table) ColumnValues(name string) ([]any, error) {
	c := t.ColumnIndex(name)
	if c < 0 {
		return nil, fmt.Errorf("cas: column %q of %q: %w", name, t.Name, ErrNotFound)
	}
	out := make([]any, t.NumRows())
	for r := range out {
		out[r] = t.Value(r, c)
	}
	return out, nil
}

// Attr returns a table attribute.
func (t *Table) Attr(name string) (any, bool) {
	v, ok := t.Attrs[name]
	return v, ok
}

func (t *Table) attrString(name string) string {
	if v, ok := t.Attrs[name]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func (t *Table) attrInt(name string) (int, bool) {
	v, ok := t.Attrs[name]
	if !ok {
		return 0, false
	}
	i, ok := toInt64(v)
	return int(i), ok
}

// Action returns the name of the action that created the table.
func (t *Table) Action() string { return t.attrString(AttrAction) }

// ActionSet returns the action set of the action that created the table.
func (t *Table) ActionSet() string { return t.attrString(AttrActionSet) }

// CreateTime returns the table creation time, stored by the server as a
// SAS datetime.
func (t *Table) CreateTime() (time.Time, bool) {
	v, ok := t.Attrs[AttrCreateTime]
	if !ok {
		return time.Time{}, false
	}
	f, ok := toFloat64(v)
	if !ok {
		return time.Time{}, false
	}
	return casdt.SASToDateTime(int64(f)), true
}

// ByGroup returns the by-group label, such as "Origin=Asia".
func (t *Table) ByGroup() string { return t.attrString(AttrByGroup) }

// ByGroupIndex returns the 1-based by-group index.
func (t *Table) ByGroupIndex() (int, bool) { return t.attrInt(AttrByGroupIndex) }

// ByGroupSet returns the 1-based group-by set index.
func (t *Table) ByGroupSet() (int, bool) { return t.attrInt(AttrByGroupSet) }

// ByVars returns the by-group variables ByVar1, ByVar2, ... in order.
func (t *Table) ByVars() []ByVar {
	var out []ByVar
	for n := 1; ; n++ {
		key := "ByVar" + strconv.Itoa(n)
		name, ok := t.Attrs[key]
		if !ok {
			return out
		}
		bv := ByVar{Name: fmt.Sprint(name), Value: t.Attrs[key+"Value"]}
		if f, ok := t.Attrs[key+"ValueFormatted"]; ok {
			bv.Formatted = strings.TrimSpace(fmt.Sprint(f))
		} else if bv.Value != nil {
			bv.Formatted = fmt.Sprint(bv.Value)
		}
		out = append(out, bv)
	}
}

// isByGroupAttr reports whether name describes the by-group of a single
// replicate rather than the table as a whole.
func isByGroupAttr(name string) bool {
	return strings.HasPrefix(name, AttrByGroup) || strings.HasPrefix(name, "ByVar")
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func appendCell(b array.Builder, col Column, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.Float64Builder:
		f, ok := toFloat64(v)
		if !ok {
			return fmt.Errorf("cannot store %T in a double column", v)
		}
		b.Append(f)
	case *array.Int32Builder:
		i, ok := toInt64(v)
		if !ok || i < math.MinInt32 || i > math.MaxInt32 {
			return fmt.Errorf("cannot store %v (%T) in an int32 column", v, v)
		}
		b.Append(int32(i))
	case *array.Int64Builder:
		switch tv := v.(type) {
		case time.Time:
			if strings.EqualFold(col.Type, "date") {
				b.Append(casdt.DateToCAS(tv))
			} else {
				b.Append(casdt.DateTimeToCAS(tv))
			}
			return nil
		case casdt.TimeOfDay:
			b.Append(casdt.TimeToCAS(tv))
			return nil
		}
		i, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("cannot store %T in an %s column", v, col.Type)
		}
		b.Append(i)
	case *array.StringBuilder:
		b.Append(fmt.Sprint(v))
	case *array.BinaryBuilder:
		switch tv := v.(type) {
		case []byte:
			b.Append(tv)
		case string:
			b.AppendString(tv)
		default:
			return fmt.Errorf("cannot store %T in a binary column", v)
		}
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

// concatTables stacks parts vertically under name. When keys is not nil,
// keys[i] holds the by-group variables of parts[i]; each variable becomes
// two leading columns, the raw value and its formatted form.
func concatTables(name string, parts []*Table, keys [][]ByVar, formattedSuffix, collisionSuffix string) (*Table, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("cas: concatenating %q: %w", name, ErrNotFound)
	}
	first := parts[0]
	for _, p := range parts[1:] {
		if !sameColumns(first, p) {
			return nil, fmt.Errorf("cas: concatenating %q: %w", name, ErrSchemaMismatch)
		}
	}

	mem := memory.NewGoAllocator()
	var total int64
	for _, p := range parts {
		total += p.rec.NumRows()
	}

	var leadCols []Column
	var arrs []arrow.Array
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()

	if keys != nil && len(keys[0]) > 0 {
		for j, bv := range keys[0] {
			raw := bv.Name
			if first.ColumnIndex(raw) >= 0 {
				raw += collisionSuffix
			}
			rawType := "double"
			for i := range parts {
				if len(keys[i]) <= j {
					return nil, fmt.Errorf("cas: concatenating %q: %w", name, ErrSchemaMismatch)
				}
				if _, ok := toFloat64(keys[i][j].Value); !ok {
					rawType = "varchar"
				}
			}
			leadCols = append(leadCols,
				Column{Name: raw, Type: rawType, Label: bv.Name},
				Column{Name: bv.Name + formattedSuffix, Type: "varchar", Label: bv.Name})
		}
		rows := make([][]any, 0, total)
		for i, p := range parts {
			row := make([]any, 0, len(leadCols))
			for _, bv := range keys[i] {
				row = append(row, bv.Value, bv.Formatted)
			}
			for range p.rec.NumRows() {
				rows = append(rows, row)
			}
		}
		lead, err := NewTableFromRows(name, leadCols, rows)
		if err != nil {
			return nil, err
		}
		for _, c := range lead.rec.Columns() {
			c.Retain()
			arrs = append(arrs, c)
		}
		lead.Release()
	}

	for c := range first.Columns {
		cols := make([]arrow.Array, len(parts))
		for i, p := range parts {
			cols[i] = p.rec.Column(c)
		}
		merged, err := array.Concatenate(cols, mem)
		if err != nil {
			return nil, fmt.Errorf("cas: concatenating column %q of %q: %w", first.Columns[c].Name, name, err)
		}
		arrs = append(arrs, merged)
	}

	columns := append(leadCols, first.Columns...)
	fields, err := columnFields(columns)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]any, len(first.Attrs))
	for k, v := range first.Attrs {
		if !isByGroupAttr(k) {
			attrs[k] = v
		}
	}
	return &Table{
		Name:    name,
		Label:   first.Label,
		Title:   first.Title,
		Attrs:   attrs,
		Columns: columns,
		rec:     array.NewRecordBatch(arrow.NewSchema(fields, nil), arrs, total),
		missing: first.missing,
	}, nil
}

func sameColumns(a, b *Table) bool {
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i].Name != b.Columns[i].Name ||
			!arrow.TypeEqual(a.rec.Schema().Field(i).Type, b.rec.Schema().Field(i).Type) {
			return false
		}
	}
	return true
}
