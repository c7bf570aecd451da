// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Query-farm/swat-go/casdt"
	"github.com/Query-farm/swat-go/xdict"
)

// Kind identifies the wire type of a Value.
type Kind int8

const (
	KindNil Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindDouble
	KindString
	KindBinary
	KindDate     // CAS date, days since 1960-01-01
	KindTime     // CAS time, microseconds since midnight
	KindDateTime // CAS datetime, microseconds since 1960-01-01
	KindList     // ordered values without names
	KindTable    // ordered named parameters
)

var kindNames = [...]string{
	KindNil:      "nil",
	KindBool:     "boolean",
	KindInt32:    "int32",
	KindInt64:    "int64",
	KindDouble:   "double",
	KindString:   "string",
	KindBinary:   "blob",
	KindDate:     "date",
	KindTime:     "time",
	KindDateTime: "datetime",
	KindList:     "value_list",
	KindTable:    "table",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is one wire parameter value. Int holds every integer-like kind,
// including the date and time encodings.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Double float64
	Str    string
	Bytes  []byte
	List   []Value
	Table  ParamList
}

// Param is a named Value.
type Param struct {
	Name  string
	Value Value
}

// ParamList is the ordered parameter list sent with an action.
type ParamList []Param

// Nil returns the nil Value.
func Nil() Value { return Value{Kind: KindNil} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Int32 returns an int32 Value.
func Int32(i int32) Value { return Value{Kind: KindInt32, Int: int64(i)} }

// Int64 returns an int64 Value.
func Int64(i int64) Value { return Value{Kind: KindInt64, Int: i} }

// Double returns a double Value.
func Double(f float64) Value { return Value{Kind: KindDouble, Double: f} }

// String returns a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Binary returns a binary Value.
func Binary(b []byte) Value { return Value{Kind: KindBinary, Bytes: b} }

// List returns a list Value.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, List: items}
}

// TableOf returns a Value holding named parameters.
func TableOf(params ParamList) Value { return Value{Kind: KindTable, Table: params} }

// IsContainer reports whether v is a list or table.
func (v Value) IsContainer() bool { return v.Kind == KindList || v.Kind == KindTable }

// Len returns the number of items in a container Value.
func (v Value) Len() int {
	switch v.Kind {
	case KindList:
		return len(v.List)
	case KindTable:
		return len(v.Table)
	}
	return 0
}

// Interface converts v to a plain Go value: nil, bool, int32, int64, float64,
// string, []byte, time.Time (date and datetime), casdt.TimeOfDay, []any, or
// *xdict.Dict for tables with named items.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt32:
		return int32(v.Int)
	case KindInt64:
		return v.Int
	case KindDouble:
		return v.Double
	case KindString:
		return v.Str
	case KindBinary:
		return v.Bytes
	case KindDate:
		return casdt.CASToDate(v.Int)
	case KindTime:
		return casdt.CASToTime(v.Int)
	case KindDateTime:
		return casdt.CASToDateTime(v.Int)
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Interface()
		}
		return out
	case KindTable:
		return v.Table.Interface()
	}
	return nil
}

// Interface converts the list to a *xdict.Dict. A list whose items are all
// unnamed becomes []any instead.
func (p ParamList) Interface() any {
	named := false
	for _, item := range p {
		if item.Name != "" {
			named = true
			break
		}
	}
	if !named && len(p) > 0 {
		out := make([]any, len(p))
		for i, item := range p {
			out[i] = item.Value.Interface()
		}
		return out
	}
	d := xdict.New()
	for i, item := range p {
		name := item.Name
		if name == "" {
			name = strconv.Itoa(i)
		}
		// names are literal here; dots do not create levels
		_ = d.Set(strings.ReplaceAll(name, xdict.Delimiter, "_"), item.Value.Interface())
	}
	return d
}

// Get returns the value of the named parameter.
func (p ParamList) Get(name string) (Value, bool) {
	for _, item := range p {
		if item.Name == name {
			return item.Value, true
		}
	}
	return Value{}, false
}

func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	case KindBinary:
		return fmt.Sprintf("<blob %d bytes>", len(v.Bytes))
	case KindDate:
		return casdt.CASToDate(v.Int).Format("2006-01-02")
	case KindTime:
		return casdt.CASToTime(v.Int).String()
	case KindDateTime:
		return casdt.CASToDateTime(v.Int).Format("2006-01-02T15:04:05.999999")
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindTable:
		parts := make([]string, len(v.Table))
		for i, item := range v.Table {
			parts[i] = item.Name + "=" + item.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return v.Kind.String()
}
