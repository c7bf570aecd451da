// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/Query-farm/swat-go/casdt"
	"github.com/Query-farm/swat-go/xdict"
)

// Params holds action keyword arguments.
type Params map[string]any

// Tuple is an ordered sequence. It marshals to a list, even with one item.
type Tuple []any

// Set is an unordered collection of scalars. It marshals to a list sorted
// by value. A container inside a Set cannot be marshaled.
type Set []any

// Marshal converts action arguments to the wire parameter list. params may
// be a Params, a map[string]any, a *xdict.Dict, or a ParamList (returned as
// is). Keys are sent sorted by name.
//
// Marshal applies no domain validation; the server reports range and type
// problems in the response disposition. It fails only for values that have
// no wire form (ErrUnsupported) or that caps cannot carry (ErrCapability).
func Marshal(params any, caps Capabilities) (ParamList, error) {
	switch p := params.(type) {
	case nil:
		return ParamList{}, nil
	case ParamList:
		if err := checkCapabilities("", Value{Kind: KindTable, Table: p}, caps); err != nil {
			return nil, err
		}
		return p, nil
	case Params:
		return marshalMap("", reflect.ValueOf(map[string]any(p)), caps)
	case *xdict.Dict:
		return marshalDict("", p, caps)
	}
	rv := reflect.ValueOf(params)
	if rv.Kind() == reflect.Map {
		return marshalMap("", rv, caps)
	}
	return nil, &MarshalError{Path: "", Type: fmt.Sprintf("%T", params), Err: ErrUnsupported}
}

// MarshalValue converts a single Go value using the same rules as Marshal.
func MarshalValue(v any, caps Capabilities) (Value, error) {
	return marshalValue("", v, caps)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func indexPath(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}

func marshalDict(path string, d *xdict.Dict, caps Capabilities) (ParamList, error) {
	keys := d.Keys()
	sort.Strings(keys)
	out := make(ParamList, 0, len(keys))
	for _, k := range keys {
		item, _ := d.Lookup(k)
		v, err := marshalValue(joinPath(path, k), item, caps)
		if err != nil {
			return nil, err
		}
		out = append(out, Param{Name: k, Value: v})
	}
	return out, nil
}

type mapEntry struct {
	key   reflect.Value
	label string
}

// sortedEntries orders map keys by their %v rendering.
func sortedEntries(m reflect.Value) []mapEntry {
	entries := make([]mapEntry, 0, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		entries = append(entries, mapEntry{key: iter.Key(), label: fmt.Sprint(iter.Key().Interface())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].label < entries[j].label })
	return entries
}

// marshalMap encodes a map. String keys become parameter names; any other
// key kind is sent as an unnamed item, keeping the mapping shape.
func marshalMap(path string, m reflect.Value, caps Capabilities) (ParamList, error) {
	out := make(ParamList, 0, m.Len())
	for _, e := range sortedEntries(m) {
		name := ""
		if e.key.Kind() == reflect.String {
			name = e.key.String()
		}
		v, err := marshalValue(joinPath(path, e.label), m.MapIndex(e.key).Interface(), caps)
		if err != nil {
			return nil, err
		}
		out = append(out, Param{Name: name, Value: v})
	}
	return out, nil
}

func marshalValue(path string, v any, caps Capabilities) (Value, error) {
	switch tv := v.(type) {
	case nil:
		return Nil(), nil
	case Value:
		return tv, checkCapabilities(path, tv, caps)
	case bool:
		return Bool(tv), nil
	case string:
		return String(tv), nil
	case []byte:
		if !caps.Binary {
			return Value{}, &MarshalError{Path: path, Type: "[]byte", Err: ErrCapability}
		}
		return Binary(tv), nil
	case int64:
		return Int64(tv), nil
	case int:
		return fitInt(int64(tv)), nil
	case int32:
		return Int32(tv), nil
	case int16:
		return Int32(int32(tv)), nil
	case int8:
		return Int32(int32(tv)), nil
	case uint8:
		return Int32(int32(tv)), nil
	case uint16:
		return Int32(int32(tv)), nil
	case uint32:
		return fitInt(int64(tv)), nil
	case uint:
		if uint64(tv) > math.MaxInt64 {
			return Value{}, &MarshalError{Path: path, Type: "uint", Err: ErrUnsupported}
		}
		return fitInt(int64(tv)), nil
	case uint64:
		if tv > math.MaxInt64 {
			return Value{}, &MarshalError{Path: path, Type: "uint64", Err: ErrUnsupported}
		}
		return Int64(int64(tv)), nil
	case float64:
		return Double(tv), nil
	case float32:
		return Double(float64(tv)), nil
	case time.Time:
		return Value{Kind: KindDateTime, Int: casdt.DateTimeToCAS(tv)}, nil
	case casdt.TimeOfDay:
		return Value{Kind: KindTime, Int: casdt.TimeToCAS(tv)}, nil
	case Date:
		return Value{Kind: KindDate, Int: casdt.DateToCAS(time.Time(tv))}, nil
	case *xdict.Dict:
		return containerValue(marshalDict(path, tv, caps))
	case ParamList:
		return containerValue(tv, checkCapabilities(path, TableOf(tv), caps))
	case Tuple:
		return marshalSlice(path, reflect.ValueOf([]any(tv)), caps)
	case Set:
		return marshalSet(path, []any(tv), caps)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return marshalSlice(path, rv, caps)
	case reflect.Map:
		if rv.Type().Elem() == reflect.TypeOf(struct{}{}) {
			items := make([]any, 0, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				items = append(items, iter.Key().Interface())
			}
			return marshalSet(path, items, caps)
		}
		return containerValue(marshalMap(path, rv, caps))
	case reflect.Pointer:
		if rv.IsNil() {
			return Nil(), nil
		}
		return marshalValue(path, rv.Elem().Interface(), caps)
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return fitInt(rv.Int()), nil
	case reflect.Int64:
		return Int64(rv.Int()), nil
	case reflect.Float32, reflect.Float64:
		return Double(rv.Float()), nil
	}
	return Value{}, &MarshalError{Path: path, Type: fmt.Sprintf("%T", v), Err: ErrUnsupported}
}

// Date marks a time.Time to be sent as a CAS date rather than a datetime.
type Date time.Time

// fitInt chooses int32 when the value fits, int64 otherwise.
func fitInt(i int64) Value {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return Int32(int32(i))
	}
	return Int64(i)
}

// containerValue wraps a marshaled mapping. An empty mapping is sent as an
// empty list, the same as an empty sequence.
func containerValue(params ParamList, err error) (Value, error) {
	if err != nil {
		return Value{}, err
	}
	if len(params) == 0 {
		return List(), nil
	}
	return TableOf(params), nil
}

func marshalSlice(path string, rv reflect.Value, caps Capabilities) (Value, error) {
	items := make([]Value, rv.Len())
	for i := range rv.Len() {
		v, err := marshalValue(indexPath(path, i), rv.Index(i).Interface(), caps)
		if err != nil {
			return Value{}, err
		}
		items[i] = v
	}
	return List(items...), nil
}

func marshalSet(path string, members []any, caps Capabilities) (Value, error) {
	items := make([]Value, 0, len(members))
	for i, m := range members {
		v, err := marshalValue(indexPath(path, i), m, caps)
		if err != nil {
			return Value{}, err
		}
		if v.IsContainer() {
			return Value{}, &MarshalError{
				Path: indexPath(path, i),
				Type: fmt.Sprintf("%T in set", m),
				Err:  ErrUnsupported,
			}
		}
		items = append(items, v)
	}
	sort.SliceStable(items, func(i, j int) bool { return lessScalar(items[i], items[j]) })
	return List(items...), nil
}

// lessScalar orders set members by kind, then by value.
func lessScalar(a, b Value) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	switch a.Kind {
	case KindBool:
		return !a.Bool && b.Bool
	case KindInt32, KindInt64, KindDate, KindTime, KindDateTime:
		return a.Int < b.Int
	case KindDouble:
		return a.Double < b.Double
	case KindString:
		return a.Str < b.Str
	case KindBinary:
		return string(a.Bytes) < string(b.Bytes)
	}
	return false
}

// checkCapabilities walks an already-built Value for binary items.
func checkCapabilities(path string, v Value, caps Capabilities) error {
	switch v.Kind {
	case KindBinary:
		if !caps.Binary {
			return &MarshalError{Path: path, Type: "blob", Err: ErrCapability}
		}
	case KindList:
		for i, item := range v.List {
			if err := checkCapabilities(indexPath(path, i), item, caps); err != nil {
				return err
			}
		}
	case KindTable:
		for _, item := range v.Table {
			if err := checkCapabilities(joinPath(path, item.Name), item.Value, caps); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flatten renders the parameter list as dotted key/value pairs, the form
// used when tracing actions.
func (p ParamList) Flatten() []xdict.Item {
	d := xdict.New()
	for _, item := range p {
		_ = d.Set(item.Name, traceValue(item.Value))
	}
	return d.Flatten()
}

func traceValue(v Value) any {
	switch v.Kind {
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = traceValue(item)
		}
		return out
	case KindTable:
		m := make(map[string]any, len(v.Table))
		for i, item := range v.Table {
			name := item.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			m[name] = traceValue(item.Value)
		}
		return m
	}
	return v.String()
}
