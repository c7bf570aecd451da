// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package xdict provides an ordered mapping addressed by period-delimited
// compound keys. Setting "a.b.c" creates the nested levels "a" and "a.b" on
// demand; reading "a" afterwards returns the nested *Dict.
//
// Dicts are used to build action parameters before they are marshaled to the
// wire, and to inspect configuration.
package xdict

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Delimiter separates the levels of a compound key.
const Delimiter = "."

// ErrKey is a sentinel for use with errors.Is to check whether an error is a
// *KeyError.
var ErrKey = &KeyError{}

// ErrNotContainer is a sentinel for use with errors.Is to check whether an
// error is a *TypeError.
var ErrNotContainer = &TypeError{}

// KeyError reports a missing key.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string { return fmt.Sprintf("xdict: key %q not found", e.Key) }

// Is supports errors.Is by matching any *KeyError target.
func (e *KeyError) Is(target error) bool {
	_, ok := target.(*KeyError)
	return ok
}

// TypeError reports a compound key that passes through a leaf value.
type TypeError struct {
	Key  string
	Leaf any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("xdict: %q holds a %T, not a nested dict", e.Key, e.Leaf)
}

// Is supports errors.Is by matching any *TypeError target.
func (e *TypeError) Is(target error) bool {
	_, ok := target.(*TypeError)
	return ok
}

// Dict is an insertion-ordered mapping with compound-key access.
// The zero value is an empty Dict ready to use.
type Dict struct {
	keys   []string
	values map[string]any
}

// New returns an empty Dict.
func New() *Dict {
	return &Dict{values: make(map[string]any)}
}

// FromMap builds a Dict from m. Keys are inserted in sorted order, and
// nested map[string]any values become nested Dicts. Keys of m are used
// literally, without compound-key splitting.
func FromMap(m map[string]any) *Dict {
	d := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.put(k, normalize(m[k]))
	}
	return d
}

func normalize(v any) any {
	if m, ok := v.(map[string]any); ok {
		return FromMap(m)
	}
	return v
}

func (d *Dict) put(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

func (d *Dict) remove(key string) {
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			return
		}
	}
}

// Len returns the number of top-level keys.
func (d *Dict) Len() int { return len(d.keys) }

// Keys returns the top-level keys in insertion order.
func (d *Dict) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Range calls fn for each top-level entry in order until fn returns false.
func (d *Dict) Range(fn func(key string, value any) bool) {
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Set stores value at key, creating intermediate levels of a compound key as
// needed. It fails with a *TypeError when an intermediate level exists but
// is not a *Dict.
func (d *Dict) Set(key string, value any) error {
	return d.set(key, key, normalize(value))
}

func (d *Dict) set(full, key string, value any) error {
	head, rest, compound := strings.Cut(key, Delimiter)
	if !compound {
		d.put(key, value)
		return nil
	}
	child, ok := d.values[head]
	if !ok {
		sub := New()
		d.put(head, sub)
		return sub.set(full, rest, value)
	}
	sub, ok := child.(*Dict)
	if !ok {
		return &TypeError{Key: strings.TrimSuffix(full, Delimiter+rest), Leaf: child}
	}
	return sub.set(full, rest, value)
}

// Lookup returns the value at key and whether it was present.
func (d *Dict) Lookup(key string) (any, bool) {
	cur := d
	for {
		head, rest, compound := strings.Cut(key, Delimiter)
		v, ok := cur.values[head]
		if !ok {
			return nil, false
		}
		if !compound {
			return v, true
		}
		sub, ok := v.(*Dict)
		if !ok {
			return nil, false
		}
		cur, key = sub, rest
	}
}

// Get returns the value at key or a *KeyError.
func (d *Dict) Get(key string) (any, error) {
	v, ok := d.Lookup(key)
	if !ok {
		return nil, &KeyError{Key: key}
	}
	return v, nil
}

// GetDefault returns the value at key, or def when it is absent.
func (d *Dict) GetDefault(key string, def any) any {
	if v, ok := d.Lookup(key); ok {
		return v
	}
	return def
}

// Delete removes the leaf at key. It fails with a *KeyError when any level
// of the key is absent.
func (d *Dict) Delete(key string) error {
	parent := d
	leaf := key
	if i := strings.LastIndex(key, Delimiter); i >= 0 {
		v, ok := d.Lookup(key[:i])
		if !ok {
			return &KeyError{Key: key}
		}
		sub, ok := v.(*Dict)
		if !ok {
			return &KeyError{Key: key}
		}
		parent, leaf = sub, key[i+1:]
	}
	if _, ok := parent.values[leaf]; !ok {
		return &KeyError{Key: key}
	}
	parent.remove(leaf)
	return nil
}

// Contains reports whether key is a top-level key, a leaf, or a prefix of a
// leaf. A Dict holding "c.four.nest.double" contains "c", "c.four" and
// "c.four.nest". Nested levels with no leaves below them are not contained.
func (d *Dict) Contains(key string) bool {
	if _, ok := d.values[key]; ok {
		return true
	}
	for _, it := range d.Flatten() {
		if it.Key == key ||
			strings.HasPrefix(it.Key, key+Delimiter) ||
			strings.HasPrefix(it.Key, key+"[") {
			return true
		}
	}
	return false
}

// GetOrCreateNested returns the *Dict at path, creating every missing level.
// It fails with a *TypeError when a level already holds a leaf value.
func (d *Dict) GetOrCreateNested(path string) (*Dict, error) {
	cur := d
	for _, part := range strings.Split(path, Delimiter) {
		v, ok := cur.values[part]
		if !ok {
			sub := New()
			cur.put(part, sub)
			cur = sub
			continue
		}
		sub, ok := v.(*Dict)
		if !ok {
			return nil, &TypeError{Key: path, Leaf: v}
		}
		cur = sub
	}
	return cur, nil
}

// Item is one entry of a flattened Dict.
type Item struct {
	Key   string
	Value any
}

// Flatten returns every leaf with its fully-dotted key, in order. Elements of
// []any values are addressed with a bracket suffix, as in "names[0]".
func (d *Dict) Flatten() []Item {
	var out []Item
	d.flatten("", &out)
	return out
}

func (d *Dict) flatten(prefix string, out *[]Item) {
	for _, k := range d.keys {
		name := k
		if prefix != "" {
			name = prefix + Delimiter + k
		}
		flattenValue(name, d.values[k], out)
	}
}

func flattenValue(name string, v any, out *[]Item) {
	switch tv := v.(type) {
	case *Dict:
		tv.flatten(name, out)
	case map[string]any:
		FromMap(tv).flatten(name, out)
	case []any:
		for i, item := range tv {
			flattenValue(name+"["+strconv.Itoa(i)+"]", item, out)
		}
	default:
		*out = append(*out, Item{Key: name, Value: v})
	}
}

// FlattenMap is Flatten collected into a map.
func (d *Dict) FlattenMap() map[string]any {
	items := d.Flatten()
	out := make(map[string]any, len(items))
	for _, it := range items {
		out[it.Key] = it.Value
	}
	return out
}

// Copy returns a shallow copy. Nested Dicts are shared with d.
func (d *Dict) Copy() *Dict {
	out := New()
	for _, k := range d.keys {
		out.put(k, d.values[k])
	}
	return out
}

// DeepCopy returns a copy that shares no nested Dict, slice or map with d.
func (d *Dict) DeepCopy() *Dict {
	out := New()
	for _, k := range d.keys {
		out.put(k, deepCopyValue(d.values[k]))
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case *Dict:
		return tv.DeepCopy()
	case map[string]any:
		m := make(map[string]any, len(tv))
		for k, item := range tv {
			m[k] = deepCopyValue(item)
		}
		return m
	case []any:
		s := make([]any, len(tv))
		for i, item := range tv {
			s[i] = deepCopyValue(item)
		}
		return s
	case []byte:
		return append([]byte(nil), tv...)
	case []string:
		return append([]string(nil), tv...)
	default:
		return v
	}
}

// ToMap converts d to nested map[string]any values.
func (d *Dict) ToMap() map[string]any {
	out := make(map[string]any, len(d.keys))
	for _, k := range d.keys {
		v := d.values[k]
		if sub, ok := v.(*Dict); ok {
			v = sub.ToMap()
		}
		out[k] = v
	}
	return out
}

// MarshalYAML encodes d as a mapping that keeps insertion order.
func (d *Dict) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range d.keys {
		var val yaml.Node
		if err := val.Encode(d.values[k]); err != nil {
			return nil, fmt.Errorf("xdict: encoding %q: %w", k, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&val,
		)
	}
	return node, nil
}

// MarshalJSON encodes d as an object that keeps insertion order.
func (d *Dict) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, fmt.Errorf("xdict: encoding %q: %w", k, err)
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (d *Dict) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, k := range d.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %v", k, d.values[k])
	}
	b.WriteString("}")
	return b.String()
}
