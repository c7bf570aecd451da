// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const byGroupInfo = "ByGroupInfo"

var keyPattern = regexp.MustCompile(`^(?:ByGroupSet(\d+)\.)?(?:ByGroup(\d+)\.)?(.*)$`)

// resultKey is the structured form of a result key. Set and Group are
// 1-based; zero means the key has no such level.
type resultKey struct {
	Set   int
	Group int
	Name  string
}

func parseKey(s string) resultKey {
	m := keyPattern.FindStringSubmatch(s)
	k := resultKey{Name: m[3]}
	k.Set, _ = strconv.Atoi(m[1])
	k.Group, _ = strconv.Atoi(m[2])
	if k.Group > 0 && k.Set == 0 {
		k.Set = 1
	}
	if k.Name == byGroupInfo && k.Set == 0 {
		k.Set = 1
	}
	return k
}

// render returns the flat key. The set level is shown only when the result
// holds more than one group-by set.
func (k resultKey) render(sets int) string {
	var b strings.Builder
	if k.Set > 0 && sets > 1 {
		fmt.Fprintf(&b, "ByGroupSet%d.", k.Set)
	}
	if k.Group > 0 {
		fmt.Fprintf(&b, "ByGroup%d.", k.Group)
	}
	b.WriteString(k.Name)
	return b.String()
}

type resultEntry struct {
	key   resultKey
	value any
}

// Event is a result whose key starts with "$". Events are reported apart
// from the ordinary results.
type Event struct {
	Name  string
	Value any
}

// Results is the assembled output of one action: an ordered collection of
// tables and values addressable by key, by position, by by-group and by
// group-by set.
//
// A Results holds a reference to each of its tables. Results derived from
// it, such as by GetSet or ConcatByGroups, hold their own references;
// release each with Release.
type Results struct {
	Action   string
	Messages []string
	Events   []Event
	Disposition
	Performance *Performance
	Session     string
	SessionName string
	UpdateFlags []string

	entries []resultEntry
	index   map[string]int
	sets    int
	groups  map[int][]groupKey

	formattedSuffix string
	collisionSuffix string
	missing         MissingValues
}

// groupKey holds the by-variable values of one by-group.
type groupKey struct {
	index int
	vars  []ByVar
}

// NewResults returns an empty Results using opts for by-group column naming
// and missing-value handling.
func NewResults(opts Options) *Results {
	opts.SetDefaults()
	if opts.Missing == (MissingValues{}) {
		opts.Missing = DefaultMissingValues()
	}
	return &Results{
		index:           map[string]int{},
		groups:          map[int][]groupKey{},
		formattedSuffix: opts.ByGroupFormattedSuffix,
		collisionSuffix: opts.ByGroupCollisionSuffix,
		missing:         opts.Missing,
	}
}

// derive returns an empty Results sharing r's metadata.
func (r *Results) derive() *Results {
	out := &Results{
		Action:          r.Action,
		Messages:        slices.Clone(r.Messages),
		Disposition:     r.Disposition,
		Performance:     r.Performance,
		Session:         r.Session,
		SessionName:     r.SessionName,
		UpdateFlags:     slices.Clone(r.UpdateFlags),
		index:           map[string]int{},
		groups:          map[int][]groupKey{},
		formattedSuffix: r.formattedSuffix,
		collisionSuffix: r.collisionSuffix,
		missing:         r.missing,
	}
	for _, ev := range r.Events {
		out.Events = append(out.Events, Event{Name: ev.Name, Value: retainValue(ev.Value)})
	}
	return out
}

// reindex recomputes the set count, the group keys and the key index.
func (r *Results) reindex() {
	seen := map[int]bool{}
	for _, e := range r.entries {
		if e.key.Set > 0 {
			seen[e.key.Set] = true
		}
	}
	r.sets = len(seen)

	r.groups = map[int][]groupKey{}
	for _, e := range r.entries {
		t, ok := e.value.(*Table)
		if !ok || e.key.Group == 0 {
			continue
		}
		known := slices.ContainsFunc(r.groups[e.key.Set], func(g groupKey) bool { return g.index == e.key.Group })
		if !known {
			r.groups[e.key.Set] = append(r.groups[e.key.Set], groupKey{index: e.key.Group, vars: t.ByVars()})
		}
	}
	for set, keys := range r.groups {
		slices.SortFunc(keys, func(a, b groupKey) int { return a.index - b.index })
		r.groups[set] = keys
	}

	r.index = make(map[string]int, len(r.entries))
	for i, e := range r.entries {
		r.index[e.key.render(r.sets)] = i
	}
}

// Len returns the number of results.
func (r *Results) Len() int { return len(r.entries) }

// Keys returns the result keys in order.
func (r *Results) Keys() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.key.render(r.sets)
	}
	return out
}

// Get returns the result stored under key.
func (r *Results) Get(key string) (any, bool) {
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.entries[i].value, true
}

// Table returns the table stored under key.
func (r *Results) Table(key string) (*Table, error) {
	v, ok := r.Get(key)
	if !ok {
		return nil, fmt.Errorf("cas: result %q: %w", key, ErrNotFound)
	}
	t, ok := v.(*Table)
	if !ok {
		return nil, fmt.Errorf("cas: result %q is a %T, not a table", key, v)
	}
	return t, nil
}

// At returns the key and value of the i-th result.
func (r *Results) At(i int) (string, any, error) {
	if i < 0 || i >= len(r.entries) {
		return "", nil, fmt.Errorf("cas: result %d of %d: %w", i, len(r.entries), ErrOutOfRange)
	}
	e := r.entries[i]
	return e.key.render(r.sets), e.value, nil
}

// Set stores value under key, replacing any existing value. Keys of the
// form "ByGroupSet{m}.ByGroup{n}.name" are placed in that by-group.
func (r *Results) Set(key string, value any) {
	if t, ok := value.(*Table); ok {
		t.SetMissing(r.missing)
	}
	if i, ok := r.index[key]; ok {
		releaseValue(r.entries[i].value)
		r.entries[i].value = value
		return
	}
	r.entries = append(r.entries, resultEntry{key: parseKey(key), value: value})
	r.reindex()
}

// Delete removes key and reports whether it was present.
func (r *Results) Delete(key string) bool {
	i, ok := r.index[key]
	if !ok {
		return false
	}
	releaseValue(r.entries[i].value)
	r.entries = slices.Delete(r.entries, i, i+1)
	r.reindex()
	return true
}

// Tables returns every table in order.
func (r *Results) Tables() []*Table {
	var out []*Table
	for _, e := range r.entries {
		if t, ok := e.value.(*Table); ok {
			out = append(out, t)
		}
	}
	return out
}

// NumSets returns the number of group-by sets; zero when the action ran
// without by-groups.
func (r *Results) NumSets() int { return r.sets }

// Release releases every table, including those carried by events.
func (r *Results) Release() {
	for _, e := range r.entries {
		releaseValue(e.value)
	}
	for _, ev := range r.Events {
		releaseValue(ev.Value)
	}
	r.entries = nil
	r.Events = nil
	r.reindex()
}

func releaseValue(v any) {
	if t, ok := v.(*Table); ok {
		t.Release()
	}
}

func retainValue(v any) any {
	if t, ok := v.(*Table); ok {
		t.Retain()
	}
	return v
}

// GetTables returns the table stored under name, or every by-group replica
// of name in by-group order. It fails with ErrAmbiguous when the result
// holds more than one group-by set; select one with GetSet first.
func (r *Results) GetTables(name string) ([]*Table, error) {
	if v, ok := r.Get(name); ok {
		if t, ok := v.(*Table); ok {
			return []*Table{t}, nil
		}
	}
	if r.sets > 1 {
		return nil, fmt.Errorf("cas: table %q in a result with %d group-by sets: %w", name, r.sets, ErrAmbiguous)
	}
	type ranked struct {
		group int
		t     *Table
	}
	var found []ranked
	for _, e := range r.entries {
		t, ok := e.value.(*Table)
		if ok && e.key.Group > 0 && e.key.Name == name {
			found = append(found, ranked{e.key.Group, t})
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("cas: table %q: %w", name, ErrNotFound)
	}
	slices.SortStableFunc(found, func(a, b ranked) int { return a.group - b.group })
	out := make([]*Table, len(found))
	for i, f := range found {
		out[i] = f.t
	}
	return out, nil
}

// ConcatTables returns the tables GetTables finds for name stacked into
// one table. The caller must release it.
func (r *Results) ConcatTables(name string) (*Table, error) {
	tables, err := r.GetTables(name)
	if err != nil {
		return nil, err
	}
	return concatTables(name, tables, nil, r.formattedSuffix, r.collisionSuffix)
}

// Groups returns the by-group indexes in order.
func (r *Results) Groups() ([]int, error) {
	if r.sets > 1 {
		return nil, fmt.Errorf("cas: %d group-by sets: %w", r.sets, ErrAmbiguous)
	}
	var out []int
	for _, g := range r.groups[1] {
		out = append(out, g.index)
	}
	return out, nil
}

// Group returns the tables of by-group n under their plain names.
func (r *Results) Group(n int) (*Results, error) {
	if r.sets > 1 {
		return nil, fmt.Errorf("cas: by-group %d with %d group-by sets: %w", n, r.sets, ErrAmbiguous)
	}
	out := r.derive()
	for _, e := range r.entries {
		if e.key.Group == n && n > 0 {
			out.entries = append(out.entries, resultEntry{key: resultKey{Name: e.key.Name}, value: retainValue(e.value)})
		}
	}
	if len(out.entries) == 0 {
		return nil, fmt.Errorf("cas: by-group %d: %w", n, ErrNotFound)
	}
	out.reindex()
	return out, nil
}

// GetGroup returns the by-group whose by-variable values equal values, in
// by-variable order. Raw values are tried first, then formatted values.
func (r *Results) GetGroup(values ...any) (*Results, error) {
	n, err := r.findGroup(func(g groupKey, formatted bool) bool {
		if len(values) != len(g.vars) {
			return false
		}
		for i, want := range values {
			if !byVarMatches(g.vars[i], want, formatted) {
				return false
			}
		}
		return true
	}, fmt.Sprintf("%v", values))
	if err != nil {
		return nil, err
	}
	return r.Group(n)
}

// GetGroupBy returns the by-group whose by-variables have the given
// values, keyed by variable name.
func (r *Results) GetGroupBy(values map[string]any) (*Results, error) {
	n, err := r.findGroup(func(g groupKey, formatted bool) bool {
		if len(values) != len(g.vars) {
			return false
		}
		for _, bv := range g.vars {
			want, ok := values[bv.Name]
			if !ok || !byVarMatches(bv, want, formatted) {
				return false
			}
		}
		return true
	}, fmt.Sprintf("%v", values))
	if err != nil {
		return nil, err
	}
	return r.Group(n)
}

func (r *Results) findGroup(match func(g groupKey, formatted bool) bool, desc string) (int, error) {
	if r.sets > 1 {
		return 0, fmt.Errorf("cas: by-group %s with %d group-by sets: %w", desc, r.sets, ErrAmbiguous)
	}
	for _, formatted := range []bool{false, true} {
		var hits []int
		for _, g := range r.groups[1] {
			if match(g, formatted) {
				hits = append(hits, g.index)
			}
		}
		switch len(hits) {
		case 0:
			continue
		case 1:
			return hits[0], nil
		default:
			return 0, fmt.Errorf("cas: by-group %s matches groups %v: %w", desc, hits, ErrAmbiguous)
		}
	}
	return 0, fmt.Errorf("cas: by-group %s: %w", desc, ErrNotFound)
}

func byVarMatches(bv ByVar, want any, formatted bool) bool {
	if formatted {
		return strings.TrimSpace(fmt.Sprint(want)) == bv.Formatted
	}
	if bv.Value == nil {
		return want == nil
	}
	if w, ok := toFloat64(want); ok {
		h, ok := toFloat64(bv.Value)
		return ok && w == h
	}
	return strings.TrimSpace(fmt.Sprint(want)) == strings.TrimSpace(fmt.Sprint(bv.Value))
}

// GetSet returns group-by set m (1-based) as a result with a single set.
func (r *Results) GetSet(m int) (*Results, error) {
	if r.sets == 0 || m < 1 || m > r.sets {
		return nil, fmt.Errorf("cas: group-by set %d of %d: %w", m, r.sets, ErrOutOfRange)
	}
	out := r.derive()
	for _, e := range r.entries {
		if e.key.Set == m {
			k := e.key
			k.Set = 1
			out.entries = append(out.entries, resultEntry{key: k, value: retainValue(e.value)})
		}
	}
	out.reindex()
	return out, nil
}

// ConcatByGroups stacks the by-group replicas of each table into one table
// whose leading columns hold the by-variables. ByGroupInfo tables are
// dropped; with more than one group-by set the keys become
// "ByGroupSet{m}.{name}".
//
// With inplace, r itself is updated and returned. Nothing is modified when
// an error is returned.
func (r *Results) ConcatByGroups(inplace bool) (*Results, error) {
	type family struct {
		key    resultKey
		groups []int
		tables []*Table
		vars   [][]ByVar
	}
	var families []*family
	byKey := map[resultKey]*family{}
	var plain []resultEntry
	var order []any // *family or resultEntry, in first-appearance order

	for _, e := range r.entries {
		t, isTable := e.value.(*Table)
		switch {
		case e.key.Name == byGroupInfo && e.key.Group == 0:
			continue
		case e.key.Group > 0 && isTable:
			fk := resultKey{Set: e.key.Set, Name: e.key.Name}
			f, ok := byKey[fk]
			if !ok {
				f = &family{key: fk}
				byKey[fk] = f
				families = append(families, f)
				order = append(order, f)
			}
			at, _ := slices.BinarySearch(f.groups, e.key.Group)
			f.groups = slices.Insert(f.groups, at, e.key.Group)
			f.tables = slices.Insert(f.tables, at, t)
			f.vars = slices.Insert(f.vars, at, t.ByVars())
		default:
			plain = append(plain, e)
			order = append(order, e)
		}
	}

	built := make(map[*family]*Table, len(families))
	for _, f := range families {
		t, err := concatTables(f.key.Name, f.tables, f.vars, r.formattedSuffix, r.collisionSuffix)
		if err != nil {
			for _, done := range built {
				done.Release()
			}
			return nil, err
		}
		t.SetMissing(r.missing)
		built[f] = t
	}

	entries := make([]resultEntry, 0, len(order))
	for _, o := range order {
		switch v := o.(type) {
		case *family:
			entries = append(entries, resultEntry{key: v.key, value: built[v]})
		case resultEntry:
			if !inplace {
				retainValue(v.value)
			}
			entries = append(entries, v)
		}
	}

	target := r
	if !inplace {
		target = r.derive()
	} else {
		for _, e := range r.entries {
			if e.key.Group > 0 || (e.key.Name == byGroupInfo && e.key.Group == 0) {
				releaseValue(e.value)
			}
		}
	}
	sets := r.sets
	target.entries = entries
	target.reindex()
	// keys keep their set prefix when the source had several sets
	target.sets = sets
	target.index = make(map[string]int, len(entries))
	for i, e := range entries {
		target.index[e.key.render(sets)] = i
	}
	return target, nil
}
