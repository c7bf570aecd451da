// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// assembler folds the responses of one invocation into a Results.
type assembler struct {
	res *Results
	log func(msg string, args ...any)
}

func newAssembler(action string, o *Options) *assembler {
	r := NewResults(*o)
	r.Action = action
	return &assembler{res: r, log: o.logger().Warn}
}

// add folds one response in. Tables that are kept are retained, so the
// caller still releases resp.
func (a *assembler) add(resp *Response) {
	r := a.res
	if resp.HasFlag(FlagActionRestart) {
		r.Release()
		r.Messages = nil
		r.Events = nil
		r.UpdateFlags = nil
		return
	}
	r.Messages = append(r.Messages, resp.Messages...)
	for _, item := range resp.Results {
		a.addItem(item)
	}
	for _, f := range resp.UpdateFlags {
		if !slices.Contains(r.UpdateFlags, f) {
			r.UpdateFlags = append(r.UpdateFlags, f)
		}
	}
	if resp.Severity > r.Severity || resp.Final {
		r.Disposition = resp.Disposition
	}
	if resp.Performance != nil {
		r.Performance = resp.Performance
	}
	if resp.Session != "" {
		r.Session = resp.Session
	}
	if resp.SessionName != "" {
		r.SessionName = resp.SessionName
	}
}

func (a *assembler) addItem(item ResultItem) {
	r := a.res
	if name, ok := strings.CutPrefix(item.Key, "$"); ok {
		r.Events = append(r.Events, Event{Name: name, Value: retainValue(item.Value)})
		return
	}

	k := parseKey(item.Key)
	if t, ok := item.Value.(*Table); ok {
		t.Retain()
		t.SetMissing(r.missing)
		if k.Name == "" {
			k.Name = t.Name
		}
		if g, ok := t.ByGroupIndex(); ok && g > 0 {
			k.Group = g
			if k.Set == 0 {
				k.Set = 1
			}
		}
		if s, ok := t.ByGroupSet(); ok && s > 0 && (k.Group > 0 || k.Name == byGroupInfo) {
			k.Set = s
		}
	}
	if k.Name == "" {
		k.Name = strconv.Itoa(len(r.entries))
	}

	if i := r.find(k); i >= 0 {
		if item.Replace {
			releaseValue(r.entries[i].value)
			r.entries[i].value = item.Value
			return
		}
		base := k.Name
		for n := 2; r.find(k) >= 0; n++ {
			k.Name = base + "#" + strconv.Itoa(n)
		}
	}
	r.entries = append(r.entries, resultEntry{key: k, value: item.Value})
}

func (r *Results) find(k resultKey) int {
	return slices.IndexFunc(r.entries, func(e resultEntry) bool { return e.key == k })
}

// finish adds a ByGroupInfo table to every group-by set the server did not
// describe and indexes the keys.
func (a *assembler) finish() *Results {
	r := a.res
	r.reindex()

	sets := make([]int, 0, len(r.groups))
	for s := range r.groups {
		sets = append(sets, s)
	}
	slices.Sort(sets)
	for _, s := range sets {
		info := resultKey{Set: s, Name: byGroupInfo}
		if r.find(info) >= 0 || len(r.groups[s]) == 0 || len(r.groups[s][0].vars) == 0 {
			continue
		}
		t, err := byGroupInfoTable(r.groups[s], r.formattedSuffix)
		if err != nil {
			a.log("cannot build by-group info", "action", r.Action, "set", s, "err", err)
			continue
		}
		t.SetMissing(r.missing)
		at := slices.IndexFunc(r.entries, func(e resultEntry) bool { return e.key.Set == s })
		r.entries = slices.Insert(r.entries, at, resultEntry{key: info, value: t})
	}
	r.reindex()
	return r
}

// byGroupInfoTable builds one row per by-group with the raw and formatted
// value of each by-variable.
func byGroupInfoTable(groups []groupKey, formattedSuffix string) (*Table, error) {
	vars := groups[0].vars
	var cols []Column
	for j, bv := range vars {
		rawType := "double"
		for _, g := range groups {
			if len(g.vars) != len(vars) {
				return nil, fmt.Errorf("by-group %d has %d by-variables, want %d", g.index, len(g.vars), len(vars))
			}
			if _, ok := toFloat64(g.vars[j].Value); !ok && g.vars[j].Value != nil {
				rawType = "varchar"
			}
		}
		cols = append(cols,
			Column{Name: bv.Name, Type: rawType, Label: bv.Name},
			Column{Name: bv.Name + formattedSuffix, Type: "varchar", Label: bv.Name})
	}
	rows := make([][]any, len(groups))
	for i, g := range groups {
		for _, bv := range g.vars {
			rows[i] = append(rows[i], bv.Value, bv.Formatted)
		}
	}
	return NewTableFromRows(byGroupInfo, cols, rows)
}
