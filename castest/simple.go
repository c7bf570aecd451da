// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/Query-farm/swat-go/cas"
)

// carsColumns and carsRows make up the only table the server holds.
var carsColumns = []cas.Column{
	{Name: "Make", Type: "varchar", Width: 13},
	{Name: "Model", Type: "varchar", Width: 40},
	{Name: "Type", Type: "varchar", Width: 8},
	{Name: "Origin", Type: "varchar", Width: 6},
	{Name: "MSRP", Type: "double", Width: 8, Format: "DOLLAR8."},
	{Name: "Horsepower", Type: "double", Width: 8},
	{Name: "Cylinders", Type: "double", Width: 8, Format: "F8."},
}

var carsRows = [][]any{
	{"Acura", "MDX", "SUV", "Asia", 36945.0, 265.0, 6.0},
	{"Acura", "RSX Type S 2dr", "Sedan", "Asia", 23820.0, 200.0, 4.0},
	{"Honda", "Civic Hybrid 4dr", "Hybrid", "Asia", 20140.0, 93.0, 4.0},
	{"Toyota", "Prius 4dr", "Hybrid", "Asia", 20510.0, 110.0, 4.0},
	{"Mazda", "RX-8 4dr manual", "Sports", "Asia", 27200.0, 238.0, nil},
	{"Audi", "A4 1.8T 4dr", "Sedan", "Europe", 25940.0, 170.0, 4.0},
	{"BMW", "X5 4.4i", "SUV", "Europe", 52195.0, 325.0, 8.0},
	{"Porsche", "911 Carrera 2dr", "Sports", "Europe", 79165.0, 315.0, 6.0},
	{"Volvo", "XC90 T6", "SUV", "Europe", 41250.0, 268.0, 6.0},
	{"Chevrolet", "Tahoe LT", "SUV", "USA", 41465.0, 295.0, 8.0},
	{"Ford", "Focus ZX3 2dr", "Sedan", "USA", 13270.0, 130.0, 4.0},
	{"Ford", "Mustang 2dr", "Sports", "USA", 18345.0, 193.0, 6.0},
	{"Jeep", "Wrangler Sahara", "SUV", "USA", 25520.0, 190.0, 6.0},
}

const carsTable = "CARS"

func carsColumn(name string) int {
	return slices.IndexFunc(carsColumns, func(c cas.Column) bool { return strings.EqualFold(c.Name, name) })
}

// tableSpec is a parsed "table" parameter.
type tableSpec struct {
	name string
	// sets holds the group-by sets; a plain groupBy is one set.
	sets [][]int
	// multi is set when groupBySets was used.
	multi bool
}

func stringList(v cas.Value) ([]string, bool) {
	switch v.Kind {
	case cas.KindString:
		return []string{v.Str}, true
	case cas.KindList:
		var out []string
		for _, item := range v.List {
			switch item.Kind {
			case cas.KindString:
				out = append(out, item.Str)
			case cas.KindTable:
				name, ok := item.Table.Get("name")
				if !ok || name.Kind != cas.KindString {
					return nil, false
				}
				out = append(out, name.Str)
			default:
				return nil, false
			}
		}
		return out, true
	case cas.KindTable:
		if len(v.Table) == 0 {
			return nil, true
		}
	}
	return nil, false
}

func columnIndexes(names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		if out[i] = carsColumn(n); out[i] < 0 {
			return nil, fmt.Errorf("Column '%s' does not exist in table '%s'.", n, carsTable)
		}
	}
	return out, nil
}

func parseTableSpec(v cas.Value) (tableSpec, error) {
	var spec tableSpec
	switch v.Kind {
	case cas.KindString:
		spec.name = v.Str
	case cas.KindTable:
		name, _ := v.Table.Get("name")
		spec.name = name.Str
		if gb, ok := v.Table.Get("groupBy"); ok {
			names, ok := stringList(gb)
			if !ok {
				return spec, fmt.Errorf("Parameter 'table.groupBy' must be a list of column names.")
			}
			idx, err := columnIndexes(names)
			if err != nil {
				return spec, err
			}
			if len(idx) > 0 {
				spec.sets = [][]int{idx}
			}
		}
		if gbs, ok := v.Table.Get("groupBySets"); ok {
			if gbs.Kind != cas.KindList {
				return spec, fmt.Errorf("Parameter 'table.groupBySets' must be a list of lists.")
			}
			spec.sets = nil
			spec.multi = true
			for _, set := range gbs.List {
				names, ok := stringList(set)
				if !ok {
					return spec, fmt.Errorf("Parameter 'table.groupBySets' must be a list of lists.")
				}
				idx, err := columnIndexes(names)
				if err != nil {
					return spec, err
				}
				spec.sets = append(spec.sets, idx)
			}
		}
	default:
		return spec, fmt.Errorf("Parameter 'table' is required.")
	}
	if !strings.EqualFold(spec.name, carsTable) {
		return spec, fmt.Errorf("Table '%s' could not be located.", spec.name)
	}
	return spec, nil
}

// group is the rows of one by-group.
type group struct {
	key  []any
	rows [][]any
}

func compareCell(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return cmp.Compare(fa, fb)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// groupRows partitions rows by the columns in by, ordered by key.
func groupRows(rows [][]any, by []int) []group {
	var groups []group
	for _, row := range rows {
		key := make([]any, len(by))
		for i, c := range by {
			key[i] = row[c]
		}
		i := slices.IndexFunc(groups, func(g group) bool {
			return slices.EqualFunc(g.key, key, func(a, b any) bool { return compareCell(a, b) == 0 })
		})
		if i < 0 {
			groups = append(groups, group{key: key})
			i = len(groups) - 1
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	slices.SortFunc(groups, func(a, b group) int {
		for i := range a.key {
			if c := compareCell(a.key[i], b.key[i]); c != 0 {
				return c
			}
		}
		return 0
	})
	return groups
}

// formatCell renders a cell the way the column's format would.
func formatCell(col cas.Column, v any) string {
	if v == nil {
		return "."
	}
	f, ok := v.(float64)
	if !ok {
		return fmt.Sprint(v)
	}
	switch {
	case strings.HasPrefix(col.Format, "DOLLAR"):
		s := strconv.FormatFloat(math.Round(f), 'f', 0, 64)
		for i := len(s) - 3; i > 0; i -= 3 {
			s = s[:i] + "," + s[i:]
		}
		return "$" + s
	case strings.HasPrefix(col.Format, "F"):
		return fmt.Sprintf("%8s", strconv.FormatFloat(f, 'f', -1, 64))
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// partitions runs fn once per by-group, or once over all rows when spec has
// no group-by sets. set is 1-based and zero without groupBySets; n is the
// 1-based by-group index and zero without by-groups.
func (spec tableSpec) partitions(fn func(set, n int, by []int, g group) error) error {
	if len(spec.sets) == 0 {
		return fn(0, 0, nil, group{rows: carsRows})
	}
	for m, by := range spec.sets {
		set := 0
		if spec.multi {
			set = m + 1
		}
		for n, g := range groupRows(carsRows, by) {
			if err := fn(set, n+1, by, g); err != nil {
				return err
			}
		}
	}
	return nil
}

// byGroupAttrs describes by-group n of t.
func byGroupAttrs(t *cas.Table, set, n, count int, by []int, key []any) {
	if n == 0 {
		return
	}
	var label []string
	t.Attrs[cas.AttrByGroupIndex] = n
	t.Attrs[cas.AttrNumByGroups] = count
	if set > 0 {
		t.Attrs[cas.AttrByGroupSet] = set
	}
	for j, c := range by {
		col := carsColumns[c]
		name := fmt.Sprintf("ByVar%d", j+1)
		t.Attrs[name] = col.Name
		if key[j] != nil {
			t.Attrs[name+"Value"] = key[j]
		}
		formatted := formatCell(col, key[j])
		t.Attrs[name+"ValueFormatted"] = formatted
		label = append(label, fmt.Sprintf("%s=%s", col.Name, strings.TrimSpace(formatted)))
	}
	t.Attrs[cas.AttrByGroup] = strings.Join(label, ", ")
}

func inputColumns(call *Call, spec tableSpec) ([]int, error) {
	v, ok := call.Param("inputs")
	if !ok {
		var out []int
		for i, c := range carsColumns {
			if c.Type == "double" && !slices.ContainsFunc(spec.sets, func(by []int) bool { return slices.Contains(by, i) }) {
				out = append(out, i)
			}
		}
		return out, nil
	}
	names, ok := stringList(v)
	if !ok {
		return nil, fmt.Errorf("Parameter 'inputs' must be a list of column names.")
	}
	return columnIndexes(names)
}

func summary(_ context.Context, call *Call) error {
	tv, _ := call.Param("table")
	spec, err := parseTableSpec(tv)
	if err != nil {
		return badParam(call, "%v", err)
	}
	inputs, err := inputColumns(call, spec)
	if err != nil {
		return badParam(call, "%v", err)
	}
	counts := map[int]int{}
	for m, by := range spec.sets {
		counts[m+1] = len(groupRows(carsRows, by))
	}

	return spec.partitions(func(set, n int, by []int, g group) error {
		var rows [][]any
		for _, c := range inputs {
			col := carsColumns[c]
			if col.Type != "double" {
				continue
			}
			var vals []float64
			missing := 0
			for _, r := range g.rows {
				if f, ok := r[c].(float64); ok {
					vals = append(vals, f)
				} else {
					missing++
				}
			}
			var lo, hi, sum, mean any
			if len(vals) > 0 {
				a, b, total := vals[0], vals[0], 0.0
				for _, f := range vals {
					a, b, total = math.Min(a, f), math.Max(b, f), total+f
				}
				lo, hi, sum, mean = a, b, total, total/float64(len(vals))
			}
			rows = append(rows, []any{col.Name, lo, hi, float64(len(vals)), float64(missing), mean, sum})
		}
		t, err := cas.NewTableFromRows("Summary", []cas.Column{
			{Name: "Column", Type: "varchar", Label: "Analysis Variable"},
			{Name: "Min", Type: "double", Format: "BEST8.", Label: "Minimum"},
			{Name: "Max", Type: "double", Format: "BEST8.", Label: "Maximum"},
			{Name: "N", Type: "double", Format: "BEST10.", Label: "Number of Observations"},
			{Name: "NMiss", Type: "double", Format: "BEST10.", Label: "Number of Missing Observations"},
			{Name: "Mean", Type: "double", Format: "BEST8.", Label: "Mean"},
			{Name: "Sum", Type: "double", Format: "BEST8.", Label: "Sum"},
		}, rows)
		if err != nil {
			return err
		}
		t.Label = "Descriptive Statistics for " + carsTable
		byGroupAttrs(tableAttrs(t, call), set, n, counts[max(set, 1)], by, g.key)
		return call.Table("Summary", t)
	})
}

func topK(_ context.Context, call *Call) error {
	tv, _ := call.Param("table")
	spec, err := parseTableSpec(tv)
	if err != nil {
		return badParam(call, "%v", err)
	}
	inputs, err := inputColumns(call, spec)
	if err != nil {
		return badParam(call, "%v", err)
	}
	k := 3
	if v, ok := call.Param("topk"); ok {
		n, ok := coerce(v, cas.KindInt32)
		if !ok || n.Int < 1 {
			return badParam(call, "Parameter 'topk' must be a positive integer.")
		}
		k = int(n.Int)
	}
	counts := map[int]int{}
	for m, by := range spec.sets {
		counts[m+1] = len(groupRows(carsRows, by))
	}

	return spec.partitions(func(set, n int, by []int, g group) error {
		var rows [][]any
		for _, c := range inputs {
			col := carsColumns[c]
			ranked := slices.Clone(g.rows)
			ranked = slices.DeleteFunc(ranked, func(r []any) bool { return r[c] == nil })
			slices.SortStableFunc(ranked, func(a, b []any) int { return -compareCell(a[c], b[c]) })
			for i, r := range ranked[:min(k, len(ranked))] {
				rows = append(rows, []any{col.Name, strings.TrimSpace(formatCell(col, r[c])), float64(i + 1)})
			}
		}
		t, err := cas.NewTableFromRows("Topk", []cas.Column{
			{Name: "Column", Type: "varchar", Label: "Variable"},
			{Name: "FmtVar", Type: "varchar", Label: "Formatted Value"},
			{Name: "Rank", Type: "double", Label: "Rank"},
		}, rows)
		if err != nil {
			return err
		}
		t.Label = "Top Values"
		byGroupAttrs(tableAttrs(t, call), set, n, counts[max(set, 1)], by, g.key)
		return call.Table("Topk", t)
	})
}
