// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryTable(t *testing.T, rows ...[]any) *Table {
	t.Helper()
	tbl, err := NewTableFromRows("Summary", []Column{
		{Name: "Column", Type: "varchar"},
		{Name: "Mean", Type: "double"},
	}, rows)
	require.NoError(t, err)
	return tbl
}

// byGroupTable returns a Summary replica for one by-group of byVar.
func byGroupTable(t *testing.T, set, group int, byVar string, value any, formatted string, mean float64) *Table {
	t.Helper()
	tbl := summaryTable(t, []any{"MSRP", mean})
	tbl.Attrs[AttrByGroupIndex] = group
	if set > 0 {
		tbl.Attrs[AttrByGroupSet] = set
	}
	tbl.Attrs["ByVar1"] = byVar
	tbl.Attrs["ByVar1Value"] = value
	tbl.Attrs["ByVar1ValueFormatted"] = formatted
	return tbl
}

func originResults(t *testing.T) *Results {
	t.Helper()
	r := NewResults(DefaultOptions())
	// out of order on purpose
	r.Set("ByGroup2.Summary", byGroupTable(t, 0, 2, "Origin", "Europe", "Europe", 50000))
	r.Set("ByGroup1.Summary", byGroupTable(t, 0, 1, "Origin", "Asia", "Asia", 25000))
	r.Set("ByGroup3.Summary", byGroupTable(t, 0, 3, "Origin", "USA", "USA", 27000))
	r.Set("note", "plain value")
	return r
}

func TestResultsAccess(t *testing.T) {
	r := NewResults(DefaultOptions())
	defer r.Release()
	r.Set("count", int64(3))
	r.Set("Summary", summaryTable(t, []any{"MSRP", 1.0}))

	assert.Equal(t, []string{"count", "Summary"}, r.Keys())
	assert.Equal(t, 2, r.Len())
	assert.Zero(t, r.NumSets())

	v, ok := r.Get("count")
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	key, v, err := r.At(1)
	require.NoError(t, err)
	assert.Equal(t, "Summary", key)
	assert.IsType(t, &Table{}, v)

	_, _, err = r.At(2)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = r.Table("missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Table("count")
	require.Error(t, err)

	r.Set("count", int64(4))
	v, _ = r.Get("count")
	assert.Equal(t, int64(4), v)

	assert.True(t, r.Delete("count"))
	assert.False(t, r.Delete("count"))
	assert.Equal(t, []string{"Summary"}, r.Keys())
}

func TestResultsByGroupTables(t *testing.T) {
	r := originResults(t)
	defer r.Release()

	assert.Equal(t, 1, r.NumSets())
	groups, err := r.Groups()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, groups)

	tables, err := r.GetTables("Summary")
	require.NoError(t, err)
	require.Len(t, tables, 3)
	for i, tbl := range tables {
		g, _ := tbl.ByGroupIndex()
		assert.Equal(t, i+1, g)
	}

	_, err = r.GetTables("Nothing")
	require.ErrorIs(t, err, ErrNotFound)

	all, err := r.ConcatTables("Summary")
	require.NoError(t, err)
	defer all.Release()
	assert.Equal(t, 3, all.NumRows())
	means, err := all.ColumnValues("Mean")
	require.NoError(t, err)
	assert.Equal(t, []any{25000.0, 50000.0, 27000.0}, means)
}

func TestResultsGroupLookup(t *testing.T) {
	r := originResults(t)
	defer r.Release()

	europe, err := r.GetGroup("Europe")
	require.NoError(t, err)
	defer europe.Release()
	assert.Equal(t, []string{"Summary"}, europe.Keys())
	tbl, err := europe.Table("Summary")
	require.NoError(t, err)
	assert.Equal(t, []any{"MSRP", 50000.0}, tbl.Row(0))

	usa, err := r.GetGroupBy(map[string]any{"Origin": "USA"})
	require.NoError(t, err)
	defer usa.Release()
	tbl, err = usa.Table("Summary")
	require.NoError(t, err)
	assert.Equal(t, 27000.0, tbl.Value(0, 1))

	_, err = r.GetGroup("Mars")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetGroupBy(map[string]any{"Type": "SUV"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Group(9)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResultsGroupLookupFormatted(t *testing.T) {
	r := NewResults(DefaultOptions())
	defer r.Release()
	r.Set("ByGroup1.Summary", byGroupTable(t, 0, 1, "Weight", 1.2, "1", 10))
	r.Set("ByGroup2.Summary", byGroupTable(t, 0, 2, "Weight", 1.4, "1", 20))
	r.Set("ByGroup3.Summary", byGroupTable(t, 0, 3, "Weight", 25000.0, "$25,000", 30))

	g, err := r.GetGroup(1.4)
	require.NoError(t, err)
	tbl, err := g.Table("Summary")
	require.NoError(t, err)
	assert.Equal(t, 20.0, tbl.Value(0, 1))
	g.Release()

	g, err = r.GetGroup(25000)
	require.NoError(t, err)
	g.Release()

	g, err = r.GetGroup("$25,000")
	require.NoError(t, err)
	tbl, err = g.Table("Summary")
	require.NoError(t, err)
	assert.Equal(t, 30.0, tbl.Value(0, 1))
	g.Release()

	_, err = r.GetGroup("1")
	require.ErrorIs(t, err, ErrAmbiguous)
}

func setResults(t *testing.T) *Results {
	t.Helper()
	r := NewResults(DefaultOptions())
	r.Set("ByGroupSet1.ByGroup1.Summary", byGroupTable(t, 1, 1, "Origin", "Asia", "Asia", 1))
	r.Set("ByGroupSet1.ByGroup2.Summary", byGroupTable(t, 1, 2, "Origin", "USA", "USA", 2))
	r.Set("ByGroupSet2.ByGroup1.Summary", byGroupTable(t, 2, 1, "Type", "SUV", "SUV", 3))
	return r
}

func TestResultsGroupBySets(t *testing.T) {
	r := setResults(t)
	defer r.Release()

	assert.Equal(t, 2, r.NumSets())
	assert.Equal(t, []string{
		"ByGroupSet1.ByGroup1.Summary",
		"ByGroupSet1.ByGroup2.Summary",
		"ByGroupSet2.ByGroup1.Summary",
	}, r.Keys())

	_, err := r.GetTables("Summary")
	require.ErrorIs(t, err, ErrAmbiguous)
	_, err = r.GetGroup("Asia")
	require.ErrorIs(t, err, ErrAmbiguous)
	_, err = r.Groups()
	require.ErrorIs(t, err, ErrAmbiguous)

	second, err := r.GetSet(2)
	require.NoError(t, err)
	defer second.Release()
	assert.Equal(t, 1, second.NumSets())
	assert.Equal(t, []string{"ByGroup1.Summary"}, second.Keys())
	suv, err := second.GetGroup("SUV")
	require.NoError(t, err)
	suv.Release()

	_, err = r.GetSet(3)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = r.GetSet(0)
	require.ErrorIs(t, err, ErrOutOfRange)

	plain := NewResults(DefaultOptions())
	_, err = plain.GetSet(1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestConcatByGroups(t *testing.T) {
	r := originResults(t)
	defer r.Release()

	out, err := r.ConcatByGroups(false)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []string{"Summary", "note"}, out.Keys())

	tbl, err := out.Table("Summary")
	require.NoError(t, err)
	require.Equal(t, 3, tbl.NumRows())
	names := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"Origin", "Origin_f", "Column", "Mean"}, names)
	assert.Equal(t, []any{"Asia", "Asia", "MSRP", 25000.0}, tbl.Row(0))
	_, ok := tbl.ByGroupIndex()
	assert.False(t, ok)

	// the source is untouched
	assert.Len(t, r.Keys(), 4)
}

func TestConcatByGroupsCollision(t *testing.T) {
	r := NewResults(DefaultOptions())
	r.Set("ByGroup1.Summary", byGroupTable(t, 0, 1, "Column", "a", "a", 1))
	r.Set("ByGroup2.Summary", byGroupTable(t, 0, 2, "Column", "b", "b", 2))

	out, err := r.ConcatByGroups(true)
	require.NoError(t, err)
	require.Same(t, r, out)
	defer out.Release()
	tbl, err := out.Table("Summary")
	require.NoError(t, err)
	assert.Equal(t, "Column_by", tbl.Columns[0].Name)
	assert.Equal(t, "Column_f", tbl.Columns[1].Name)
	assert.Equal(t, "Column", tbl.Columns[2].Name)
}

func TestConcatByGroupsKeepsSetPrefix(t *testing.T) {
	r := setResults(t)
	defer r.Release()

	out, err := r.ConcatByGroups(false)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []string{"ByGroupSet1.Summary", "ByGroupSet2.Summary"}, out.Keys())
}

func TestConcatByGroupsSchemaMismatch(t *testing.T) {
	r := NewResults(DefaultOptions())
	defer r.Release()
	r.Set("ByGroup1.Summary", byGroupTable(t, 0, 1, "Origin", "Asia", "Asia", 1))
	odd, err := NewTableFromRows("Summary", []Column{{Name: "Other", Type: "double"}}, [][]any{{1.0}})
	require.NoError(t, err)
	odd.Attrs[AttrByGroupIndex] = 2
	odd.Attrs["ByVar1"] = "Origin"
	odd.Attrs["ByVar1Value"] = "USA"
	r.Set("ByGroup2.Summary", odd)

	_, err = r.ConcatByGroups(true)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Len(t, r.Keys(), 2)
}

func TestAssemblerSynthesizesByGroupInfo(t *testing.T) {
	opts := DefaultOptions()
	a := newAssembler("simple.summary", &opts)
	resp := &Response{
		Results: []ResultItem{
			{Key: "Summary", Value: byGroupTable(t, 0, 1, "Origin", "Asia", "Asia", 1)},
			{Key: "Summary", Value: byGroupTable(t, 0, 2, "Origin", "USA", "USA", 2)},
		},
		Final: true,
	}
	a.add(resp)
	resp.Release()
	r := a.finish()
	defer r.Release()

	assert.Equal(t, []string{"ByGroupInfo", "ByGroup1.Summary", "ByGroup2.Summary"}, r.Keys())
	info, err := r.Table("ByGroupInfo")
	require.NoError(t, err)
	assert.Equal(t, 2, info.NumRows())
	assert.Equal(t, []any{"USA", "USA"}, info.Row(1))
}

func TestAssemblerDuplicatesAndEvents(t *testing.T) {
	opts := DefaultOptions()
	a := newAssembler("actionTest.events", &opts)
	a.add(&Response{
		Messages: []string{"NOTE: one"},
		Results: []ResultItem{
			{Key: "$progress", Value: 0.5},
			{Key: "x", Value: int64(1)},
			{Key: "x", Value: int64(2)},
		},
		Disposition: Disposition{Severity: SeverityWarning},
	})
	a.add(&Response{
		Messages:    []string{"NOTE: two"},
		Results:     []ResultItem{{Key: "x", Value: int64(3), Replace: true}},
		Disposition: Disposition{Severity: SeverityNormal},
		Final:       true,
		Session:     "s1",
	})
	r := a.finish()
	defer r.Release()

	assert.Equal(t, []string{"x", "x#2"}, r.Keys())
	v, _ := r.Get("x")
	assert.Equal(t, int64(3), v)
	assert.Equal(t, []Event{{Name: "progress", Value: 0.5}}, r.Events)
	assert.Equal(t, []string{"NOTE: one", "NOTE: two"}, r.Messages)
	assert.Equal(t, SeverityNormal, r.Severity)
	assert.Equal(t, "s1", r.Session)
}

func TestAssemblerRestart(t *testing.T) {
	opts := DefaultOptions()
	a := newAssembler("actionTest.restart", &opts)
	a.add(&Response{Messages: []string{"first"}, Results: []ResultItem{{Key: "attempt", Value: int32(1)}}})
	a.add(&Response{Results: []ResultItem{{Key: "late", Value: int32(1)}}, UpdateFlags: []string{FlagActionRestart}})
	a.add(&Response{Messages: []string{"second"}, Results: []ResultItem{{Key: "attempt", Value: int32(2)}}, Final: true})
	r := a.finish()
	defer r.Release()

	assert.Equal(t, []string{"attempt"}, r.Keys())
	v, _ := r.Get("attempt")
	assert.Equal(t, int32(2), v)
	assert.Equal(t, []string{"second"}, r.Messages)
	assert.Empty(t, r.UpdateFlags)
}
