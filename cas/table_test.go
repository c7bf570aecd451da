// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/swat-go/casdt"
)

func TestTableTemporalColumns(t *testing.T) {
	day := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	stamp := time.Date(2024, 2, 29, 13, 45, 30, 0, time.UTC)
	tbl, err := NewTableFromRows("events", []Column{
		{Name: "day", Type: "date", Format: "DATE9."},
		{Name: "at", Type: "time"},
		{Name: "stamp", Type: "datetime"},
	}, [][]any{
		{day, casdt.Clock(13, 45, 30, 0), stamp},
		{nil, nil, nil},
	})
	require.NoError(t, err)
	defer tbl.Release()

	row := tbl.Row(0)
	require.IsType(t, time.Time{}, row[0])
	assert.True(t, day.Equal(row[0].(time.Time)))
	assert.Equal(t, casdt.Clock(13, 45, 30, 0), row[1])
	require.IsType(t, time.Time{}, row[2])
	assert.True(t, stamp.Equal(row[2].(time.Time)))
	assert.Equal(t, []any{nil, nil, nil}, tbl.Row(1))
}

func TestTableMissingSentinels(t *testing.T) {
	tbl, err := NewTableFromRows("counts", []Column{
		{Name: "n32", Type: "int32"},
		{Name: "n64", Type: "int64"},
	}, [][]any{
		{int32(math.MinInt32), int64(math.MinInt64)},
		{-1, int64(-1)},
	})
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, []any{nil, nil}, tbl.Row(0))
	assert.Equal(t, []any{int32(-1), int64(-1)}, tbl.Row(1))

	m := DefaultMissingValues()
	m.Int32 = -1
	tbl.SetMissing(m)
	assert.Nil(t, tbl.Value(1, 0))
	assert.Equal(t, int32(math.MinInt32), tbl.Value(0, 0))
}

func TestTableRejectsBadCells(t *testing.T) {
	_, err := NewTableFromRows("bad", []Column{{Name: "x", Type: "double"}}, [][]any{{"text"}})
	require.Error(t, err)
	_, err = NewTableFromRows("bad", []Column{{Name: "x", Type: "int32"}}, [][]any{{int64(math.MaxInt64)}})
	require.Error(t, err)
	_, err = NewTableFromRows("bad", []Column{{Name: "x", Type: "double"}}, [][]any{{1.0, 2.0}})
	require.Error(t, err)
}

func TestTableColumnLookup(t *testing.T) {
	tbl := summaryTable(t, []any{"MSRP", 1.5}, []any{"Horsepower", 200.0})
	defer tbl.Release()

	assert.Equal(t, 1, tbl.ColumnIndex("Mean"))
	assert.Equal(t, -1, tbl.ColumnIndex("Median"))
	vals, err := tbl.ColumnValues("Column")
	require.NoError(t, err)
	assert.Equal(t, []any{"MSRP", "Horsepower"}, vals)
	_, err = tbl.ColumnValues("Median")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTableAttributes(t *testing.T) {
	tbl := summaryTable(t)
	defer tbl.Release()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tbl.Attrs[AttrAction] = "summary"
	tbl.Attrs[AttrActionSet] = "simple"
	tbl.Attrs[AttrCreateTime] = float64(casdt.DateTimeToSAS(created))
	tbl.Attrs[AttrByGroup] = "Origin=Asia"
	tbl.Attrs["ByVar1"] = "Origin"
	tbl.Attrs["ByVar1Value"] = "Asia"
	tbl.Attrs["ByVar2"] = "Cylinders"
	tbl.Attrs["ByVar2Value"] = 4.0
	tbl.Attrs["ByVar2ValueFormatted"] = "       4"

	assert.Equal(t, "summary", tbl.Action())
	assert.Equal(t, "simple", tbl.ActionSet())
	at, ok := tbl.CreateTime()
	require.True(t, ok)
	assert.True(t, created.Equal(at))
	assert.Equal(t, "Origin=Asia", tbl.ByGroup())
	assert.Equal(t, []ByVar{
		{Name: "Origin", Value: "Asia", Formatted: "Asia"},
		{Name: "Cylinders", Value: 4.0, Formatted: "4"},
	}, tbl.ByVars())
}
