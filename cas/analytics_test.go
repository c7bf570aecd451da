// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/swat-go/cas"
	"github.com/Query-farm/swat-go/castest"
)

// statRow returns the row of a summary table describing column.
func statRow(t *testing.T, tbl *cas.Table, column string) map[string]any {
	t.Helper()
	names, err := tbl.ColumnValues("Column")
	require.NoError(t, err)
	for i, n := range names {
		if n == column {
			out := map[string]any{}
			for j, c := range tbl.Columns {
				out[c.Name] = tbl.Value(i, j)
			}
			return out
		}
	}
	t.Fatalf("no summary row for %s", column)
	return nil
}

func TestSummaryByGroups(t *testing.T) {
	eachProtocol(t, func(t *testing.T, srv *castest.Server, opts cas.Options) {
		conn := connect(t, opts)
		res := retrieve(t, conn, "simple.summary", cas.Params{
			"table": cas.Params{"name": "cars", "groupBy": []string{"Origin"}},
		})
		require.False(t, res.Failed(), res.Messages)
		assert.Equal(t, []string{"ByGroupInfo", "ByGroup1.Summary", "ByGroup2.Summary", "ByGroup3.Summary"}, res.Keys())
		assert.Equal(t, 1, res.NumSets())

		groups, err := res.Groups()
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, groups)

		info, err := res.Table("ByGroupInfo")
		require.NoError(t, err)
		origins, err := info.ColumnValues("Origin")
		require.NoError(t, err)
		assert.Equal(t, []any{"Asia", "Europe", "USA"}, origins)

		europe, err := res.GetGroup("Europe")
		require.NoError(t, err)
		defer europe.Release()
		summary, err := europe.Table("Summary")
		require.NoError(t, err)
		assert.Equal(t, "Origin=Europe", summary.ByGroup())
		msrp := statRow(t, summary, "MSRP")
		assert.Equal(t, 25940.0, msrp["Min"])
		assert.Equal(t, 79165.0, msrp["Max"])
		assert.Equal(t, 4.0, msrp["N"])

		asia, err := res.GetGroupBy(map[string]any{"Origin": "Asia"})
		require.NoError(t, err)
		defer asia.Release()
		summary, err = asia.Table("Summary")
		require.NoError(t, err)
		cyl := statRow(t, summary, "Cylinders")
		assert.Equal(t, 4.0, cyl["N"])
		assert.Equal(t, 1.0, cyl["NMiss"])

		concat, err := res.ConcatByGroups(false)
		require.NoError(t, err)
		defer concat.Release()
		assert.Equal(t, []string{"Summary"}, concat.Keys())
		all, err := concat.Table("Summary")
		require.NoError(t, err)
		assert.Equal(t, 9, all.NumRows())
		assert.Equal(t, "Origin", all.Columns[0].Name)
		assert.Equal(t, "Asia", all.Value(0, 0))
		assert.Equal(t, "USA", all.Value(8, 0))
	})
}

func TestSummaryGroupBySets(t *testing.T) {
	eachProtocol(t, func(t *testing.T, srv *castest.Server, opts cas.Options) {
		conn := connect(t, opts)
		res := retrieve(t, conn, "simple.summary", cas.Params{
			"table": cas.Params{"name": "cars", "groupBySets": [][]string{{"Origin"}, {"Type"}}},
		})
		require.False(t, res.Failed(), res.Messages)
		assert.Equal(t, 2, res.NumSets())

		_, err := res.Groups()
		require.ErrorIs(t, err, cas.ErrAmbiguous)

		types, err := res.GetSet(2)
		require.NoError(t, err)
		defer types.Release()
		groups, err := types.Groups()
		require.NoError(t, err)
		assert.Len(t, groups, 4)

		suv, err := types.GetGroup("SUV")
		require.NoError(t, err)
		defer suv.Release()
		summary, err := suv.Table("Summary")
		require.NoError(t, err)
		assert.Equal(t, 5.0, statRow(t, summary, "MSRP")["N"])

		concat, err := res.ConcatByGroups(false)
		require.NoError(t, err)
		defer concat.Release()
		assert.Equal(t, []string{"ByGroupSet1.Summary", "ByGroupSet2.Summary"}, concat.Keys())
	})
}

func TestTopKFormattedValues(t *testing.T) {
	eachProtocol(t, func(t *testing.T, srv *castest.Server, opts cas.Options) {
		conn := connect(t, opts)
		res := retrieve(t, conn, "simple.topk", cas.Params{
			"table":  cas.Params{"name": "cars", "groupBy": []string{"Origin"}},
			"inputs": []string{"MSRP"},
			"topk":   2,
		})
		require.False(t, res.Failed(), res.Messages)

		asia, err := res.GetGroup("Asia")
		require.NoError(t, err)
		defer asia.Release()
		topk, err := asia.Table("Topk")
		require.NoError(t, err)
		require.Equal(t, 2, topk.NumRows())
		vals, err := topk.ColumnValues("FmtVar")
		require.NoError(t, err)
		assert.Equal(t, []any{"$36,945", "$27,200"}, vals)
	})
}

func TestSummaryBadTable(t *testing.T) {
	eachProtocol(t, func(t *testing.T, srv *castest.Server, opts cas.Options) {
		conn := connect(t, opts)
		res := retrieve(t, conn, "simple.summary", cas.Params{"table": "trucks"})
		assert.True(t, res.Failed())
		assert.Contains(t, res.Messages, "ERROR: Table 'trucks' could not be located.")
	})
}
