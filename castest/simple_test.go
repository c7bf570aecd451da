// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/swat-go/cas"
)

func TestFormatCell(t *testing.T) {
	msrp := carsColumns[carsColumn("MSRP")]
	cyl := carsColumns[carsColumn("Cylinders")]
	hp := carsColumns[carsColumn("Horsepower")]

	assert.Equal(t, "$36,945", formatCell(msrp, 36945.0))
	assert.Equal(t, "$945", formatCell(msrp, 945.0))
	assert.Equal(t, "$1,000,000", formatCell(msrp, 1e6))
	assert.Equal(t, "       4", formatCell(cyl, 4.0))
	assert.Equal(t, "265", formatCell(hp, 265.0))
	assert.Equal(t, ".", formatCell(cyl, nil))
	assert.Equal(t, "Asia", formatCell(carsColumns[carsColumn("Origin")], "Asia"))
}

func TestGroupRowsOrdersKeys(t *testing.T) {
	groups := groupRows(carsRows, []int{carsColumn("Cylinders")})
	var keys []any
	for _, g := range groups {
		keys = append(keys, g.key[0])
	}
	assert.Equal(t, []any{nil, 4.0, 6.0, 8.0}, keys)
	assert.Len(t, groups[0].rows, 1)
	assert.Len(t, groups[1].rows, 5)
}

func TestParseTableSpec(t *testing.T) {
	spec, err := parseTableSpec(cas.String("cars"))
	require.NoError(t, err)
	assert.Empty(t, spec.sets)

	spec, err = parseTableSpec(cas.TableOf(cas.ParamList{
		{Name: "name", Value: cas.String("CARS")},
		{Name: "groupBy", Value: cas.List(cas.TableOf(cas.ParamList{{Name: "name", Value: cas.String("origin")}}))},
	}))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{3}}, spec.sets)
	assert.False(t, spec.multi)

	spec, err = parseTableSpec(cas.TableOf(cas.ParamList{
		{Name: "name", Value: cas.String("cars")},
		{Name: "groupBySets", Value: cas.List(cas.List(cas.String("Origin")), cas.List(cas.String("Type"), cas.String("Make")))},
	}))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{3}, {2, 0}}, spec.sets)
	assert.True(t, spec.multi)

	_, err = parseTableSpec(cas.String("trucks"))
	assert.EqualError(t, err, "Table 'trucks' could not be located.")

	_, err = parseTableSpec(cas.TableOf(cas.ParamList{
		{Name: "name", Value: cas.String("cars")},
		{Name: "groupBy", Value: cas.String("Wheels")},
	}))
	assert.EqualError(t, err, "Column 'Wheels' does not exist in table 'CARS'.")

	_, err = parseTableSpec(cas.Nil())
	assert.Error(t, err)
}

func TestByGroupAttrs(t *testing.T) {
	tbl, err := cas.NewTableFromRows("Summary", []cas.Column{{Name: "x", Type: "double"}}, nil)
	require.NoError(t, err)
	defer tbl.Release()

	by := []int{carsColumn("Origin"), carsColumn("Cylinders")}
	byGroupAttrs(tbl, 2, 3, 7, by, []any{"Asia", nil})

	idx, ok := tbl.ByGroupIndex()
	require.True(t, ok)
	assert.Equal(t, 3, idx)
	set, ok := tbl.ByGroupSet()
	require.True(t, ok)
	assert.Equal(t, 2, set)
	assert.Equal(t, "Origin=Asia, Cylinders=.", tbl.ByGroup())
	_, hasValue := tbl.Attr("ByVar2Value")
	assert.False(t, hasValue)

	vars := tbl.ByVars()
	require.Len(t, vars, 2)
	assert.Equal(t, "Asia", vars[0].Value)
	assert.Nil(t, vars[1].Value)
	assert.Equal(t, ".", vars[1].Formatted)
}

func TestCoerce(t *testing.T) {
	v, ok := coerce(cas.String(" 12 "), cas.KindInt32)
	require.True(t, ok)
	assert.Equal(t, cas.Int32(12), v)

	_, ok = coerce(cas.Double(1.5), cas.KindInt64)
	assert.False(t, ok)
	_, ok = coerce(cas.Bool(true), cas.KindDouble)
	assert.False(t, ok)
	_, ok = coerce(cas.Int32(1), cas.KindString)
	assert.False(t, ok)

	v, ok = coerce(cas.Int64(0), cas.KindBool)
	require.True(t, ok)
	assert.Equal(t, cas.Bool(false), v)
	v, ok = coerce(cas.Int32(1), cas.KindBool)
	require.True(t, ok)
	assert.Equal(t, cas.Bool(true), v)
	_, ok = coerce(cas.Int32(2), cas.KindBool)
	assert.False(t, ok)
	v, ok = coerce(cas.String("FALSE"), cas.KindBool)
	require.True(t, ok)
	assert.Equal(t, cas.Bool(false), v)
	_, ok = coerce(cas.String("1"), cas.KindBool)
	assert.False(t, ok)

	v, ok = coerce(cas.TableOf(nil), cas.KindList)
	assert.True(t, ok)
	_, ok = coerce(cas.Nil(), cas.KindList)
	assert.False(t, ok)
	v, ok = coerce(cas.Nil(), cas.KindNil)
	assert.True(t, ok)
	assert.Equal(t, cas.KindNil, v.Kind)
}

func TestValidLocale(t *testing.T) {
	assert.True(t, validLocale("en"))
	assert.True(t, validLocale("fr_FR"))
	assert.False(t, validLocale("EN"))
	assert.False(t, validLocale("en-US"))
	assert.False(t, validLocale(""))
}
