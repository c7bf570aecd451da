// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var topkSignature = &Signature{
	Name: "simple.topk",
	Params: []ParamSpec{
		{Name: "table", Type: "value_list", IsTableDef: true, ParmList: []ParamSpec{
			{Name: "name", Type: "string"},
			{Name: "groupBy", Type: "value_list", ParmList: []ParamSpec{{Name: "name", Type: "string"}}},
		}},
		{Name: "topk", Type: "int32"},
	},
}

func TestSignatureWrapsTableName(t *testing.T) {
	got := topkSignature.Apply(ParamList{{Name: "table", Value: String("cars")}})
	assert.Equal(t, ParamList{
		{Name: "table", Value: TableOf(ParamList{{Name: "name", Value: String("cars")}})},
	}, got)
}

func TestSignatureMatchesNamesIgnoringCase(t *testing.T) {
	in := ParamList{
		{Name: "TABLE", Value: TableOf(ParamList{
			{Name: "NAME", Value: String("cars")},
			{Name: "GroupBy", Value: List(
				String("Origin"),
				TableOf(ParamList{{Name: "Name", Value: String("Type")}}),
			)},
		})},
		{Name: "TopK", Value: Int32(2)},
		{Name: "extra", Value: Bool(true)},
	}
	got := topkSignature.Apply(in)
	assert.Equal(t, ParamList{
		{Name: "table", Value: TableOf(ParamList{
			{Name: "name", Value: String("cars")},
			{Name: "groupBy", Value: List(
				String("Origin"),
				TableOf(ParamList{{Name: "name", Value: String("Type")}}),
			)},
		})},
		{Name: "topk", Value: Int32(2)},
		{Name: "extra", Value: Bool(true)},
	}, got)

	// the input is left alone
	assert.Equal(t, "TABLE", in[0].Name)
}

func TestNilSignatureKeepsParams(t *testing.T) {
	var sig *Signature
	in := ParamList{{Name: "Table", Value: String("cars")}}
	assert.Equal(t, in, sig.Apply(in))
}
