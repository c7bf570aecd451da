// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	p, err := parseParams(`{"table": {"name": "cars"}, "topk": 3}`, []string{
		"table.groupBy=[Origin, Type]",
		"topk=2",
		"flag=true",
		"label=Top values",
		"empty=",
	})
	require.NoError(t, err)

	name, err := p.Get("table.name")
	require.NoError(t, err)
	assert.Equal(t, "cars", name)

	by, err := p.Get("table.groupBy")
	require.NoError(t, err)
	assert.Equal(t, []any{"Origin", "Type"}, by)

	assert.Equal(t, 2, p.GetDefault("topk", nil))
	assert.Equal(t, true, p.GetDefault("flag", nil))
	assert.Equal(t, "Top values", p.GetDefault("label", nil))
	assert.Equal(t, "", p.GetDefault("empty", nil))
}

func TestParseParamsErrors(t *testing.T) {
	_, err := parseParams("", []string{"novalue"})
	assert.ErrorContains(t, err, "not key=value")

	_, err = parseParams("{", nil)
	assert.ErrorContains(t, err, "--json")

	_, err = parseParams("", []string{"a=1", "a.b=2"})
	assert.Error(t, err)
}
