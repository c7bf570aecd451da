// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package xdict

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sample(t *testing.T) *Dict {
	t.Helper()
	d := New()
	require.NoError(t, d.Set("a", 1))
	require.NoError(t, d.Set("b", "two"))
	require.NoError(t, d.Set("c.one", 1.5))
	require.NoError(t, d.Set("c.four.nest.double", 2.5))
	require.NoError(t, d.Set("c.list", []any{"x", map[string]any{"y": 3}}))
	return d
}

func TestSetCreatesLevels(t *testing.T) {
	d := New()
	require.NoError(t, d.Set("a.b.c", 1))

	a, err := d.Get("a")
	require.NoError(t, err)
	require.IsType(t, &Dict{}, a)
	assert.Equal(t, map[string]any{"b": map[string]any{"c": 1}}, a.(*Dict).ToMap())

	v, err := d.Get("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, d.Contains("a.b"))
}

func TestSetThroughLeafFails(t *testing.T) {
	d := New()
	require.NoError(t, d.Set("a.b", 1))
	err := d.Set("a.b.c", 2)
	require.ErrorIs(t, err, ErrNotContainer)

	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "a.b", te.Key)
	assert.Equal(t, 1, te.Leaf)
}

func TestSetMapBecomesDict(t *testing.T) {
	d := New()
	require.NoError(t, d.Set("opts", map[string]any{"z": 1, "a": map[string]any{"k": "v"}}))
	v, err := d.Get("opts.a.k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	opts, _ := d.Get("opts")
	assert.Equal(t, []string{"a", "z"}, opts.(*Dict).Keys())
}

func TestGet(t *testing.T) {
	d := sample(t)

	_, err := d.Get("c.missing")
	require.ErrorIs(t, err, ErrKey)
	_, err = d.Get("a.b")
	require.ErrorIs(t, err, ErrKey)

	assert.Equal(t, "fallback", d.GetDefault("nope.nope", "fallback"))
	assert.Equal(t, 2.5, d.GetDefault("c.four.nest.double", nil))
}

func TestContains(t *testing.T) {
	d := sample(t)
	for _, key := range []string{"a", "c", "c.four", "c.four.nest", "c.four.nest.double", "c.list", "c.list[1]"} {
		assert.True(t, d.Contains(key), key)
	}
	for _, key := range []string{"x", "c.four.nest.double.more", "c.fo", "c.four.nes"} {
		assert.False(t, d.Contains(key), key)
	}
}

func TestDelete(t *testing.T) {
	d := New()
	require.NoError(t, d.Set("a.b.c", 1))
	require.NoError(t, d.Set("a.d", 2))

	require.NoError(t, d.Delete("a.b.c"))
	assert.False(t, d.Contains("a.b"))
	assert.True(t, d.Contains("a"))
	assert.True(t, d.Contains("a.d"))

	require.ErrorIs(t, d.Delete("a.b.c"), ErrKey)
	require.ErrorIs(t, d.Delete("x.y"), ErrKey)
	require.ErrorIs(t, d.Delete("a.d.e"), ErrKey)

	require.NoError(t, d.Delete("a"))
	assert.Equal(t, 0, d.Len())
}

func TestFlatten(t *testing.T) {
	d := sample(t)
	items := d.Flatten()

	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	assert.Equal(t, []string{
		"a", "b", "c.one", "c.four.nest.double", "c.list[0]", "c.list[1].y",
	}, keys)

	flat := d.FlattenMap()
	assert.Equal(t, 3, flat["c.list[1].y"])
	assert.Equal(t, "x", flat["c.list[0]"])
}

func TestShallowCopySharesNested(t *testing.T) {
	d := sample(t)
	cp := d.Copy()
	require.NoError(t, cp.Set("c.one", 99))
	v, _ := d.Get("c.one")
	assert.Equal(t, 99, v)

	require.NoError(t, cp.Set("a", 42))
	v, _ = d.Get("a")
	assert.Equal(t, 1, v)
}

func TestDeepCopyDoesNotAlias(t *testing.T) {
	d := sample(t)
	cp := d.DeepCopy()

	require.NoError(t, cp.Set("c.four.nest.double", 0.0))
	list, _ := cp.Get("c.list")
	list.([]any)[1].(map[string]any)["y"] = 100

	v, _ := d.Get("c.four.nest.double")
	assert.Equal(t, 2.5, v)
	orig, _ := d.Get("c.list")
	assert.Equal(t, 3, orig.([]any)[1].(map[string]any)["y"])
	assert.Equal(t, d.FlattenMap()["c.one"], cp.FlattenMap()["c.one"])
}

func TestGetOrCreateNested(t *testing.T) {
	d := New()
	sub, err := d.GetOrCreateNested("table.where")
	require.NoError(t, err)
	require.NoError(t, sub.Set("expr", "x > 1"))

	v, err := d.Get("table.where.expr")
	require.NoError(t, err)
	assert.Equal(t, "x > 1", v)

	again, err := d.GetOrCreateNested("table.where")
	require.NoError(t, err)
	assert.Same(t, sub, again)

	_, err = d.GetOrCreateNested("table.where.expr.deeper")
	assert.ErrorIs(t, err, ErrNotContainer)
}

func TestZeroValue(t *testing.T) {
	var d Dict
	require.NoError(t, d.Set("a.b", true))
	assert.True(t, d.Contains("a"))
}

func TestMarshalYAMLKeepsOrder(t *testing.T) {
	d := New()
	require.NoError(t, d.Set("zeta", 1))
	require.NoError(t, d.Set("alpha.inner", "v"))

	out, err := yaml.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, "zeta: 1\nalpha:\n    inner: v\n", string(out))
}

func TestMarshalJSONKeepsOrder(t *testing.T) {
	d := New()
	require.NoError(t, d.Set("zeta", 1))
	require.NoError(t, d.Set("alpha.inner", "v"))
	require.NoError(t, d.Set("list", []any{New(), true}))

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":{"inner":"v"},"list":[{},true]}`, string(out))
}
