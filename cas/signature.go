// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ActionReflect returns the signatures of an action set.
const ActionReflect = "builtins.reflect"

// ParamSpec describes one parameter of an action signature.
type ParamSpec struct {
	Name        string      `json:"name"`
	Type        string      `json:"parmType"`
	Desc        string      `json:"desc,omitempty"`
	IsTableDef  bool        `json:"isTableDef,omitempty"`
	IsTableName bool        `json:"isTableName,omitempty"`
	ParmList    []ParamSpec `json:"parmList,omitempty"`
}

// Signature is the reflected parameter list of one action.
type Signature struct {
	Name   string      `json:"name"`
	Desc   string      `json:"desc,omitempty"`
	Params []ParamSpec `json:"params"`
}

// reflectedSet is the shape of one builtins.reflect result.
type reflectedSet struct {
	Name    string      `json:"name"`
	Label   string      `json:"label"`
	Actions []Signature `json:"actions"`
}

// Apply returns a copy of params normalized against s. Names take the case
// the signature declares, and a bare string given for a table definition
// becomes {name: s}. Parameters the signature does not know pass unchanged.
func (s *Signature) Apply(params ParamList) ParamList {
	if s == nil {
		return params
	}
	return applySpecs(s.Params, params)
}

func findSpec(specs []ParamSpec, name string) *ParamSpec {
	for i := range specs {
		if strings.EqualFold(specs[i].Name, name) {
			return &specs[i]
		}
	}
	return nil
}

func applySpecs(specs []ParamSpec, params ParamList) ParamList {
	out := make(ParamList, len(params))
	for i, p := range params {
		out[i] = p
		spec := findSpec(specs, p.Name)
		if spec == nil || p.Name == "" {
			continue
		}
		out[i].Name = spec.Name
		out[i].Value = applySpec(spec, p.Value)
	}
	return out
}

func applySpec(spec *ParamSpec, v Value) Value {
	if spec.IsTableDef && v.Kind == KindString {
		return TableOf(ParamList{{Name: "name", Value: v}})
	}
	if len(spec.ParmList) == 0 {
		return v
	}
	switch v.Kind {
	case KindTable:
		return TableOf(applySpecs(spec.ParmList, v.Table))
	case KindList:
		// a list of parameter lists shares one sub-signature
		items := make([]Value, len(v.List))
		for i, item := range v.List {
			if item.Kind == KindTable {
				item = TableOf(applySpecs(spec.ParmList, item.Table))
			}
			items[i] = item
		}
		return List(items...)
	}
	return v
}

// Signature returns the signature of action as reported by builtins.reflect.
// Signatures are cached per connection; an action the server does not know
// has a nil signature and no error.
func (c *Connection) Signature(ctx context.Context, action string) (*Signature, error) {
	key := strings.ToLower(action)
	c.mu.Lock()
	sig, ok := c.signatures[key]
	c.mu.Unlock()
	if ok {
		return sig, nil
	}

	res, err := c.Retrieve(ctx, ActionReflect, Params{"action": action})
	if res == nil {
		return nil, err
	}
	defer res.Release()
	if err != nil && !errors.Is(err, ErrAction) {
		return nil, err
	}
	if !res.Failed() {
		sig, err = decodeSignature(res, action)
		if err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.signatures[key] = sig
	c.mu.Unlock()
	return sig, nil
}

func decodeSignature(res *Results, action string) (*Signature, error) {
	for _, k := range res.Keys() {
		v, _ := res.Get(k)
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cas: reflecting %s: %w", action, err)
		}
		var set reflectedSet
		if err := json.Unmarshal(data, &set); err != nil {
			return nil, &ProtocolError{Message: "decoding signature of " + action, Err: err}
		}
		for i := range set.Actions {
			if strings.EqualFold(set.Actions[i].Name, action) {
				return &set.Actions[i], nil
			}
		}
	}
	return nil, nil
}

func (c *Connection) copySignatures() map[string]*Signature {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Signature, len(c.signatures))
	for k, v := range c.signatures {
		out[k] = v
	}
	return out
}
