// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/Query-farm/swat-go/xdict"
)

// parseParams builds action parameters from a JSON object and key=value
// arguments. Keys may be dotted ("table.name=cars"); values are read as YAML
// scalars or flow collections, so 5, true, [a, b] and {x: 1} keep their
// types. Arguments override keys from the JSON object.
func parseParams(jsonParams string, args []string) (*xdict.Dict, error) {
	params := xdict.New()
	if strings.TrimSpace(jsonParams) != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(jsonParams), &m); err != nil {
			return nil, fmt.Errorf("--json: %w", err)
		}
		params = xdict.FromMap(m)
	}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		var v any
		if raw != "" {
			if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("parameter %s: %w", key, err)
			}
		}
		if v == nil {
			v = raw
		}
		if err := params.Set(key, v); err != nil {
			return nil, err
		}
	}
	return params, nil
}
