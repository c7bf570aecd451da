// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/Query-farm/swat-go/cas"
)

type yamlTable struct {
	Name    string   `yaml:"name"`
	Label   string   `yaml:"label,omitempty"`
	ByGroup string   `yaml:"by_group,omitempty"`
	Columns []string `yaml:"columns"`
	Rows    [][]any  `yaml:"rows"`
}

type yamlItem struct {
	Key   string     `yaml:"key"`
	Value any        `yaml:"value,omitempty"`
	Table *yamlTable `yaml:"table,omitempty"`
}

type yamlResults struct {
	Action      string           `yaml:"action"`
	Session     string           `yaml:"session,omitempty"`
	Disposition cas.Disposition  `yaml:"disposition"`
	Messages    []string         `yaml:"messages,omitempty"`
	Events      []cas.Event      `yaml:"events,omitempty"`
	Results     []yamlItem       `yaml:"results"`
	Performance *cas.Performance `yaml:"performance,omitempty"`
}

func toYAMLTable(t *cas.Table) *yamlTable {
	out := &yamlTable{Name: t.Name, Label: t.Label, ByGroup: t.ByGroup(), Rows: [][]any{}}
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, c.Name)
	}
	for i := range t.NumRows() {
		out.Rows = append(out.Rows, t.Row(i))
	}
	return out
}

func writeYAML(w io.Writer, res *cas.Results) error {
	doc := yamlResults{
		Action:      res.Action,
		Session:     res.Session,
		Disposition: res.Disposition,
		Messages:    res.Messages,
		Events:      res.Events,
		Results:     []yamlItem{},
		Performance: res.Performance,
	}
	for i := range res.Len() {
		key, v, err := res.At(i)
		if err != nil {
			return err
		}
		item := yamlItem{Key: key}
		if t, ok := v.(*cas.Table); ok {
			item.Table = toYAMLTable(t)
		} else {
			item.Value = v
		}
		doc.Results = append(doc.Results, item)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// formatCell renders a cell for a text table; missing values print as ".".
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "."
	case float64:
		return fmt.Sprintf("%g", x)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(x))
	}
	return fmt.Sprint(v)
}

func renderTable(t *cas.Table) (string, error) {
	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
		if c.Label != "" && c.Label != c.Name {
			header[i] = c.Label
		}
	}
	data := pterm.TableData{header}
	for i := range t.NumRows() {
		row := t.Row(i)
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		data = append(data, cells)
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
}

func writeTables(w io.Writer, res *cas.Results) error {
	for i := range res.Len() {
		key, v, err := res.At(i)
		if err != nil {
			return err
		}
		t, ok := v.(*cas.Table)
		if !ok {
			pterm.Fprintln(w, pterm.Bold.Sprint(key)+": "+formatCell(v))
			continue
		}
		title := key
		if t.Label != "" {
			title += " (" + t.Label + ")"
		}
		if g := t.ByGroup(); g != "" {
			title += " " + g
		}
		pterm.Fprintln(w, pterm.Bold.Sprint(title))
		out, err := renderTable(t)
		if err != nil {
			return err
		}
		pterm.Fprintln(w, out)
	}
	for _, ev := range res.Events {
		pterm.Fprintln(w, pterm.Gray("$"+ev.Name+" = "+formatCell(ev.Value)))
	}

	status := fmt.Sprintf("severity %d", res.Severity)
	if res.Status != "" {
		status += ": " + strings.TrimSpace(res.Status)
	}
	if res.Performance != nil {
		status += fmt.Sprintf(" (%.3fs)", res.Performance.ElapsedTime)
	}
	if res.Failed() {
		pterm.Error.WithWriter(w).Println(status)
	} else {
		pterm.Fprintln(w, pterm.Gray(status))
	}
	return nil
}

func writeResults(w io.Writer, res *cas.Results) error {
	if output == "yaml" {
		return writeYAML(w, res)
	}
	return writeTables(w, res)
}
