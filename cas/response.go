// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import "strings"

// Severity levels reported in a Disposition.
const (
	SeverityNormal  = 0
	SeverityWarning = 1
	SeverityError   = 2
)

// Disposition is the completion status of an action.
type Disposition struct {
	Severity   int    `json:"severity" yaml:"severity"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Status     string `json:"formattedStatus,omitempty" yaml:"status,omitempty"`
	StatusCode int64  `json:"statusCode,omitempty" yaml:"status_code,omitempty"`
	Debug      string `json:"debugInfo,omitempty" yaml:"debug,omitempty"`
}

// Failed reports whether the severity is SeverityError or worse.
func (d Disposition) Failed() bool { return d.Severity >= SeverityError }

// Performance holds the server's resource accounting for an action.
type Performance struct {
	ElapsedTime       float64 `json:"elapsedTime" yaml:"elapsed_time"`
	CPUUserTime       float64 `json:"cpuUserTime" yaml:"cpu_user_time"`
	CPUSystemTime     float64 `json:"cpuSystemTime" yaml:"cpu_system_time"`
	SystemTotalMemory int64   `json:"systemTotalMemory" yaml:"system_total_memory"`
	SystemNodes       int64   `json:"systemNodes" yaml:"system_nodes"`
	SystemCores       int64   `json:"systemCores" yaml:"system_cores"`
	Memory            int64   `json:"memory" yaml:"memory"`
	MemoryOS          int64   `json:"memoryOS" yaml:"memory_os"`
	MemorySystem      int64   `json:"memorySystem" yaml:"memory_system"`
	MemoryQuota       int64   `json:"memoryQuota" yaml:"memory_quota"`
	DataMovementTime  float64 `json:"dataMovementTime" yaml:"data_movement_time"`
	DataMovementBytes int64   `json:"dataMovementBytes" yaml:"data_movement_bytes"`
}

// Update flags that change how responses are assembled.
const (
	// FlagActionRestart discards messages and results gathered so far.
	FlagActionRestart = "action-restart"
)

// ResultItem is one named result carried by a Response. Value is a *Table
// or a plain Go value as returned by Value.Interface.
type ResultItem struct {
	Key     string
	Value   any
	Replace bool
}

// Response is one chunk of an action's reply. Every response carries the
// messages and results produced since the previous one; the last response
// of an invocation has Final set.
type Response struct {
	Messages []string
	Disposition
	Performance *Performance
	Results     []ResultItem
	UpdateFlags []string
	Final       bool

	// Session and SessionName identify the server session that produced
	// the response.
	Session     string
	SessionName string
}

// HasFlag reports whether flag is among the response's update flags.
func (r *Response) HasFlag(flag string) bool {
	for _, f := range r.UpdateFlags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// tables returns the result tables of the response.
func (r *Response) tables() []*Table {
	var out []*Table
	for _, item := range r.Results {
		if t, ok := item.Value.(*Table); ok {
			out = append(out, t)
		}
	}
	return out
}

// Release releases the Arrow memory of every result table.
func (r *Response) Release() {
	for _, t := range r.tables() {
		t.Release()
	}
}
