// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"io"
	"strings"

	"github.com/pterm/pterm"
)

// messagePrinter writes server messages, picking a pterm prefix printer from
// the NOTE:, WARNING: or ERROR: prefix the server puts on each line.
type messagePrinter struct {
	note    *pterm.PrefixPrinter
	warning *pterm.PrefixPrinter
	err     *pterm.PrefixPrinter
	plain   io.Writer
}

func newMessagePrinter(w io.Writer) *messagePrinter {
	return &messagePrinter{
		note:    pterm.Info.WithWriter(w),
		warning: pterm.Warning.WithWriter(w),
		err:     pterm.Error.WithWriter(w),
		plain:   w,
	}
}

func (p *messagePrinter) print(msg string) {
	switch {
	case strings.HasPrefix(msg, "NOTE:"):
		p.note.Println(strings.TrimSpace(strings.TrimPrefix(msg, "NOTE:")))
	case strings.HasPrefix(msg, "WARNING:"):
		p.warning.Println(strings.TrimSpace(strings.TrimPrefix(msg, "WARNING:")))
	case strings.HasPrefix(msg, "ERROR:"):
		p.err.Println(strings.TrimSpace(strings.TrimPrefix(msg, "ERROR:")))
	default:
		pterm.Fprintln(p.plain, msg)
	}
}
