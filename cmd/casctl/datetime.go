// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Query-farm/swat-go/casdt"
)

var datetimeKind string

var datetimeCmd = &cobra.Command{
	Use:   "datetime cas|sas <value>",
	Short: "Convert between calendar values and CAS or SAS encodings",
	Long: `datetime encodes a date, time or datetime string as a CAS or SAS number,
or decodes a number back to its calendar value. CAS counts microseconds
and SAS counts seconds; dates are days. Both start at 1960-01-01.`,
	Example: `  casctl datetime cas 2024-03-01T12:30:00
  casctl datetime sas --kind date 23436`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"cas", "sas"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return convert(cmd.OutOrStdout(), args[0], datetimeKind, args[1])
	},
}

func init() {
	datetimeCmd.Flags().StringVar(&datetimeKind, "kind", "datetime", "date, time or datetime")
}

// convert decodes value when it is an integer and encodes it otherwise.
func convert(w io.Writer, system, kind, value string) error {
	if system != "cas" && system != "sas" {
		return fmt.Errorf("encoding must be cas or sas, got %q", system)
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if system == "sas" {
			switch kind {
			case "time":
				n = casdt.SASToCASTime(n)
			case "datetime":
				n = casdt.SASToCASDateTime(n)
			}
		}
		switch kind {
		case "date":
			_, err = fmt.Fprintln(w, casdt.CASToDate(n).Format("2006-01-02"))
		case "time":
			_, err = fmt.Fprintln(w, casdt.CASToTime(n))
		case "datetime":
			_, err = fmt.Fprintln(w, casdt.CASToDateTime(n).Format("2006-01-02T15:04:05.999999"))
		default:
			return fmt.Errorf("kind must be date, time or datetime, got %q", kind)
		}
		return err
	}

	parsers := map[string]map[string]func(string) (int64, error){
		"cas": {"date": casdt.ParseCASDate, "time": casdt.ParseCASTime, "datetime": casdt.ParseCASDateTime},
		"sas": {"date": casdt.ParseSASDate, "time": casdt.ParseSASTime, "datetime": casdt.ParseSASDateTime},
	}
	parse, ok := parsers[system][kind]
	if !ok {
		return fmt.Errorf("kind must be date, time or datetime, got %q", kind)
	}
	n, err := parse(value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, n)
	return err
}
