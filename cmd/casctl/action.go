// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"
)

var (
	actionJSON   string
	actionConcat bool
)

var actionCmd = &cobra.Command{
	Use:   "action <name> [key=value ...]",
	Short: "Run one action and print its results",
	Example: `  casctl action builtins.serverStatus
  casctl action simple.summary table.name=cars 'table.groupBy=[Origin]'
  casctl action simple.topk --json '{"table": "cars", "topk": 2}' -o yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(actionJSON, args[1:])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		conn, err := connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		res, err := conn.Retrieve(ctx, args[0], params)
		if res != nil {
			defer res.Release()
		}
		if err != nil && res == nil {
			return err
		}
		if actionConcat && res.NumSets() > 0 {
			if _, cerr := res.ConcatByGroups(true); cerr != nil {
				return cerr
			}
		}
		if werr := writeResults(cmd.OutOrStdout(), res); werr != nil {
			return werr
		}
		return err
	},
}

func init() {
	actionCmd.Flags().StringVar(&actionJSON, "json", "", "parameters as a JSON object")
	actionCmd.Flags().BoolVar(&actionConcat, "concat", false, "stack by-group tables into one table each")
}
