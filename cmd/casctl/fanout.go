// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Query-farm/swat-go/cas"
)

var (
	fanoutActions []string
	fanoutJSON    string
)

var fanoutCmd = &cobra.Command{
	Use:   "fanout --actions a,b,c",
	Short: "Run actions in parallel on forked connections of one session",
	Long: `fanout forks one connection per action, invokes every action at once and
reports each response as it arrives. Every action receives the same
parameters. Forking needs the native protocol.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(fanoutActions) == 0 {
			return errors.New("--actions is required")
		}
		params, err := parseParams(fanoutJSON, nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		conn, err := connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		forks, err := conn.Fork(ctx, len(fanoutActions))
		if err != nil {
			return err
		}
		defer func() {
			for _, f := range forks {
				f.Close()
			}
		}()

		names := make(map[*cas.Connection]string, len(forks))
		for i, f := range forks {
			if _, err := f.Invoke(ctx, fanoutActions[i], params); err != nil {
				return fmt.Errorf("invoking %s: %w", fanoutActions[i], err)
			}
			names[f] = fanoutActions[i]
		}

		w := cmd.OutOrStdout()
		var failed []string
		for {
			resp, c, err := cas.GetNext(ctx, forks...)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			reportResponse(w, names[c], resp)
			if resp.Final && resp.Failed() {
				failed = append(failed, names[c])
			}
			resp.Release()
		}
		if len(failed) > 0 {
			return fmt.Errorf("actions failed: %v", failed)
		}
		return nil
	},
}

func reportResponse(w io.Writer, action string, resp *cas.Response) {
	var tables, rows int
	for _, item := range resp.Results {
		if t, ok := item.Value.(*cas.Table); ok {
			tables++
			rows += t.NumRows()
		}
	}
	line := fmt.Sprintf("%s: %d results, %d tables, %d rows", action, len(resp.Results), tables, rows)
	if resp.Performance != nil {
		line += fmt.Sprintf(" in %.3fs", resp.Performance.ElapsedTime)
	}
	switch {
	case !resp.Final:
		pterm.Fprintln(w, pterm.Gray(line+" (partial)"))
	case resp.Failed():
		pterm.Error.WithWriter(w).Println(line + ": " + resp.Status)
	default:
		pterm.Success.WithWriter(w).Println(line)
	}
}

func init() {
	fanoutCmd.Flags().StringSliceVar(&fanoutActions, "actions", nil, "comma-separated action names")
	fanoutCmd.Flags().StringVar(&fanoutJSON, "json", "", "parameters for every action as a JSON object")
}
