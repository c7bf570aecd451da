// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Query-farm/swat-go/cas"
)

var (
	configPath string
	host       string
	port       int
	protocol   string
	username   string
	logLevel   string
	output     string
	withOtel   bool
	signatures bool

	// opts is filled in before any subcommand runs.
	opts         cas.Options
	otelShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:           "casctl",
	Short:         "Run actions on a CAS server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if output != "table" && output != "yaml" {
			return fmt.Errorf("--output must be table or yaml, got %q", output)
		}
		if cmd.Name() == "datetime" {
			return nil
		}
		return loadOptions(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if otelShutdown == nil {
			return nil
		}
		return otelShutdown(context.Background())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "options file (default ~/.swat/config.yaml)")
	pf.StringVar(&host, "host", "", "server host name")
	pf.IntVar(&port, "port", 0, "server port")
	pf.StringVar(&protocol, "protocol", "", "auto, native, http or https")
	pf.StringVar(&username, "user", "", "user name")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVarP(&output, "output", "o", "table", "table or yaml")
	pf.BoolVar(&withOtel, "otel", false, "export traces and metrics to stderr")
	pf.BoolVar(&signatures, "signatures", false, "normalize parameters against each action's signature")

	rootCmd.AddCommand(actionCmd, fanoutCmd, datetimeCmd)
}

// loadOptions reads the options file and environment, then applies flags
// that were set explicitly.
func loadOptions(cmd *cobra.Command) error {
	o, err := cas.LoadOptions(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		o.Hostname = host
	}
	if flags.Changed("protocol") {
		o.Protocol = cas.Protocol(protocol)
		if !flags.Changed("port") {
			// the port follows the protocol unless given
			o.Port = 0
			o.SetDefaults()
		}
	}
	if flags.Changed("port") {
		o.Port = port
	}
	if flags.Changed("user") {
		o.Username = username
	}
	if flags.Changed("signatures") {
		o.Signatures = signatures
	}
	if flags.Changed("log-level") {
		o.LogLevel = logLevel
	}
	if err := o.Validate(); err != nil {
		return err
	}

	level, _ := cas.ParseLogLevel(o.LogLevel)
	o.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.Logger)

	// YAML output carries the messages itself
	o.PrintMessages = output == "table"
	o.Output = cmd.OutOrStdout()

	if withOtel {
		shutdown, err := instrument(&o, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		otelShutdown = shutdown
	}
	opts = o
	return nil
}

// connect opens a connection with the loaded options.
func connect(ctx context.Context) (*cas.Connection, error) {
	return cas.Connect(ctx, opts)
}
