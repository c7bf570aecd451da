// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command cas-test-server runs the in-process CAS server on a loopback port
// and prints "PORT:<n>" once it is accepting connections.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Query-farm/swat-go/cas"
	"github.com/Query-farm/swat-go/castest"
)

func main() {
	addr := pflag.String("listen", "127.0.0.1:0", "address to listen on")
	httpOnly := pflag.Bool("http-only", false, "refuse the native protocol")
	username := pflag.String("username", "", "require this username")
	password := pflag.String("password", "", "require this password")
	logLevel := pflag.String("log-level", "warn", "debug, info, warn or error")
	pflag.Parse()

	level, err := cas.ParseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	server := castest.NewServer()
	server.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	server.SetNative(!*httpOnly)
	if *username != "" {
		server.SetCredentials(*username, *password)
	}

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("PORT:%d\n", listener.Addr().(*net.TCPAddr).Port)
	os.Stdout.Sync()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		server.Close()
	}()

	if err := server.Serve(listener); err != nil {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(1)
	}
}
