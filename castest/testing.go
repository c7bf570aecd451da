// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"net"
	"testing"
	"time"

	"github.com/Query-farm/swat-go/cas"
)

// Start runs a new Server on a loopback port for the duration of t.
func Start(t testing.TB) *Server {
	t.Helper()
	s := NewServer()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("castest: listen: %v", err)
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
	go s.serve(l)
	t.Cleanup(func() { s.Close() })
	return s
}

// Addr returns the address of the server's first listener.
func (s *Server) Addr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if a, ok := l.Addr().(*net.TCPAddr); ok {
			return a
		}
	}
	return nil
}

// Options returns connection options that reach the server over p.
func (s *Server) Options(p cas.Protocol) cas.Options {
	o := cas.DefaultOptions()
	addr := s.Addr()
	o.Hostname = addr.IP.String()
	o.Port = addr.Port
	o.Protocol = p
	o.Username = "tester"
	o.Password = "secret"
	o.ConnectTimeout = 5 * time.Second
	return o
}
