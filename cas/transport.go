// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"errors"
	"fmt"
)

// Capabilities describes what a transport can carry.
type Capabilities struct {
	// Binary reports whether blob parameters can be sent.
	Binary bool
	// SessionSharing reports whether more than one connection can attach to
	// the same session, which Fork requires.
	SessionSharing bool
}

// Handshake carries the session parameters of a connect or reattach.
type Handshake struct {
	Hostname string
	Port     int
	Username string
	Password string
	// Session is the id to reattach to; empty creates a new session.
	Session string
	Locale  string
	Name    string
}

// FrameStream yields the frames of one action's reply. Next returns io.EOF
// after the final response frame.
type FrameStream interface {
	Next() (*Frame, error)
	Close() error
}

// Transport is one channel to the server. A Transport carries at most one
// outstanding request.
type Transport interface {
	Handshake(ctx context.Context, hs Handshake) (sessionID string, err error)
	Send(ctx context.Context, sessionID, action string, params ParamList, meta map[string]string) (FrameStream, error)
	EndSession(ctx context.Context, sessionID string) error
	Capabilities() Capabilities
	Protocol() Protocol
	Close() error
}

// dialTransport opens a transport for o.Protocol. Auto tries the native
// protocol first and falls back to HTTP when the peer does not speak it.
func dialTransport(ctx context.Context, o *Options, hs Handshake) (Transport, string, error) {
	switch o.Protocol {
	case ProtocolNative:
		return connectWith(ctx, hs, func() (Transport, error) { return dialNative(ctx, o) })
	case ProtocolHTTP, ProtocolHTTPS:
		return connectWith(ctx, hs, func() (Transport, error) { return newRESTTransport(o, o.Protocol), nil })
	case ProtocolAuto:
		t, id, err := connectWith(ctx, hs, func() (Transport, error) { return dialNative(ctx, o) })
		if err == nil || !errors.Is(err, ErrProtocol) {
			return t, id, err
		}
		o.logger().Debug("native handshake failed, trying http", "host", o.Hostname, "port", o.Port, "err", err)
		return connectWith(ctx, hs, func() (Transport, error) { return newRESTTransport(o, ProtocolHTTP), nil })
	}
	return nil, "", fmt.Errorf("cas: unknown protocol %q", o.Protocol)
}

func connectWith(ctx context.Context, hs Handshake, open func() (Transport, error)) (Transport, string, error) {
	t, err := open()
	if err != nil {
		return nil, "", err
	}
	id, err := t.Handshake(ctx, hs)
	if err != nil {
		t.Close()
		return nil, "", err
	}
	return t, id, nil
}
