// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Actions used by the session handshake.
const (
	ActionConnect     = "session.connect"
	ActionEndSession  = "session.endSession"
	ActionSetLocale   = "session.setlocale"
	ActionSessionName = "session.sessionName"
)

// nativeTransport speaks the binary protocol over one TCP connection. Every
// request and frame is a complete Arrow IPC stream.
type nativeTransport struct {
	opts *Options
	host string
	port int

	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	broken bool
}

func dialNative(ctx context.Context, o *Options) (*nativeTransport, error) {
	t := &nativeTransport{opts: o, host: o.Hostname, port: o.Port}
	if err := t.dial(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *nativeTransport) dial(ctx context.Context) error {
	d := net.Dialer{Timeout: t.opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(t.host, strconv.Itoa(t.port)))
	if err != nil {
		return &ConnectionError{Host: t.host, Port: t.port, Err: err}
	}
	t.conn = conn
	t.r = bufio.NewReader(conn)
	t.w = bufio.NewWriter(conn)
	t.broken = false
	return nil
}

func (t *nativeTransport) Protocol() Protocol { return ProtocolNative }

func (t *nativeTransport) Capabilities() Capabilities {
	return Capabilities{Binary: true, SessionSharing: true}
}

// watch interrupts blocked I/O on the connection when ctx ends. The
// returned func stops watching.
func (t *nativeTransport) watch(ctx context.Context) func() bool {
	conn := t.conn
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}

func (t *nativeTransport) Handshake(ctx context.Context, hs Handshake) (string, error) {
	params := ParamList{}
	add := func(name, v string) {
		if v != "" {
			params = append(params, Param{Name: name, Value: String(v)})
		}
	}
	add("locale", hs.Locale)
	add("name", hs.Name)
	add("password", hs.Password)
	add("session", hs.Session)
	add("username", hs.Username)

	stream, err := t.Send(ctx, hs.Session, ActionConnect, params, nil)
	if err != nil {
		return "", t.connErr(err)
	}
	defer stream.Close()

	stop := t.watch(ctx)
	defer stop()
	var messages []string
	for {
		f, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return "", t.connErr(&ProtocolError{Message: "handshake ended without a response"})
		}
		if err != nil {
			return "", t.connErr(err)
		}
		switch f.Kind {
		case FrameLog:
			messages = append(messages, f.Message)
		case FrameResult:
			if f.Table != nil {
				f.Table.Release()
			}
		case FrameResponse:
			if f.Severity >= SeverityError {
				return "", &ConnectionError{Host: t.host, Port: t.port, Reason: reasonText(f.Disposition, messages)}
			}
			if f.Session == "" {
				return "", t.connErr(&ProtocolError{Message: "handshake response has no session id"})
			}
			if f.Final {
				return f.Session, nil
			}
		}
	}
}

// reasonText picks the most descriptive text of a failed disposition.
func reasonText(d Disposition, messages []string) string {
	switch {
	case d.Status != "":
		return d.Status
	case d.Reason != "":
		return d.Reason
	case len(messages) > 0:
		return messages[len(messages)-1]
	}
	return "server rejected the connection"
}

func (t *nativeTransport) connErr(err error) error {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectionError{Host: t.host, Port: t.port, Err: err}
}

func (t *nativeTransport) Send(ctx context.Context, sessionID, action string, params ParamList, meta map[string]string) (FrameStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.broken {
		return nil, ErrClosed
	}
	req := &Request{Action: action, Session: sessionID, RequestID: meta[MetaRequestID], Params: params}
	if req.RequestID == "" {
		req.RequestID = newRequestID()
	}
	for k, v := range meta {
		if k == MetaRequestID {
			continue
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]string, len(meta))
		}
		req.Metadata[k] = v
	}

	stop := t.watch(ctx)
	defer stop()
	if err := WriteRequest(t.w, req); err != nil {
		t.broken = true
		return nil, fmt.Errorf("sending %s: %w", action, err)
	}
	if err := t.w.Flush(); err != nil {
		t.broken = true
		return nil, fmt.Errorf("sending %s: %w", action, err)
	}
	return &nativeStream{t: t}, nil
}

// EndSession ends the session. A connection broken by an aborted
// invocation is replaced first, since the server still holds the session.
func (t *nativeTransport) EndSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	if t.broken || t.conn == nil {
		if t.conn != nil {
			t.conn.Close()
		}
		if err := t.dial(ctx); err != nil {
			t.mu.Unlock()
			return err
		}
	}
	t.mu.Unlock()

	stream, err := t.Send(ctx, sessionID, ActionEndSession, nil, nil)
	if err != nil {
		return err
	}
	defer stream.Close()
	stop := t.watch(ctx)
	defer stop()
	for {
		f, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if f.Kind == FrameResult && f.Table != nil {
			f.Table.Release()
		}
	}
}

func (t *nativeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// nativeStream reads the frames of one reply. Close may be called from
// another goroutine to abort a blocked Next.
type nativeStream struct {
	t    *nativeTransport
	done atomic.Bool
}

func (s *nativeStream) Next() (*Frame, error) {
	if s.done.Load() {
		return nil, io.EOF
	}
	f, err := ReadFrame(s.t.r)
	if err != nil {
		s.done.Store(true)
		s.t.mu.Lock()
		s.t.broken = true
		s.t.mu.Unlock()
		if errors.Is(err, io.EOF) {
			return nil, &ProtocolError{Message: "connection closed mid-reply", Err: err}
		}
		return nil, err
	}
	if f.Kind == FrameResponse && f.Final {
		s.done.Store(true)
	}
	return f, nil
}

// Close abandons an unfinished reply. The remaining frames cannot be
// skipped reliably, so the connection is closed and marked broken.
func (s *nativeStream) Close() error {
	if s.done.Swap(true) {
		return nil
	}
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.broken = true
	if s.t.conn != nil {
		return s.t.conn.Close()
	}
	return nil
}
