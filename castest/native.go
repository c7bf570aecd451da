// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/Query-farm/swat-go/cas"
)

// ServeNative accepts native-protocol connections only.
func (s *Server) ServeNative(l net.Listener) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(conn, bufio.NewReader(conn))
	}
}

func (s *Server) serveConn(conn net.Conn, r *bufio.Reader) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		err := s.serveOne(ctx, r, w)
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			s.log().Debug("castest connection closed", "remote", conn.RemoteAddr(), "err", err)
		}
		return
	}
}

// serveOne handles one request and its complete reply.
func (s *Server) serveOne(ctx context.Context, r io.Reader, w *bufio.Writer) error {
	req, err := cas.ReadRequest(r)
	if err != nil {
		return err
	}
	em := &nativeEmitter{w: w}

	var final *cas.Frame
	switch {
	case strings.EqualFold(req.Action, cas.ActionConnect):
		final, err = s.connect(req.Params, em)
	default:
		sess, ok := s.Session(req.Session)
		if !ok {
			final, err = failure(em, "", errSessionNotFound, "Session '"+req.Session+"' was not found.")
			break
		}
		final, err = s.dispatch(ctx, sess, req.Action, req.Params, em)
	}
	if err != nil {
		return err
	}
	return em.chunk(final)
}

const (
	errSessionNotFound = 2730100
	errAuthentication  = 2730101
)

// failure logs status as an ERROR message and returns a failed final frame.
func failure(em emitter, session string, code int64, status string) (*cas.Frame, error) {
	if err := em.log("ERROR: " + status); err != nil {
		return nil, err
	}
	return &cas.Frame{
		Kind:        cas.FrameResponse,
		Disposition: cas.Disposition{Severity: cas.SeverityError, Reason: "abort", Status: status, StatusCode: code},
		Final:       true,
		Session:     session,
	}, nil
}

// connect performs a native handshake: it authenticates, creates or
// reattaches the session and applies locale and name.
func (s *Server) connect(params cas.ParamList, em emitter) (*cas.Frame, error) {
	str := func(name string) string {
		v, _ := params.Get(name)
		return v.Str
	}
	if !s.checkCredentials(str("username"), str("password")) {
		return failure(em, "", errAuthentication, "Authentication failed.")
	}

	var sess *Session
	if id := str("session"); id != "" {
		var ok bool
		if sess, ok = s.Session(id); !ok {
			return failure(em, "", errSessionNotFound, "Session '"+id+"' was not found.")
		}
	} else {
		sess = s.newSession()
	}

	if l := str("locale"); l != "" {
		if !validLocale(l) {
			if str("session") == "" {
				s.endSession(sess.ID)
			}
			return failure(em, "", errBadLocale, "Locale '"+l+"' is not valid.")
		}
		sess.mu.Lock()
		sess.locale = l
		sess.mu.Unlock()
	}
	if n := str("name"); n != "" {
		sess.mu.Lock()
		sess.name = n
		sess.mu.Unlock()
	}
	return &cas.Frame{
		Kind:        cas.FrameResponse,
		Final:       true,
		Session:     sess.ID,
		SessionName: sess.Name(),
	}, nil
}

type nativeEmitter struct {
	w *bufio.Writer
}

func (e *nativeEmitter) write(f *cas.Frame) error {
	if err := cas.WriteFrame(e.w, f); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *nativeEmitter) log(msg string) error {
	return e.write(&cas.Frame{Kind: cas.FrameLog, Message: msg})
}

func (e *nativeEmitter) result(key string, t *cas.Table, v cas.Value, replace bool) error {
	if t != nil {
		defer t.Release()
	}
	return e.write(&cas.Frame{Kind: cas.FrameResult, Key: key, Table: t, Value: v, Replace: replace})
}

func (e *nativeEmitter) chunk(f *cas.Frame) error { return e.write(f) }
