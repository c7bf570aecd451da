// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package castest implements an in-process CAS server for tests and local
// development. It speaks both the native protocol and the REST dialect,
// multiplexed on one listener the way the real server is.
package castest

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Query-farm/swat-go/cas"
)

// ActionFunc implements one action. Results and messages are sent through
// call; a returned error fails the action with the error text as status.
type ActionFunc func(ctx context.Context, call *Call) error

// Session is the server-side state shared by every connection attached to
// the same session id.
type Session struct {
	ID string

	mu         sync.Mutex
	name       string
	locale     string
	actionSets map[string]bool
}

// Name returns the session name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Locale returns the session locale.
func (s *Session) Locale() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locale
}

// Loaded reports whether the action set is loaded in the session.
func (s *Session) Loaded(actionSet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actionSets[strings.ToLower(actionSet)]
}

func (s *Session) load(actionSet string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionSets[strings.ToLower(actionSet)] = true
}

// actionInfo describes one registered action.
type actionInfo struct {
	Name      string
	ActionSet string
	Fn        ActionFunc
	Params    []cas.ParamSpec
}

// Server is a fake CAS server.
type Server struct {
	mu       sync.Mutex
	actions  map[string]*actionInfo
	sets     map[string]string // lower-case action set name to label
	sessions map[string]*Session
	username string
	password string
	native   bool
	logger   *slog.Logger

	listeners []net.Listener
	httpSrv   *http.Server
	handler   *HttpServer
}

// defaultActionSets are loaded in every new session.
var defaultActionSets = []string{"builtins", "session", "simple"}

// NewServer creates a server with the built-in actions registered.
func NewServer() *Server {
	s := &Server{
		actions:  make(map[string]*actionInfo),
		sets:     make(map[string]string),
		sessions: make(map[string]*Session),
		native:   true,
		logger:   slog.Default(),
	}
	registerBuiltins(s)
	s.handler = NewHttpServer(s)
	return s
}

// SetCredentials makes the server reject handshakes that do not present
// username and password. By default any credentials are accepted.
func (s *Server) SetCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// SetNative enables or disables the native protocol. A server without it
// answers native handshakes the way an HTTP-only server would.
func (s *Server) SetNative(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.native = enabled
}

// SetLogger sets the server's logger.
func (s *Server) SetLogger(l *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

func (s *Server) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// Register adds an action. name is "actionSet.action"; the action is only
// callable once its action set is loaded, unless the set is loaded by
// default.
func (s *Server) Register(name, label string, fn ActionFunc) {
	set, _, ok := strings.Cut(name, ".")
	if !ok {
		panic(fmt.Sprintf("castest: action name %q has no action set", name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[strings.ToLower(name)] = &actionInfo{Name: name, ActionSet: set, Fn: fn}
	if _, ok := s.sets[strings.ToLower(set)]; !ok || label != "" {
		s.sets[strings.ToLower(set)] = label
	}
}

// Describe sets the signature builtins.reflect reports for a registered
// action.
func (s *Server) Describe(name string, params ...cas.ParamSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[strings.ToLower(name)]
	if !ok {
		panic(fmt.Sprintf("castest: describing unregistered action %q", name))
	}
	a.Params = params
}

// actionsOf returns the actions of one action set in name order.
func (s *Server) actionsOf(set string) []actionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []actionInfo
	for _, a := range s.actions {
		if strings.EqualFold(a.ActionSet, set) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) lookup(name string) (*actionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[strings.ToLower(name)]
	return a, ok
}

func (s *Server) numActions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// actionSetNames returns the registered action sets in order.
func (s *Server) actionSetNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets))
	for name := range s.sets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Server) actionSetLabel(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label, ok := s.sets[strings.ToLower(name)]
	return label, ok
}

// Session returns the session with the given id.
func (s *Server) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// NumSessions returns the number of live sessions.
func (s *Server) NumSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) checkCredentials(username, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.username == "" {
		return true
	}
	return username == s.username && password == s.password
}

func (s *Server) newSession() *Session {
	sess := &Session{ID: uuid.NewString(), actionSets: map[string]bool{}}
	for _, set := range defaultActionSets {
		sess.actionSets[set] = true
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.log().Debug("castest session created", "session", sess.ID)
	return sess
}

func (s *Server) endSession(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		s.log().Debug("castest session ended", "session", id)
	}
	return ok
}

var localePattern = regexp.MustCompile(`^[a-z]{2}(_[A-Z]{2})?$`)

// validLocale accepts POSIX-style locales such as "en" or "fr_FR".
func validLocale(l string) bool { return localePattern.MatchString(l) }

// dispatch runs one action and returns its final response frame. The
// returned error is a transport failure of em; action failures are
// reported in the frame.
func (s *Server) dispatch(ctx context.Context, sess *Session, action string, params cas.ParamList, em emitter) (*cas.Frame, error) {
	start := time.Now()
	call := &Call{Action: action, Params: params, Session: sess, Server: s, em: em}

	info, ok := s.lookup(action)
	switch {
	case !ok:
		call.Errorf("Action '%s' was not found.", action)
		call.Fail(errActionNotFound, "The specified action was not found.")
	case !sess.Loaded(info.ActionSet):
		call.Errorf("Action set '%s' is not loaded.", info.ActionSet)
		call.Fail(errActionNotFound, "The specified action was not found.")
	default:
		if err := info.Fn(ctx, call); err != nil && call.ioErr == nil {
			call.Errorf("%v", err)
			if call.disp.Severity < cas.SeverityError {
				call.Fail(errActionFailed, "The action stopped due to errors.")
			}
		}
	}
	if call.ioErr != nil {
		return nil, call.ioErr
	}

	elapsed := time.Since(start).Seconds()
	s.log().Debug("castest action", "action", action, "session", sess.ID, "severity", call.disp.Severity, "elapsed", elapsed)
	return &cas.Frame{
		Kind:        cas.FrameResponse,
		Disposition: call.disp,
		Performance: &cas.Performance{ElapsedTime: elapsed, SystemNodes: 1, SystemCores: 4, Memory: 1 << 20},
		Final:       true,
		Session:     sess.ID,
		SessionName: sess.Name(),
	}, nil
}

// Status codes reported in failed dispositions.
const (
	errActionNotFound = 2810402
	errActionFailed   = 2720101
	errBadParameter   = 2710053
	errBadLocale      = 2720250
)

// Serve accepts connections on l until it is closed. Each connection is
// sniffed: native requests start with an Arrow IPC continuation marker,
// anything else is handed to the HTTP handler.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
	return s.serve(l)
}

func (s *Server) serve(l net.Listener) error {
	httpL := newConnListener(l.Addr())
	srv := &http.Server{Handler: s.handler}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	go srv.Serve(httpL)
	defer httpL.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.route(conn, httpL)
	}
}

func (s *Server) route(conn net.Conn, httpL *connListener) {
	br := bufio.NewReader(conn)
	head, err := br.Peek(4)
	if err != nil {
		conn.Close()
		return
	}
	if binary.LittleEndian.Uint32(head) != 0xFFFFFFFF {
		httpL.push(&peekedConn{Conn: conn, r: br})
		return
	}
	s.mu.Lock()
	native := s.native
	s.mu.Unlock()
	if !native {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"))
		// drain the request so the close does not reset the reply
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		io.Copy(io.Discard, br)
		conn.Close()
		return
	}
	s.serveConn(conn, br)
}

// Close stops every listener and the HTTP server.
func (s *Server) Close() error {
	s.mu.Lock()
	ls := s.listeners
	srv := s.httpSrv
	s.listeners = nil
	s.mu.Unlock()
	var errs []error
	for _, l := range ls {
		errs = append(errs, l.Close())
	}
	if srv != nil {
		errs = append(errs, srv.Close())
	}
	return errors.Join(errs...)
}

// peekedConn replays bytes consumed while sniffing the protocol.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *peekedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// connListener feeds routed connections to an http.Server.
type connListener struct {
	addr   net.Addr
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func newConnListener(addr net.Addr) *connListener {
	return &connListener{addr: addr, conns: make(chan net.Conn), closed: make(chan struct{})}
}

func (l *connListener) push(c net.Conn) {
	select {
	case l.conns <- c:
	case <-l.closed:
		c.Close()
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *connListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *connListener) Addr() net.Addr { return l.addr }
