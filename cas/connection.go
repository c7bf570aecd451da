// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateEstablished
	StateInvoking
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateInvoking:
		return "invoking"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ResultsHook is called with the assembled results of every invocation of
// the action it was registered for.
type ResultsHook func(conn *Connection, res *Results)

func newRequestID() string { return uuid.NewString() }

// Connection is one channel to a server session. A Connection runs one
// invocation at a time; use Fork for parallel work on the same session.
type Connection struct {
	id        string
	opts      *Options
	transport Transport
	session   string
	// owner is set when this connection created the session, so Close
	// ends it.
	owner   bool
	printer *messagePrinter
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	current *Invocation
	hooks   map[string][]ResultsHook
	// signatures caches builtins.reflect replies by lower-case action name
	signatures map[string]*Signature
}

// Connect performs the handshake and returns an established connection.
// Handshake failures are returned as *ConnectionError and never retried.
func Connect(ctx context.Context, opts Options) (*Connection, error) {
	if opts.Missing == (MissingValues{}) {
		opts.Missing = DefaultMissingValues()
	}
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("cas: invalid options: %w", err)
	}

	c := &Connection{
		id:     uuid.NewString(),
		opts:   &opts,
		owner:  opts.Session == "",
		logger: opts.logger(),
		state:  StateConnecting,
		hooks:  map[string][]ResultsHook{},

		signatures: map[string]*Signature{},
	}
	if opts.PrintMessages {
		c.printer = newMessagePrinter(opts.output())
	}

	hctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	t, session, err := dialTransport(hctx, c.opts, Handshake{
		Hostname: opts.Hostname,
		Port:     opts.Port,
		Username: opts.Username,
		Password: opts.Password,
		Session:  opts.Session,
		Locale:   opts.Locale,
		Name:     opts.Name,
	})
	if err != nil {
		c.state = StateDisconnected
		return nil, err
	}
	c.transport = t
	c.session = session
	c.state = StateEstablished
	c.logger.Debug("cas connected",
		"connection", c.id,
		"session", session,
		"protocol", t.Protocol(),
		"host", opts.Hostname,
		"port", opts.Port)
	return c, nil
}

// ID returns the identity of this channel, distinct for every connection.
func (c *Connection) ID() string { return c.id }

// SessionID returns the server session id, shared by forked connections.
func (c *Connection) SessionID() string { return c.session }

// Capabilities returns what the connection's transport can carry.
func (c *Connection) Capabilities() Capabilities { return c.transport.Capabilities() }

// Protocol returns the protocol the connection settled on.
func (c *Connection) Protocol() Protocol { return c.transport.Protocol() }

// Options returns a copy of the connection's options.
func (c *Connection) Options() Options { return *c.opts }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) invocation() *Invocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AddResultsHook registers fn to run on the results of action. Action names
// match case-insensitively.
func (c *Connection) AddResultsHook(action string, fn ResultsHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strings.ToLower(action)
	c.hooks[key] = append(c.hooks[key], fn)
}

func (c *Connection) resultsHooks(action string) []ResultsHook {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ResultsHook(nil), c.hooks[strings.ToLower(action)]...)
}

// Fork opens n new connections attached to the same session. Every new
// connection has its own identity. The handshakes run concurrently.
func (c *Connection) Fork(ctx context.Context, n int) ([]*Connection, error) {
	if !c.transport.Capabilities().SessionSharing {
		return nil, fmt.Errorf("cas: fork over %s: %w", c.transport.Protocol(), ErrCapability)
	}
	if st := c.State(); st == StateEnded || st == StateDisconnected {
		return nil, fmt.Errorf("cas: fork: %w", ErrClosed)
	}

	conns := make([]*Connection, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			o := *c.opts
			o.Session = c.session
			o.Protocol = c.transport.Protocol()
			o.Locale = ""
			o.Name = ""
			conn, err := Connect(gctx, o)
			if err != nil {
				return err
			}
			conn.hooks = c.copyHooks()
			conn.signatures = c.copySignatures()
			conns[i] = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			if conn != nil {
				conn.Close()
			}
		}
		return nil, err
	}
	return conns, nil
}

func (c *Connection) copyHooks() map[string][]ResultsHook {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]ResultsHook, len(c.hooks))
	for k, v := range c.hooks {
		out[k] = append([]ResultsHook(nil), v...)
	}
	return out
}

// Invoke sends action with params and returns a handle on its response
// stream. Parameters are marshaled before any I/O, so a *MarshalError
// leaves the connection untouched. Invoking while another invocation is
// outstanding fails with ErrBusy. With Options.Signatures the parameters
// are normalized against the action's signature first.
func (c *Connection) Invoke(ctx context.Context, action string, params any) (*Invocation, error) {
	var sig *Signature
	if c.opts.Signatures && !strings.EqualFold(action, ActionReflect) && c.State() == StateEstablished {
		var err error
		if sig, err = c.Signature(ctx, action); err != nil {
			return nil, fmt.Errorf("cas: signature of %s: %w", action, err)
		}
	}

	c.mu.Lock()
	switch c.state {
	case StateInvoking:
		c.mu.Unlock()
		return nil, fmt.Errorf("cas: invoking %s: %w", action, ErrBusy)
	case StateEnded, StateDisconnected, StateConnecting:
		c.mu.Unlock()
		return nil, fmt.Errorf("cas: invoking %s: %w", action, ErrClosed)
	}
	list, err := Marshal(params, c.transport.Capabilities())
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	list = sig.Apply(list)
	inv := &Invocation{
		conn:   c,
		action: action,
		ch:     make(chan invokeItem, 1),
		exited: make(chan struct{}),
	}
	c.state = StateInvoking
	c.current = inv
	c.mu.Unlock()

	if c.opts.TraceActions {
		attrs := []any{"action", action, "connection", c.id}
		for _, it := range list.Flatten() {
			attrs = append(attrs, slog.Any(it.Key, it.Value))
		}
		c.logger.Debug("cas invoke", attrs...)
	}

	info := InvokeInfo{
		Action:       action,
		Protocol:     c.transport.Protocol(),
		Host:         c.opts.Hostname,
		Port:         c.opts.Port,
		SessionID:    c.session,
		ConnectionID: c.id,
		RequestID:    newRequestID(),
		Metadata:     map[string]string{},
	}
	info.Metadata[MetaRequestID] = info.RequestID
	hookCtx, call := startHook(ctx, c.opts.Hook, info, c.opts)
	runCtx, cancel := context.WithCancel(hookCtx)
	inv.hookCtx = hookCtx
	inv.hook = call
	inv.cancel = cancel

	go inv.run(runCtx, list, info.Metadata)
	return inv, nil
}

// Retrieve invokes action and returns its assembled results.
func (c *Connection) Retrieve(ctx context.Context, action string, params any) (*Results, error) {
	inv, err := c.Invoke(ctx, action, params)
	if err != nil {
		return nil, err
	}
	return inv.Results(ctx)
}

// EndSession aborts any outstanding invocation and ends the server session.
// Calling it again is a no-op.
func (c *Connection) EndSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateEnded || c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	inv := c.current
	c.state = StateEnded
	c.mu.Unlock()

	if inv != nil {
		inv.abort()
	}
	err := c.transport.EndSession(ctx, c.session)
	if cerr := c.transport.Close(); err == nil {
		err = cerr
	}
	c.logger.Debug("cas session ended", "connection", c.id, "session", c.session, "err", err)
	if err != nil {
		return fmt.Errorf("cas: ending session %s: %w", c.session, err)
	}
	return nil
}

// Close releases the connection. The session is ended when this
// connection created it; connections that attached to an existing session,
// including forks, only close their channel.
func (c *Connection) Close() error {
	if c.owner {
		return c.EndSession(context.Background())
	}
	c.mu.Lock()
	if c.state == StateEnded || c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	inv := c.current
	c.state = StateEnded
	c.mu.Unlock()
	if inv != nil {
		inv.abort()
	}
	return c.transport.Close()
}

type invokeItem struct {
	resp *Response
	err  error
}

// Invocation is the response stream of one action.
type Invocation struct {
	conn    *Connection
	action  string
	ch      chan invokeItem
	exited  chan struct{}
	cancel  context.CancelFunc
	hookCtx context.Context

	mu   sync.Mutex
	hook *hookCall
	once sync.Once
	done bool
	err  error
}

// Action returns the invoked action name.
func (inv *Invocation) Action() string { return inv.action }

// Connection returns the connection running the invocation.
func (inv *Invocation) Connection() *Connection { return inv.conn }

// run reads frames, groups them into responses and hands those to the
// consumer. It exits after the final response, on error, or when ctx ends.
func (inv *Invocation) run(ctx context.Context, params ParamList, meta map[string]string) {
	defer close(inv.exited)
	defer func() {
		if err := ctx.Err(); err != nil {
			inv.finish(err)
		}
		close(inv.ch)
	}()
	c := inv.conn

	send := func(it invokeItem) bool {
		select {
		case inv.ch <- it:
			return true
		case <-ctx.Done():
			if it.resp != nil {
				it.resp.Release()
			}
			return false
		}
	}

	stream, err := c.transport.Send(ctx, c.session, inv.action, params, meta)
	if err != nil {
		send(invokeItem{err: err})
		return
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	resp := &Response{}
	for {
		f, err := stream.Next()
		if err != nil {
			resp.Release()
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = &ProtocolError{Message: "reply ended without a final response"}
			}
			send(invokeItem{err: err})
			return
		}
		switch f.Kind {
		case FrameLog:
			resp.Messages = append(resp.Messages, f.Message)
			if c.printer != nil {
				c.printer.print(f.Message)
			}
		case FrameResult:
			item := ResultItem{Key: f.Key, Replace: f.Replace}
			if f.Table != nil {
				item.Value = f.Table
			} else {
				item.Value = f.Value.Interface()
			}
			resp.Results = append(resp.Results, item)
		case FrameResponse:
			resp.Disposition = f.Disposition
			resp.Performance = f.Performance
			resp.UpdateFlags = f.UpdateFlags
			resp.Final = f.Final
			resp.Session = f.Session
			resp.SessionName = f.SessionName
			if !send(invokeItem{resp: resp}) || f.Final {
				return
			}
			resp = &Response{}
		}
	}
}

// Next returns the next response chunk, or io.EOF once the final response
// has been returned. The caller must Release each response.
func (inv *Invocation) Next(ctx context.Context) (*Response, error) {
	inv.mu.Lock()
	done, err := inv.done, inv.err
	inv.mu.Unlock()
	if done {
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	select {
	case it, ok := <-inv.ch:
		return inv.receive(it, ok)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (inv *Invocation) receive(it invokeItem, ok bool) (*Response, error) {
	switch {
	case !ok:
		inv.finish(nil)
		inv.mu.Lock()
		err := inv.err
		inv.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	case it.err != nil:
		inv.finish(it.err)
		return nil, it.err
	}
	inv.mu.Lock()
	inv.hook.stats.RecordResponse(it.resp)
	inv.mu.Unlock()
	if it.resp.Final {
		inv.finish(nil)
	}
	return it.resp, nil
}

// finish returns the connection to Established and reports the invocation
// to the hook. Only the first call has any effect.
func (inv *Invocation) finish(err error) {
	inv.once.Do(func() {
		inv.mu.Lock()
		inv.done = true
		inv.err = err
		inv.mu.Unlock()
		inv.cancel()

		c := inv.conn
		c.mu.Lock()
		if c.current == inv {
			c.current = nil
			if c.state == StateInvoking {
				c.state = StateEstablished
			}
		}
		c.mu.Unlock()

		inv.mu.Lock()
		inv.hook.end(inv.hookCtx, err, c.opts)
		inv.mu.Unlock()
	})
}

// abort stops the reader and discards undelivered responses.
func (inv *Invocation) abort() {
	inv.cancel()
	<-inv.exited
	for it := range inv.ch {
		if it.resp != nil {
			it.resp.Release()
		}
	}
	inv.finish(ErrClosed)
}

// Results drains the remaining responses and assembles them. Responses
// already returned by Next are not included. When the final severity
// reaches Options.ExceptionOnSeverity, the results are returned together
// with an *ActionError.
func (inv *Invocation) Results(ctx context.Context) (*Results, error) {
	c := inv.conn
	asm := newAssembler(inv.action, c.opts)
	for {
		resp, err := inv.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			asm.res.Release()
			return nil, err
		}
		asm.add(resp)
		resp.Release()
	}
	res := asm.finish()
	if res.Session == "" {
		res.Session = c.session
	}
	for _, h := range c.resultsHooks(inv.action) {
		h(c, res)
	}
	if t := c.opts.ExceptionOnSeverity; t > 0 && res.Severity >= t {
		return res, &ActionError{Action: inv.action, Disposition: res.Disposition, Results: res}
	}
	return res, nil
}
