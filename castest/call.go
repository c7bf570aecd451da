// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"fmt"

	"github.com/Query-farm/swat-go/cas"
)

// emitter delivers the output of an action to one transport.
type emitter interface {
	log(msg string) error
	result(key string, t *cas.Table, v cas.Value, replace bool) error
	// chunk ends a non-final response.
	chunk(f *cas.Frame) error
}

// Call is the context of one action invocation.
type Call struct {
	Action  string
	Params  cas.ParamList
	Session *Session
	Server  *Server

	em    emitter
	disp  cas.Disposition
	ioErr error
}

// Param returns the named parameter.
func (c *Call) Param(name string) (cas.Value, bool) { return c.Params.Get(name) }

func (c *Call) emit(err error) error {
	if err != nil && c.ioErr == nil {
		c.ioErr = err
	}
	return err
}

// Notef sends a NOTE message.
func (c *Call) Notef(format string, args ...any) error {
	return c.emit(c.em.log("NOTE: " + fmt.Sprintf(format, args...)))
}

// Warningf sends a WARNING message and raises the severity to warning.
func (c *Call) Warningf(format string, args ...any) error {
	if c.disp.Severity < cas.SeverityWarning {
		c.disp.Severity = cas.SeverityWarning
	}
	return c.emit(c.em.log("WARNING: " + fmt.Sprintf(format, args...)))
}

// Errorf sends an ERROR message. The action still succeeds unless Fail is
// called.
func (c *Call) Errorf(format string, args ...any) error {
	return c.emit(c.em.log("ERROR: " + fmt.Sprintf(format, args...)))
}

// Fail marks the action failed with the given status.
func (c *Call) Fail(code int64, status string) {
	c.disp.Severity = cas.SeverityError
	c.disp.StatusCode = code
	c.disp.Status = status
	c.disp.Reason = "abort"
}

// Value sends a scalar or nested result.
func (c *Call) Value(key string, v cas.Value) error {
	return c.emit(c.em.result(key, nil, v, false))
}

// Table sends a table result.
func (c *Call) Table(key string, t *cas.Table) error {
	return c.emit(c.em.result(key, t, cas.Value{}, false))
}

// Replace sends a result that overwrites an earlier one with the same key.
func (c *Call) Replace(key string, v cas.Value) error {
	return c.emit(c.em.result(key, nil, v, true))
}

// Flush ends the current response chunk. The client sees everything sent
// so far as one response.
func (c *Call) Flush(flags ...string) error {
	return c.emit(c.em.chunk(&cas.Frame{
		Kind:        cas.FrameResponse,
		Disposition: c.disp,
		UpdateFlags: flags,
		Session:     c.Session.ID,
		SessionName: c.Session.Name(),
	}))
}
