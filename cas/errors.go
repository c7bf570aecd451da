// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when an action is invoked on a connection whose
	// previous invocation has not been drained.
	ErrBusy = errors.New("cas: connection is busy with another invocation")
	// ErrClosed is returned when a connection is used after its session ended.
	ErrClosed = errors.New("cas: connection is closed")
	// ErrCapability is returned when the transport cannot carry a request,
	// such as binary parameters over REST or session sharing.
	ErrCapability = errors.New("cas: operation not supported by transport")
	// ErrUnsupported is returned for parameter values with no wire form.
	ErrUnsupported = errors.New("cas: unsupported parameter value")
	// ErrNotFound is returned when a result key, table or by-group does not exist.
	ErrNotFound = errors.New("cas: not found")
	// ErrAmbiguous is returned when a lookup could match more than one
	// by-group or group-by set.
	ErrAmbiguous = errors.New("cas: ambiguous result lookup")
	// ErrOutOfRange is returned for a group-by set index that does not exist.
	ErrOutOfRange = errors.New("cas: index out of range")
	// ErrSchemaMismatch is returned when tables with different columns are
	// concatenated.
	ErrSchemaMismatch = errors.New("cas: tables have different columns")
)

// ErrConnection is a sentinel for use with errors.Is to check whether any error
// in a chain is a *ConnectionError.
var ErrConnection = &ConnectionError{}

// ConnectionError reports a failed handshake, reattachment or locale
// negotiation. Reason carries the server's text when there is one.
type ConnectionError struct {
	Host   string
	Port   int
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("cas: connection to %s:%d failed: %s", e.Host, e.Port, msg)
}

// Is supports errors.Is by matching any *ConnectionError target.
func (e *ConnectionError) Is(target error) bool {
	_, ok := target.(*ConnectionError)
	return ok
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MarshalError reports a parameter that cannot be represented on the wire.
// Err is ErrUnsupported or ErrCapability.
type MarshalError struct {
	Path string // dotted parameter path, e.g. "casout.name" or "vars[2]"
	Type string // Go type of the offending value
	Err  error
}

func (e *MarshalError) Error() string {
	return fmt.Sprintf("cas: parameter %q (%s): %v", e.Path, e.Type, e.Err)
}

func (e *MarshalError) Unwrap() error { return e.Err }

// ErrAction is a sentinel for use with errors.Is to check whether any error in
// a chain is an *ActionError.
var ErrAction = &ActionError{}

// ActionError is returned only when Options.ExceptionOnSeverity is set and an
// action finishes with at least that severity. Results holds whatever the
// action produced.
type ActionError struct {
	Action string
	Disposition
	Results *Results
}

func (e *ActionError) Error() string {
	status := e.Status
	if status == "" {
		status = e.Reason
	}
	return fmt.Sprintf("cas: action %s failed (severity %d): %s", e.Action, e.Severity, status)
}

// Is supports errors.Is by matching any *ActionError target.
func (e *ActionError) Is(target error) bool {
	_, ok := target.(*ActionError)
	return ok
}

// ErrProtocol is a sentinel for use with errors.Is to check whether any error
// in a chain is a *ProtocolError.
var ErrProtocol = &ProtocolError{}

// ProtocolError reports a malformed or unexpected message from the peer.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cas: protocol error: %s: %v", e.Message, e.Err)
	}
	return "cas: protocol error: " + e.Message
}

// Is supports errors.Is by matching any *ProtocolError target.
func (e *ProtocolError) Is(target error) bool {
	_, ok := target.(*ProtocolError)
	return ok
}

func (e *ProtocolError) Unwrap() error { return e.Err }
