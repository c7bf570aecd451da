// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

const (
	jsonContentType = "application/json"
	zstdEncoding    = "zstd"
)

// restTransport speaks the REST dialect. Each action is one HTTP request.
type restTransport struct {
	opts     *Options
	protocol Protocol
	base     string
	client   *http.Client
	username string
	password string

	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newRESTTransport(o *Options, p Protocol) *restTransport {
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	u := url.URL{
		Scheme: string(p),
		Host:   net.JoinHostPort(o.Hostname, strconv.Itoa(o.Port)),
		Path:   "/cas",
	}
	t := &restTransport{
		opts:     o,
		protocol: p,
		base:     u.String(),
		client:   client,
		username: o.Username,
		password: o.Password,
	}
	if o.Compression {
		t.enc, _ = zstd.NewWriter(nil)
		t.dec, _ = zstd.NewReader(nil)
	}
	return t
}

func (t *restTransport) Protocol() Protocol { return t.protocol }

func (t *restTransport) Capabilities() Capabilities { return Capabilities{} }

func (t *restTransport) Close() error {
	if t.enc != nil {
		t.enc.Close()
	}
	if t.dec != nil {
		t.dec.Close()
	}
	return nil
}

func (t *restTransport) connErr(reason string, err error) error {
	return &ConnectionError{Host: t.opts.Hostname, Port: t.opts.Port, Reason: reason, Err: err}
}

// do sends one request and returns the decoded response body.
func (t *restTransport) do(ctx context.Context, method, path string, body []byte, meta map[string]string) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		if t.enc != nil {
			body = t.enc.EncodeAll(body, nil)
		}
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", jsonContentType)
		if t.enc != nil {
			req.Header.Set("Content-Encoding", zstdEncoding)
		}
	}
	if t.dec != nil {
		req.Header.Set("Accept-Encoding", zstdEncoding)
	}
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	for k, v := range meta {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.Header.Get("Content-Encoding") == zstdEncoding {
		dec := t.dec
		if dec == nil {
			dec, err = zstd.NewReader(nil)
			if err != nil {
				return resp.StatusCode, nil, err
			}
			defer dec.Close()
		}
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return resp.StatusCode, nil, &ProtocolError{Message: "decompressing response", Err: err}
		}
	}
	return resp.StatusCode, data, nil
}

type sessionReply struct {
	Session string `json:"session"`
	Error   string `json:"error,omitempty"`
}

func (t *restTransport) Handshake(ctx context.Context, hs Handshake) (string, error) {
	method, path := http.MethodPut, "/sessions"
	if hs.Session != "" {
		method, path = http.MethodPost, "/sessions/"+url.PathEscape(hs.Session)
	}
	status, data, err := t.do(ctx, method, path, nil, nil)
	if err != nil {
		return "", t.connErr("", err)
	}
	var reply sessionReply
	decodeErr := json.Unmarshal(data, &reply)
	if status != http.StatusOK {
		reason := reply.Error
		if reason == "" {
			reason = http.StatusText(status)
		}
		return "", t.connErr(reason, nil)
	}
	if decodeErr != nil {
		return "", t.connErr("", &ProtocolError{Message: "decoding session reply", Err: decodeErr})
	}
	id := reply.Session

	var setupErr error
	if hs.Locale != "" {
		setupErr = t.sessionAction(ctx, id, ActionSetLocale, ParamList{{Name: "locale", Value: String(hs.Locale)}})
	}
	if setupErr == nil && hs.Name != "" {
		setupErr = t.sessionAction(ctx, id, ActionSessionName, ParamList{{Name: "name", Value: String(hs.Name)}})
	}
	if setupErr != nil {
		if hs.Session == "" {
			// the session is unusable to the caller
			_ = t.EndSession(ctx, id)
		}
		return "", setupErr
	}
	return id, nil
}

// sessionAction runs a handshake action; any error disposition is a
// ConnectionError.
func (t *restTransport) sessionAction(ctx context.Context, id, action string, params ParamList) error {
	frames, err := t.action(ctx, id, action, params, nil)
	if err != nil {
		return t.connErr("", err)
	}
	var messages []string
	for _, f := range frames {
		switch f.Kind {
		case FrameLog:
			messages = append(messages, f.Message)
		case FrameResult:
			if f.Table != nil {
				f.Table.Release()
			}
		case FrameResponse:
			if f.Severity >= SeverityError {
				return t.connErr(reasonText(f.Disposition, messages), nil)
			}
		}
	}
	return nil
}

func (t *restTransport) action(ctx context.Context, sessionID, action string, params ParamList, meta map[string]string) ([]*Frame, error) {
	body, err := MarshalParamsJSON(params)
	if err != nil {
		return nil, err
	}
	path := "/sessions/" + url.PathEscape(sessionID) + "/actions/" + url.PathEscape(action)
	status, data, err := t.do(ctx, http.MethodPost, path, body, meta)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrClosed)
	}
	if status != http.StatusOK {
		return nil, &ProtocolError{Message: fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(string(data)))}
	}
	return decodeRESTReply(data)
}

func (t *restTransport) Send(ctx context.Context, sessionID, action string, params ParamList, meta map[string]string) (FrameStream, error) {
	if err := checkCapabilities("", TableOf(params), t.Capabilities()); err != nil {
		return nil, err
	}
	frames, err := t.action(ctx, sessionID, action, params, meta)
	if err != nil {
		return nil, err
	}
	return &restStream{frames: frames}, nil
}

func (t *restTransport) EndSession(ctx context.Context, sessionID string) error {
	status, data, err := t.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return &ProtocolError{Message: fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(string(data)))}
	}
	return nil
}

// restStream replays the frames of an already-received reply.
type restStream struct {
	mu     sync.Mutex
	frames []*Frame
	pos    int
}

func (s *restStream) Next() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *restStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames[s.pos:] {
		if f.Table != nil {
			f.Table.Release()
		}
	}
	s.pos = len(s.frames)
	return nil
}
