// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/swat-go/cas"
)

func TestHTTPOnlyRejectsNative(t *testing.T) {
	srv := Start(t)
	srv.SetNative(false)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x10, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "HTTP/1.1 400"), line)
}

func TestRESTSessionLifecycle(t *testing.T) {
	srv := Start(t)
	srv.SetCredentials("tester", "secret")
	base := "http://" + srv.Addr().String() + "/cas/sessions"

	do := func(method, url, user string) *http.Response {
		req, err := http.NewRequest(method, url, nil)
		require.NoError(t, err)
		req.SetBasicAuth(user, "secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodPut, base, "mallory").StatusCode)
	assert.Zero(t, srv.NumSessions())

	assert.Equal(t, http.StatusOK, do(http.MethodPut, base, "tester").StatusCode)
	require.Equal(t, 1, srv.NumSessions())

	var id string
	srv.mu.Lock()
	for k := range srv.sessions {
		id = k
	}
	srv.mu.Unlock()

	assert.Equal(t, http.StatusOK, do(http.MethodPost, base+"/"+id, "tester").StatusCode)
	assert.Equal(t, http.StatusOK, do(http.MethodDelete, base+"/"+id, "tester").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, base+"/"+id, "tester").StatusCode)
	assert.Zero(t, srv.NumSessions())
}

func TestDispatchUnknownAction(t *testing.T) {
	srv := NewServer()
	sess := srv.newSession()
	em := &restEmitter{}
	final, err := srv.dispatch(context.Background(), sess, "nosuch.thing", nil, em)
	require.NoError(t, err)
	assert.Equal(t, cas.SeverityError, final.Severity)
	assert.EqualValues(t, errActionNotFound, final.StatusCode)
	assert.Equal(t, []string{"ERROR: Action 'nosuch.thing' was not found."}, em.messages)
	assert.True(t, final.Final)
	assert.Equal(t, sess.ID, final.Session)
}

func TestRegisterNeedsActionSet(t *testing.T) {
	srv := NewServer()
	assert.Panics(t, func() { srv.Register("orphan", "", echo) })

	srv.Register("extra.ping", "Extras", func(_ context.Context, call *Call) error {
		return call.Value("pong", cas.Bool(true))
	})
	label, ok := srv.actionSetLabel("EXTRA")
	require.True(t, ok)
	assert.Equal(t, "Extras", label)

	sess := srv.newSession()
	em := &restEmitter{}
	final, err := srv.dispatch(context.Background(), sess, "extra.ping", nil, em)
	require.NoError(t, err)
	assert.Equal(t, cas.SeverityError, final.Severity)

	sess.load("extra")
	em = &restEmitter{}
	final, err = srv.dispatch(context.Background(), sess, "extra.ping", nil, em)
	require.NoError(t, err)
	assert.Equal(t, cas.SeverityNormal, final.Severity)
	require.Len(t, em.results, 1)
	assert.Equal(t, "pong", em.results[0].Key)
}
