// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, "localhost", o.Hostname)
	assert.Equal(t, ProtocolAuto, o.Protocol)
	assert.Equal(t, DefaultNativePort, o.Port)
	assert.Equal(t, "_f", o.ByGroupFormattedSuffix)
	assert.Equal(t, "_by", o.ByGroupCollisionSuffix)
	assert.Equal(t, 30*time.Second, o.ConnectTimeout)
	require.NoError(t, o.Validate())

	h := Options{Protocol: "HTTP"}
	h.SetDefaults()
	assert.Equal(t, ProtocolHTTP, h.Protocol)
	assert.Equal(t, DefaultHTTPPort, h.Port)

	i := Options{Interactive: true}
	i.SetDefaults()
	assert.True(t, i.PrintMessages)
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hostname: cas.example.com
port: 5571
protocol: native
username: alice
exception_on_severity: 2
missing:
  int32: -1
`), 0o600))
	t.Setenv("CAS_USERNAME", "bob")
	t.Setenv("CAS_TRACE_ACTIONS", "yes")

	o, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "cas.example.com", o.Hostname)
	assert.Equal(t, 5571, o.Port)
	assert.Equal(t, ProtocolNative, o.Protocol)
	assert.Equal(t, "bob", o.Username)
	assert.True(t, o.TraceActions)
	assert.Equal(t, SeverityError, o.ExceptionOnSeverity)
	assert.Equal(t, int32(-1), o.Missing.Int32)
}

func TestLoadOptionsMissingFile(t *testing.T) {
	t.Setenv("CAS_PROTOCOL", "HTTPS")
	o, err := LoadOptions(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ProtocolHTTPS, o.Protocol)
	assert.Equal(t, DefaultHTTPPort, o.Port)
}

func TestLoadOptionsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1,"), 0o600))
	_, err := LoadOptions(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(o *Options){
		"protocol":  func(o *Options) { o.Protocol = "ftp" },
		"hostname":  func(o *Options) { o.Hostname = " " },
		"port":      func(o *Options) { o.Port = 70000 },
		"severity":  func(o *Options) { o.ExceptionOnSeverity = 3 },
		"suffixes":  func(o *Options) { o.ByGroupCollisionSuffix = o.ByGroupFormattedSuffix },
		"log level": func(o *Options) { o.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions()
			mutate(&o)
			assert.Error(t, o.Validate())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	l, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
	_, err = ParseLogLevel("chatty")
	require.Error(t, err)
}
