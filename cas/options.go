// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigRelPath = ".swat/config.yaml"

// Protocol selects the wire protocol.
type Protocol string

const (
	ProtocolAuto   Protocol = "auto"
	ProtocolNative Protocol = "native"
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
)

// Default ports per protocol.
const (
	DefaultNativePort = 5570
	DefaultHTTPPort   = 8777
)

// MissingValues are the integer encodings the server uses for missing cells.
type MissingValues struct {
	Int64    int64 `yaml:"int64"`
	Int32    int32 `yaml:"int32"`
	Date     int64 `yaml:"date"`
	Time     int64 `yaml:"time"`
	DateTime int64 `yaml:"datetime"`
}

// DefaultMissingValues returns the server's standard sentinels.
func DefaultMissingValues() MissingValues {
	return MissingValues{
		Int64:    math.MinInt64,
		Int32:    math.MinInt32,
		Date:     math.MinInt32,
		Time:     math.MinInt64,
		DateTime: math.MinInt64,
	}
}

// Options configures a Connection. The zero value is not ready to use; start
// from DefaultOptions or LoadOptions.
type Options struct {
	Hostname string   `yaml:"hostname"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Protocol Protocol `yaml:"protocol"`

	// Session reattaches to an existing session id instead of creating one.
	Session string `yaml:"session"`
	Locale  string `yaml:"locale"`
	// Name is the session name reported back in every response.
	Name string `yaml:"name"`

	// Interactive prints server messages as they stream in. It implies
	// PrintMessages.
	Interactive   bool `yaml:"interactive"`
	PrintMessages bool `yaml:"print_messages"`
	// TraceActions logs every request's flattened parameters at debug level.
	TraceActions bool `yaml:"trace_actions"`
	// Signatures fetches each action's signature with builtins.reflect and
	// normalizes parameters against it before sending.
	Signatures bool `yaml:"signatures"`
	// ExceptionOnSeverity turns a final disposition with at least this
	// severity into an *ActionError. Zero disables it.
	ExceptionOnSeverity int `yaml:"exception_on_severity"`

	// Compression enables zstd request and response bodies over HTTP.
	Compression    bool          `yaml:"compression"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	Missing                MissingValues `yaml:"missing"`
	ByGroupFormattedSuffix string        `yaml:"bygroup_formatted_suffix"`
	ByGroupCollisionSuffix string        `yaml:"bygroup_collision_suffix"`

	LogLevel string `yaml:"log_level"`

	Logger     *slog.Logger `yaml:"-"`
	Hook       InvokeHook   `yaml:"-"`
	Output     io.Writer    `yaml:"-"` // message printer destination, os.Stdout when nil
	HTTPClient *http.Client `yaml:"-"`
}

// DefaultOptions returns options with every default applied and no
// environment overrides.
func DefaultOptions() Options {
	var o Options
	o.Missing = DefaultMissingValues()
	o.SetDefaults()
	return o
}

// LoadOptions reads YAML options from path, then applies environment
// overrides. An empty path means ~/.swat/config.yaml; a missing file is not
// an error.
func LoadOptions(path string) (Options, error) {
	o := Options{Missing: DefaultMissingValues()}

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Options{}, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &o); err != nil {
			return Options{}, fmt.Errorf("parse options: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Options{}, fmt.Errorf("read options: %w", err)
	}

	applyEnvOverrides(&o)
	o.SetDefaults()
	return o, nil
}

// SetDefaults fills every unset field.
func (o *Options) SetDefaults() {
	if o.Hostname == "" {
		o.Hostname = "localhost"
	}
	if o.Protocol == "" {
		o.Protocol = ProtocolAuto
	}
	o.Protocol = Protocol(strings.ToLower(string(o.Protocol)))
	if o.Port == 0 {
		o.Port = defaultPort(o.Protocol)
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.ByGroupFormattedSuffix == "" {
		o.ByGroupFormattedSuffix = "_f"
	}
	if o.ByGroupCollisionSuffix == "" {
		o.ByGroupCollisionSuffix = "_by"
	}
	if o.LogLevel == "" {
		o.LogLevel = "warn"
	}
	if o.Interactive {
		o.PrintMessages = true
	}
}

func defaultPort(p Protocol) int {
	if p == ProtocolHTTP || p == ProtocolHTTPS {
		return DefaultHTTPPort
	}
	return DefaultNativePort
}

// Validate reports the first invalid field.
func (o *Options) Validate() error {
	switch o.Protocol {
	case ProtocolAuto, ProtocolNative, ProtocolHTTP, ProtocolHTTPS:
	default:
		return fmt.Errorf("protocol must be auto, native, http or https, got %q", o.Protocol)
	}
	if strings.TrimSpace(o.Hostname) == "" {
		return errors.New("hostname cannot be empty")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("port %d out of range", o.Port)
	}
	if o.ExceptionOnSeverity < 0 || o.ExceptionOnSeverity > SeverityError {
		return fmt.Errorf("exception_on_severity must be between 0 and %d", SeverityError)
	}
	if o.ByGroupFormattedSuffix == o.ByGroupCollisionSuffix {
		return errors.New("bygroup_formatted_suffix and bygroup_collision_suffix must differ")
	}
	if _, err := ParseLogLevel(o.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug, info, warn or error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) output() io.Writer {
	if o.Output != nil {
		return o.Output
	}
	return os.Stdout
}

func applyEnvOverrides(o *Options) {
	setString(&o.Hostname, "CAS_HOST")
	setString(&o.Hostname, "CAS_HOSTNAME")
	setInt(&o.Port, "CAS_PORT")
	if v, ok := os.LookupEnv("CAS_PROTOCOL"); ok {
		o.Protocol = Protocol(strings.ToLower(v))
	}
	setString(&o.Username, "CAS_USER")
	setString(&o.Username, "CAS_USERNAME")
	setString(&o.Password, "CAS_TOKEN")
	setString(&o.Password, "CAS_PASSWORD")
	setBool(&o.PrintMessages, "CAS_PRINT_MESSAGES")
	setBool(&o.TraceActions, "CAS_TRACE_ACTIONS")
	setBool(&o.Interactive, "SWAT_INTERACTIVE_MODE")
	setBool(&o.Signatures, "CAS_SIGNATURES")
	setInt(&o.ExceptionOnSeverity, "CAS_EXCEPTION_ON_SEVERITY")
	setString(&o.LogLevel, "CAS_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off", "":
			*dst = false
		}
	}
}
