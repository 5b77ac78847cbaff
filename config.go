// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package mcpclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/hooks"
	"github.com/zmcp/mcp-client/internal/protocol"
	"github.com/zmcp/mcp-client/internal/transport"
)

// Transport type names accepted by Config.TransportType.
const (
	TransportStdio      = "stdio"
	TransportSSE        = "sse"
	TransportStreamable = "streamable"
)

// SamplingOptions is the sampling policy slice of the configuration.
type SamplingOptions struct {
	Enabled bool `mapstructure:"enabled"`

	// PreferredModel is the literal model name used for sampling
	// requests. PreferredModelFunc, when set, resolves it from the
	// server's hints instead.
	PreferredModel     string `mapstructure:"preferred_model"`
	PreferredModelFunc func(hints []ModelHint) (string, error)
}

// Reconnection re-exports the transport backoff bounds.
type Reconnection = transport.Reconnection

// Config binds a Client to a server. It is immutable after Start.
type Config struct {
	// TransportType is one of stdio, sse, streamable.
	TransportType string `mapstructure:"transport_type"`

	// Stdio transport.
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`

	// HTTP transports.
	URL          string            `mapstructure:"url"`
	Headers      map[string]string `mapstructure:"headers"`
	Reconnection Reconnection      `mapstructure:"reconnection"`
	SessionID    string            `mapstructure:"session_id"`

	// RequestTimeout is the per-request deadline in milliseconds.
	RequestTimeout int `mapstructure:"request_timeout"`

	// ProtocolVersion is the preferred revision offered at initialize.
	ProtocolVersion string `mapstructure:"protocol_version"`

	// Roots are the local paths/URIs advertised to the server.
	Roots []Root `mapstructure:"roots"`

	Sampling SamplingOptions `mapstructure:"sampling"`

	// LoggingLevel gates notifications/message before the logging hook.
	LoggingLevel string `mapstructure:"logging_level"`

	// Name and Version identify this client at initialize time.
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`

	Verbose bool `mapstructure:"verbose"`

	// OAuth mints authorization headers for the HTTP transports.
	OAuth AuthProvider

	// Logger overrides the stderr logger built from Verbose.
	Logger *zap.Logger
}

// Validate checks the configuration for host misuse. All failures are
// ConfigError values.
func (c *Config) Validate() error {
	switch c.TransportType {
	case TransportStdio:
		if c.Command == "" {
			return &protocol.ConfigError{Reason: "stdio transport requires a command"}
		}
	case TransportSSE, TransportStreamable:
		if c.URL == "" {
			return &protocol.ConfigError{Reason: fmt.Sprintf("%s transport requires a url", c.TransportType)}
		}
	case "":
		return &protocol.ConfigError{Reason: "transport_type is required"}
	default:
		return &protocol.ConfigError{Reason: fmt.Sprintf("unknown transport_type %q", c.TransportType)}
	}

	if c.OAuth != nil && c.URL == "" {
		return &protocol.ConfigError{Reason: "oauth requires a url"}
	}
	if c.RequestTimeout < 0 {
		return &protocol.ConfigError{Reason: "request_timeout must be positive"}
	}
	if c.ProtocolVersion != "" && !protocol.SupportedVersion(c.ProtocolVersion) {
		return &protocol.ConfigError{Reason: fmt.Sprintf("unsupported protocol_version %q", c.ProtocolVersion)}
	}
	if c.SessionID != "" && c.TransportType != TransportStreamable {
		return &protocol.ConfigError{Reason: "session_id is only valid for the streamable transport"}
	}
	if c.LoggingLevel != "" {
		switch protocol.LoggingLevel(c.LoggingLevel) {
		case protocol.LevelDebug, protocol.LevelInfo, protocol.LevelNotice,
			protocol.LevelWarning, protocol.LevelError, protocol.LevelCritical,
			protocol.LevelAlert, protocol.LevelEmergency:
		default:
			return &protocol.ConfigError{Reason: fmt.Sprintf("unknown logging_level %q", c.LoggingLevel)}
		}
	}
	return nil
}

// requestTimeout converts the millisecond setting, applying the default.
func (c *Config) requestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 8000 * time.Millisecond
	}
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// clientInfo builds the implementation record sent at initialize.
func (c *Config) clientInfo() protocol.Implementation {
	name := c.Name
	if name == "" {
		name = "mcp-client-go"
	}
	version := c.Version
	if version == "" {
		version = "dev"
	}
	return protocol.Implementation{Name: name, Version: version}
}

// capabilities computes what the client advertises from its
// configuration.
func (c *Config) capabilities(samplingActive, elicitationActive bool) protocol.ClientCapabilities {
	caps := protocol.ClientCapabilities{}
	if len(c.Roots) > 0 {
		caps.Roots = &protocol.RootsCapability{ListChanged: true}
	}
	if c.Sampling.Enabled && samplingActive {
		caps.Sampling = &struct{}{}
	}
	if elicitationActive {
		caps.Elicitation = &struct{}{}
	}
	return caps
}

// modelPreference builds the sampling model resolver.
func (c *Config) modelPreference() hooks.ModelPreference {
	if c.Sampling.PreferredModelFunc != nil {
		return hooks.ModelPreference{Resolve: c.Sampling.PreferredModelFunc}
	}
	return hooks.ModelPreference{Literal: c.Sampling.PreferredModel}
}

// LoadConfig reads configuration from an optional file plus MCP_*
// environment variables. A .env file in the working directory is loaded
// first.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("transport_type", TransportStdio)
	v.SetDefault("request_timeout", 8000)
	v.SetDefault("protocol_version", protocol.DefaultVersion)

	v.SetEnvPrefix("MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &protocol.ConfigError{Reason: fmt.Sprintf("read config: %v", err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &protocol.ConfigError{Reason: fmt.Sprintf("parse config: %v", err)}
	}
	// Validation happens in New: a loaded config may still be completed
	// programmatically (command, hooks, auth) before use.
	return &cfg, nil
}
