// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package mcpclient is a Model Context Protocol client: it drives a
// bidirectional JSON-RPC 2.0 session against an MCP server over stdio,
// HTTP+SSE, or streamable HTTP, exposes the server's tools, resources,
// resource templates, and prompts, and services the server's own
// requests (ping, roots, sampling, elicitation).
package mcpclient

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/catalog"
	"github.com/zmcp/mcp-client/internal/hooks"
	"github.com/zmcp/mcp-client/internal/inbound"
	"github.com/zmcp/mcp-client/internal/logging"
	"github.com/zmcp/mcp-client/internal/protocol"
	"github.com/zmcp/mcp-client/internal/session"
	"github.com/zmcp/mcp-client/internal/transport"
	"github.com/zmcp/mcp-client/internal/transport/sse"
	"github.com/zmcp/mcp-client/internal/transport/stdio"
	"github.com/zmcp/mcp-client/internal/transport/streamable"
)

// Client is the host-facing facade. It binds a Config to a session
// coordinator and an entity catalog.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	session *session.Session
	catalog *catalog.Catalog
}

// New validates the configuration and builds a Client. The connection is
// not established until Start.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(cfg.Verbose)
	}

	c := &Client{cfg: cfg, logger: logger}

	c.session = session.New(session.Options{
		Factory:          c.buildTransport,
		ClientInfo:       cfg.clientInfo(),
		Capabilities:     cfg.capabilities(cfg.Sampling.Enabled, true),
		PreferredVersion: cfg.ProtocolVersion,
		RequestTimeout:   cfg.requestTimeout(),
		LoggingLevel:     protocol.LoggingLevel(cfg.LoggingLevel),
		Logger:           logger,
	})

	c.session.Inbound().SetRoots(cfg.Roots)
	c.session.Inbound().SetSampling(inbound.SamplingConfig{
		Enabled:   cfg.Sampling.Enabled,
		Preferred: cfg.modelPreference(),
	})

	c.catalog = catalog.New(c.session, logger)
	c.catalog.Bind(c.session)

	return c, nil
}

// buildTransport constructs a fresh transport from the configuration.
// Called once per session incarnation.
func (c *Client) buildTransport() (transport.Transport, error) {
	switch c.cfg.TransportType {
	case TransportStdio:
		return stdio.New(c.cfg.Command, c.cfg.Args, c.cfg.Env, c.logger), nil
	case TransportSSE:
		return sse.New(sse.Options{
			URL:             c.cfg.URL,
			Headers:         c.cfg.Headers,
			Reconnection:    c.cfg.Reconnection,
			ProtocolVersion: c.cfg.ProtocolVersion,
			Auth:            c.cfg.OAuth,
			Logger:          c.logger,
		}), nil
	case TransportStreamable:
		return streamable.New(streamable.Options{
			URL:             c.cfg.URL,
			Headers:         c.cfg.Headers,
			Reconnection:    c.cfg.Reconnection,
			ProtocolVersion: c.cfg.ProtocolVersion,
			SessionID:       c.cfg.SessionID,
			Auth:            c.cfg.OAuth,
			Logger:          c.logger,
		}), nil
	default:
		return nil, &protocol.ConfigError{Reason: "unknown transport_type " + c.cfg.TransportType}
	}
}

// Start connects the transport and performs the protocol handshake.
func (c *Client) Start(ctx context.Context) error {
	return c.session.Start(ctx)
}

// Stop closes the session, cancelling in-flight requests toward the
// peer.
func (c *Client) Stop() error {
	return c.session.Stop()
}

// Restart tears the session down and builds a fresh one. Catalogs are
// flushed and resource subscriptions re-issued.
func (c *Client) Restart(ctx context.Context) error {
	if err := c.session.Restart(ctx); err != nil {
		return err
	}
	c.catalog.Reset()
	if err := c.catalog.Resubscribe(ctx); err != nil {
		c.logger.Warn("resubscribe after restart failed", zap.Error(err))
	}
	return nil
}

// Alive reports whether the session is ready on a live transport.
func (c *Client) Alive() bool {
	return c.session.Alive()
}

// Ping reports whether the server answered within the request timeout.
func (c *Client) Ping(ctx context.Context) bool {
	return c.session.Ping(ctx)
}

// ServerCapabilities returns the negotiated capability snapshot.
func (c *Client) ServerCapabilities() Capabilities {
	return c.session.Capabilities()
}

// ServerInfo returns the server's implementation record.
func (c *Client) ServerInfo() Implementation {
	return c.session.ServerInfo()
}

// ProtocolVersion returns the negotiated protocol revision.
func (c *Client) ProtocolVersion() string {
	return c.session.Version()
}

// Tools returns the cached tool entities, loading the catalog on first
// use.
func (c *Client) Tools(ctx context.Context) ([]*Tool, error) {
	return c.listTools(ctx, false)
}

// RefreshTools bypasses the cache and repopulates the tool catalog.
func (c *Client) RefreshTools(ctx context.Context) ([]*Tool, error) {
	return c.listTools(ctx, true)
}

func (c *Client) listTools(ctx context.Context, refresh bool) ([]*Tool, error) {
	defs, err := c.catalog.Tools(ctx, refresh)
	if err != nil {
		return nil, err
	}
	tools := make([]*Tool, len(defs))
	for i, def := range defs {
		tools[i] = &Tool{def: def, client: c}
	}
	return tools, nil
}

// Tool returns one tool by name, or nil if the server does not expose
// it.
func (c *Client) Tool(ctx context.Context, name string) (*Tool, error) {
	def, ok, err := c.catalog.Tool(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Tool{def: def, client: c}, nil
}

// ResetTools empties the tool catalog; the next read refetches.
func (c *Client) ResetTools() {
	c.catalog.Flush(session.KindTools)
}

// Resources returns the cached resource entities.
func (c *Client) Resources(ctx context.Context) ([]*Resource, error) {
	return c.listResources(ctx, false)
}

// RefreshResources bypasses the cache and repopulates the resource
// catalog.
func (c *Client) RefreshResources(ctx context.Context) ([]*Resource, error) {
	return c.listResources(ctx, true)
}

func (c *Client) listResources(ctx context.Context, refresh bool) ([]*Resource, error) {
	defs, err := c.catalog.Resources(ctx, refresh)
	if err != nil {
		return nil, err
	}
	resources := make([]*Resource, len(defs))
	for i, def := range defs {
		resources[i] = &Resource{def: def, client: c}
	}
	return resources, nil
}

// Resource returns one resource by name, or nil when absent.
func (c *Client) Resource(ctx context.Context, name string) (*Resource, error) {
	def, ok, err := c.catalog.Resource(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Resource{def: def, client: c}, nil
}

// ResetResources empties the resource catalog.
func (c *Client) ResetResources() {
	c.catalog.Flush(session.KindResources)
}

// ResourceTemplates returns the cached resource template entities.
func (c *Client) ResourceTemplates(ctx context.Context) ([]*ResourceTemplate, error) {
	return c.listResourceTemplates(ctx, false)
}

// RefreshResourceTemplates bypasses the cache and repopulates the
// template catalog.
func (c *Client) RefreshResourceTemplates(ctx context.Context) ([]*ResourceTemplate, error) {
	return c.listResourceTemplates(ctx, true)
}

func (c *Client) listResourceTemplates(ctx context.Context, refresh bool) ([]*ResourceTemplate, error) {
	defs, err := c.catalog.ResourceTemplates(ctx, refresh)
	if err != nil {
		return nil, err
	}
	templates := make([]*ResourceTemplate, len(defs))
	for i, def := range defs {
		templates[i] = &ResourceTemplate{def: def, client: c}
	}
	return templates, nil
}

// ResourceTemplate returns one template by name, or nil when absent.
func (c *Client) ResourceTemplate(ctx context.Context, name string) (*ResourceTemplate, error) {
	def, ok, err := c.catalog.ResourceTemplate(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &ResourceTemplate{def: def, client: c}, nil
}

// ResetResourceTemplates empties the template catalog.
func (c *Client) ResetResourceTemplates() {
	c.catalog.Flush(session.KindResourceTemplates)
}

// Prompts returns the cached prompt entities.
func (c *Client) Prompts(ctx context.Context) ([]*Prompt, error) {
	return c.listPrompts(ctx, false)
}

// RefreshPrompts bypasses the cache and repopulates the prompt catalog.
func (c *Client) RefreshPrompts(ctx context.Context) ([]*Prompt, error) {
	return c.listPrompts(ctx, true)
}

func (c *Client) listPrompts(ctx context.Context, refresh bool) ([]*Prompt, error) {
	defs, err := c.catalog.Prompts(ctx, refresh)
	if err != nil {
		return nil, err
	}
	prompts := make([]*Prompt, len(defs))
	for i, def := range defs {
		prompts[i] = &Prompt{def: def, client: c}
	}
	return prompts, nil
}

// Prompt returns one prompt by name, or nil when absent.
func (c *Client) Prompt(ctx context.Context, name string) (*Prompt, error) {
	def, ok, err := c.catalog.Prompt(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Prompt{def: def, client: c}, nil
}

// ResetPrompts empties the prompt catalog.
func (c *Client) ResetPrompts() {
	c.catalog.Flush(session.KindPrompts)
}

// Subscribe watches a resource URI for server-pushed updates.
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	return c.catalog.Subscribe(ctx, uri)
}

// Unsubscribe stops watching a resource URI.
func (c *Client) Unsubscribe(ctx context.Context, uri string) error {
	return c.catalog.Unsubscribe(ctx, uri)
}

// Complete asks the server to complete an argument value.
func (c *Client) Complete(ctx context.Context, params CompleteParams) (*CompleteResult, error) {
	return c.session.Complete(ctx, params)
}

// SetLoggingLevel asks the server to raise or lower its log volume.
func (c *Client) SetLoggingLevel(ctx context.Context, level LoggingLevel) error {
	return c.session.SetLoggingLevel(ctx, level)
}

// OnProgress installs the progress hook, invoked for every
// notifications/progress frame.
func (c *Client) OnProgress(fn func(Progress)) {
	c.session.OnProgress(fn)
}

// OnLogging installs the server-log hook, gated by the configured
// logging level.
func (c *Client) OnLogging(fn func(LoggingMessage)) {
	c.session.OnLogging(fn)
}

// OnSampling installs the backend that services sampling/createMessage.
// Sampling must also be enabled in the configuration.
func (c *Client) OnSampling(backend SamplingBackend) {
	c.session.Inbound().SetSamplingBackend(backend)
}

// OnSamplingFunc is OnSampling for an inline function.
func (c *Client) OnSamplingFunc(fn SamplingBackendFunc) {
	c.OnSampling(fn)
}

// OnHumanInTheLoop installs the guard consulted before every sampling
// request reaches the backend.
func (c *Client) OnHumanInTheLoop(guard SamplingGuard) {
	c.session.Inbound().SetSamplingGuard(guard)
}

// OnElicitation installs the handler for elicitation/create. Handlers
// may defer by returning a pending result and completing later via
// CompleteElicitation or CancelElicitation.
func (c *Client) OnElicitation(handler ElicitationHandler) {
	c.session.Inbound().SetElicitationHandler(handler)
}

// OnElicitationFunc is OnElicitation for an inline function.
func (c *Client) OnElicitationFunc(fn ElicitationHandlerFunc) {
	c.OnElicitation(fn)
}

// SetSchemaValidator overrides the validator used for elicitation accept
// payloads. The default is backed by gojsonschema.
func (c *Client) SetSchemaValidator(v SchemaValidator) {
	c.session.Inbound().SetValidator(v)
}

// CompleteElicitation resolves a deferred elicitation with the given
// content. The id is the RequestID the handler received.
func (c *Client) CompleteElicitation(id string, content map[string]interface{}) error {
	return c.session.Inbound().Deferred().Complete(id, content)
}

// CancelElicitation cancels a deferred elicitation.
func (c *Client) CancelElicitation(id string, reason string) error {
	return c.session.Inbound().Deferred().Cancel(id, reason)
}

// PendingElicitations reports the number of deferred elicitations still
// awaiting completion.
func (c *Client) PendingElicitations() int {
	return c.session.Inbound().Deferred().Len()
}

// DefaultSchemaValidator returns the gojsonschema-backed validator.
func DefaultSchemaValidator() SchemaValidator {
	return hooks.JSONSchemaValidator{}
}

// IsCancelled reports whether err means the request was cancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, protocol.ErrCancelled)
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	var te *protocol.TimeoutError
	return errors.As(err, &te)
}
