// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package catalog caches the server's entity listings. Each kind is
// either unloaded or fully populated: pagination completes before a
// snapshot is handed out, and a list-changed flush always wins over an
// in-flight load.
package catalog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/protocol"
	"github.com/zmcp/mcp-client/internal/session"
)

// Coordinator is the slice of the session the catalog drives.
type Coordinator interface {
	Capabilities() protocol.ServerCapabilities
	ListTools(ctx context.Context) ([]protocol.Tool, error)
	ListResources(ctx context.Context) ([]protocol.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error)
	ListPrompts(ctx context.Context) ([]protocol.Prompt, error)
	ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error)
	SubscribeResource(ctx context.Context, uri string) error
	UnsubscribeResource(ctx context.Context, uri string) error
}

// store is one name-keyed cache with a generation counter. The counter
// lets a flush invalidate a load that is still in flight: the stale
// result is returned to its caller but never cached.
type store[T any] struct {
	entries map[string]T
	order   []string
	loaded  bool
	gen     uint64
}

func (s *store[T]) flush() {
	s.entries = nil
	s.order = nil
	s.loaded = false
	s.gen++
}

func (s *store[T]) populate(gen uint64, names []string, values []T) bool {
	if gen != s.gen {
		return false
	}
	s.entries = make(map[string]T, len(values))
	s.order = names
	for i, n := range names {
		s.entries[n] = values[i]
	}
	s.loaded = true
	return true
}

func (s *store[T]) snapshot() []T {
	out := make([]T, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.entries[n])
	}
	return out
}

// Catalog holds the four entity caches, the per-resource content cache,
// and the subscription set.
type Catalog struct {
	coord  Coordinator
	logger *zap.Logger

	mu        sync.RWMutex
	tools     store[protocol.Tool]
	resources store[protocol.Resource]
	templates store[protocol.ResourceTemplate]
	prompts   store[protocol.Prompt]

	contentMu sync.Mutex
	contents  map[string]*protocol.ReadResourceResult

	subMu         sync.Mutex
	subscriptions map[string]struct{}
}

// New builds a catalog over the coordinator and registers its
// invalidation callbacks on the session.
func New(coord Coordinator, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		coord:         coord,
		logger:        logger,
		contents:      make(map[string]*protocol.ReadResourceResult),
		subscriptions: make(map[string]struct{}),
	}
}

// Bind wires the catalog's flush callbacks into the session.
func (c *Catalog) Bind(s *session.Session) {
	s.OnFlush(c.Flush)
	s.OnResourceUpdated(c.InvalidateContent)
}

// Flush empties one kind's cache. The next read refetches.
func (c *Catalog) Flush(kind session.EntityKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case session.KindTools:
		c.tools.flush()
	case session.KindResources:
		c.resources.flush()
	case session.KindResourceTemplates:
		c.templates.flush()
	case session.KindPrompts:
		c.prompts.flush()
	}
	c.logger.Debug("catalog flushed", zap.String("kind", string(kind)))
}

// Reset empties every cache, the content cache included. Used on restart.
func (c *Catalog) Reset() {
	c.mu.Lock()
	c.tools.flush()
	c.resources.flush()
	c.templates.flush()
	c.prompts.flush()
	c.mu.Unlock()

	c.contentMu.Lock()
	c.contents = make(map[string]*protocol.ReadResourceResult)
	c.contentMu.Unlock()
}

// Tools returns the tool listing, loading it on first use. With refresh
// the cache is bypassed and repopulated.
func (c *Catalog) Tools(ctx context.Context, refresh bool) ([]protocol.Tool, error) {
	if !c.coord.Capabilities().Tools {
		return nil, nil
	}
	c.mu.RLock()
	if c.tools.loaded && !refresh {
		defer c.mu.RUnlock()
		return c.tools.snapshot(), nil
	}
	gen := c.tools.gen
	c.mu.RUnlock()

	tools, err := c.coord.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}

	c.mu.Lock()
	if !c.tools.populate(gen, names, tools) {
		c.logger.Debug("tools load superseded by flush")
	}
	c.mu.Unlock()
	return tools, nil
}

// Tool returns one tool by name, loading the listing if needed. The
// second return reports presence.
func (c *Catalog) Tool(ctx context.Context, name string) (protocol.Tool, bool, error) {
	if _, err := c.Tools(ctx, false); err != nil {
		return protocol.Tool{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools.entries[name]
	return t, ok, nil
}

// Resources returns the resource listing.
func (c *Catalog) Resources(ctx context.Context, refresh bool) ([]protocol.Resource, error) {
	if !c.coord.Capabilities().Resources {
		return nil, nil
	}
	c.mu.RLock()
	if c.resources.loaded && !refresh {
		defer c.mu.RUnlock()
		return c.resources.snapshot(), nil
	}
	gen := c.resources.gen
	c.mu.RUnlock()

	resources, err := c.coord.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = r.Name
	}

	c.mu.Lock()
	if !c.resources.populate(gen, names, resources) {
		c.logger.Debug("resources load superseded by flush")
	}
	c.mu.Unlock()
	return resources, nil
}

// Resource returns one resource by name.
func (c *Catalog) Resource(ctx context.Context, name string) (protocol.Resource, bool, error) {
	if _, err := c.Resources(ctx, false); err != nil {
		return protocol.Resource{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources.entries[name]
	return r, ok, nil
}

// ResourceTemplates returns the template listing. Templates ride the
// resources capability.
func (c *Catalog) ResourceTemplates(ctx context.Context, refresh bool) ([]protocol.ResourceTemplate, error) {
	if !c.coord.Capabilities().Resources {
		return nil, nil
	}
	c.mu.RLock()
	if c.templates.loaded && !refresh {
		defer c.mu.RUnlock()
		return c.templates.snapshot(), nil
	}
	gen := c.templates.gen
	c.mu.RUnlock()

	templates, err := c.coord.ListResourceTemplates(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(templates))
	for i, t := range templates {
		names[i] = t.Name
	}

	c.mu.Lock()
	if !c.templates.populate(gen, names, templates) {
		c.logger.Debug("resource templates load superseded by flush")
	}
	c.mu.Unlock()
	return templates, nil
}

// ResourceTemplate returns one template by name.
func (c *Catalog) ResourceTemplate(ctx context.Context, name string) (protocol.ResourceTemplate, bool, error) {
	if _, err := c.ResourceTemplates(ctx, false); err != nil {
		return protocol.ResourceTemplate{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates.entries[name]
	return t, ok, nil
}

// Prompts returns the prompt listing.
func (c *Catalog) Prompts(ctx context.Context, refresh bool) ([]protocol.Prompt, error) {
	if !c.coord.Capabilities().Prompts {
		return nil, nil
	}
	c.mu.RLock()
	if c.prompts.loaded && !refresh {
		defer c.mu.RUnlock()
		return c.prompts.snapshot(), nil
	}
	gen := c.prompts.gen
	c.mu.RUnlock()

	prompts, err := c.coord.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(prompts))
	for i, p := range prompts {
		names[i] = p.Name
	}

	c.mu.Lock()
	if !c.prompts.populate(gen, names, prompts) {
		c.logger.Debug("prompts load superseded by flush")
	}
	c.mu.Unlock()
	return prompts, nil
}

// Prompt returns one prompt by name.
func (c *Catalog) Prompt(ctx context.Context, name string) (protocol.Prompt, bool, error) {
	if _, err := c.Prompts(ctx, false); err != nil {
		return protocol.Prompt{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prompts.entries[name]
	return p, ok, nil
}

// Content returns a resource's payload, fetching it on first use and
// caching until a resources/updated notification for its URI.
func (c *Catalog) Content(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	c.contentMu.Lock()
	cached, ok := c.contents[uri]
	c.contentMu.Unlock()
	if ok {
		return cached, nil
	}

	result, err := c.coord.ReadResource(ctx, uri)
	if err != nil {
		return nil, err
	}
	c.contentMu.Lock()
	c.contents[uri] = result
	c.contentMu.Unlock()
	return result, nil
}

// InvalidateContent drops the cached payload for a URI so the next read
// refetches.
func (c *Catalog) InvalidateContent(uri string) {
	c.contentMu.Lock()
	delete(c.contents, uri)
	c.contentMu.Unlock()
	c.logger.Debug("resource content invalidated", zap.String("uri", uri))
}

// Subscribe watches a resource for updates.
func (c *Catalog) Subscribe(ctx context.Context, uri string) error {
	if err := c.coord.SubscribeResource(ctx, uri); err != nil {
		return err
	}
	c.subMu.Lock()
	c.subscriptions[uri] = struct{}{}
	c.subMu.Unlock()
	return nil
}

// Unsubscribe stops watching a resource.
func (c *Catalog) Unsubscribe(ctx context.Context, uri string) error {
	if err := c.coord.UnsubscribeResource(ctx, uri); err != nil {
		return err
	}
	c.subMu.Lock()
	delete(c.subscriptions, uri)
	c.subMu.Unlock()
	return nil
}

// Subscriptions returns the watched URIs.
func (c *Catalog) Subscriptions() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	uris := make([]string, 0, len(c.subscriptions))
	for uri := range c.subscriptions {
		uris = append(uris, uri)
	}
	return uris
}

// Resubscribe re-issues every subscription, used after a restart.
func (c *Catalog) Resubscribe(ctx context.Context) error {
	for _, uri := range c.Subscriptions() {
		if err := c.coord.SubscribeResource(ctx, uri); err != nil {
			return err
		}
	}
	return nil
}
