// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package inbound dispatches server-initiated requests: ping, roots/list,
// sampling/createMessage, and elicitation/create. Handlers run in their
// own goroutine and reply through the coordinator's send path.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/hooks"
	"github.com/zmcp/mcp-client/internal/protocol"
)

// ReplyFunc delivers a response frame to the peer.
type ReplyFunc func(msg *protocol.Message) error

// SamplingConfig is the sampling policy slice of the client
// configuration.
type SamplingConfig struct {
	Enabled   bool
	Guard     hooks.SamplingGuard
	Preferred hooks.ModelPreference
	Backend   hooks.SamplingBackend
}

// Dispatcher routes inbound requests by method.
type Dispatcher struct {
	reply  ReplyFunc
	logger *zap.Logger

	mu       sync.RWMutex
	roots    []protocol.Root
	sampling SamplingConfig
	elicit   hooks.ElicitationHandler
	validate hooks.SchemaValidator

	deferred *DeferredRegistry

	handlers map[string]func(ctx context.Context, msg *protocol.Message)
}

// NewDispatcher builds a dispatcher replying through the given send path.
func NewDispatcher(reply ReplyFunc, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		reply:    reply,
		logger:   logger,
		validate: hooks.JSONSchemaValidator{},
	}
	d.deferred = NewDeferredRegistry(d.sendResult, logger)
	d.handlers = map[string]func(ctx context.Context, msg *protocol.Message){
		protocol.MethodPing:              d.handlePing,
		protocol.MethodRootsList:         d.handleRootsList,
		protocol.MethodSamplingCreate:    d.handleSampling,
		protocol.MethodElicitationCreate: d.handleElicitation,
	}
	return d
}

// SetRoots installs the advertised roots.
func (d *Dispatcher) SetRoots(roots []protocol.Root) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roots = roots
}

// SetSampling installs the sampling policy.
func (d *Dispatcher) SetSampling(cfg SamplingConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sampling = cfg
}

// SetSamplingBackend swaps the backend without touching the rest of the
// sampling policy.
func (d *Dispatcher) SetSamplingBackend(b hooks.SamplingBackend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sampling.Backend = b
}

// SetSamplingGuard swaps the human-in-the-loop guard.
func (d *Dispatcher) SetSamplingGuard(g hooks.SamplingGuard) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sampling.Guard = g
}

// SetElicitationHandler installs the host elicitation handler.
func (d *Dispatcher) SetElicitationHandler(h hooks.ElicitationHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elicit = h
}

// SetValidator overrides the schema validator.
func (d *Dispatcher) SetValidator(v hooks.SchemaValidator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validate = v
}

// Deferred exposes the deferred elicitation registry.
func (d *Dispatcher) Deferred() *DeferredRegistry {
	return d.deferred
}

// Handle processes one inbound request. Callers run it in its own
// goroutine so a slow handler never blocks other traffic.
func (d *Dispatcher) Handle(ctx context.Context, msg *protocol.Message) {
	h, ok := d.handlers[msg.Method]
	if !ok {
		d.sendError(msg.ID, protocol.CodeMethodNotFound, "Method not found", msg.Method)
		return
	}
	h(ctx, msg)
}

// Cancelled drops a deferred inbound request when the server cancels it.
// The handler's eventual result is discarded.
func (d *Dispatcher) Cancelled(id json.RawMessage) {
	d.deferred.Drop(id)
}

func (d *Dispatcher) handlePing(_ context.Context, msg *protocol.Message) {
	d.sendResult(msg.ID, struct{}{})
}

func (d *Dispatcher) handleRootsList(_ context.Context, msg *protocol.Message) {
	d.mu.RLock()
	roots := d.roots
	d.mu.RUnlock()

	if len(roots) == 0 {
		d.sendError(msg.ID, protocol.CodeServerError, "Roots are not enabled", nil)
		return
	}
	d.sendResult(msg.ID, protocol.ListRootsResult{Roots: roots})
}

// sendResult replies with a success frame. It does not track ids: each
// handler path calls it (or sendError) once. Transport failures are
// logged, not retried.
func (d *Dispatcher) sendResult(id json.RawMessage, result interface{}) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		d.sendError(id, protocol.CodeInternalError, err.Error(), nil)
		return
	}
	if err := d.reply(resp); err != nil {
		d.logger.Warn("failed to send inbound response", zap.Error(err))
	}
}

func (d *Dispatcher) sendError(id json.RawMessage, code int, message string, data interface{}) {
	if err := d.reply(protocol.NewErrorResponse(id, code, message, data)); err != nil {
		d.logger.Warn("failed to send inbound error response", zap.Error(err))
	}
}

// errReason formats a guard or resolver failure for the peer.
func errReason(err error) string {
	if err == nil {
		return "request refused"
	}
	return fmt.Sprintf("%v", err)
}
