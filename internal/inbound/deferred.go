// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package inbound

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/hooks"
	"github.com/zmcp/mcp-client/internal/protocol"
)

// replyFn delivers the final elicitation result for a parked request.
type replyFn func(id json.RawMessage, result interface{})

// deferredRequest is one parked elicitation awaiting external completion.
type deferredRequest struct {
	id        json.RawMessage
	schema    json.RawMessage
	validator hooks.SchemaValidator
	timer     *time.Timer
	once      sync.Once
}

// DeferredRegistry holds inbound requests whose handler returned pending.
// Exactly one response frame is ever sent per parked request: Complete,
// Cancel, timeout, and server-side cancellation race through a per-entry
// once-guard.
type DeferredRegistry struct {
	mu      sync.Mutex
	entries map[string]*deferredRequest
	reply   replyFn
	logger  *zap.Logger
}

// NewDeferredRegistry builds an empty registry replying through fn.
func NewDeferredRegistry(fn replyFn, logger *zap.Logger) *DeferredRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeferredRegistry{
		entries: make(map[string]*deferredRequest),
		reply:   fn,
		logger:  logger,
	}
}

// Park registers a pending request. A non-zero timeout schedules an
// automatic cancel reply.
func (r *DeferredRegistry) Park(id json.RawMessage, schema json.RawMessage, validator hooks.SchemaValidator, timeout time.Duration) {
	entry := &deferredRequest{
		id:        append(json.RawMessage(nil), id...),
		schema:    schema,
		validator: validator,
	}
	key := protocol.IDKey(id)

	r.mu.Lock()
	r.entries[key] = entry
	r.mu.Unlock()

	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() {
			r.finish(key, protocol.ElicitResult{Action: protocol.ElicitCancel, Reason: "timed out"}, true)
		})
	}
	r.logger.Debug("elicitation deferred", zap.String("id", key))
}

// Complete resolves a parked request with the supplied content. The key
// is the RequestID token handed to the elicitation handler. The content
// is validated against the original schema; invalid data sends a cancel
// reply instead. Unknown ids return an error.
func (r *DeferredRegistry) Complete(key string, content map[string]interface{}) error {
	r.mu.Lock()
	entry, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no deferred request with id %s", key)
	}

	result := protocol.ElicitResult{Action: protocol.ElicitAccept, Content: content}
	if len(entry.schema) > 0 && entry.validator != nil {
		valid, err := entry.validator.Validate(entry.schema, content)
		if err != nil || !valid {
			result = protocol.ElicitResult{Action: protocol.ElicitCancel}
		}
	}
	r.finish(key, result, true)
	return nil
}

// Cancel resolves a parked request with a cancel reply.
func (r *DeferredRegistry) Cancel(key string, reason string) error {
	r.mu.Lock()
	_, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no deferred request with id %s", key)
	}
	r.finish(key, protocol.ElicitResult{Action: protocol.ElicitCancel, Reason: reason}, true)
	return nil
}

// Drop removes a parked request without replying. Used when the server
// cancels the request: its eventual completion is discarded.
func (r *DeferredRegistry) Drop(id json.RawMessage) {
	r.finish(protocol.IDKey(id), protocol.ElicitResult{}, false)
}

// Len reports the number of parked requests.
func (r *DeferredRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// finish removes the entry and, when send is true, emits the single
// response frame.
func (r *DeferredRegistry) finish(key string, result protocol.ElicitResult, send bool) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.once.Do(func() {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		if send {
			r.reply(entry.id, result)
		}
	})
}
