// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package inbound

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/protocol"
)

// handleSampling services sampling/createMessage: policy check, guard,
// model resolution, then the host backend.
func (d *Dispatcher) handleSampling(ctx context.Context, msg *protocol.Message) {
	d.mu.RLock()
	cfg := d.sampling
	d.mu.RUnlock()

	if !cfg.Enabled || cfg.Backend == nil {
		d.sendError(msg.ID, protocol.CodeServerError, "Sampling is disabled", nil)
		return
	}

	var params protocol.CreateMessageParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			d.sendError(msg.ID, protocol.CodeInvalidParams, "invalid sampling params", err.Error())
			return
		}
	}

	if cfg.Guard != nil {
		ok, err := cfg.Guard(ctx, &params)
		if err != nil {
			d.sendError(msg.ID, protocol.CodeServerError, errReason(err), nil)
			return
		}
		if !ok {
			d.sendError(msg.ID, protocol.CodeServerError, "Sampling request denied", nil)
			return
		}
	}

	var hints []protocol.ModelHint
	if params.ModelPreferences != nil {
		hints = params.ModelPreferences.Hints
	}
	model, err := cfg.Preferred.Model(hints)
	if err != nil {
		d.sendError(msg.ID, protocol.CodeServerError, errReason(err), nil)
		return
	}

	result, err := cfg.Backend.CreateMessage(ctx, model, params.SystemPrompt, params.Messages, params.MaxTokens)
	if err != nil {
		d.logger.Warn("sampling backend failed", zap.Error(err))
		d.sendError(msg.ID, protocol.CodeInternalError, errReason(err), nil)
		return
	}
	if result.Model == "" {
		result.Model = model
	}
	if result.Role == "" {
		result.Role = "assistant"
	}
	d.sendResult(msg.ID, result)
}
