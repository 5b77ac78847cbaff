// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package inbound

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/hooks"
	"github.com/zmcp/mcp-client/internal/protocol"
)

// handleElicitation services elicitation/create. The handler may complete
// inline or defer by returning a pending result, which parks the request
// in the deferred registry until an external completion or timeout.
func (d *Dispatcher) handleElicitation(ctx context.Context, msg *protocol.Message) {
	d.mu.RLock()
	handler := d.elicit
	validator := d.validate
	d.mu.RUnlock()

	if handler == nil {
		d.sendError(msg.ID, protocol.CodeServerError, "Elicitation is not supported", nil)
		return
	}

	var params protocol.ElicitParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			d.sendError(msg.ID, protocol.CodeInvalidParams, "invalid elicitation params", err.Error())
			return
		}
	}
	params.RequestID = protocol.IDKey(msg.ID)

	result, err := handler.Execute(ctx, &params)
	if err != nil {
		d.logger.Warn("elicitation handler failed", zap.Error(err))
		d.sendResult(msg.ID, protocol.ElicitResult{Action: protocol.ElicitCancel})
		return
	}
	if result == nil {
		d.sendResult(msg.ID, protocol.ElicitResult{Action: protocol.ElicitCancel})
		return
	}

	if result.Pending {
		d.deferred.Park(msg.ID, params.RequestedSchema, validator, result.Timeout)
		return
	}

	d.sendResult(msg.ID, d.resolveElicitation(result, params.RequestedSchema, validator))
}

// resolveElicitation turns a handler result into the wire reply. An
// accept whose content fails schema validation degrades to cancel.
func (d *Dispatcher) resolveElicitation(result *hooks.ElicitationResult, schema json.RawMessage, validator hooks.SchemaValidator) protocol.ElicitResult {
	switch result.Action {
	case protocol.ElicitAccept:
		if len(schema) > 0 && validator != nil {
			ok, err := validator.Validate(schema, result.Content)
			if err != nil || !ok {
				d.logger.Debug("elicitation response failed validation",
					zap.Bool("valid", ok), zap.Error(err))
				return protocol.ElicitResult{Action: protocol.ElicitCancel}
			}
		}
		return protocol.ElicitResult{Action: protocol.ElicitAccept, Content: result.Content}
	case protocol.ElicitReject:
		return protocol.ElicitResult{Action: protocol.ElicitReject, Reason: result.Reason}
	default:
		return protocol.ElicitResult{Action: protocol.ElicitCancel, Reason: result.Reason}
	}
}
