// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package mcpclient

import (
	"github.com/zmcp/mcp-client/internal/hooks"
	"github.com/zmcp/mcp-client/internal/protocol"
)

// Re-exported wire and collaborator types, so hosts import only this
// package.

type (
	// Capabilities is the server capability snapshot.
	Capabilities = protocol.ServerCapabilities

	// Implementation identifies a client or server program.
	Implementation = protocol.Implementation

	// Content is one element of a tool or prompt result.
	Content = protocol.Content

	// Root is a filesystem path or URI advertised to the server.
	Root = protocol.Root

	// ModelHint names a model family the server prefers.
	ModelHint = protocol.ModelHint

	// SamplingMessage is one conversation turn of a sampling request.
	SamplingMessage = protocol.SamplingMessage

	// CreateMessageParams is a server-initiated sampling request.
	CreateMessageParams = protocol.CreateMessageParams

	// CreateMessageResult is the host's sampling reply.
	CreateMessageResult = protocol.CreateMessageResult

	// ElicitParams is a server-initiated elicitation request.
	ElicitParams = protocol.ElicitParams

	// Progress is a progress update for a long-running call.
	Progress = protocol.ProgressParams

	// LoggingMessage is a server log notification.
	LoggingMessage = protocol.LoggingMessageParams

	// LoggingLevel is an RFC 5424 severity keyword.
	LoggingLevel = protocol.LoggingLevel

	// PromptResult is the payload of an executed prompt.
	PromptResult = protocol.GetPromptResult

	// CompleteParams parameterizes an argument completion request.
	CompleteParams = protocol.CompleteParams

	// CompleteResult carries argument completion values.
	CompleteResult = protocol.CompleteResult

	// SamplingBackend turns a sampling request into a model call.
	SamplingBackend = hooks.SamplingBackend

	// SamplingBackendFunc adapts a function to SamplingBackend.
	SamplingBackendFunc = hooks.SamplingBackendFunc

	// SamplingGuard approves or refuses a sampling request.
	SamplingGuard = hooks.SamplingGuard

	// AuthProvider mints authorization headers for HTTP transports.
	AuthProvider = hooks.AuthProvider

	// SchemaValidator checks a value against a JSON schema.
	SchemaValidator = hooks.SchemaValidator

	// ElicitationHandler produces structured responses for the server.
	ElicitationHandler = hooks.ElicitationHandler

	// ElicitationHandlerFunc adapts a function to ElicitationHandler.
	ElicitationHandlerFunc = hooks.ElicitationHandlerFunc

	// ElicitationResult is what an elicitation handler returns.
	ElicitationResult = hooks.ElicitationResult
)

// Elicitation result constructors.
var (
	ElicitAccept  = hooks.Accept
	ElicitReject  = hooks.Reject
	ElicitCancel  = hooks.Cancel
	ElicitPending = hooks.Pending
)

// Logging level constants, re-exported for hook configuration.
const (
	LevelDebug     = protocol.LevelDebug
	LevelInfo      = protocol.LevelInfo
	LevelNotice    = protocol.LevelNotice
	LevelWarning   = protocol.LevelWarning
	LevelError     = protocol.LevelError
	LevelCritical  = protocol.LevelCritical
	LevelAlert     = protocol.LevelAlert
	LevelEmergency = protocol.LevelEmergency
)
