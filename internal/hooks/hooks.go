// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package hooks declares the collaborator interfaces the protocol engine
// consumes but does not implement: the LLM backend for sampling, the
// authorization provider for HTTP transports, schema validation, and the
// host's elicitation handling.
package hooks

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/zmcp/mcp-client/internal/protocol"
)

// SamplingBackend turns a sampling request into a model call. Failure
// becomes an error response to the server.
type SamplingBackend interface {
	CreateMessage(ctx context.Context, model, systemPrompt string, messages []protocol.SamplingMessage, maxTokens int) (*protocol.CreateMessageResult, error)
}

// SamplingBackendFunc adapts a function to SamplingBackend.
type SamplingBackendFunc func(ctx context.Context, model, systemPrompt string, messages []protocol.SamplingMessage, maxTokens int) (*protocol.CreateMessageResult, error)

func (f SamplingBackendFunc) CreateMessage(ctx context.Context, model, systemPrompt string, messages []protocol.SamplingMessage, maxTokens int) (*protocol.CreateMessageResult, error) {
	return f(ctx, model, systemPrompt, messages, maxTokens)
}

// SamplingGuard approves or refuses a sampling request before it reaches
// the backend. Returning false or an error refuses the request; the error
// text, when present, is forwarded to the server as the refusal reason.
type SamplingGuard func(ctx context.Context, params *protocol.CreateMessageParams) (bool, error)

// ModelPreference resolves the model used for a sampling request. Exactly
// one of Literal or Resolve is set.
type ModelPreference struct {
	Literal string
	Resolve func(hints []protocol.ModelHint) (string, error)
}

// Model picks the model for the given hints.
func (p ModelPreference) Model(hints []protocol.ModelHint) (string, error) {
	if p.Resolve != nil {
		return p.Resolve(hints)
	}
	return p.Literal, nil
}

// AuthProvider mints authorization headers for HTTP transports and
// refreshes credentials after a 401.
type AuthProvider interface {
	Authorize(req *http.Request) error
	Refresh(ctx context.Context) (bool, error)
}

// SchemaValidator checks a value against a JSON schema.
type SchemaValidator interface {
	Validate(schema json.RawMessage, value interface{}) (bool, error)
}

// JSONSchemaValidator is the default SchemaValidator, backed by
// gojsonschema.
type JSONSchemaValidator struct{}

// Validate reports whether value conforms to schema.
func (JSONSchemaValidator) Validate(schema json.RawMessage, value interface{}) (bool, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(value),
	)
	if err != nil {
		return false, err
	}
	return result.Valid(), nil
}

// ElicitationResult is what an elicitation handler returns. Pending parks
// the request in the deferred registry until an external completion.
type ElicitationResult struct {
	Action  string
	Content map[string]interface{}
	Reason  string

	Pending bool
	// Timeout bounds a pending request; zero means no automatic cancel.
	Timeout time.Duration
}

// Accept builds an accepting result carrying the structured response.
func Accept(content map[string]interface{}) *ElicitationResult {
	return &ElicitationResult{Action: protocol.ElicitAccept, Content: content}
}

// Reject builds a refusal with an optional reason.
func Reject(reason string) *ElicitationResult {
	return &ElicitationResult{Action: protocol.ElicitReject, Reason: reason}
}

// Cancel builds a cancellation result.
func Cancel() *ElicitationResult {
	return &ElicitationResult{Action: protocol.ElicitCancel}
}

// Pending defers completion. The request stays in-flight until
// Complete/Cancel on the registry or the timeout fires.
func Pending(timeout time.Duration) *ElicitationResult {
	return &ElicitationResult{Pending: true, Timeout: timeout}
}

// ElicitationHandler produces a structured response for a server
// elicitation request.
type ElicitationHandler interface {
	Execute(ctx context.Context, params *protocol.ElicitParams) (*ElicitationResult, error)
}

// ElicitationHandlerFunc adapts a function to ElicitationHandler.
type ElicitationHandlerFunc func(ctx context.Context, params *protocol.ElicitParams) (*ElicitationResult, error)

func (f ElicitationHandlerFunc) Execute(ctx context.Context, params *protocol.ElicitParams) (*ElicitationResult, error) {
	return f(ctx, params)
}
