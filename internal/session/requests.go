// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zmcp/mcp-client/internal/protocol"
)

// Typed request helpers. The list helpers follow nextCursor until the
// server stops returning one and hand back the merged result; a partial
// page set is never returned.

// ListTools fetches every page of tools/list.
func (s *Session) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var tools []protocol.Tool
	cursor := ""
	for {
		raw, err := s.Request(ctx, protocol.MethodToolsList, listParams(cursor))
		if err != nil {
			return nil, err
		}
		var page protocol.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse tools/list result: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// ListResources fetches every page of resources/list.
func (s *Session) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var resources []protocol.Resource
	cursor := ""
	for {
		raw, err := s.Request(ctx, protocol.MethodResourcesList, listParams(cursor))
		if err != nil {
			return nil, err
		}
		var page protocol.ListResourcesResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse resources/list result: %w", err)
		}
		resources = append(resources, page.Resources...)
		if page.NextCursor == "" {
			return resources, nil
		}
		cursor = page.NextCursor
	}
}

// ListResourceTemplates fetches every page of resources/templates/list.
func (s *Session) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	var templates []protocol.ResourceTemplate
	cursor := ""
	for {
		raw, err := s.Request(ctx, protocol.MethodResourceTemplatesList, listParams(cursor))
		if err != nil {
			return nil, err
		}
		var page protocol.ListResourceTemplatesResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse resources/templates/list result: %w", err)
		}
		templates = append(templates, page.ResourceTemplates...)
		if page.NextCursor == "" {
			return templates, nil
		}
		cursor = page.NextCursor
	}
}

// ListPrompts fetches every page of prompts/list.
func (s *Session) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	var prompts []protocol.Prompt
	cursor := ""
	for {
		raw, err := s.Request(ctx, protocol.MethodPromptsList, listParams(cursor))
		if err != nil {
			return nil, err
		}
		var page protocol.ListPromptsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse prompts/list result: %w", err)
		}
		prompts = append(prompts, page.Prompts...)
		if page.NextCursor == "" {
			return prompts, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes tools/call with a progress token so long-running tools
// can stream progress notifications.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	params := protocol.CallToolParams{
		Name:      name,
		Arguments: args,
		Meta:      progressMeta(),
	}
	raw, err := s.Request(ctx, protocol.MethodToolsCall, params)
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &result, nil
}

// ReadResource invokes resources/read.
func (s *Session) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	raw, err := s.Request(ctx, protocol.MethodResourcesRead, map[string]string{"uri": uri})
	if err != nil {
		return nil, err
	}
	var result protocol.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse resources/read result: %w", err)
	}
	return &result, nil
}

// GetPrompt invokes prompts/get.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	params := map[string]interface{}{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}
	raw, err := s.Request(ctx, protocol.MethodPromptsGet, params)
	if err != nil {
		return nil, err
	}
	var result protocol.GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse prompts/get result: %w", err)
	}
	return &result, nil
}

// Complete invokes completion/complete. The server must advertise the
// completions capability.
func (s *Session) Complete(ctx context.Context, params protocol.CompleteParams) (*protocol.CompleteResult, error) {
	if !s.Capabilities().Completions {
		return nil, &protocol.CapabilityError{Capability: "completions"}
	}
	raw, err := s.Request(ctx, protocol.MethodCompletionComplete, params)
	if err != nil {
		return nil, err
	}
	var result protocol.CompleteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse completion/complete result: %w", err)
	}
	return &result, nil
}

// SubscribeResource invokes resources/subscribe. The server must
// advertise resources.subscribe.
func (s *Session) SubscribeResource(ctx context.Context, uri string) error {
	if !s.Capabilities().ResourcesSubscribe {
		return &protocol.CapabilityError{Capability: "resources.subscribe"}
	}
	_, err := s.Request(ctx, protocol.MethodResourcesSubscribe, protocol.SubscribeParams{URI: uri})
	return err
}

// UnsubscribeResource invokes resources/unsubscribe.
func (s *Session) UnsubscribeResource(ctx context.Context, uri string) error {
	if !s.Capabilities().ResourcesSubscribe {
		return &protocol.CapabilityError{Capability: "resources.subscribe"}
	}
	_, err := s.Request(ctx, protocol.MethodResourcesUnsubscribe, protocol.SubscribeParams{URI: uri})
	return err
}

// SetLoggingLevel invokes logging/setLevel. The server must advertise the
// logging capability.
func (s *Session) SetLoggingLevel(ctx context.Context, level protocol.LoggingLevel) error {
	if !s.Capabilities().Logging {
		return &protocol.CapabilityError{Capability: "logging"}
	}
	_, err := s.Request(ctx, protocol.MethodLoggingSetLevel, protocol.SetLevelParams{Level: level})
	return err
}

// listParams builds cursor params, omitting the field on the first page.
func listParams(cursor string) interface{} {
	if cursor == "" {
		return struct{}{}
	}
	return protocol.ListParams{Cursor: cursor}
}
