// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package mcpclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/zmcp/mcp-client/internal/protocol"
)

// Catalog entities. Each value holds its wire definition plus a
// non-owning reference back to the client for invocation; entities must
// not outlive the client that produced them.

// Tool is an invocable server tool.
type Tool struct {
	def    protocol.Tool
	client *Client
}

// Name returns the tool's stable name.
func (t *Tool) Name() string { return t.def.Name }

// Description returns the tool's description.
func (t *Tool) Description() string { return t.def.Description }

// InputSchema returns the tool's input JSON schema.
func (t *Tool) InputSchema() json.RawMessage { return t.def.InputSchema }

// OutputSchema returns the tool's output JSON schema, if declared.
func (t *Tool) OutputSchema() json.RawMessage { return t.def.OutputSchema }

// ToolResult is the outcome of a tool call. Results always arrive as a
// structured value: content blocks plus the optional structured payload.
type ToolResult struct {
	Content           []Content
	StructuredContent json.RawMessage
}

// Text concatenates the text content blocks.
func (r *ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Execute calls the tool. A result flagged isError becomes an
// ExecutionError carrying the server's text.
func (t *Tool) Execute(ctx context.Context, args map[string]interface{}) (*ToolResult, error) {
	result, err := t.client.session.CallTool(ctx, t.def.Name, args)
	if err != nil {
		return nil, err
	}
	out := &ToolResult{
		Content:           result.Content,
		StructuredContent: result.StructuredContent,
	}
	if result.IsError {
		return nil, &protocol.ExecutionError{Tool: t.def.Name, Detail: out.Text()}
	}
	return out, nil
}

// Resource is a readable server resource.
type Resource struct {
	def    protocol.Resource
	client *Client
}

// Name returns the resource's stable name.
func (r *Resource) Name() string { return r.def.Name }

// URI returns the resource's URI.
func (r *Resource) URI() string { return r.def.URI }

// Description returns the resource's description.
func (r *Resource) Description() string { return r.def.Description }

// MimeType returns the resource's declared MIME type.
func (r *Resource) MimeType() string { return r.def.MimeType }

// Content returns the resource payload, fetched lazily on first use and
// cached until the server pushes resources/updated for this URI.
func (r *Resource) Content(ctx context.Context) ([]protocol.ResourceContents, error) {
	result, err := r.client.catalog.Content(ctx, r.def.URI)
	if err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// Subscribe watches this resource for updates. Requires the
// resources.subscribe capability.
func (r *Resource) Subscribe(ctx context.Context) error {
	return r.client.Subscribe(ctx, r.def.URI)
}

// Unsubscribe stops watching this resource.
func (r *Resource) Unsubscribe(ctx context.Context) error {
	return r.client.Unsubscribe(ctx, r.def.URI)
}

// ResourceTemplate is a parameterized resource.
type ResourceTemplate struct {
	def    protocol.ResourceTemplate
	client *Client
}

// Name returns the template's stable name.
func (t *ResourceTemplate) Name() string { return t.def.Name }

// URITemplate returns the raw URI template.
func (t *ResourceTemplate) URITemplate() string { return t.def.URITemplate }

// Description returns the template's description.
func (t *ResourceTemplate) Description() string { return t.def.Description }

// Expand substitutes simple {var} placeholders into the URI template.
func (t *ResourceTemplate) Expand(args map[string]string) string {
	uri := t.def.URITemplate
	for k, v := range args {
		uri = strings.ReplaceAll(uri, "{"+k+"}", v)
	}
	return uri
}

// Read expands the template and reads the resulting resource. Expanded
// reads are not cached: each call hits the server.
func (t *ResourceTemplate) Read(ctx context.Context, args map[string]string) ([]protocol.ResourceContents, error) {
	result, err := t.client.session.ReadResource(ctx, t.Expand(args))
	if err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// Prompt is an executable server prompt.
type Prompt struct {
	def    protocol.Prompt
	client *Client
}

// Name returns the prompt's stable name.
func (p *Prompt) Name() string { return p.def.Name }

// Description returns the prompt's description.
func (p *Prompt) Description() string { return p.def.Description }

// Arguments returns the prompt's declared arguments.
func (p *Prompt) Arguments() []protocol.PromptArgument { return p.def.Arguments }

// Execute renders the prompt with the given arguments.
func (p *Prompt) Execute(ctx context.Context, args map[string]string) (*PromptResult, error) {
	return p.client.session.GetPrompt(ctx, p.def.Name, args)
}
