// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package protocol

import "encoding/json"

// MCP method names used by the client.
const (
	MethodInitialize            = "initialize"
	MethodPing                  = "ping"
	MethodToolsList             = "tools/list"
	MethodToolsCall             = "tools/call"
	MethodResourcesList         = "resources/list"
	MethodResourcesRead         = "resources/read"
	MethodResourcesSubscribe    = "resources/subscribe"
	MethodResourcesUnsubscribe  = "resources/unsubscribe"
	MethodResourceTemplatesList = "resources/templates/list"
	MethodPromptsList           = "prompts/list"
	MethodPromptsGet            = "prompts/get"
	MethodCompletionComplete    = "completion/complete"
	MethodLoggingSetLevel       = "logging/setLevel"
	MethodRootsList             = "roots/list"
	MethodSamplingCreate        = "sampling/createMessage"
	MethodElicitationCreate     = "elicitation/create"

	NotificationInitialized          = "notifications/initialized"
	NotificationCancelled            = "notifications/cancelled"
	NotificationProgress             = "notifications/progress"
	NotificationMessage              = "notifications/message"
	NotificationToolsChanged         = "notifications/tools/list_changed"
	NotificationResourcesChanged     = "notifications/resources/list_changed"
	NotificationTemplatesChanged     = "notifications/resource_templates/list_changed"
	NotificationPromptsChanged       = "notifications/prompts/list_changed"
	NotificationResourceUpdated      = "notifications/resources/updated"
	NotificationRootsChanged         = "notifications/roots/list_changed"
)

// Implementation identifies a client or server program.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is what the client advertises at initialize time.
type ClientCapabilities struct {
	Roots       *RootsCapability `json:"roots,omitempty"`
	Sampling    *struct{}        `json:"sampling,omitempty"`
	Elicitation *struct{}        `json:"elicitation,omitempty"`
}

// RootsCapability advertises roots support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// serverCapabilitiesWire mirrors the capabilities object of the initialize
// response.
type serverCapabilitiesWire struct {
	Tools *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
	Resources *struct {
		ListChanged bool `json:"listChanged"`
		Subscribe   bool `json:"subscribe"`
	} `json:"resources,omitempty"`
	Prompts *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"prompts,omitempty"`
	Completions *struct{} `json:"completions,omitempty"`
	Logging     *struct{} `json:"logging,omitempty"`
}

// ServerCapabilities is the immutable snapshot parsed from the initialize
// response.
type ServerCapabilities struct {
	Tools                bool
	ToolsListChanged     bool
	Resources            bool
	ResourcesListChanged bool
	ResourcesSubscribe   bool
	Prompts              bool
	PromptsListChanged   bool
	Completions          bool
	Logging              bool
}

// UnmarshalJSON flattens the wire capability object into booleans.
func (c *ServerCapabilities) UnmarshalJSON(data []byte) error {
	var wire serverCapabilitiesWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = ServerCapabilities{}
	if wire.Tools != nil {
		c.Tools = true
		c.ToolsListChanged = wire.Tools.ListChanged
	}
	if wire.Resources != nil {
		c.Resources = true
		c.ResourcesListChanged = wire.Resources.ListChanged
		c.ResourcesSubscribe = wire.Resources.Subscribe
	}
	if wire.Prompts != nil {
		c.Prompts = true
		c.PromptsListChanged = wire.Prompts.ListChanged
	}
	c.Completions = wire.Completions != nil
	c.Logging = wire.Logging != nil
	return nil
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the payload of the initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Tool is a server-exposed tool definition.
type Tool struct {
	Name         string          `json:"name"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// Resource is a server-exposed resource definition.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate is a parameterized resource definition.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PromptArgument describes one argument of a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a server-exposed prompt definition.
type Prompt struct {
	Name        string           `json:"name"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// Content is one element of a tool or prompt result, tagged by Type.
type Content struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// CallToolParams is the payload of tools/call.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Meta      *RequestMeta           `json:"_meta,omitempty"`
}

// RequestMeta carries the progress token for long-running calls.
type RequestMeta struct {
	ProgressToken string `json:"progressToken,omitempty"`
}

// CallToolResult is the payload of a tools/call response.
type CallToolResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// ResourceContents is one body of a resources/read response.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the payload of a resources/read response.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// PromptMessage is one message of a prompts/get response.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult is the payload of a prompts/get response.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// CompleteParams is the payload of completion/complete.
type CompleteParams struct {
	Ref      map[string]interface{} `json:"ref"`
	Argument struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"argument"`
}

// CompleteResult is the payload of a completion/complete response.
type CompleteResult struct {
	Completion struct {
		Values  []string `json:"values"`
		Total   *int     `json:"total,omitempty"`
		HasMore bool     `json:"hasMore,omitempty"`
	} `json:"completion"`
}

// Paged list payloads. Cursor is repeated until nextCursor is absent.

type ListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	NextCursor        string             `json:"nextCursor,omitempty"`
}

type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// Root is a filesystem path or URI the host advertises as accessible.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// ListRootsResult is the reply to a roots/list request.
type ListRootsResult struct {
	Roots []Root `json:"roots"`
}

// SamplingMessage is one conversation turn of a sampling request.
type SamplingMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// ModelHint names a model family the server prefers.
type ModelHint struct {
	Name string `json:"name"`
}

// ModelPreferences weights the host's model selection.
type ModelPreferences struct {
	Hints                []ModelHint `json:"hints,omitempty"`
	CostPriority         float64     `json:"costPriority,omitempty"`
	SpeedPriority        float64     `json:"speedPriority,omitempty"`
	IntelligencePriority float64     `json:"intelligencePriority,omitempty"`
}

// CreateMessageParams is the payload of sampling/createMessage.
type CreateMessageParams struct {
	Messages         []SamplingMessage `json:"messages"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
}

// CreateMessageResult is the reply to sampling/createMessage.
type CreateMessageResult struct {
	Role       string  `json:"role"`
	Content    Content `json:"content"`
	Model      string  `json:"model,omitempty"`
	StopReason string  `json:"stopReason,omitempty"`
}

// ElicitParams is the payload of elicitation/create. RequestID is filled
// in by the dispatcher before the handler runs; it is the token a host
// passes back to complete a deferred request.
type ElicitParams struct {
	Message         string          `json:"message,omitempty"`
	RequestedSchema json.RawMessage `json:"requestedSchema"`
	RequestID       string          `json:"-"`
}

// ElicitResult is the reply to elicitation/create.
type ElicitResult struct {
	Action  string                 `json:"action"`
	Content map[string]interface{} `json:"content,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
}

// Elicitation actions.
const (
	ElicitAccept = "accept"
	ElicitReject = "reject"
	ElicitCancel = "cancel"
)

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
	Reason    string          `json:"reason,omitempty"`
}

// ProgressParams is the payload of notifications/progress.
type ProgressParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// ResourceUpdatedParams is the payload of notifications/resources/updated.
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}

// SubscribeParams is the payload of resources/subscribe and unsubscribe.
type SubscribeParams struct {
	URI string `json:"uri"`
}

// LoggingMessageParams is the payload of notifications/message.
type LoggingMessageParams struct {
	Level  LoggingLevel    `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SetLevelParams is the payload of logging/setLevel.
type SetLevelParams struct {
	Level LoggingLevel `json:"level"`
}

// LoggingLevel is an RFC 5424 severity keyword.
type LoggingLevel string

const (
	LevelDebug     LoggingLevel = "debug"
	LevelInfo      LoggingLevel = "info"
	LevelNotice    LoggingLevel = "notice"
	LevelWarning   LoggingLevel = "warning"
	LevelError     LoggingLevel = "error"
	LevelCritical  LoggingLevel = "critical"
	LevelAlert     LoggingLevel = "alert"
	LevelEmergency LoggingLevel = "emergency"
)

var levelRank = map[LoggingLevel]int{
	LevelDebug:     0,
	LevelInfo:      1,
	LevelNotice:    2,
	LevelWarning:   3,
	LevelError:     4,
	LevelCritical:  5,
	LevelAlert:     6,
	LevelEmergency: 7,
}

// Severe reports whether l is at or above the min threshold. Unknown
// levels pass so that new severities are never silently dropped.
func (l LoggingLevel) Severe(min LoggingLevel) bool {
	lr, ok := levelRank[l]
	if !ok {
		return true
	}
	mr, ok := levelRank[min]
	if !ok {
		return true
	}
	return lr >= mr
}
