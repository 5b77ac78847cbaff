package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/mcp-client/internal/protocol"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing transport",
			cfg:     Config{},
			wantErr: "transport_type is required",
		},
		{
			name:    "unknown transport",
			cfg:     Config{TransportType: "carrier-pigeon"},
			wantErr: "unknown transport_type",
		},
		{
			name:    "stdio without command",
			cfg:     Config{TransportType: TransportStdio},
			wantErr: "requires a command",
		},
		{
			name:    "sse without url",
			cfg:     Config{TransportType: TransportSSE},
			wantErr: "requires a url",
		},
		{
			name:    "streamable without url",
			cfg:     Config{TransportType: TransportStreamable},
			wantErr: "requires a url",
		},
		{
			name:    "oauth without url",
			cfg:     Config{TransportType: TransportStdio, Command: "server", OAuth: &fakeAuth{}},
			wantErr: "oauth requires a url",
		},
		{
			name:    "bad protocol version",
			cfg:     Config{TransportType: TransportStdio, Command: "server", ProtocolVersion: "2001-01-01"},
			wantErr: "unsupported protocol_version",
		},
		{
			name:    "session id on stdio",
			cfg:     Config{TransportType: TransportStdio, Command: "server", SessionID: "s"},
			wantErr: "session_id",
		},
		{
			name:    "bad logging level",
			cfg:     Config{TransportType: TransportStdio, Command: "server", LoggingLevel: "loud"},
			wantErr: "unknown logging_level",
		},
		{
			name: "valid stdio",
			cfg:  Config{TransportType: TransportStdio, Command: "server"},
		},
		{
			name: "valid streamable",
			cfg:  Config{TransportType: TransportStreamable, URL: "http://localhost:9000/mcp", SessionID: "s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ce *protocol.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type fakeAuth struct{}

func (fakeAuth) Authorize(*http.Request) error         { return nil }
func (fakeAuth) Refresh(context.Context) (bool, error) { return false, nil }

// mathServer is a scripted streamable-HTTP MCP server exposing one "add"
// tool, used for the end-to-end facade tests.
type mathServer struct {
	t  *testing.T
	ts *httptest.Server

	mu        sync.Mutex
	listCalls int
	pages     bool // serve tools/list in three pages
}

func newMathServer(t *testing.T) *mathServer {
	s := &mathServer{t: t}
	s.ts = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.ts.Close)
	return s
}

var addTool = protocol.Tool{
	Name: "add",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {"a": {"type": "integer"}, "b": {"type": "integer"}},
		"required": ["a", "b"]
	}`),
}

func (s *mathServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, _ := io.ReadAll(r.Body)
	msg, err := protocol.Decode(body)
	require.NoError(s.t, err)

	w.Header().Set("Mcp-Session-Id", "math-1")
	if msg.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var reply *protocol.Message
	switch msg.Method {
	case "initialize":
		reply, _ = protocol.NewResponse(msg.ID, map[string]interface{}{
			"protocolVersion": protocol.DefaultVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{"listChanged": true},
			},
			"serverInfo": map[string]interface{}{"name": "math", "version": "1.0"},
		})
	case "tools/list":
		s.mu.Lock()
		s.listCalls++
		pages := s.pages
		s.mu.Unlock()
		if pages {
			reply = s.pagedList(msg)
		} else {
			reply, _ = protocol.NewResponse(msg.ID, protocol.ListToolsResult{Tools: []protocol.Tool{addTool}})
		}
	case "tools/call":
		var params protocol.CallToolParams
		require.NoError(s.t, json.Unmarshal(msg.Params, &params))
		require.Equal(s.t, "add", params.Name)
		a := params.Arguments["a"].(float64)
		b := params.Arguments["b"].(float64)
		reply, _ = protocol.NewResponse(msg.ID, protocol.CallToolResult{
			Content: []protocol.Content{{Type: "text", Text: fmt.Sprintf("%d", int(a+b))}},
		})
	case "ping":
		reply, _ = protocol.NewResponse(msg.ID, struct{}{})
	default:
		reply = protocol.NewErrorResponse(msg.ID, protocol.CodeMethodNotFound, "Method not found", msg.Method)
	}

	data, _ := reply.Encode()
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// pagedList serves [A], [B], [C] across three cursors.
func (s *mathServer) pagedList(msg *protocol.Message) *protocol.Message {
	var params protocol.ListParams
	if len(msg.Params) > 0 {
		_ = json.Unmarshal(msg.Params, &params)
	}
	var result protocol.ListToolsResult
	switch params.Cursor {
	case "":
		result = protocol.ListToolsResult{Tools: []protocol.Tool{{Name: "A"}}, NextCursor: "c1"}
	case "c1":
		result = protocol.ListToolsResult{Tools: []protocol.Tool{{Name: "B"}}, NextCursor: "c2"}
	case "c2":
		result = protocol.ListToolsResult{Tools: []protocol.Tool{{Name: "C"}}}
	}
	reply, _ := protocol.NewResponse(msg.ID, result)
	return reply
}

func (s *mathServer) lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func newMathClient(t *testing.T, srv *mathServer) *Client {
	t.Helper()
	c, err := New(Config{
		TransportType: TransportStreamable,
		URL:           srv.ts.URL,
		Name:          "test-host",
		Version:       "0.0.1",
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func TestArithmeticToolEndToEnd(t *testing.T) {
	srv := newMathServer(t)
	c := newMathClient(t, srv)

	assert.True(t, c.Alive())
	assert.True(t, c.Ping(context.Background()))
	assert.Equal(t, "math", c.ServerInfo().Name)
	assert.True(t, c.ServerCapabilities().Tools)

	tools, err := c.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "add", tools[0].Name())
	assert.Contains(t, string(tools[0].InputSchema()), `"required":["a","b"]`)

	result, err := tools[0].Execute(context.Background(), map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "3", result.Text())
}

func TestToolsAreCachedAcrossCalls(t *testing.T) {
	srv := newMathServer(t)
	c := newMathClient(t, srv)

	_, err := c.Tools(context.Background())
	require.NoError(t, err)
	_, err = c.Tools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.lists(), "second read must be served from cache")

	_, err = c.RefreshTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, srv.lists())

	c.ResetTools()
	_, err = c.Tools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, srv.lists())
}

func TestFacadePagination(t *testing.T) {
	srv := newMathServer(t)
	srv.pages = true
	c := newMathClient(t, srv)

	tools, err := c.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, "A", tools[0].Name())
	assert.Equal(t, "B", tools[1].Name())
	assert.Equal(t, "C", tools[2].Name())
	assert.Equal(t, 3, srv.lists(), "one logical read, three wire requests")

	// Still one logical read: the merged pages are cached.
	_, err = c.Tools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, srv.lists())
}

func TestToolLookupMiss(t *testing.T) {
	srv := newMathServer(t)
	c := newMathClient(t, srv)

	tool, err := c.Tool(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, tool)
}

func TestExecutionErrorSurfaced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		msg, _ := protocol.Decode(body)
		if msg.IsNotification() {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		var reply *protocol.Message
		switch msg.Method {
		case "initialize":
			reply, _ = protocol.NewResponse(msg.ID, map[string]interface{}{
				"protocolVersion": protocol.DefaultVersion,
				"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
				"serverInfo":      map[string]interface{}{"name": "err", "version": "0"},
			})
		case "tools/list":
			reply, _ = protocol.NewResponse(msg.ID, protocol.ListToolsResult{Tools: []protocol.Tool{{Name: "boom"}}})
		case "tools/call":
			reply, _ = protocol.NewResponse(msg.ID, protocol.CallToolResult{
				Content: []protocol.Content{{Type: "text", Text: "disk full"}},
				IsError: true,
			})
		}
		data, _ := reply.Encode()
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	defer ts.Close()

	c, err := New(Config{TransportType: TransportStreamable, URL: ts.URL})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	tool, err := c.Tool(context.Background(), "boom")
	require.NoError(t, err)
	require.NotNil(t, tool)

	_, err = tool.Execute(context.Background(), nil)
	var ee *protocol.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, err.Error(), "Tool execution error: disk full")
}

func TestDeferredElicitationEndToEnd(t *testing.T) {
	// The server cannot push over this scripted transport, so the
	// elicitation flow is driven through the dispatcher directly;
	// the facade still owns completion.
	srv := newMathServer(t)
	c := newMathClient(t, srv)

	var requestID string
	done := make(chan struct{})
	c.OnElicitationFunc(func(_ context.Context, params *ElicitParams) (*ElicitationResult, error) {
		requestID = params.RequestID
		close(done)
		return ElicitPending(0), nil
	})

	go c.session.Inbound().Handle(context.Background(), &protocol.Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage("41"),
		Method:  protocol.MethodElicitationCreate,
		Params: json.RawMessage(`{"requestedSchema":{
			"type":"object","required":["confirmed"],
			"properties":{"confirmed":{"type":"boolean"}}}}`),
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("elicitation handler not invoked")
	}
	require.Eventually(t, func() bool {
		return c.PendingElicitations() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.CompleteElicitation(requestID, map[string]interface{}{"confirmed": true}))
	assert.Equal(t, 0, c.PendingElicitations())
	assert.Error(t, c.CompleteElicitation(requestID, nil), "second completion must fail")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, TransportStdio, cfg.TransportType)
	assert.Equal(t, 8000, cfg.RequestTimeout)
	assert.Equal(t, protocol.DefaultVersion, cfg.ProtocolVersion)
}
