package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/mcp-client/internal/hooks"
	"github.com/zmcp/mcp-client/internal/protocol"
)

// replyRecorder captures every response frame the dispatcher emits.
type replyRecorder struct {
	mu     sync.Mutex
	frames []*protocol.Message
}

func (r *replyRecorder) reply(msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, msg)
	return nil
}

func (r *replyRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *replyRecorder) last() *protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

func (r *replyRecorder) waitFor(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count() >= n }, time.Second, 5*time.Millisecond)
}

func request(id, method string, params interface{}) *protocol.Message {
	msg := &protocol.Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage(id),
		Method:  method,
	}
	if params != nil {
		data, _ := json.Marshal(params)
		msg.Params = data
	}
	return msg
}

func TestPingRepliesEmptyResult(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	d.Handle(context.Background(), request("1", protocol.MethodPing, nil))

	require.Equal(t, 1, rec.count())
	resp := rec.last()
	assert.Equal(t, json.RawMessage("1"), resp.ID)
	assert.Equal(t, "{}", string(resp.Result))
	assert.Nil(t, resp.Error)
}

func TestUnknownMethodIsMethodNotFound(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	d.Handle(context.Background(), request("7", "bogus/method", nil))

	resp := rec.last()
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
}

func TestRootsList(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		rec := &replyRecorder{}
		d := NewDispatcher(rec.reply, nil)

		d.Handle(context.Background(), request("1", protocol.MethodRootsList, nil))

		resp := rec.last()
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.CodeServerError, resp.Error.Code)
		assert.Equal(t, "Roots are not enabled", resp.Error.Message)
	})

	t.Run("enabled", func(t *testing.T) {
		rec := &replyRecorder{}
		d := NewDispatcher(rec.reply, nil)
		d.SetRoots([]protocol.Root{{URI: "file:///work", Name: "work"}})

		d.Handle(context.Background(), request("1", protocol.MethodRootsList, nil))

		resp := rec.last()
		require.Nil(t, resp.Error)
		var result protocol.ListRootsResult
		require.NoError(t, json.Unmarshal(resp.Result, &result))
		require.Len(t, result.Roots, 1)
		assert.Equal(t, "file:///work", result.Roots[0].URI)
	})
}

func TestSamplingDisabled(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	d.Handle(context.Background(), request("1", protocol.MethodSamplingCreate, protocol.CreateMessageParams{}))

	resp := rec.last()
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeServerError, resp.Error.Code)
	assert.Equal(t, "Sampling is disabled", resp.Error.Message)
}

func TestSamplingFlow(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	var gotModel, gotSystem string
	var gotMax int
	backend := hooks.SamplingBackendFunc(func(_ context.Context, model, systemPrompt string, messages []protocol.SamplingMessage, maxTokens int) (*protocol.CreateMessageResult, error) {
		gotModel, gotSystem, gotMax = model, systemPrompt, maxTokens
		return &protocol.CreateMessageResult{
			Content: protocol.Content{Type: "text", Text: "hello"},
		}, nil
	})
	d.SetSampling(SamplingConfig{
		Enabled: true,
		Backend: backend,
		Preferred: hooks.ModelPreference{
			Resolve: func(hints []protocol.ModelHint) (string, error) {
				require.Len(t, hints, 1)
				return "resolved-" + hints[0].Name, nil
			},
		},
	})

	params := protocol.CreateMessageParams{
		Messages:     []protocol.SamplingMessage{{Role: "user", Content: protocol.Content{Type: "text", Text: "hi"}}},
		SystemPrompt: "be brief",
		MaxTokens:    64,
		ModelPreferences: &protocol.ModelPreferences{
			Hints: []protocol.ModelHint{{Name: "fast"}},
		},
	}
	d.Handle(context.Background(), request("5", protocol.MethodSamplingCreate, params))

	resp := rec.last()
	require.Nil(t, resp.Error)
	assert.Equal(t, "resolved-fast", gotModel)
	assert.Equal(t, "be brief", gotSystem)
	assert.Equal(t, 64, gotMax)

	var result protocol.CreateMessageResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "hello", result.Content.Text)
	assert.Equal(t, "assistant", result.Role)
	assert.Equal(t, "resolved-fast", result.Model)
}

func TestSamplingGuardRefusal(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)
	d.SetSampling(SamplingConfig{
		Enabled: true,
		Backend: hooks.SamplingBackendFunc(func(context.Context, string, string, []protocol.SamplingMessage, int) (*protocol.CreateMessageResult, error) {
			t.Fatal("backend must not run when the guard refuses")
			return nil, nil
		}),
		Guard: func(context.Context, *protocol.CreateMessageParams) (bool, error) {
			return false, errors.New("operator said no")
		},
	})

	d.Handle(context.Background(), request("1", protocol.MethodSamplingCreate, protocol.CreateMessageParams{}))

	resp := rec.last()
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeServerError, resp.Error.Code)
	assert.Equal(t, "operator said no", resp.Error.Message)
}

func TestSamplingBackendFailure(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)
	d.SetSampling(SamplingConfig{
		Enabled: true,
		Backend: hooks.SamplingBackendFunc(func(context.Context, string, string, []protocol.SamplingMessage, int) (*protocol.CreateMessageResult, error) {
			return nil, errors.New("model unavailable")
		}),
	})

	d.Handle(context.Background(), request("1", protocol.MethodSamplingCreate, protocol.CreateMessageParams{}))

	resp := rec.last()
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInternalError, resp.Error.Code)
}

var confirmSchema = json.RawMessage(`{
	"type": "object",
	"required": ["confirmed"],
	"properties": {"confirmed": {"type": "boolean"}}
}`)

func elicitRequest(id string) *protocol.Message {
	return request(id, protocol.MethodElicitationCreate, map[string]interface{}{
		"message":         "confirm?",
		"requestedSchema": confirmSchema,
	})
}

func elicitResultOf(t *testing.T, resp *protocol.Message) protocol.ElicitResult {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	var result protocol.ElicitResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return result
}

func TestElicitationAccept(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)
	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(_ context.Context, params *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		assert.Equal(t, "confirm?", params.Message)
		return hooks.Accept(map[string]interface{}{"confirmed": true}), nil
	}))

	d.Handle(context.Background(), elicitRequest("1"))

	result := elicitResultOf(t, rec.last())
	assert.Equal(t, protocol.ElicitAccept, result.Action)
	assert.Equal(t, true, result.Content["confirmed"])
}

func TestElicitationAcceptInvalidContentCancels(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)
	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(context.Context, *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		return hooks.Accept(map[string]interface{}{"confirmed": "yes"}), nil // wrong type
	}))

	d.Handle(context.Background(), elicitRequest("1"))

	result := elicitResultOf(t, rec.last())
	assert.Equal(t, protocol.ElicitCancel, result.Action)
}

func TestElicitationReject(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)
	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(context.Context, *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		return hooks.Reject("not today"), nil
	}))

	d.Handle(context.Background(), elicitRequest("1"))

	result := elicitResultOf(t, rec.last())
	assert.Equal(t, protocol.ElicitReject, result.Action)
	assert.Equal(t, "not today", result.Reason)
}

func TestElicitationHandlerErrorCancels(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)
	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(context.Context, *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		return nil, errors.New("ui crashed")
	}))

	d.Handle(context.Background(), elicitRequest("1"))

	result := elicitResultOf(t, rec.last())
	assert.Equal(t, protocol.ElicitCancel, result.Action)
}

func TestDeferredElicitationComplete(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	var requestID string
	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(_ context.Context, params *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		requestID = params.RequestID
		return hooks.Pending(0), nil
	}))

	d.Handle(context.Background(), elicitRequest("9"))
	assert.Equal(t, 0, rec.count(), "no reply while deferred")
	assert.Equal(t, 1, d.Deferred().Len())

	// External completion 100ms later.
	time.AfterFunc(100*time.Millisecond, func() {
		_ = d.Deferred().Complete(requestID, map[string]interface{}{"confirmed": true})
	})

	rec.waitFor(t, 1)
	result := elicitResultOf(t, rec.last())
	assert.Equal(t, protocol.ElicitAccept, result.Action)
	assert.Equal(t, true, result.Content["confirmed"])
	assert.Equal(t, 0, d.Deferred().Len())
	assert.Equal(t, 1, rec.count(), "exactly one response frame")

	// Completing again is an error, not a second frame.
	assert.Error(t, d.Deferred().Complete(requestID, nil))
	assert.Equal(t, 1, rec.count())
}

func TestDeferredElicitationCompleteInvalidCancels(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	var requestID string
	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(_ context.Context, params *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		requestID = params.RequestID
		return hooks.Pending(0), nil
	}))
	d.Handle(context.Background(), elicitRequest("3"))

	require.NoError(t, d.Deferred().Complete(requestID, map[string]interface{}{"confirmed": 42}))

	rec.waitFor(t, 1)
	result := elicitResultOf(t, rec.last())
	assert.Equal(t, protocol.ElicitCancel, result.Action)
	assert.Equal(t, 0, d.Deferred().Len())
}

func TestDeferredElicitationCancel(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	var requestID string
	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(_ context.Context, params *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		requestID = params.RequestID
		return hooks.Pending(0), nil
	}))
	d.Handle(context.Background(), elicitRequest("4"))

	require.NoError(t, d.Deferred().Cancel(requestID, "user dismissed"))

	rec.waitFor(t, 1)
	result := elicitResultOf(t, rec.last())
	assert.Equal(t, protocol.ElicitCancel, result.Action)
	assert.Equal(t, "user dismissed", result.Reason)
	assert.Equal(t, 0, d.Deferred().Len())
}

func TestDeferredElicitationTimeout(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(context.Context, *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		return hooks.Pending(50 * time.Millisecond), nil
	}))
	d.Handle(context.Background(), elicitRequest("5"))

	rec.waitFor(t, 1)
	result := elicitResultOf(t, rec.last())
	assert.Equal(t, protocol.ElicitCancel, result.Action)
	assert.Equal(t, 0, d.Deferred().Len())
}

func TestDeferredElicitationServerCancelDiscards(t *testing.T) {
	rec := &replyRecorder{}
	d := NewDispatcher(rec.reply, nil)

	var requestID string
	d.SetElicitationHandler(hooks.ElicitationHandlerFunc(func(_ context.Context, params *protocol.ElicitParams) (*hooks.ElicitationResult, error) {
		requestID = params.RequestID
		return hooks.Pending(0), nil
	}))
	d.Handle(context.Background(), elicitRequest("6"))

	// Server cancels its own request: no frame is sent, the registry
	// empties, and a late completion is discarded.
	d.Cancelled(json.RawMessage("6"))
	assert.Equal(t, 0, d.Deferred().Len())
	assert.Equal(t, 0, rec.count())

	assert.Error(t, d.Deferred().Complete(requestID, map[string]interface{}{"confirmed": true}))
	assert.Equal(t, 0, rec.count())
}
