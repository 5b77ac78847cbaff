package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		request      bool
		response     bool
		notification bool
	}{
		{
			name:    "request with integer id",
			raw:     `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			request: true,
		},
		{
			name:    "request with string id",
			raw:     `{"jsonrpc":"2.0","id":"x","method":"ping"}`,
			request: true,
		},
		{
			name:         "notification",
			raw:          `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`,
			notification: true,
		},
		{
			name:         "null id with method is a notification",
			raw:          `{"jsonrpc":"2.0","id":null,"method":"notifications/progress"}`,
			notification: true,
		},
		{
			name:     "response with result",
			raw:      `{"jsonrpc":"2.0","id":1,"result":{}}`,
			response: true,
		},
		{
			name:     "response with error",
			raw:      `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`,
			response: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.request, msg.IsRequest(), "IsRequest")
			assert.Equal(t, tt.response, msg.IsResponse(), "IsResponse")
			assert.Equal(t, tt.notification, msg.IsNotification(), "IsNotification")

			// The three classes are pairwise exclusive.
			count := 0
			for _, b := range []bool{msg.IsRequest(), msg.IsResponse(), msg.IsNotification()} {
				if b {
					count++
				}
			}
			assert.LessOrEqual(t, count, 1)
		})
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewRequest(t *testing.T) {
	msg, err := NewRequest(42, "tools/call", map[string]interface{}{"name": "add"})
	require.NoError(t, err)
	assert.Equal(t, "2.0", msg.JSONRPC)
	assert.Equal(t, json.RawMessage("42"), msg.ID)
	assert.True(t, msg.IsRequest())

	data, err := msg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"method":"tools/call"`)
}

func TestNewNotificationHasNoID(t *testing.T) {
	msg, err := NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	assert.Nil(t, msg.ID)
	assert.True(t, msg.IsNotification())

	data, err := msg.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"id"`)
}

func TestResponseEchoesRawID(t *testing.T) {
	resp, err := NewResponse(json.RawMessage(`"x"`), struct{}{})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"x"`), resp.ID)
	assert.True(t, resp.IsResponse())
}

func TestResponseNormalizesNullID(t *testing.T) {
	resp := NewErrorResponse(nil, CodeInternalError, "boom", nil)
	assert.Equal(t, json.RawMessage("0"), resp.ID)

	resp = NewErrorResponse(json.RawMessage("null"), CodeInternalError, "boom", nil)
	assert.Equal(t, json.RawMessage("0"), resp.ID)
}

func TestIDKey(t *testing.T) {
	assert.Equal(t, `1`, IDKey(json.RawMessage(`1`)))
	assert.Equal(t, `"x"`, IDKey(json.RawMessage(`"x"`)))
	assert.NotEqual(t, IDKey(json.RawMessage(`1`)), IDKey(json.RawMessage(`"1"`)))
}
