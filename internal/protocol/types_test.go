package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerCapabilitiesUnmarshal(t *testing.T) {
	raw := `{
		"tools": {"listChanged": true},
		"resources": {"listChanged": false, "subscribe": true},
		"logging": {}
	}`

	var caps ServerCapabilities
	require.NoError(t, json.Unmarshal([]byte(raw), &caps))

	assert.True(t, caps.Tools)
	assert.True(t, caps.ToolsListChanged)
	assert.True(t, caps.Resources)
	assert.False(t, caps.ResourcesListChanged)
	assert.True(t, caps.ResourcesSubscribe)
	assert.False(t, caps.Prompts)
	assert.False(t, caps.Completions)
	assert.True(t, caps.Logging)
}

func TestInitializeResultParsing(t *testing.T) {
	raw := `{
		"protocolVersion": "2025-06-18",
		"capabilities": {"prompts": {"listChanged": true}},
		"serverInfo": {"name": "test-server", "version": "1.2.3"}
	}`

	var result InitializeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	assert.Equal(t, "2025-06-18", result.ProtocolVersion)
	assert.Equal(t, "test-server", result.ServerInfo.Name)
	assert.True(t, result.Capabilities.Prompts)
	assert.True(t, result.Capabilities.PromptsListChanged)
}

func TestLoggingLevelSevere(t *testing.T) {
	assert.True(t, LevelError.Severe(LevelWarning))
	assert.True(t, LevelWarning.Severe(LevelWarning))
	assert.False(t, LevelInfo.Severe(LevelWarning))
	assert.True(t, LevelDebug.Severe(LevelDebug))
	// Unknown severities are never dropped.
	assert.True(t, LoggingLevel("custom").Severe(LevelError))
}

func TestNegotiate(t *testing.T) {
	for _, v := range []string{Version20250618, Version20250326, Version20241105, Version20241007} {
		got, err := Negotiate(v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := Negotiate("1999-01-01")
	require.Error(t, err)
	var verr *UnsupportedProtocolVersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "1999-01-01", verr.Version)
}
