package sseevent

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerSingleEvent(t *testing.T) {
	s := NewScanner(strings.NewReader("event: endpoint\ndata: /message?sessionId=abc\n\n"))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "endpoint", ev.Name)
	assert.Equal(t, "/message?sessionId=abc", ev.Data)
}

func TestScannerDefaultsToMessage(t *testing.T) {
	s := NewScanner(strings.NewReader("data: {\"jsonrpc\":\"2.0\"}\n\n"))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Name)
}

func TestScannerMultiLineData(t *testing.T) {
	s := NewScanner(strings.NewReader("data: line1\ndata: line2\ndata: line3\n\n"))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\nline3", ev.Data)
}

func TestScannerMultipleEvents(t *testing.T) {
	payload := "id: 1\ndata: first\n\nid: 2\ndata: second\n\n"
	s := NewScanner(strings.NewReader(payload))

	ev1, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "1", ev1.ID)
	assert.Equal(t, "first", ev1.Data)

	ev2, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "2", ev2.ID)
	assert.Equal(t, "second", ev2.Data)

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestScannerDiscardsDatalessEvents(t *testing.T) {
	payload := "event: keepalive\n\ndata: real\n\n"
	s := NewScanner(strings.NewReader(payload))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "real", ev.Data)
}

func TestScannerIgnoresComments(t *testing.T) {
	payload := ":ping\n\ndata: after-ping\n\n"
	s := NewScanner(strings.NewReader(payload))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "after-ping", ev.Data)
}

func TestScannerHandlesCRLF(t *testing.T) {
	payload := "data: windows\r\n\r\n"
	s := NewScanner(strings.NewReader(payload))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "windows", ev.Data)
}

func TestScannerNoSpaceAfterColon(t *testing.T) {
	s := NewScanner(strings.NewReader("data:compact\n\n"))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "compact", ev.Data)
}
