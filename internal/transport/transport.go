// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package transport defines the duplex frame channel the session
// coordinator drives. The three variants live in subpackages.
package transport

import (
	"context"
	"errors"

	"github.com/zmcp/mcp-client/internal/protocol"
)

// ErrClosed is returned by Send after Close or a terminal failure.
var ErrClosed = errors.New("transport closed")

// Transport moves JSON-RPC frames to and from the peer. Implementations
// guarantee that frames originating from the same peer write are delivered
// to Messages in order.
type Transport interface {
	// Start establishes the connection and any transport-level handshake.
	Start(ctx context.Context) error

	// Send enqueues a frame for delivery. It may block for the write but
	// never waits for a response.
	Send(ctx context.Context, msg *protocol.Message) error

	// Messages returns the inbound frame stream. The channel is closed
	// when the transport dies or is closed.
	Messages() <-chan *protocol.Message

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Alive reports whether the transport can still carry frames.
	Alive() bool
}

// Reconnection bounds the exponential backoff used by the HTTP transports.
type Reconnection struct {
	InitialInterval int `mapstructure:"initial_interval_ms"`
	MaxInterval     int `mapstructure:"max_interval_ms"`
	MaxRetries      int `mapstructure:"max_retries"`
}

// DefaultReconnection returns the backoff bounds used when the host does
// not configure any.
func DefaultReconnection() Reconnection {
	return Reconnection{
		InitialInterval: 500,
		MaxInterval:     30000,
		MaxRetries:      5,
	}
}
