// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package sse implements the HTTP+SSE transport: a long-lived GET stream
// for inbound frames and POSTs to the server-announced endpoint for
// outbound ones.
package sse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/hooks"
	"github.com/zmcp/mcp-client/internal/protocol"
	"github.com/zmcp/mcp-client/internal/transport"
	"github.com/zmcp/mcp-client/internal/transport/sseevent"
)

// Options configures the SSE transport.
type Options struct {
	URL             string
	Headers         map[string]string
	Reconnection    transport.Reconnection
	ProtocolVersion string
	Auth            hooks.AuthProvider
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// Transport is the HTTP+SSE variant.
type Transport struct {
	opts   Options
	client *http.Client
	logger *zap.Logger

	msgs        chan *protocol.Message
	endpointURL atomic.Value // string, POST target once discovered
	endpointSet chan struct{}
	endpointOne sync.Once

	mu          sync.Mutex
	lastEventID string
	protoVer    atomic.Value // string

	ctx       context.Context
	cancel    context.CancelFunc
	alive     atomic.Bool
	closeOnce sync.Once
}

// New builds an SSE transport.
func New(opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		// No overall timeout: the GET stream stays open indefinitely.
		client = &http.Client{}
	}
	if opts.Reconnection == (transport.Reconnection{}) {
		opts.Reconnection = transport.DefaultReconnection()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		opts:        opts,
		client:      client,
		logger:      opts.Logger,
		msgs:        make(chan *protocol.Message, 64),
		endpointSet: make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	t.protoVer.Store(opts.ProtocolVersion)
	return t
}

// SetProtocolVersion records the negotiated version for subsequent request
// headers.
func (t *Transport) SetProtocolVersion(v string) {
	t.protoVer.Store(v)
}

// Start opens the event stream and waits for the endpoint announcement.
func (t *Transport) Start(ctx context.Context) error {
	t.alive.Store(true)
	go t.streamLoop()

	select {
	case <-t.endpointSet:
		return nil
	case <-ctx.Done():
		t.Close()
		return &protocol.TransportError{Op: "connect", Err: ctx.Err()}
	case <-t.ctx.Done():
		return &protocol.TransportError{Op: "connect", Err: fmt.Errorf("stream closed before endpoint event")}
	}
}

// Send POSTs one frame to the discovered endpoint.
func (t *Transport) Send(ctx context.Context, msg *protocol.Message) error {
	if !t.alive.Load() {
		return transport.ErrClosed
	}
	ep, _ := t.endpointURL.Load().(string)
	if ep == "" {
		return &protocol.TransportError{Op: "send", Err: fmt.Errorf("endpoint not yet announced")}
	}
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return t.post(ctx, ep, data, true)
}

// post delivers the payload, refreshing credentials once on 401.
func (t *Transport) post(ctx context.Context, ep string, data []byte, allowRefresh bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(data))
	if err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && allowRefresh && t.opts.Auth != nil {
		if ok, rerr := t.opts.Auth.Refresh(ctx); rerr == nil && ok {
			return t.post(ctx, ep, data, false)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &protocol.TransportError{
			Op:  "send",
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}
	return nil
}

// Messages returns the inbound frame stream.
func (t *Transport) Messages() <-chan *protocol.Message {
	return t.msgs
}

// Alive reports whether the transport can still carry frames.
func (t *Transport) Alive() bool {
	return t.alive.Load()
}

// Close stops the stream and releases the channel.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.alive.Store(false)
		t.cancel()
	})
	return nil
}

// streamLoop keeps the GET stream open, reconnecting with bounded
// exponential backoff and Last-Event-ID resume.
func (t *Transport) streamLoop() {
	defer close(t.msgs)
	// Unblocks a Start still waiting for the endpoint event when the
	// schedule is exhausted.
	defer t.cancel()

	rc := t.opts.Reconnection
	for {
		if t.ctx.Err() != nil {
			return
		}

		err := t.consumeStream()
		if t.ctx.Err() != nil {
			return
		}
		t.logger.Debug("sse stream ended, reconnecting", zap.Error(err))

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Duration(rc.InitialInterval) * time.Millisecond
		bo.MaxInterval = time.Duration(rc.MaxInterval) * time.Millisecond
		bo.Reset()

		reconnected := false
		for attempt := 0; rc.MaxRetries <= 0 || attempt < rc.MaxRetries; attempt++ {
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			if err := t.consumeStream(); err == nil || t.ctx.Err() != nil {
				if t.ctx.Err() != nil {
					return
				}
				// Stream ran and ended again; restart the schedule.
				reconnected = true
				break
			} else {
				t.logger.Debug("sse reconnect failed",
					zap.Int("attempt", attempt+1), zap.Error(err))
			}
		}
		if !reconnected {
			t.logger.Warn("sse reconnect attempts exhausted")
			t.alive.Store(false)
			return
		}
	}
}

// consumeStream opens one GET and pumps its events until it ends. A nil
// return means the stream was established and later closed by the peer.
func (t *Transport) consumeStream() error {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.opts.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	// Never set a Connection header: it is forbidden under HTTP/2.
	t.applyHeaders(req)
	t.mu.Lock()
	if t.lastEventID != "" {
		req.Header.Set("Last-Event-ID", t.lastEventID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	scanner := sseevent.NewScanner(resp.Body)
	for {
		ev, err := scanner.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if ev.ID != "" {
			t.mu.Lock()
			t.lastEventID = ev.ID
			t.mu.Unlock()
		}
		switch ev.Name {
		case "endpoint":
			t.setEndpoint(ev.Data)
		case "message":
			msg, err := protocol.Decode([]byte(ev.Data))
			if err != nil {
				t.logger.Warn("dropping unparseable frame", zap.Error(err))
				continue
			}
			select {
			case t.msgs <- msg:
			case <-t.ctx.Done():
				return nil
			}
		}
	}
}

// setEndpoint resolves the announced POST target against the stream URL.
func (t *Transport) setEndpoint(raw string) {
	base, err := url.Parse(t.opts.URL)
	if err != nil {
		t.logger.Warn("invalid base url", zap.Error(err))
		return
	}
	ref, err := url.Parse(raw)
	if err != nil {
		t.logger.Warn("invalid endpoint event", zap.String("data", raw), zap.Error(err))
		return
	}
	resolved := base.ResolveReference(ref).String()
	t.endpointURL.Store(resolved)
	t.endpointOne.Do(func() { close(t.endpointSet) })
	t.logger.Debug("sse endpoint announced", zap.String("url", resolved))
}

// applyHeaders adds configured headers, the negotiated protocol version,
// and authorization.
func (t *Transport) applyHeaders(req *http.Request) {
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}
	if v, _ := t.protoVer.Load().(string); v != "" {
		req.Header.Set("Mcp-Protocol-Version", v)
	}
	if t.opts.Auth != nil {
		if err := t.opts.Auth.Authorize(req); err != nil {
			t.logger.Warn("auth provider failed", zap.Error(err))
		}
	}
}
