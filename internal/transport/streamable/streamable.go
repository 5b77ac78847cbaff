// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package streamable implements the streamable HTTP transport: every
// outbound frame is a POST to one URL, responses arrive either as plain
// JSON or as a per-request event stream, and a hanging GET carries
// server-initiated frames once a session id exists.
package streamable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
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

const sessionHeader = "Mcp-Session-Id"

// Options configures the streamable HTTP transport.
type Options struct {
	URL             string
	Headers         map[string]string
	Reconnection    transport.Reconnection
	ProtocolVersion string
	// SessionID resumes a prior session when set.
	SessionID  string
	Auth       hooks.AuthProvider
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Transport is the streamable HTTP variant.
type Transport struct {
	opts   Options
	client *http.Client
	logger *zap.Logger

	msgs      chan *protocol.Message
	sessionID atomic.Value // string
	protoVer  atomic.Value // string

	mu          sync.Mutex
	lastEventID string
	getStarted  bool

	ctx       context.Context
	cancel    context.CancelFunc
	alive     atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a streamable HTTP transport.
func New(opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if opts.Reconnection == (transport.Reconnection{}) {
		opts.Reconnection = transport.DefaultReconnection()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		opts:   opts,
		client: client,
		logger: opts.Logger,
		msgs:   make(chan *protocol.Message, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	t.sessionID.Store(opts.SessionID)
	t.protoVer.Store(opts.ProtocolVersion)
	return t
}

// SessionID returns the server-assigned session id, if any.
func (t *Transport) SessionID() string {
	v, _ := t.sessionID.Load().(string)
	return v
}

// SetProtocolVersion records the negotiated version for subsequent request
// headers.
func (t *Transport) SetProtocolVersion(v string) {
	t.protoVer.Store(v)
}

// Start marks the transport ready. The connection itself is established
// lazily by the first POST; the server assigns the session id there.
func (t *Transport) Start(_ context.Context) error {
	t.alive.Store(true)
	if t.SessionID() != "" {
		t.ensureGetStream()
	}
	return nil
}

// Send POSTs one frame. The response body may carry zero frames (202), a
// single JSON frame, or an event stream that is drained concurrently.
func (t *Transport) Send(ctx context.Context, msg *protocol.Message) error {
	if !t.alive.Load() {
		return transport.ErrClosed
	}
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return t.post(ctx, data, true)
}

func (t *Transport) post(ctx context.Context, data []byte, allowRefresh bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.URL, bytes.NewReader(data))
	if err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized && allowRefresh && t.opts.Auth != nil {
		resp.Body.Close()
		if ok, rerr := t.opts.Auth.Refresh(ctx); rerr == nil && ok {
			return t.post(ctx, data, false)
		}
		return &protocol.TransportError{Op: "send", Err: fmt.Errorf("unauthorized")}
	}

	if resp.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if strings.Contains(strings.ToLower(string(body)), "session") {
			return protocol.ErrSessionExpired
		}
		return &protocol.TransportError{Op: "send", Err: fmt.Errorf("status 404: %s", bytes.TrimSpace(body))}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return &protocol.TransportError{
			Op:  "send",
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}

	if sid := resp.Header.Get(sessionHeader); sid != "" && sid != t.SessionID() {
		t.sessionID.Store(sid)
		t.ensureGetStream()
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		resp.Body.Close()
	case ct == "text/event-stream":
		// Per-request stream: responses and related frames arrive as
		// events until the server closes it.
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer resp.Body.Close()
			t.pumpEvents(resp.Body, false)
		}()
	case ct == "application/json":
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &protocol.TransportError{Op: "read response", Err: err}
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		frame, err := protocol.Decode(body)
		if err != nil {
			t.logger.Warn("dropping unparseable frame", zap.Error(err))
			return nil
		}
		t.deliver(frame)
	default:
		resp.Body.Close()
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

// Close terminates the logical session with a best-effort DELETE.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.alive.Store(false)
		t.cancel()
		if sid := t.SessionID(); sid != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.opts.URL, nil)
			if err == nil {
				req.Header.Set(sessionHeader, sid)
				if resp, err := t.client.Do(req); err == nil {
					resp.Body.Close()
				}
			}
		}
		t.wg.Wait()
		close(t.msgs)
	})
	return nil
}

// ensureGetStream starts the hanging GET loop once.
func (t *Transport) ensureGetStream() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.getStarted {
		return
	}
	t.getStarted = true
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.getLoop()
	}()
}

// getLoop maintains the hanging GET stream for server-initiated frames,
// reconnecting with bounded backoff. A 405 means the server offers no
// stream; the loop stops quietly.
func (t *Transport) getLoop() {
	rc := t.opts.Reconnection
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(rc.InitialInterval) * time.Millisecond
	bo.MaxInterval = time.Duration(rc.MaxInterval) * time.Millisecond

	attempts := 0
	for {
		if t.ctx.Err() != nil {
			return
		}
		err := t.hangingGet()
		if t.ctx.Err() != nil {
			return
		}
		if err == errNoStream {
			t.logger.Debug("server does not offer a GET stream")
			return
		}
		if err == nil {
			// Stream ended after being established; reset the schedule.
			attempts = 0
			bo.Reset()
			continue
		}
		attempts++
		if rc.MaxRetries > 0 && attempts > rc.MaxRetries {
			t.logger.Warn("get stream reconnect attempts exhausted", zap.Error(err))
			return
		}
		select {
		case <-t.ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

var errNoStream = fmt.Errorf("get stream not supported")

// hangingGet opens one GET stream and pumps it until it closes.
func (t *Transport) hangingGet() error {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.opts.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
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
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return errNoStream
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get stream status %d", resp.StatusCode)
	}
	t.pumpEvents(resp.Body, true)
	return nil
}

// pumpEvents forwards message events to the inbound channel. Event ids
// are recorded for resume only on the long-lived GET stream.
func (t *Transport) pumpEvents(body io.Reader, trackIDs bool) {
	scanner := sseevent.NewScanner(body)
	for {
		ev, err := scanner.Next()
		if err != nil {
			return
		}
		if trackIDs && ev.ID != "" {
			t.mu.Lock()
			t.lastEventID = ev.ID
			t.mu.Unlock()
		}
		if ev.Name != "message" {
			continue
		}
		frame, err := protocol.Decode([]byte(ev.Data))
		if err != nil {
			t.logger.Warn("dropping unparseable frame", zap.Error(err))
			continue
		}
		t.deliver(frame)
	}
}

func (t *Transport) deliver(frame *protocol.Message) {
	select {
	case t.msgs <- frame:
	case <-t.ctx.Done():
	}
}

// applyHeaders adds configured headers, the session id, the negotiated
// protocol version, and authorization.
func (t *Transport) applyHeaders(req *http.Request) {
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(sessionHeader, sid)
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
