// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/inbound"
	"github.com/zmcp/mcp-client/internal/protocol"
	"github.com/zmcp/mcp-client/internal/transport"
)

// DefaultRequestTimeout bounds a single outbound request when the host
// does not configure one.
const DefaultRequestTimeout = 8 * time.Second

// Session lifecycle states.
const (
	StateIdle int32 = iota
	StateInitializing
	StateReady
	StateClosing
	StateClosed
)

// TransportFactory builds a fresh transport for each session incarnation
// (start, restart, fork recovery, session expiry).
type TransportFactory func() (transport.Transport, error)

// versionedTransport is implemented by the HTTP transports, which echo the
// negotiated protocol version as a request header.
type versionedTransport interface {
	SetProtocolVersion(v string)
}

// Options configures a Session.
type Options struct {
	Factory          TransportFactory
	ClientInfo       protocol.Implementation
	Capabilities     protocol.ClientCapabilities
	PreferredVersion string
	RequestTimeout   time.Duration
	LoggingLevel     protocol.LoggingLevel
	Logger           *zap.Logger
}

// EntityKind names one of the four catalogs for flush callbacks.
type EntityKind string

const (
	KindTools             EntityKind = "tools"
	KindResources         EntityKind = "resources"
	KindResourceTemplates EntityKind = "resource_templates"
	KindPrompts           EntityKind = "prompts"
)

// incarnation is one connected transport lifetime. The close-once guard
// lets the dispatch loop and Stop race on the closed channel safely.
type incarnation struct {
	tr     transport.Transport
	closed chan struct{}
	once   sync.Once
}

func (i *incarnation) shutdown() {
	i.once.Do(func() { close(i.closed) })
}

// Session owns the transport, the in-flight table, the capability
// snapshot, and the negotiated protocol version.
type Session struct {
	opts   Options
	logger *zap.Logger

	router  *router
	inbound *inbound.Dispatcher

	// lifeMu serializes lifecycle transitions (Start/Stop/Restart/fork
	// recovery). It is never held while waiting for worker goroutines'
	// locks: the reply paths only take trMu.
	lifeMu sync.Mutex
	state  atomic.Int32
	wg     sync.WaitGroup

	trMu       sync.RWMutex
	cur        *incarnation
	pid        int
	caps       protocol.ServerCapabilities
	serverInfo protocol.Implementation
	version    string

	hookMu            sync.RWMutex
	onProgress        func(protocol.ProgressParams)
	onLogging         func(protocol.LoggingMessageParams)
	onFlush           func(kind EntityKind)
	onResourceUpdated func(uri string)
}

// New builds a Session. The transport is not connected until Start.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.PreferredVersion == "" {
		opts.PreferredVersion = protocol.DefaultVersion
	}
	if opts.LoggingLevel == "" {
		opts.LoggingLevel = protocol.LevelDebug
	}
	s := &Session{
		opts:   opts,
		logger: opts.Logger,
	}
	s.router = newRouter(s.notifyPeer, opts.Logger)
	s.inbound = inbound.NewDispatcher(s.sendFrame, opts.Logger)
	return s
}

// Inbound exposes the inbound dispatcher so the facade can bind handlers.
func (s *Session) Inbound() *inbound.Dispatcher { return s.inbound }

// OnProgress installs the progress hook.
func (s *Session) OnProgress(fn func(protocol.ProgressParams)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onProgress = fn
}

// OnLogging installs the server-log hook.
func (s *Session) OnLogging(fn func(protocol.LoggingMessageParams)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onLogging = fn
}

// OnFlush installs the catalog invalidation callback.
func (s *Session) OnFlush(fn func(kind EntityKind)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onFlush = fn
}

// OnResourceUpdated installs the resource content invalidation callback.
func (s *Session) OnResourceUpdated(fn func(uri string)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onResourceUpdated = fn
}

// Start connects the transport and performs the initialize handshake.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if st := s.state.Load(); st == StateReady || st == StateInitializing {
		return fmt.Errorf("session already started")
	}
	return s.connect(ctx)
}

// connect builds a transport, starts the dispatch loop, and runs the
// handshake. Caller holds lifeMu.
func (s *Session) connect(ctx context.Context) error {
	s.state.Store(StateInitializing)

	tr, err := s.opts.Factory()
	if err != nil {
		s.state.Store(StateClosed)
		return err
	}
	if err := tr.Start(ctx); err != nil {
		s.state.Store(StateClosed)
		return err
	}

	inc := &incarnation{tr: tr, closed: make(chan struct{})}
	s.trMu.Lock()
	s.cur = inc
	s.pid = os.Getpid()
	s.trMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch(inc)
	}()

	if err := s.handshake(ctx, inc); err != nil {
		s.state.Store(StateClosed)
		inc.shutdown()
		_ = tr.Close()
		return err
	}

	s.state.Store(StateReady)
	return nil
}

// handshake sends initialize, verifies the negotiated version, snapshots
// capabilities, and confirms with notifications/initialized.
func (s *Session) handshake(ctx context.Context, inc *incarnation) error {
	params := protocol.InitializeParams{
		ProtocolVersion: s.opts.PreferredVersion,
		Capabilities:    s.opts.Capabilities,
		ClientInfo:      s.opts.ClientInfo,
	}
	raw, err := s.exchange(ctx, inc, protocol.MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	version, err := protocol.Negotiate(result.ProtocolVersion)
	if err != nil {
		return err
	}

	s.trMu.Lock()
	s.version = version
	s.caps = result.Capabilities
	s.serverInfo = result.ServerInfo
	s.trMu.Unlock()
	if vt, ok := inc.tr.(versionedTransport); ok {
		vt.SetProtocolVersion(version)
	}

	note, err := protocol.NewNotification(protocol.NotificationInitialized, nil)
	if err != nil {
		return err
	}
	if err := inc.tr.Send(ctx, note); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	s.logger.Info("session ready",
		zap.String("server", result.ServerInfo.Name),
		zap.String("version", result.ServerInfo.Version),
		zap.String("protocol", version))
	return nil
}

// Stop cancels in-flight requests toward the peer, stops the transport,
// and drains the router.
func (s *Session) Stop() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.stop()
}

// stop tears down the current incarnation. Caller holds lifeMu.
func (s *Session) stop() error {
	s.trMu.RLock()
	inc := s.cur
	s.trMu.RUnlock()
	if inc == nil {
		s.state.Store(StateClosed)
		return nil
	}

	s.state.Store(StateClosing)
	// Best-effort cancels must go out while the transport is still wired
	// up.
	s.router.drain(protocol.ErrSessionClosed, true, "client shutdown")

	s.trMu.Lock()
	s.cur = nil
	s.trMu.Unlock()
	inc.shutdown()
	err := inc.tr.Close()
	s.wg.Wait()
	s.state.Store(StateClosed)
	s.logger.Debug("session closed")
	return err
}

// Restart stops the current incarnation and starts a fresh one.
func (s *Session) Restart(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	_ = s.stop()
	return s.connect(ctx)
}

// Alive reports whether the session is ready on a live transport.
func (s *Session) Alive() bool {
	if s.state.Load() != StateReady {
		return false
	}
	s.trMu.RLock()
	inc := s.cur
	s.trMu.RUnlock()
	return inc != nil && inc.tr.Alive()
}

// Capabilities returns the immutable capability snapshot.
func (s *Session) Capabilities() protocol.ServerCapabilities {
	s.trMu.RLock()
	defer s.trMu.RUnlock()
	return s.caps
}

// ServerInfo returns the peer's implementation record.
func (s *Session) ServerInfo() protocol.Implementation {
	s.trMu.RLock()
	defer s.trMu.RUnlock()
	return s.serverInfo
}

// Version returns the negotiated protocol version.
func (s *Session) Version() string {
	s.trMu.RLock()
	defer s.trMu.RUnlock()
	return s.version
}

// Ping reports whether the server answered within the request timeout.
func (s *Session) Ping(ctx context.Context) bool {
	_, err := s.Request(ctx, protocol.MethodPing, struct{}{})
	return err == nil
}

// Request sends one request and waits for its result. It transparently
// recovers from a fork (transport rebuilt, session re-initialized) and
// retries exactly once after a session expiry.
func (s *Session) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := s.ensureProcess(ctx); err != nil {
		return nil, err
	}
	if s.state.Load() != StateReady {
		return nil, protocol.ErrSessionClosed
	}

	s.trMu.RLock()
	inc := s.cur
	s.trMu.RUnlock()
	if inc == nil {
		return nil, protocol.ErrSessionClosed
	}

	raw, err := s.exchange(ctx, inc, method, params)
	if errors.Is(err, protocol.ErrSessionExpired) {
		s.logger.Info("session expired, re-initializing")
		s.lifeMu.Lock()
		_ = s.stop()
		rerr := s.connect(ctx)
		s.lifeMu.Unlock()
		if rerr != nil {
			return nil, rerr
		}
		s.trMu.RLock()
		inc = s.cur
		s.trMu.RUnlock()
		if inc == nil {
			return nil, protocol.ErrSessionClosed
		}
		raw, err = s.exchange(ctx, inc, method, params)
	}
	return raw, err
}

// exchange registers the in-flight entry, writes the frame, and blocks
// until resolution.
func (s *Session) exchange(ctx context.Context, inc *incarnation, method string, params interface{}) (json.RawMessage, error) {
	f := s.router.register(method)
	msg, err := protocol.NewRequest(f.id, method, params)
	if err != nil {
		s.router.remove(f.id)
		return nil, err
	}
	if err := inc.tr.Send(ctx, msg); err != nil {
		s.router.remove(f.id)
		return nil, err
	}
	return s.router.await(ctx, f, s.opts.RequestTimeout, inc.closed)
}

// Notify sends a notification frame, fire and forget.
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.sendFrame(msg)
}

// ensureProcess rebuilds the transport after a fork: pipe and socket fds
// do not survive into the child, so a pid mismatch invalidates the whole
// incarnation.
func (s *Session) ensureProcess(ctx context.Context) error {
	s.trMu.RLock()
	pid := s.pid
	s.trMu.RUnlock()
	if s.state.Load() != StateReady || pid == os.Getpid() {
		return nil
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	// Re-check: another caller may have rebuilt while we waited.
	s.trMu.RLock()
	pid = s.pid
	s.trMu.RUnlock()
	if pid == os.Getpid() {
		return nil
	}
	s.logger.Info("process fork detected, rebuilding transport",
		zap.Int("old_pid", pid), zap.Int("pid", os.Getpid()))
	_ = s.stop()
	return s.connect(ctx)
}

// sendFrame is the inbound pipeline's reply path.
func (s *Session) sendFrame(msg *protocol.Message) error {
	s.trMu.RLock()
	inc := s.cur
	s.trMu.RUnlock()
	if inc == nil {
		return protocol.ErrSessionClosed
	}
	return inc.tr.Send(context.Background(), msg)
}

// notifyPeer is the router's best-effort cancellation path.
func (s *Session) notifyPeer(msg *protocol.Message) {
	if err := s.sendFrame(msg); err != nil {
		s.logger.Debug("cancellation notification failed", zap.Error(err))
	}
}

// dispatch is the per-transport receive loop: responses release waiters,
// requests fan out to the inbound pipeline, notifications dispatch
// in-line.
func (s *Session) dispatch(inc *incarnation) {
	for msg := range inc.tr.Messages() {
		switch {
		case msg.IsResponse():
			s.router.deliver(msg)
		case msg.IsRequest():
			req := msg
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.inbound.Handle(context.Background(), req)
			}()
		case msg.IsNotification():
			s.handleNotification(msg)
		default:
			s.logger.Warn("dropping unclassifiable frame",
				zap.String("method", msg.Method), zap.String("id", string(msg.ID)))
		}
	}

	// The transport's inbound stream ended. If the session still thought
	// it was ready, this is a connection loss.
	if s.state.CompareAndSwap(StateReady, StateClosed) {
		s.logger.Warn("transport connection lost")
		s.router.drain(&protocol.TransportError{Op: "receive", Err: errors.New("connection lost")}, false, "")
		inc.shutdown()
	}
}

// handleNotification fans one notification out to its handler.
func (s *Session) handleNotification(msg *protocol.Message) {
	s.hookMu.RLock()
	onProgress := s.onProgress
	onLogging := s.onLogging
	onFlush := s.onFlush
	onResourceUpdated := s.onResourceUpdated
	s.hookMu.RUnlock()

	switch msg.Method {
	case protocol.NotificationCancelled:
		var params protocol.CancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("bad cancelled notification", zap.Error(err))
			return
		}
		if !s.router.cancelByPeer(params.RequestID) {
			// Not one of ours: the server is cancelling its own inbound
			// request, possibly one parked in the deferred registry.
			s.inbound.Cancelled(params.RequestID)
		}

	case protocol.NotificationToolsChanged:
		if onFlush != nil {
			onFlush(KindTools)
		}
	case protocol.NotificationResourcesChanged:
		if onFlush != nil {
			onFlush(KindResources)
		}
	case protocol.NotificationTemplatesChanged:
		if onFlush != nil {
			onFlush(KindResourceTemplates)
		}
	case protocol.NotificationPromptsChanged:
		if onFlush != nil {
			onFlush(KindPrompts)
		}

	case protocol.NotificationResourceUpdated:
		var params protocol.ResourceUpdatedParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("bad resource updated notification", zap.Error(err))
			return
		}
		if onResourceUpdated != nil {
			onResourceUpdated(params.URI)
		}

	case protocol.NotificationProgress:
		var params protocol.ProgressParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("bad progress notification", zap.Error(err))
			return
		}
		if onProgress != nil {
			onProgress(params)
		}

	case protocol.NotificationMessage:
		var params protocol.LoggingMessageParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("bad logging notification", zap.Error(err))
			return
		}
		if onLogging != nil && params.Level.Severe(s.opts.LoggingLevel) {
			onLogging(params)
		}

	default:
		s.logger.Debug("ignoring unknown notification", zap.String("method", msg.Method))
	}
}

// InflightCount reports the number of unresolved outbound requests.
func (s *Session) InflightCount() int {
	return s.router.inflightCount()
}

// progressMeta builds the _meta object attached to long-running calls.
func progressMeta() *protocol.RequestMeta {
	return &protocol.RequestMeta{ProgressToken: uuid.NewString()}
}
