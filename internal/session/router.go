// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package session owns the protocol engine: the message router that
// correlates responses with waiters, and the coordinator that drives
// lifecycle, negotiation, and dispatch.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/protocol"
)

// inflight is one outstanding outbound request. The response channel is
// buffered so delivery never blocks the receive loop; the once-guard makes
// resolution (response, timeout, cancel, shutdown) exclusive.
type inflight struct {
	id     int64
	method string
	ch     chan *protocol.Message
	once   sync.Once
	errCh  chan error
}

// resolve delivers the response, first writer wins.
func (f *inflight) resolve(msg *protocol.Message) {
	f.once.Do(func() { f.ch <- msg })
}

// fail releases the waiter with an error, first writer wins.
func (f *inflight) fail(err error) {
	f.once.Do(func() { f.errCh <- err })
}

// router tags outbound requests with unique ids and matches inbound
// responses to their waiters.
type router struct {
	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]*inflight
	logger  *zap.Logger

	// notify sends a frame without waiting, used for best-effort
	// cancellation toward the peer.
	notify func(msg *protocol.Message)
}

func newRouter(notify func(msg *protocol.Message), logger *zap.Logger) *router {
	return &router{
		pending: make(map[int64]*inflight),
		logger:  logger,
		notify:  notify,
	}
}

// register allocates the next request id and inserts the in-flight entry.
// Insertion happens before the frame is written so a response can never
// race its registration.
func (r *router) register(method string) *inflight {
	f := &inflight{
		id:     r.nextID.Add(1),
		method: method,
		ch:     make(chan *protocol.Message, 1),
		errCh:  make(chan error, 1),
	}
	r.mu.Lock()
	r.pending[f.id] = f
	r.mu.Unlock()
	return f
}

// remove drops the entry; it reports whether the entry was still present,
// which makes every resolution path exclusive.
func (r *router) remove(id int64) (*inflight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return f, ok
}

// deliver routes a response frame to its waiter. Unknown ids are logged
// and dropped.
func (r *router) deliver(msg *protocol.Message) {
	id, err := parseNumericID(msg.ID)
	if err != nil {
		r.logger.Warn("response with non-numeric id", zap.String("id", string(msg.ID)))
		return
	}
	f, ok := r.remove(id)
	if !ok {
		r.logger.Warn("response for unknown request", zap.Int64("id", id))
		return
	}
	f.resolve(msg)
}

// cancelByPeer handles an inbound notifications/cancelled: the waiter, if
// still present, observes Cancelled. Cancelling an id twice is a no-op.
func (r *router) cancelByPeer(rawID json.RawMessage) bool {
	id, err := parseNumericID(rawID)
	if err != nil {
		return false
	}
	f, ok := r.remove(id)
	if !ok {
		return false
	}
	f.fail(protocol.ErrCancelled)
	return true
}

// cancelLocal resolves the entry with Cancelled and notifies the peer
// once, best-effort.
func (r *router) cancelLocal(f *inflight, reason string) {
	if _, ok := r.remove(f.id); !ok {
		return
	}
	r.sendCancelled(f.id, reason)
	f.fail(protocol.ErrCancelled)
}

// timeout resolves the entry with TimeoutError and notifies the peer.
func (r *router) timeout(f *inflight) {
	if _, ok := r.remove(f.id); !ok {
		return
	}
	r.sendCancelled(f.id, "timeout")
	f.fail(&protocol.TimeoutError{RequestID: f.id, Method: f.method})
}

// drain releases every waiter with the given error. Used at shutdown;
// each in-flight id is also cancelled toward the peer when notifyPeer is
// set.
func (r *router) drain(err error, notifyPeer bool, reason string) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[int64]*inflight)
	r.mu.Unlock()

	for _, f := range pending {
		if notifyPeer {
			r.sendCancelled(f.id, reason)
		}
		f.fail(err)
	}
}

// inflightCount reports the number of unresolved requests.
func (r *router) inflightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// sendCancelled emits notifications/cancelled. Never awaited, never
// retried.
func (r *router) sendCancelled(id int64, reason string) {
	msg, err := protocol.NewNotification(protocol.NotificationCancelled, protocol.CancelledParams{
		RequestID: json.RawMessage(strconv.FormatInt(id, 10)),
		Reason:    reason,
	})
	if err != nil {
		return
	}
	r.notify(msg)
}

// await blocks the caller until the request resolves. Exactly one of
// response, ResponseError, TimeoutError, Cancelled, or session-closed is
// observed.
func (r *router) await(ctx context.Context, f *inflight, timeout time.Duration, closed <-chan struct{}) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-f.ch:
		if msg.Error != nil {
			return nil, protocol.AsResponseError(msg.Error)
		}
		return msg.Result, nil
	case err := <-f.errCh:
		return nil, err
	case <-timer.C:
		r.timeout(f)
		return r.settle(f)
	case <-ctx.Done():
		r.cancelLocal(f, "cancelled by client")
		return r.settle(f)
	case <-closed:
		if _, ok := r.remove(f.id); ok {
			f.fail(protocol.ErrSessionClosed)
		}
		return r.settle(f)
	}
}

// settle reads the terminal outcome after a local resolution attempt. A
// response may have raced the local path and won the once-guard; in that
// case the caller still gets its result.
func (r *router) settle(f *inflight) (json.RawMessage, error) {
	select {
	case err := <-f.errCh:
		return nil, err
	case msg := <-f.ch:
		if msg.Error != nil {
			return nil, protocol.AsResponseError(msg.Error)
		}
		return msg.Result, nil
	}
}

// parseNumericID parses the raw id of a client-originated exchange.
func parseNumericID(raw json.RawMessage) (int64, error) {
	s := string(raw)
	// Servers may echo numeric ids as strings.
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strconv.ParseInt(s, 10, 64)
}
