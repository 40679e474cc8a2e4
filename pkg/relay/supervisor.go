package relay

import (
	"context"
	"sync/atomic"
	"time"
)

// reconnectDelay is the fixed gap between a disconnect and the next connect
// attempt. No backoff, no jitter — an acknowledged limitation. A var, not a
// const, solely so tests can shrink it; there is no Config field for it.
var reconnectDelay = 5 * time.Second

// epoch is a generation token for a scheduled background task. Rather than
// give every timer a cancellation handle, the supervisor lets a task
// capture the epoch live when it was spawned; superseding it means
// installing a fresh epoch, so the old task's next isLive() check comes
// back false and it exits quietly instead of acting on stale state.
type epoch struct {
	live atomic.Bool
}

func newEpoch() *epoch {
	e := &epoch{}
	e.live.Store(true)
	return e
}

func (e *epoch) retire() {
	if e != nil {
		e.live.Store(false)
	}
}

func (e *epoch) isLive() bool {
	return e != nil && e.live.Load()
}

// startInternal dials the streamer and, on success, runs the receive loop
// until it ends, then — if this is still the live generation — schedules a
// reconnect. e is the epoch under which this attempt was spawned, either by
// Start or by a previous scheduleReconnect.
func (r *Relay) startInternal(ctx context.Context, e *epoch) {
	if !e.isLive() {
		return
	}

	r.mu.Lock()
	url, tlsCfg := r.url, r.tlsConfig
	r.mu.Unlock()

	t, err := dial(ctx, url, tlsCfg)
	if err != nil {
		r.logger.Debug("connect failed", "error", err)
		r.scheduleReconnect(e)
		return
	}

	r.mu.Lock()
	if !r.started || !e.isLive() {
		r.mu.Unlock()
		t.close()
		return
	}
	r.writer = t
	r.mu.Unlock()

	_ = t.receiveLoop(ctx, r.logger, func(msg MessageToRelay) error {
		return r.handleMessage(ctx, msg)
	})

	r.mu.Lock()
	if r.writer == t {
		r.writer = nil
	}
	stillStarted := r.started
	r.mu.Unlock()

	if stillStarted && e.isLive() {
		r.scheduleReconnect(e)
	}
}

// scheduleReconnect tears down the current connection and tunnel and
// arranges a retry after reconnectDelay. triggerEpoch must still be the
// epoch installed in the relay (startOnReconnectSoon or
// reconnectOnTunnelError) for this call to take effect — this makes
// concurrent failures (e.g. the control read and a tunnel task both ending
// around the same time) converge on a single reconnect rather than two.
func (r *Relay) scheduleReconnect(triggerEpoch *epoch) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	if r.startOnReconnectSoon != triggerEpoch && r.reconnectOnTunnelError != triggerEpoch {
		r.mu.Unlock()
		return
	}

	r.teardownConnectionLocked()
	next := newEpoch()
	r.startOnReconnectSoon = next
	r.reconnectOnTunnelError = newEpoch()
	r.mu.Unlock()

	r.publishStatus()

	time.AfterFunc(reconnectDelay, func() {
		if !next.isLive() {
			return
		}
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()
		if !started {
			return
		}
		r.startInternal(context.Background(), next)
	})
}

// teardownConnectionLocked closes the writer, clears connection flags,
// retires both epoch tokens, and cancels any active tunnel. Callers hold
// mu. It does not install fresh epochs — callers that want to continue
// (scheduleReconnect) do that themselves; Stop leaves the retired tokens in
// place, satisfying "no live epoch token while stopped" without needing to
// null them out.
func (r *Relay) teardownConnectionLocked() {
	if r.writer != nil {
		r.writer.close()
		r.writer = nil
	}
	r.connected = false
	r.wrongPassword = false
	r.reconnectOnTunnelError.retire()
	r.startOnReconnectSoon.retire()
	if tun := r.tunnel; tun != nil {
		r.tunnel = nil
		tun.cancel()
	}
}

// statusString derives the human-readable status line from the flag tuple.
// Callers hold mu.
func (r *Relay) statusString() string {
	switch {
	case r.connected:
		return "Connected to streamer"
	case r.wrongPassword:
		return "Wrong password"
	case r.started:
		return "Connecting to streamer"
	default:
		return "Disconnected from streamer"
	}
}

// publishStatus pushes the current status string to the host callback, if
// any, outside the lock.
func (r *Relay) publishStatus() {
	r.mu.Lock()
	s := r.statusString()
	cb := r.onStatus
	r.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}
