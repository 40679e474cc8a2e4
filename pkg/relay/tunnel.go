package relay

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/streamrelay/relayagent/pkg/netutil"
)

const (
	// datagramBufferSize caps each forwarded datagram; larger packets are
	// truncated at receive, on the assumption that the tunnelled protocol
	// respects a conservative MTU.
	datagramBufferSize = 2048
)

// reverseInactivityTimeout ends the destination->streamer task, and so the
// tunnel, after this long without a packet from the destination. A var,
// not a const, solely so tests can shrink it; there is no Config field.
var reverseInactivityTimeout = 30 * time.Second

// activeTunnel is the supervisor's handle on the current tunnel's forward
// direction. The reverse direction has no handle: it dies on its own when
// the shared streamer or destination socket closes, or on inactivity.
//
// peerAddr is this tunnel generation's own learned-peer cell, a lock-free
// cell so the data-plane forwarding hot path never contends with
// control-plane work. It lives here, not on Relay, so a superseded tunnel's
// still-unwinding goroutines can never read or write the address learned by
// the tunnel that replaced it.
type activeTunnel struct {
	streamerConn *net.UDPConn
	destConn     *net.UDPConn
	cancel       func()
	peerAddr     atomic.Pointer[net.UDPAddr]
}

// startTunnel executes the StartTunnel sequence: bind a streamer-facing
// socket, reply with its port before touching the destination side so the
// streamer can start sending immediately, then bind the destination socket,
// resolve the destination host, and start the forwarding tasks. A new
// tunnel supersedes any tunnel already running.
func (r *Relay) startTunnel(ctx context.Context, id string, req StartTunnelRequest) error {
	streamerAddr, err := netutil.ParseSocketAddr("0.0.0.0")
	if err != nil {
		return r.sendResponse(ctx, errorResponse(id, err))
	}
	streamerConn, err := netutil.CreateDualStackUDP(streamerAddr)
	if err != nil {
		return r.sendResponse(ctx, errorResponse(id, fmt.Errorf("bind streamer socket: %w", err)))
	}

	port := streamerConn.LocalAddr().(*net.UDPAddr).Port
	okResp := Response{
		ID:     id,
		Result: ResponseResult{Ok: &ResponseData{StartTunnel: &StartTunnelResponse{Port: uint16(port)}}},
	}
	if err := r.sendResponse(ctx, okResp); err != nil {
		streamerConn.Close()
		return err
	}

	destConn, dest, err := r.openDestination(ctx, req)
	if err != nil {
		r.logger.Error("start tunnel: destination setup failed", "error", err)
		streamerConn.Close()
		return nil
	}

	r.installTunnel(streamerConn, destConn, dest)
	return nil
}

// openDestination binds the destination-facing socket at the relay's
// configured bind address and resolves the StartTunnel target.
func (r *Relay) openDestination(ctx context.Context, req StartTunnelRequest) (*net.UDPConn, *net.UDPAddr, error) {
	r.mu.Lock()
	bindAddress := r.bindAddress
	r.mu.Unlock()

	destAddr, err := netutil.ParseSocketAddr(bindAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("parse bind address %q: %w", bindAddress, err)
	}
	destConn, err := netutil.CreateDualStackUDP(destAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("bind destination socket: %w", err)
	}

	ip, err := netutil.ResolveHost(ctx, req.Address)
	if err != nil {
		destConn.Close()
		return nil, nil, fmt.Errorf("resolve %q: %w", req.Address, err)
	}
	ip = netutil.Canonicalize(ip)

	return destConn, &net.UDPAddr{IP: ip, Port: int(req.Port)}, nil
}

// installTunnel cancels any prior tunnel before storing the new one, and
// starts the streamer->destination forwarding task. That task spawns the
// reverse task itself, once it has learned the streamer's address.
//
// Superseding a tunnel also supersedes reconnectOnTunnelError: the outgoing
// tunnel's reverse task is about to die from its sockets being closed by
// cancel(), and without a fresh epoch it would observe the same token this
// new tunnel is using and mistake an ordinary second StartTunnel for a
// data-plane failure, tearing down a perfectly healthy control connection.
func (r *Relay) installTunnel(streamerConn, destConn *net.UDPConn, dest *net.UDPAddr) {
	r.mu.Lock()
	if prev := r.tunnel; prev != nil {
		r.tunnel = nil
		prev.cancel()
	}
	r.reconnectOnTunnelError.retire()
	tunnelEpoch := newEpoch()
	r.reconnectOnTunnelError = tunnelEpoch
	tun := &activeTunnel{
		streamerConn: streamerConn,
		destConn:     destConn,
		cancel: func() {
			streamerConn.Close()
			destConn.Close()
		},
	}
	r.tunnel = tun
	r.mu.Unlock()

	go r.forwardStreamerToDestination(tun, dest, tunnelEpoch)
}

// forwardStreamerToDestination receives from the streamer-facing socket and
// forwards each datagram to dest, learning the streamer's source address
// (the "learned peer") from every packet since the streamer is typically
// behind NAT and cannot be pre-addressed. The first successful receive
// spawns the reverse task.
func (r *Relay) forwardStreamerToDestination(tun *activeTunnel, dest *net.UDPAddr, tunnelEpoch *epoch) {
	buf := make([]byte, datagramBufferSize)
	reverseStarted := false

	for {
		n, src, err := tun.streamerConn.ReadFromUDP(buf)
		if err != nil {
			// Exits when streamerConn is closed: by explicit cancellation
			// (stop, or a superseding StartTunnel) or by endTunnel after the
			// reverse task ends; no reconnect decision here, that's the
			// reverse task's responsibility.
			return
		}

		tun.peerAddr.Store(src)

		if _, err := tun.destConn.WriteToUDP(buf[:n], dest); err != nil {
			r.logger.Debug("forward to destination failed", "error", err)
		}

		if !reverseStarted {
			reverseStarted = true
			go r.forwardDestinationToStreamer(tun, tunnelEpoch)
		}
	}
}

// forwardDestinationToStreamer receives from the destination-facing socket,
// with a fixed inactivity timeout, and forwards each datagram to the
// learned streamer address. Either a read failure, the timeout, or no
// learned address yet ends the tunnel.
func (r *Relay) forwardDestinationToStreamer(tun *activeTunnel, tunnelEpoch *epoch) {
	buf := make([]byte, datagramBufferSize)

	for {
		tun.destConn.SetReadDeadline(time.Now().Add(reverseInactivityTimeout))
		n, err := tun.destConn.Read(buf)
		if err != nil {
			r.endTunnel(tun, tunnelEpoch)
			return
		}

		peer := tun.peerAddr.Load()
		if peer == nil {
			r.logger.Error("reverse tunnel: no learned streamer address")
			r.endTunnel(tun, tunnelEpoch)
			return
		}
		if _, err := tun.streamerConn.WriteToUDP(buf[:n], peer); err != nil {
			r.logger.Debug("forward to streamer failed", "error", err)
		}
	}
}

// endTunnel tears the tunnel down and, if tunnelEpoch is still the live
// generation, schedules a control-plane reconnect — this is the only path
// that turns a data-plane failure into a reconnect decision.
func (r *Relay) endTunnel(tun *activeTunnel, tunnelEpoch *epoch) {
	tun.streamerConn.Close()
	tun.destConn.Close()

	r.mu.Lock()
	if r.tunnel == tun {
		r.tunnel = nil
	}
	stillStarted := r.started
	r.mu.Unlock()

	if stillStarted && tunnelEpoch.isLive() {
		r.scheduleReconnect(tunnelEpoch)
	}
}

func errorResponse(id string, err error) Response {
	return Response{ID: id, Result: ResponseResult{Error: &ResponseError{Message: err.Error()}}}
}
