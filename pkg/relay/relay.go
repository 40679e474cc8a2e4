// Package relay implements the relay agent's control-and-data-plane state
// machine: a persistent outbound control connection to a streamer, the
// challenge/response handshake, the request/response protocol over that
// connection, the on-demand UDP tunnel it can open, and the reconnect
// supervisor tying control-plane and data-plane failures to one recovery
// policy.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/streamrelay/relayagent/pkg/netutil"
	"github.com/streamrelay/relayagent/pkg/status"
)

// Config configures a Relay before Start is called.
type Config struct {
	// URL is the streamer's control endpoint (ws:// or wss://).
	URL string
	// Password is the shared secret used to answer the Hello challenge.
	Password string
	// ID is this relay's identity, a UUID string. Generated if empty.
	ID string
	// Name is a human-readable label sent in Identify.
	Name string
	// BindAddress is the destination-facing UDP bind address ("IP" or
	// "IP:port"). Defaults to netutil.DefaultBindAddress() if empty.
	BindAddress string
	// TLS optionally pins a private CA for the control-plane dial.
	TLS *TLSConfig
	// OnStatus, if set, receives human-readable status strings.
	OnStatus func(string)
	// Status, if set, answers Status requests from the streamer.
	Status status.Provider
}

// Relay is the thread-safe handle a host uses to configure and drive one
// relay session. It owns at most one outbound control connection and at
// most one UDP tunnel at a time; every field below is read or written only
// under mu. Each tunnel's own learned-peer cell lives on its *activeTunnel,
// not here, so it never outlives the tunnel generation that owns it.
type Relay struct {
	mu sync.Mutex

	id             string
	name           string
	password       string
	url            string
	bindAddress    string
	tlsConfig      *TLSConfig
	onStatus       func(string)
	statusProvider status.Provider

	started       bool
	connected     bool
	wrongPassword bool

	writer *transport

	reconnectOnTunnelError *epoch
	startOnReconnectSoon   *epoch

	tunnel *activeTunnel

	logger *slog.Logger
}

// New creates an unconfigured Relay. Call Setup before Start.
func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger}
}

// Setup configures the relay's identity, endpoint, and callbacks. It must
// be called once, before the first Start.
func (r *Relay) Setup(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	bindAddress := cfg.BindAddress
	if bindAddress == "" {
		addr, err := netutil.DefaultBindAddress()
		if err != nil {
			return fmt.Errorf("relay: setup: %w", err)
		}
		bindAddress = addr
	}

	r.id = id
	r.name = cfg.Name
	r.password = cfg.Password
	r.url = cfg.URL
	r.bindAddress = bindAddress
	r.tlsConfig = cfg.TLS
	r.onStatus = cfg.OnStatus
	r.statusProvider = cfg.Status
	return nil
}

// SetBindAddress overrides the destination-facing UDP bind address used by
// the next StartTunnel.
func (r *Relay) SetBindAddress(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindAddress = addr
}

// IsStarted reports whether Start has been called without a matching Stop.
func (r *Relay) IsStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Start begins the connect/reconnect supervisor loop. A no-op if the relay
// is already started.
func (r *Relay) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	initial := newEpoch()
	r.startOnReconnectSoon = initial
	r.reconnectOnTunnelError = newEpoch()
	r.mu.Unlock()

	r.publishStatus()
	go r.startInternal(context.Background(), initial)
}

// Stop tears down the control connection and any tunnel, and clears the
// started flag. A no-op if the relay is already stopped.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.teardownConnectionLocked()
	r.mu.Unlock()

	r.publishStatus()
}
