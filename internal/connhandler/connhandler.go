// Package connhandler implements the link-establishment rule: exactly
// one TCP link per peer pair, with the higher ReplicaID always
// initiating the dial, so two replicas can never both start the
// connection and race into a simultaneous-open.
package connhandler

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/paxoscluster/paxos/internal/communicator"
	"github.com/paxoscluster/paxos/internal/metrics"
	"github.com/paxoscluster/paxos/internal/protocol"
	"github.com/paxoscluster/paxos/internal/wire"
)

// Config describes one replica's view of the cluster for link
// establishment purposes.
type Config struct {
	Self  protocol.ReplicaID
	Addrs []string // indexed by ReplicaID; Addrs[Self] is this replica's own listen address

	DialTimeout  time.Duration
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

const (
	defaultDialTimeout  = 3 * time.Second
	defaultRetryBackoff = 200 * time.Millisecond
	defaultMaxBackoff   = 5 * time.Second
)

// Handler runs the listener for inbound links and the dial side for
// outbound ones, and hands each resulting connection to the
// Communicator responsible for it.
type Handler struct {
	cfg Config
	log *log.Logger

	// incoming[r] receives connections from peer r, populated only for
	// r > Self - the peers that dial us rather than the other way round.
	incoming map[protocol.ReplicaID]chan net.Conn
}

// New constructs a Handler. Call Run to start accepting connections.
func New(cfg Config) *Handler {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	incoming := make(map[protocol.ReplicaID]chan net.Conn)
	for i := range cfg.Addrs {
		r := protocol.ReplicaID(i)
		if r > cfg.Self {
			incoming[r] = make(chan net.Conn, 1)
		}
	}

	return &Handler{cfg: cfg, log: logger.With("component", "connhandler"), incoming: incoming}
}

// RequestLinkFor returns the communicator.RequestLink closure for peer,
// choosing the dial or await-incoming strategy per the initiator rule.
func (h *Handler) RequestLinkFor(peer protocol.ReplicaID) communicator.RequestLink {
	if peer < h.cfg.Self {
		return func(ctx context.Context) (net.Conn, error) {
			return h.dialWithRetry(ctx, peer)
		}
	}
	return func(ctx context.Context) (net.Conn, error) {
		return h.awaitIncoming(ctx, peer)
	}
}

func (h *Handler) dialWithRetry(ctx context.Context, peer protocol.ReplicaID) (net.Conn, error) {
	addr := h.cfg.Addrs[peer]
	backoff := h.cfg.RetryBackoff
	for {
		dialer := net.Dialer{Timeout: h.cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			h.log.Debug("dialed peer", "peer", peer, "addr", addr)
			if h.cfg.Metrics != nil {
				h.cfg.Metrics.LinkEstablished()
			}
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h.log.Debug("dial failed, retrying", "peer", peer, "addr", addr, "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > h.cfg.MaxBackoff {
			backoff = h.cfg.MaxBackoff
		}
	}
}

func (h *Handler) awaitIncoming(ctx context.Context, peer protocol.ReplicaID) (net.Conn, error) {
	ch, ok := h.incoming[peer]
	if !ok {
		return nil, errors.Errorf("connhandler: no inbound channel for peer %d", peer)
	}
	select {
	case conn := <-ch:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run accepts inbound connections on this replica's own address until
// ctx is cancelled.
func (h *Handler) Run(ctx context.Context) error {
	addr := h.cfg.Addrs[h.cfg.Self]
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "connhandler: listen on %s", addr)
	}
	h.log.Info("listening", "addr", addr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "connhandler: accept")
		}
		go h.handshake(conn)
	}
}

// handshake reads the mandatory first frame off a freshly accepted
// connection and routes it to the right peer's incoming channel, or
// closes it if the sender doesn't identify itself as a higher-numbered
// peer we actually expect to dial us.
func (h *Handler) handshake(conn net.Conn) {
	frame, err := wire.DecodeFrame(conn)
	if err != nil {
		h.log.Warn("closing connection: failed to read identification frame", "err", err)
		conn.Close()
		return
	}
	if frame.Kind != protocol.FrameNetwork {
		h.log.Warn("closing connection: first frame was not a NetworkMessage")
		conn.Close()
		return
	}

	r := frame.Network.ReplicaID
	ch, ok := h.incoming[r]
	if !ok || r <= h.cfg.Self || int(r) >= len(h.cfg.Addrs) {
		h.log.Warn("closing connection: unexpected identification", "replica", r)
		conn.Close()
		return
	}

	select {
	case ch <- conn:
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.LinkEstablished()
		}
	default:
		h.log.Warn("closing connection: a link from this peer is already pending", "replica", r)
		conn.Close()
	}
}

func (h *Handler) String() string {
	return fmt.Sprintf("connhandler(self=%d)", h.cfg.Self)
}
