// Package communicator implements the per-peer multiplexer: one
// Communicator per remote replica, owning that replica's single TCP
// link, serializing every local Instance's outbound traffic onto it,
// and demultiplexing inbound frames back to the right Instance -
// spawning a fresh acceptor Instance the first time it sees an
// instance_id it doesn't recognize.
package communicator

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/paxoscluster/paxos/internal/instance"
	"github.com/paxoscluster/paxos/internal/link"
	"github.com/paxoscluster/paxos/internal/metrics"
	"github.com/paxoscluster/paxos/internal/protocol"
	"github.com/paxoscluster/paxos/internal/storage"
	"github.com/paxoscluster/paxos/internal/wire"
)

// DefaultPollInterval bounds how long outbound content can sit in an
// Instance's link before the Communicator notices and writes it to the
// wire. Outbound content is written only on these ticks; inbound
// traffic and new attachments do not trigger an earlier write.
const DefaultPollInterval = 5 * time.Millisecond

// RequestLink blocks until a live connection to the Communicator's peer
// is available. Supplied by the ConnectionHandler; retry-with-backoff
// on dial failure is its responsibility, not the Communicator's.
type RequestLink func(ctx context.Context) (net.Conn, error)

// Config bundles everything a Communicator needs at construction.
type Config struct {
	Self protocol.ReplicaID
	Peer protocol.ReplicaID // the remote replica this Communicator owns
	N    int                // total replicas, for sizing acceptor peer slices

	RequestLink RequestLink

	Sink             instance.CommitSink
	Store            storage.Store
	Metrics          *metrics.Metrics
	Logger           *log.Logger
	LivenessInterval time.Duration // forwarded to spawned acceptor Instances (normally 0; acceptors don't propose)
	PollInterval     time.Duration // default DefaultPollInterval
}

type arrivalMsg struct {
	id   protocol.InstanceID
	side link.CommSide
}

// Communicator owns the link to exactly one peer and every local
// Instance talking to that peer.
type Communicator struct {
	cfg Config
	log *log.Logger

	arrivals chan arrivalMsg
	routes   map[protocol.InstanceID]link.CommSide
}

// New constructs a Communicator. Call Run to start it.
func New(cfg Config) *Communicator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Communicator{
		cfg:      cfg,
		log:      logger.With("peer", cfg.Peer),
		arrivals: make(chan arrivalMsg, 64),
		routes:   make(map[protocol.InstanceID]link.CommSide),
	}
}

// Attach registers a new local Instance's endpoint for this peer,
// delivered via the instance-arrival port. Safe to
// call before or after Run starts.
func (c *Communicator) Attach(id protocol.InstanceID, side link.CommSide) {
	c.arrivals <- arrivalMsg{id: id, side: side}
}

// Run drives the Communicator until ctx is cancelled: obtain a link,
// serve it until it fails, and repeat. Instance
// channels and the routing map survive across reconnects - only the TCP
// link and any not-yet-serialized bytes are lost.
func (c *Communicator) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		conn, err := c.cfg.RequestLink(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("could not obtain link", "err", err)
			continue
		}
		if err := c.serve(ctx, conn); err != nil && ctx.Err() == nil {
			c.log.Warn("link lost, reconnecting", "err", err)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.LinkLost()
			}
		}
	}
	return nil
}

func (c *Communicator) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	writer := bufio.NewWriter(conn)
	if err := wire.EncodeFrame(writer, protocol.Frame{
		Kind:    protocol.FrameNetwork,
		Network: protocol.NetworkMessage{ReplicaID: c.cfg.Self},
	}); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	frames := make(chan protocol.Frame, 64)
	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			f, err := wire.DecodeFrame(conn)
			if err != nil {
				if _, ok := err.(*wire.DecodeError); ok {
					c.log.Warn("dropping malformed frame", "err", err)
					continue
				}
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-readerDone:
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case a := <-c.arrivals:
			c.routes[a.id] = a.side
		case f := <-frames:
			if f.Kind != protocol.FramePaxos {
				continue // a stray NetworkMessage mid-stream; ignore
			}
			c.route(ctx, f.Paxos)
		case <-ticker.C:
			if err := c.drainOutbound(writer); err != nil {
				return err
			}
		}
	}
}

// route dispatches one inbound PaxosMessage: forward it to a known
// Instance, spawn a fresh acceptor for an unseen Propose, or drop a
// stray message for an instance nobody is tracking (S6).
func (c *Communicator) route(ctx context.Context, msg protocol.PaxosMessage) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.MessageReceived(msg.Content.Kind())
	}
	side, known := c.routes[msg.InstanceID]
	if !known {
		if _, isPropose := msg.Content.(protocol.Propose); !isPropose {
			c.log.Debug("dropping message for unknown instance", "instance", msg.InstanceID.String())
			return
		}
		side = c.spawnAcceptor(ctx, msg.InstanceID)
		c.routes[msg.InstanceID] = side
	}
	side.Deliver(msg.Content)
}

// spawnAcceptor creates a fresh acceptor Instance for id, wires its one
// real peer slot (this Communicator's peer - the only replica an
// acceptor ever talks to, since replies go back the way they came) and
// starts it running. All other peer slots stay at their zero value:
// inert, exactly as an Instance's own self-slot always is.
func (c *Communicator) spawnAcceptor(ctx context.Context, id protocol.InstanceID) link.CommSide {
	instSide, commSide := link.New(link.DefaultBuffer)
	peers := make([]link.InstanceSide, c.cfg.N)
	peers[c.cfg.Peer] = instSide

	inst := instance.New(instance.Config{
		Role:             instance.Acceptor,
		Self:             c.cfg.Self,
		ID:               id,
		Peers:            peers,
		Sink:             c.cfg.Sink,
		Store:            c.cfg.Store,
		Logger:           c.log,
		Metrics:          c.cfg.Metrics,
		LivenessInterval: c.cfg.LivenessInterval,
	})
	c.log.Info("spawning acceptor for unseen instance", "instance", id.String())
	go func() {
		if err := inst.Run(ctx); err != nil {
			c.log.Error("acceptor instance exited with error", "instance", id.String(), "err", err)
		}
	}()
	return commSide
}

func (c *Communicator) drainOutbound(writer *bufio.Writer) error {
	wrote := false
	for id, side := range c.routes {
		for {
			content, ok := side.TryRecv()
			if !ok {
				break
			}
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.MessageSent(content.Kind())
			}
			msg := protocol.PaxosMessage{InstanceID: id, Content: content}
			if err := wire.EncodeFrame(writer, protocol.Frame{Kind: protocol.FramePaxos, Paxos: msg}); err != nil {
				return err
			}
			wrote = true
		}
	}
	if wrote {
		return writer.Flush()
	}
	return nil
}
