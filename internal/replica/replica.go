// Package replica implements the root coordinator for one cluster
// member: it owns one Communicator per peer, the ConnectionHandler
// establishing their links, and the InstanceID allocator client
// submissions draw from.
package replica

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/paxoscluster/paxos/internal/communicator"
	"github.com/paxoscluster/paxos/internal/config"
	"github.com/paxoscluster/paxos/internal/connhandler"
	"github.com/paxoscluster/paxos/internal/instance"
	"github.com/paxoscluster/paxos/internal/link"
	"github.com/paxoscluster/paxos/internal/metrics"
	"github.com/paxoscluster/paxos/internal/protocol"
	"github.com/paxoscluster/paxos/internal/storage"
)

// LogSink is the default instance.CommitSink: it logs every commit
// through the replica's structured logger. Real applications supply
// their own sink via WithSink.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Commit(id protocol.InstanceID, seq protocol.SequenceID, value protocol.Value) {
	s.Logger.Info("instance committed", "instance", id.String(), "ballot", seq.String(), "bytes", len(value))
}

// Option configures a Replica at construction time.
type Option func(*options)

type options struct {
	sink             instance.CommitSink
	store            storage.Store
	metrics          *metrics.Metrics
	logger           *log.Logger
	livenessInterval time.Duration
}

// WithSink overrides the default LogSink.
func WithSink(sink instance.CommitSink) Option { return func(o *options) { o.sink = sink } }

// WithStore enables acceptor-state durability. Without it, acceptors
// keep no record across a crash.
func WithStore(store storage.Store) Option { return func(o *options) { o.store = store } }

// WithMetrics wires Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option { return func(o *options) { o.logger = logger } }

// WithLivenessInterval enables the optional proposer re-propose timer
// by a Proposer Instance. Zero (the default) disables it.
func WithLivenessInterval(d time.Duration) Option {
	return func(o *options) { o.livenessInterval = d }
}

// Replica is the root coordinator for one cluster member.
type Replica struct {
	cfg   config.Config
	opts  options
	comms []*communicator.Communicator // indexed by ReplicaID, nil at cfg.ID

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	nextSeq uint64
}

// New parses no configuration itself - cfg is expected to already be
// validated, e.g. via internal/config.Load - allocates a Communicator
// per peer, starts the ConnectionHandler, and starts every Communicator.
func New(cfg config.Config, opts ...Option) (*Replica, error) {
	o := options{}
	for _, apply := range opts {
		apply(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.Default()
	}
	o.logger = logger
	if o.sink == nil {
		o.sink = LogSink{Logger: logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	r := &Replica{
		cfg:    cfg,
		opts:   o,
		comms:  make([]*communicator.Communicator, len(cfg.Peers)),
		ctx:    ctx,
		cancel: cancel,
		group:  group,
	}

	handler := connhandler.New(connhandler.Config{
		Self:    cfg.ID,
		Addrs:   cfg.Peers,
		Logger:  logger,
		Metrics: o.metrics,
	})
	group.Go(func() error { return handler.Run(gctx) })

	for i := range cfg.Peers {
		peer := protocol.ReplicaID(i)
		if peer == cfg.ID {
			continue
		}
		comm := communicator.New(communicator.Config{
			Self:        cfg.ID,
			Peer:        peer,
			N:           len(cfg.Peers),
			RequestLink: handler.RequestLinkFor(peer),
			Sink:        o.sink,
			Store:       o.store,
			Metrics:     o.metrics,
			Logger:      logger,
		})
		r.comms[i] = comm
		group.Go(func() error { return comm.Run(gctx) })
	}

	return r, nil
}

// Submit reserves a fresh InstanceID, spawns a Proposer Instance for
// value, and returns immediately - success is surfaced
// only through the commit sink, never as a return value here.
//
// Known limitation: nothing ever retires a committed
// instance's routing entries, so a long-running replica's per-peer
// routing maps grow without bound. Out of scope for this core.
func (r *Replica) Submit(value protocol.Value) (protocol.InstanceID, error) {
	r.mu.Lock()
	id := protocol.InstanceID{Originator: r.cfg.ID, Seq: r.nextSeq}
	r.nextSeq++
	r.mu.Unlock()

	peers := make([]link.InstanceSide, len(r.comms))
	for i, comm := range r.comms {
		if comm == nil {
			continue
		}
		instSide, commSide := link.New(link.DefaultBuffer)
		peers[i] = instSide
		comm.Attach(id, commSide)
	}

	inst := instance.New(instance.Config{
		Role:             instance.Proposer,
		Self:             r.cfg.ID,
		ID:               id,
		Peers:            peers,
		InitialValue:     value,
		Sink:             r.opts.sink,
		Store:            r.opts.store,
		Logger:           r.opts.logger,
		Metrics:          r.opts.metrics,
		LivenessInterval: r.opts.livenessInterval,
	})
	r.group.Go(func() error { return inst.Run(r.ctx) })

	return id, nil
}

// Close cancels every Communicator, the ConnectionHandler, and every
// in-flight Instance, then waits for them to exit.
func (r *Replica) Close() error {
	r.cancel()
	return r.group.Wait()
}

// Self returns this replica's own ReplicaID.
func (r *Replica) Self() protocol.ReplicaID { return r.cfg.ID }
