// Package instance implements the per-round Paxos state machine: the
// proposer and acceptor transition tables, ballot bookkeeping, and
// quorum accounting that make up the core of the protocol. An Instance
// talks only to link.InstanceSide endpoints - never to a TCP socket or
// to another Instance directly - so it can be driven and tested with
// bare channels, no network involved.
package instance

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/paxoscluster/paxos/internal/link"
	"github.com/paxoscluster/paxos/internal/metrics"
	"github.com/paxoscluster/paxos/internal/protocol"
	"github.com/paxoscluster/paxos/internal/storage"
)

// Role is the part an Instance plays in its round. An InstanceID has
// exactly one proposer Instance (at its originator) and zero or more
// acceptor Instances (one per replica that has heard of it).
type Role uint8

const (
	Proposer Role = iota
	Acceptor
)

func (r Role) String() string {
	if r == Proposer {
		return "proposer"
	}
	return "acceptor"
}

// Status names a node in the transition tables, for logging and tests.
// The zero value, StatusNull, is the acceptor's only entry state.
type Status uint8

const (
	StatusNull Status = iota
	StatusProposed
	StatusPromised
	StatusRequested
	StatusAccepted
	StatusCommitted
)

func (s Status) String() string {
	switch s {
	case StatusNull:
		return "Null"
	case StatusProposed:
		return "Proposed"
	case StatusPromised:
		return "Promised"
	case StatusRequested:
		return "Requested"
	case StatusAccepted:
		return "Accepted"
	case StatusCommitted:
		return "Committed"
	default:
		return "Unknown"
	}
}

// CommitSink is invoked whenever an Instance (proposer or acceptor)
// transitions to Committed. Pluggable; a real
// application supplies its own, e.g. to apply the value to a state
// machine.
type CommitSink interface {
	Commit(id protocol.InstanceID, seq protocol.SequenceID, value protocol.Value)
}

// CommitSinkFunc adapts a plain function to CommitSink.
type CommitSinkFunc func(id protocol.InstanceID, seq protocol.SequenceID, value protocol.Value)

func (f CommitSinkFunc) Commit(id protocol.InstanceID, seq protocol.SequenceID, value protocol.Value) {
	f(id, seq, value)
}

// Config bundles everything an Instance needs at construction. Peers
// must be indexed by ReplicaID, length N, with Peers[Self] the inert
// zero value (link.InstanceSide.Zero() true) per the self-slot
// alignment convention every Instance follows.
type Config struct {
	Role         Role
	Self         protocol.ReplicaID
	ID           protocol.InstanceID
	Peers        []link.InstanceSide
	InitialValue protocol.Value // Proposer only

	Sink    CommitSink       // optional; defaults to a no-op
	Store   storage.Store    // optional; nil disables acceptor durability
	Logger  *log.Logger      // optional; defaults to a package logger
	Metrics *metrics.Metrics // optional; nil disables instrumentation

	// LivenessInterval, if non-zero, makes a Proposer re-propose at an
	// incremented ballot when it sees no transition for this long while
	// Proposed or Requested. Disabled (zero) by default, since the protocol
	// requires only that it be safe without one.
	LivenessInterval time.Duration
}

// Instance runs one Paxos round to (or past) Committed. It owns no
// synchronization beyond the single goroutine Run executes in - all
// mutable state below is touched only from that goroutine.
type Instance struct {
	cfg      Config
	log      *log.Logger
	sink     CommitSink
	majority int

	status Status
	ballot protocol.SequenceID
	value  protocol.Value

	// Proposer-only bookkeeping.
	submittedValue protocol.Value
	bestAccepted   *protocol.AcceptedProposal

	// Shared counter: promises/accepts while Proposed/Requested, acks
	// while Committed (proposer); unused by the acceptor role.
	counter int
}

// New constructs an Instance from cfg. It does not start the event
// loop; call Run for that.
func New(cfg Config) *Instance {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = CommitSinkFunc(func(protocol.InstanceID, protocol.SequenceID, protocol.Value) {})
	}
	return &Instance{
		cfg:      cfg,
		log:      logger.With("instance", cfg.ID.String(), "role", cfg.Role.String()),
		sink:     sink,
		majority: protocol.Majority(len(cfg.Peers)),
	}
}

type arrival struct {
	from    protocol.ReplicaID
	content protocol.PaxosMessageContent
}

// Run drives the Instance's event loop until ctx is cancelled. A
// Proposer sends its opening Propose before entering the loop. Run
// never returns a non-nil error in the current design - the protocol
// has no fatal-to-the-instance error class - but returns error to fit
// errgroup.Group.Go signatures cleanly.
func (inst *Instance) Run(ctx context.Context) error {
	arrivals := make(chan arrival, len(inst.cfg.Peers)*link.DefaultBuffer)
	for i, peer := range inst.cfg.Peers {
		if peer.Zero() {
			continue
		}
		from := protocol.ReplicaID(i)
		go func(from protocol.ReplicaID, peer link.InstanceSide) {
			for {
				content, ok := peer.Recv()
				if !ok {
					return
				}
				select {
				case arrivals <- arrival{from: from, content: content}:
				case <-ctx.Done():
					return
				}
			}
		}(from, peer)
	}

	var timerC <-chan time.Time
	var timer *time.Timer
	resetTimer := func() {
		if inst.cfg.LivenessInterval <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(inst.cfg.LivenessInterval)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(inst.cfg.LivenessInterval)
	}

	if inst.cfg.Role == Proposer {
		inst.startProposer()
		resetTimer()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-arrivals:
			transitioned := inst.handle(a.from, a.content)
			if transitioned && inst.cfg.Role == Proposer {
				resetTimer()
			}
		case <-timerC:
			if inst.status == StatusProposed || inst.status == StatusRequested {
				inst.log.Warn("liveness timeout, re-proposing", "ballot", inst.ballot.String())
				inst.reproposeAt(inst.ballot.Increment(inst.cfg.Self))
			}
			resetTimer()
		}
	}
}

func (inst *Instance) broadcast(content protocol.PaxosMessageContent) {
	for _, peer := range inst.cfg.Peers {
		if !peer.Zero() {
			peer.Send(content)
		}
	}
}

func (inst *Instance) hasPeers() bool {
	for _, peer := range inst.cfg.Peers {
		if !peer.Zero() {
			return true
		}
	}
	return false
}

func (inst *Instance) startProposer() {
	inst.ballot = protocol.SequenceID{Round: 0, Proposer: inst.cfg.Self}
	inst.submittedValue = inst.cfg.InitialValue
	inst.status = StatusProposed
	inst.counter = 0
	inst.bestAccepted = nil

	// N=1 boundary: a lone replica has no acceptor to wait
	// on - it is trivially its own majority, so submit commits at once
	// instead of blocking forever on Promises that can never arrive.
	if !inst.hasPeers() {
		inst.value = inst.submittedValue
		inst.status = StatusCommitted
		inst.log.Info("sole replica, committing immediately", "ballot", inst.ballot.String())
		inst.cfg.Metrics.InstanceCommitted()
		inst.sink.Commit(inst.cfg.ID, inst.ballot, inst.value)
		return
	}

	inst.log.Debug("proposing", "ballot", inst.ballot.String())
	inst.broadcast(protocol.Propose{Sequence: inst.ballot})
}

func (inst *Instance) reproposeAt(next protocol.SequenceID) {
	inst.ballot = next
	inst.status = StatusProposed
	inst.counter = 0
	inst.bestAccepted = nil
	inst.log.Debug("re-proposing", "ballot", inst.ballot.String())
	inst.broadcast(protocol.Propose{Sequence: inst.ballot})
}

// handle dispatches one arrived message and reports whether it caused a
// state transition (used only to decide whether to reset the liveness
// timer).
func (inst *Instance) handle(from protocol.ReplicaID, content protocol.PaxosMessageContent) bool {
	if inst.cfg.Role == Proposer {
		return inst.handleAsProposer(content)
	}
	return inst.handleAsAcceptor(from, content)
}

func (inst *Instance) handleAsProposer(content protocol.PaxosMessageContent) bool {
	switch inst.status {
	case StatusProposed:
		switch c := content.(type) {
		case protocol.Promise:
			switch {
			case c.Sequence.Equal(inst.ballot):
				inst.counter++
				if c.Prior != nil && (inst.bestAccepted == nil || inst.bestAccepted.Sequence.Less(c.Prior.Sequence)) {
					prior := *c.Prior
					inst.bestAccepted = &prior
				}
				if inst.counter >= inst.majority {
					value := inst.submittedValue
					if inst.bestAccepted != nil {
						value = inst.bestAccepted.Value
					}
					inst.value = value
					inst.status = StatusRequested
					inst.counter = 0
					inst.log.Debug("majority promised, requesting", "ballot", inst.ballot.String())
					inst.broadcast(protocol.Request{Sequence: inst.ballot, Value: value})
				}
				return true
			case inst.ballot.Less(c.Sequence):
				inst.reproposeAt(c.Sequence.Increment(inst.cfg.Self))
				return true
			}
		case protocol.RejectPropose:
			if c.Rejected.Equal(inst.ballot) && inst.ballot.Less(c.Conflicting) {
				inst.reproposeAt(c.Conflicting.Increment(inst.cfg.Self))
				return true
			}
		}
	case StatusRequested:
		switch c := content.(type) {
		case protocol.Accept:
			switch {
			case c.Sequence.Equal(inst.ballot):
				inst.counter++
				if inst.counter >= inst.majority {
					inst.status = StatusCommitted
					inst.counter = 0
					inst.log.Info("committed", "ballot", inst.ballot.String())
					inst.broadcast(protocol.Commit{Sequence: inst.ballot})
					inst.cfg.Metrics.InstanceCommitted()
					inst.sink.Commit(inst.cfg.ID, inst.ballot, inst.value)
				}
				return true
			case inst.ballot.Less(c.Sequence):
				inst.reproposeAt(c.Sequence.Increment(inst.cfg.Self))
				return true
			}
		case protocol.RejectRequest:
			if c.Rejected.Equal(inst.ballot) && inst.ballot.Less(c.Conflicting) {
				inst.reproposeAt(c.Conflicting.Increment(inst.cfg.Self))
				return true
			}
		}
	case StatusCommitted:
		if c, ok := content.(protocol.Acknowledge); ok && c.Sequence.Equal(inst.ballot) {
			inst.counter++
			return false
		}
	}
	return false
}

func (inst *Instance) handleAsAcceptor(from protocol.ReplicaID, content protocol.PaxosMessageContent) bool {
	reply := func(c protocol.PaxosMessageContent) {
		if peer := inst.cfg.Peers[from]; !peer.Zero() {
			peer.Send(c)
		}
	}
	persist := func(committed bool) {
		if inst.cfg.Store == nil {
			return
		}
		state := storage.AcceptorState{InstanceID: inst.cfg.ID, Promised: inst.ballot, Committed: committed}
		if inst.status == StatusAccepted || (committed && inst.status == StatusCommitted) {
			accepted := protocol.AcceptedProposal{Sequence: inst.ballot, Value: inst.value}
			state.Accepted = &accepted
		}
		if err := inst.cfg.Store.Save(state); err != nil {
			inst.log.Error("failed to persist acceptor state", "err", err)
		}
	}

	switch inst.status {
	case StatusNull:
		if c, ok := content.(protocol.Propose); ok {
			inst.ballot = c.Sequence
			inst.status = StatusPromised
			persist(false)
			reply(protocol.Promise{Sequence: c.Sequence})
			return true
		}
	case StatusPromised:
		switch c := content.(type) {
		case protocol.Propose:
			if c.Sequence.GreaterOrEqual(inst.ballot) {
				inst.ballot = c.Sequence
				persist(false)
				reply(protocol.Promise{Sequence: c.Sequence})
				return true
			}
			reply(protocol.RejectPropose{Rejected: c.Sequence, Conflicting: inst.ballot})
		case protocol.Request:
			if c.Sequence.Equal(inst.ballot) {
				inst.value = c.Value
				inst.status = StatusAccepted
				persist(false)
				reply(protocol.Accept{Sequence: c.Sequence})
				return true
			}
			reply(protocol.RejectRequest{Rejected: c.Sequence, Conflicting: inst.ballot})
		}
	case StatusAccepted:
		switch c := content.(type) {
		case protocol.Propose:
			if c.Sequence.GreaterOrEqual(inst.ballot) {
				prior := protocol.AcceptedProposal{Sequence: inst.ballot, Value: inst.value}
				inst.ballot = c.Sequence
				inst.status = StatusPromised
				persist(false)
				reply(protocol.Promise{Sequence: c.Sequence, Prior: &prior})
				return true
			}
			reply(protocol.RejectPropose{Rejected: c.Sequence, Conflicting: inst.ballot})
		case protocol.Request:
			if c.Sequence.Equal(inst.ballot) {
				return false // idempotent: already accepted this exact ballot, no-op
			}
			reply(protocol.RejectRequest{Rejected: c.Sequence, Conflicting: inst.ballot})
		case protocol.Commit:
			if c.Sequence.Equal(inst.ballot) {
				inst.status = StatusCommitted
				persist(true)
				reply(protocol.Acknowledge{Sequence: c.Sequence})
				inst.cfg.Metrics.InstanceCommitted()
				inst.sink.Commit(inst.cfg.ID, inst.ballot, inst.value)
				return true
			}
		}
	case StatusCommitted:
		// Terminal: late Proposes are dropped, everything else ignored.
	}
	return false
}
