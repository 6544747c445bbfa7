// Package link implements the duplex, in-process channel pair an
// Instance and its owning Communicator use to exchange
// protocol.PaxosMessageContent values. Each side owns its endpoint
// exclusively; there is no shared mutable state, only message passing,
// per the package's cyclic-ownership design. Each direction is a
// bounded buffer: a sender blocks only while that buffer is full, until
// the other side drains it.
package link

import "github.com/paxoscluster/paxos/internal/protocol"

// DefaultBuffer is the channel capacity used unless a caller overrides
// it. A small bounded buffer lets a Communicator drain bursts without
// blocking, while still backpressuring a stuck peer.
const DefaultBuffer = 16

// New creates a fresh duplex link and returns the two complementary
// endpoints. The first, InstanceSide, is handed to the Instance; the
// second, CommSide, is kept (or forwarded) by the Communicator
// responsible for the peer the Instance is talking to.
func New(buffer int) (InstanceSide, CommSide) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	toInstance := make(chan protocol.PaxosMessageContent, buffer)
	toComm := make(chan protocol.PaxosMessageContent, buffer)
	return InstanceSide{out: toComm, in: toInstance}, CommSide{out: toComm, in: toInstance}
}

// InstanceSide is the endpoint an Instance uses: it sends outbound
// content for its peer and receives inbound content addressed to it.
type InstanceSide struct {
	out chan<- protocol.PaxosMessageContent
	in  <-chan protocol.PaxosMessageContent
}

// Zero reports whether this is the uninitialized, inert self-slot
// endpoint an Instance's peer list carries at its own index.
func (s InstanceSide) Zero() bool { return s.out == nil && s.in == nil }

// Send enqueues outbound content for the Communicator to forward. Blocks
// only if the bounded buffer is full (backpressure, per §5).
func (s InstanceSide) Send(c protocol.PaxosMessageContent) {
	s.out <- c
}

// Recv blocks the calling instance until inbound content arrives or the
// inbound channel is closed.
func (s InstanceSide) Recv() (protocol.PaxosMessageContent, bool) {
	c, ok := <-s.in
	return c, ok
}

// TryRecv polls for inbound content without blocking. Used by tests that
// need to assert "no reply was sent" rather than wait on one.
func (s InstanceSide) TryRecv() (protocol.PaxosMessageContent, bool) {
	select {
	case c := <-s.in:
		return c, true
	default:
		return nil, false
	}
}

// Connect wires two InstanceSide endpoints directly to each other, with
// no Communicator in between. Intended for tests that drive the Instance
// state machine over bare channels, without a network.
func Connect(buffer int) (InstanceSide, InstanceSide) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ab := make(chan protocol.PaxosMessageContent, buffer)
	ba := make(chan protocol.PaxosMessageContent, buffer)
	return InstanceSide{out: ab, in: ba}, InstanceSide{out: ba, in: ab}
}

// CommSide is the endpoint a Communicator uses: it non-blockingly
// drains outbound content produced by the Instance, and delivers
// inbound content decoded off the wire.
type CommSide struct {
	out <-chan protocol.PaxosMessageContent
	in  chan<- protocol.PaxosMessageContent
}

// TryRecv drains one outbound message from the Instance without
// blocking, per the Communicator main loop's non-blocking drain step.
func (s CommSide) TryRecv() (protocol.PaxosMessageContent, bool) {
	select {
	case c := <-s.out:
		return c, true
	default:
		return nil, false
	}
}

// Deliver pushes inbound content to the Instance. May block if the
// Instance's buffer is full; that backpressure is allowed by §5.
func (s CommSide) Deliver(c protocol.PaxosMessageContent) {
	s.in <- c
}
