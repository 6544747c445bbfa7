// Package protocol defines the wire-level data model shared by every
// component of the cluster: replica identity, instance identity, ballot
// numbers and the Paxos message variants that flow between instances.
package protocol

import "fmt"

// ReplicaID identifies a member of the cluster. Replicas are numbered
// [0, N) by their position in the configured peer list.
type ReplicaID uint32

// InstanceID identifies a single Paxos round. Only the originator mints
// IDs carrying its own ReplicaID, so an InstanceID is globally unique
// without coordination.
type InstanceID struct {
	Originator ReplicaID `json:"originator"`
	Seq        uint64    `json:"seq"`
}

func (id InstanceID) String() string {
	return fmt.Sprintf("(%d,%d)", id.Originator, id.Seq)
}

// Less orders InstanceIDs lexicographically: originator first, then seq.
func (id InstanceID) Less(other InstanceID) bool {
	if id.Originator != other.Originator {
		return id.Originator < other.Originator
	}
	return id.Seq < other.Seq
}

// SequenceID is a ballot number: (round, proposer). Totally ordered by
// round first, then proposer, which guarantees no two proposers ever
// mint the same ballot for the same round.
type SequenceID struct {
	Round    uint64    `json:"round"`
	Proposer ReplicaID `json:"proposer"`
}

func (s SequenceID) String() string {
	return fmt.Sprintf("(%d,%d)", s.Round, s.Proposer)
}

// Less reports whether s strictly precedes other in ballot order.
func (s SequenceID) Less(other SequenceID) bool {
	if s.Round != other.Round {
		return s.Round < other.Round
	}
	return s.Proposer < other.Proposer
}

// GreaterOrEqual reports whether s >= other in ballot order.
func (s SequenceID) GreaterOrEqual(other SequenceID) bool {
	return !s.Less(other)
}

// Equal reports whether s and other name the same ballot.
func (s SequenceID) Equal(other SequenceID) bool {
	return s == other
}

// Increment returns (s.Round+1, self): a ballot owned by the caller
// that dominates s whatever s's proposer is. Used whenever a proposer
// must re-propose after a rejection or a newer observation.
func (s SequenceID) Increment(self ReplicaID) SequenceID {
	return SequenceID{Round: s.Round + 1, Proposer: self}
}

// Majority returns floor(n/2)+1, the smallest strict majority of n
// replicas.
func Majority(n int) int {
	return n/2 + 1
}

// Value is the opaque, client-submitted payload a Paxos instance
// decides on. Treated as immutable once submitted.
type Value []byte
