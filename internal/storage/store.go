// Package storage provides an optional acceptor-durability hook: the
// core protocol does not depend on it (crash recovery across restarts
// is out of scope), but a production acceptor SHOULD fsync its
// promised/accepted ballot before replying, so a restarted acceptor
// cannot violate agreement by re-promising at a ballot lower than one
// it already acknowledged.
package storage

import "github.com/paxoscluster/paxos/internal/protocol"

// AcceptorState is the durable record for a single instance's acceptor
// side: the highest ballot it has promised, and the (ballot, value) it
// most recently accepted, if any.
type AcceptorState struct {
	InstanceID protocol.InstanceID        `json:"instance_id"`
	Promised   protocol.SequenceID        `json:"promised"`
	Accepted   *protocol.AcceptedProposal `json:"accepted,omitempty"`
	Committed  bool                       `json:"committed"`
}

// Store persists acceptor state. A durable implementation (FileStorage)
// makes Save durable before returning (an fsync or equivalent) so a crash
// immediately after a successful Save cannot lose the record;
// MemoryStorage keeps state in memory only. The Instance calls Save
// synchronously, before sending its reply.
type Store interface {
	Save(state AcceptorState) error
	Load(id protocol.InstanceID) (AcceptorState, bool, error)
}
