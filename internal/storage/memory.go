package storage

import (
	"sync"

	"github.com/paxoscluster/paxos/internal/protocol"
)

// MemoryStorage is a non-durable Store for tests and demos: state lives
// only in process memory and is gone on restart. It keeps one combined
// AcceptorState per instance (rather than the teacher's separate
// promised/accepted records) so one Save call persists an instance's
// acceptor state atomically.
type MemoryStorage struct {
	mu     sync.RWMutex
	states map[protocol.InstanceID]AcceptorState
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{states: make(map[protocol.InstanceID]AcceptorState)}
}

func (m *MemoryStorage) Save(state AcceptorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.Accepted != nil {
		// Defensive copy: caller's Value slice must not alias ours.
		v := make(protocol.Value, len(state.Accepted.Value))
		copy(v, state.Accepted.Value)
		accepted := *state.Accepted
		accepted.Value = v
		state.Accepted = &accepted
	}
	m.states[state.InstanceID] = state
	return nil
}

func (m *MemoryStorage) Load(id protocol.InstanceID) (AcceptorState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[id]
	return state, ok, nil
}

// Reset clears all recorded state. Useful for test isolation between
// cases sharing one MemoryStorage.
func (m *MemoryStorage) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[protocol.InstanceID]AcceptorState)
}
