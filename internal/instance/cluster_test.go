package instance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paxoscluster/paxos/internal/link"
	"github.com/paxoscluster/paxos/internal/protocol"
)

// collectingSink records every commit it observes; safe for concurrent
// use since multiple Instances (one per replica) commit concurrently.
type collectingSink struct {
	mu      sync.Mutex
	commits []commitRecord
}

type commitRecord struct {
	id    protocol.InstanceID
	seq   protocol.SequenceID
	value protocol.Value
}

func (s *collectingSink) Commit(id protocol.InstanceID, seq protocol.SequenceID, value protocol.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, commitRecord{id, seq, value})
}

func (s *collectingSink) snapshot() []commitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]commitRecord, len(s.commits))
	copy(out, s.commits)
	return out
}

// peerMatrix builds n*n direct links: matrix[i][j] is replica i's
// InstanceSide for talking to replica j (zero value when i == j).
func peerMatrix(n int) [][]link.InstanceSide {
	matrix := make([][]link.InstanceSide, n)
	for i := range matrix {
		matrix[i] = make([]link.InstanceSide, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := link.Connect(0)
			matrix[i][j] = a
			matrix[j][i] = b
		}
	}
	return matrix
}

// Happy path at N=3: replica 2 submits a value; every replica's
// Instance for (2,0) - one Proposer at replica 2, two Acceptors
// elsewhere - commits exactly once, with the submitted value.
func TestClusterHappyPathN3(t *testing.T) {
	const n = 3
	matrix := peerMatrix(n)
	id := protocol.InstanceID{Originator: 2, Seq: 0}
	value := protocol.Value{0, 1, 2}

	sinks := make([]*collectingSink, n)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		sinks[i] = &collectingSink{}
		role := Acceptor
		var initial protocol.Value
		if protocol.ReplicaID(i) == id.Originator {
			role = Proposer
			initial = value
		}
		inst := New(Config{
			Role:         role,
			Self:         protocol.ReplicaID(i),
			ID:           id,
			Peers:        matrix[i],
			InitialValue: initial,
			Sink:         sinks[i],
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = inst.Run(ctx)
		}()
	}

	require.Eventually(t, func() bool {
		for _, s := range sinks {
			if len(s.snapshot()) == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "all three replicas should commit instance (2,0)")

	for _, s := range sinks {
		commits := s.snapshot()
		require.Len(t, commits, 1)
		require.Equal(t, value, commits[0].value)
		require.Equal(t, id, commits[0].id)
	}

	cancel()
	wg.Wait()
}

// Contention: two proposers on independent InstanceIDs never
// interfere; both commit their own value.
func TestClusterContentionIndependentInstances(t *testing.T) {
	const n = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := func(originator protocol.ReplicaID, seq uint64, value protocol.Value) *collectingSink {
		matrix := peerMatrix(n)
		sink := &collectingSink{}
		id := protocol.InstanceID{Originator: originator, Seq: seq}
		for i := 0; i < n; i++ {
			role := Acceptor
			var initial protocol.Value
			s := sink
			if protocol.ReplicaID(i) != originator {
				s = &collectingSink{} // acceptors' own sinks aren't asserted on
			}
			if protocol.ReplicaID(i) == originator {
				role = Proposer
				initial = value
			}
			inst := New(Config{Role: role, Self: protocol.ReplicaID(i), ID: id, Peers: matrix[i], InitialValue: initial, Sink: s})
			go func() { _ = inst.Run(ctx) }()
		}
		return sink
	}

	// Replica 0 and replica 1 each submit concurrently on their own
	// fresh InstanceID; they never interfere because the IDs differ.
	sinkA := run(0, 0, protocol.Value("from-0"))
	sinkB := run(1, 0, protocol.Value("from-1"))

	require.Eventually(t, func() bool {
		return len(sinkA.snapshot()) == 1 && len(sinkB.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, protocol.Value("from-0"), sinkA.snapshot()[0].value)
	require.Equal(t, protocol.Value("from-1"), sinkB.snapshot()[0].value)
	cancel()
}

// N=1 boundary: a lone replica is its own majority and commits
// immediately without any peer traffic.
func TestClusterBoundaryN1(t *testing.T) {
	matrix := peerMatrix(1)
	sink := &collectingSink{}
	id := protocol.InstanceID{Originator: 0, Seq: 0}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inst := New(Config{Role: Proposer, Self: 0, ID: id, Peers: matrix[0], InitialValue: protocol.Value("solo"), Sink: sink})
	go func() { _ = inst.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 2*time.Millisecond)
	require.Equal(t, protocol.Value("solo"), sink.snapshot()[0].value)
}
