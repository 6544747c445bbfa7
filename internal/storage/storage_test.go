package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paxoscluster/paxos/internal/protocol"
)

func TestMemoryStorageSaveLoadRoundTrip(t *testing.T) {
	s := NewMemoryStorage()
	id := protocol.InstanceID{Originator: 1, Seq: 2}
	state := AcceptorState{
		InstanceID: id,
		Promised:   protocol.SequenceID{Round: 3, Proposer: 1},
		Accepted:   &protocol.AcceptedProposal{Sequence: protocol.SequenceID{Round: 2, Proposer: 1}, Value: protocol.Value("v")},
	}
	require.NoError(t, s.Save(state))

	loaded, ok, err := s.Load(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state.Promised, loaded.Promised)
	require.Equal(t, state.Accepted.Value, loaded.Accepted.Value)
}

func TestMemoryStorageLoadMissingReturnsFalse(t *testing.T) {
	s := NewMemoryStorage()
	_, ok, err := s.Load(protocol.InstanceID{Originator: 9, Seq: 9})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStorageSaveCopiesAcceptedValue(t *testing.T) {
	s := NewMemoryStorage()
	id := protocol.InstanceID{Originator: 0, Seq: 0}
	v := protocol.Value("mutate-me")
	require.NoError(t, s.Save(AcceptorState{
		InstanceID: id,
		Accepted:   &protocol.AcceptedProposal{Value: v},
	}))

	v[0] = 'X' // mutate the caller's slice after Save

	loaded, ok, err := s.Load(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, protocol.Value("mutate-me"), loaded.Accepted.Value)
}

func TestFileStorageSaveLoadSurvivesAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewFileStorage(dir)
	require.NoError(t, err)

	id := protocol.InstanceID{Originator: 4, Seq: 7}
	state := AcceptorState{
		InstanceID: id,
		Promised:   protocol.SequenceID{Round: 5, Proposer: 4},
		Committed:  true,
	}
	require.NoError(t, s1.Save(state))

	s2, err := NewFileStorage(dir)
	require.NoError(t, err)
	loaded, ok, err := s2.Load(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state.Promised, loaded.Promised)
	require.True(t, loaded.Committed)
}

func TestFileStorageLoadMissingReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir)
	require.NoError(t, err)
	_, ok, err := s.Load(protocol.InstanceID{Originator: 1, Seq: 1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStorageSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir)
	require.NoError(t, err)

	id := protocol.InstanceID{Originator: 0, Seq: 0}
	require.NoError(t, s.Save(AcceptorState{InstanceID: id}))

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, matches)
}
