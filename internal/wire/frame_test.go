package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paxoscluster/paxos/internal/protocol"
)

func roundTrip(t *testing.T, f protocol.Frame) protocol.Frame {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, f))
	got, err := DecodeFrame(&buf)
	require.NoError(t, err)
	return got
}

func TestRoundTripNetworkFrame(t *testing.T) {
	f := protocol.Frame{Kind: protocol.FrameNetwork, Network: protocol.NetworkMessage{ReplicaID: 7}}
	got := roundTrip(t, f)
	require.Equal(t, f, got)
}

func TestRoundTripEveryContentArm(t *testing.T) {
	iid := protocol.InstanceID{Originator: 3, Seq: 42}
	seq := protocol.SequenceID{Round: 5, Proposer: 2}
	cases := []protocol.PaxosMessageContent{
		protocol.Propose{Sequence: seq},
		protocol.Promise{Sequence: seq},
		protocol.Promise{Sequence: seq, Prior: &protocol.AcceptedProposal{Sequence: protocol.SequenceID{Round: 1, Proposer: 0}, Value: protocol.Value("v")}},
		protocol.RejectPropose{Rejected: seq, Conflicting: protocol.SequenceID{Round: 6, Proposer: 1}},
		protocol.Request{Sequence: seq, Value: protocol.Value("payload")},
		protocol.Accept{Sequence: seq},
		protocol.RejectRequest{Rejected: seq, Conflicting: protocol.SequenceID{Round: 6, Proposer: 1}},
		protocol.Commit{Sequence: seq},
		protocol.Acknowledge{Sequence: seq},
	}

	for _, content := range cases {
		f := protocol.Frame{Kind: protocol.FramePaxos, Paxos: protocol.PaxosMessage{InstanceID: iid, Content: content}}
		got := roundTrip(t, f)
		require.Equal(t, f, got)
	}
}

func TestDecodeFrameMalformedBodyReturnsDecodeError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, protocol.Frame{Kind: protocol.FrameNetwork, Network: protocol.NetworkMessage{ReplicaID: 1}}))
	encoded := buf.Bytes()
	// Corrupt the JSON body (leave the length prefix intact) so decoding
	// fails past the length-prefix stage.
	corrupted := make([]byte, len(encoded))
	copy(corrupted, encoded)
	corrupted[len(corrupted)-1] = '~'

	_, err := DecodeFrame(bytes.NewReader(corrupted))
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeFrameEOFOnEmptyStream(t *testing.T) {
	_, err := DecodeFrame(bytes.NewReader(nil))
	require.Error(t, err)
}
