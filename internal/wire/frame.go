// Package wire implements the on-the-wire framing for protocol.Frame
// values. Frames are length-delimited: a 4-byte big-endian length
// prefix followed by a JSON body. The length prefix is what makes the
// framing self-delimiting; a delimiter byte sequence like CRLF would be
// unsafe here since a JSON body may itself contain those byte values.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/paxoscluster/paxos/internal/protocol"
)

// MaxFrameSize bounds how large a single frame's JSON body may be, to
// keep a misbehaving or confused peer from making us allocate an
// unbounded buffer off a bogus length prefix.
const MaxFrameSize = 16 << 20 // 16 MiB

type wireFrame struct {
	Kind    protocol.FrameKind       `json:"kind"`
	Network *protocol.NetworkMessage `json:"network,omitempty"`
	Paxos   *wirePaxosMessage        `json:"paxos,omitempty"`
}

type wirePaxosMessage struct {
	InstanceID  protocol.InstanceID  `json:"instance_id"`
	ContentKind protocol.ContentKind `json:"content_kind"`
	Content     json.RawMessage      `json:"content"`
}

// EncodeFrame serializes f as a length-prefixed JSON record and writes
// it to w. Safe to call concurrently with reads on the same connection,
// but not with other concurrent writers - callers must serialize writes
// themselves (the Communicator does, via a single writer goroutine).
func EncodeFrame(w io.Writer, f protocol.Frame) error {
	wf := wireFrame{Kind: f.Kind}
	switch f.Kind {
	case protocol.FrameNetwork:
		nm := f.Network
		wf.Network = &nm
	case protocol.FramePaxos:
		content, err := json.Marshal(f.Paxos.Content)
		if err != nil {
			return errors.Wrap(err, "wire: marshal content")
		}
		wf.Paxos = &wirePaxosMessage{
			InstanceID:  f.Paxos.InstanceID,
			ContentKind: f.Paxos.Content.Kind(),
			Content:     content,
		}
	default:
		return errors.Errorf("wire: unknown frame kind %d", f.Kind)
	}

	body, err := json.Marshal(wf)
	if err != nil {
		return errors.Wrap(err, "wire: marshal frame")
	}
	if len(body) > MaxFrameSize {
		return errors.Errorf("wire: frame of %d bytes exceeds max %d", len(body), MaxFrameSize)
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(body)))
	if _, err := w.Write(length[:]); err != nil {
		return errors.Wrap(err, "wire: write length prefix")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "wire: write body")
	}
	return nil
}

// DecodeFrame blocks until it has read one complete length-prefixed
// frame from r, or returns an error (including io.EOF on orderly close).
// A malformed body is reported as a *DecodeError so callers can choose
// to drop-and-continue rather than tearing down the
// link.
func DecodeFrame(r io.Reader) (protocol.Frame, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return protocol.Frame{}, err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > MaxFrameSize {
		return protocol.Frame{}, errors.Errorf("wire: frame length %d exceeds max %d", n, MaxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return protocol.Frame{}, errors.Wrap(err, "wire: read body")
	}

	var wf wireFrame
	if err := json.Unmarshal(body, &wf); err != nil {
		return protocol.Frame{}, &DecodeError{Cause: err}
	}

	switch wf.Kind {
	case protocol.FrameNetwork:
		if wf.Network == nil {
			return protocol.Frame{}, &DecodeError{Cause: errors.New("wire: network frame missing body")}
		}
		return protocol.Frame{Kind: protocol.FrameNetwork, Network: *wf.Network}, nil
	case protocol.FramePaxos:
		if wf.Paxos == nil {
			return protocol.Frame{}, &DecodeError{Cause: errors.New("wire: paxos frame missing body")}
		}
		content, err := decodeContent(wf.Paxos.ContentKind, wf.Paxos.Content)
		if err != nil {
			return protocol.Frame{}, &DecodeError{Cause: err}
		}
		return protocol.Frame{
			Kind: protocol.FramePaxos,
			Paxos: protocol.PaxosMessage{
				InstanceID: wf.Paxos.InstanceID,
				Content:    content,
			},
		}, nil
	default:
		return protocol.Frame{}, &DecodeError{Cause: errors.Errorf("wire: unknown frame kind %d", wf.Kind)}
	}
}

func decodeContent(kind protocol.ContentKind, raw json.RawMessage) (protocol.PaxosMessageContent, error) {
	switch kind {
	case protocol.KindPropose:
		var c protocol.Propose
		return c, json.Unmarshal(raw, &c)
	case protocol.KindPromise:
		var c protocol.Promise
		return c, json.Unmarshal(raw, &c)
	case protocol.KindRejectPropose:
		var c protocol.RejectPropose
		return c, json.Unmarshal(raw, &c)
	case protocol.KindRequest:
		var c protocol.Request
		return c, json.Unmarshal(raw, &c)
	case protocol.KindAccept:
		var c protocol.Accept
		return c, json.Unmarshal(raw, &c)
	case protocol.KindRejectRequest:
		var c protocol.RejectRequest
		return c, json.Unmarshal(raw, &c)
	case protocol.KindCommit:
		var c protocol.Commit
		return c, json.Unmarshal(raw, &c)
	case protocol.KindAcknowledge:
		var c protocol.Acknowledge
		return c, json.Unmarshal(raw, &c)
	default:
		return nil, errors.Errorf("wire: unknown content kind %d", kind)
	}
}

// DecodeError wraps a frame that failed to decode. A Communicator is
// expected to drop such a frame and keep reading
// rather than tear down the link; repeated DecodeErrors are a signal
// callers MAY use to close a misbehaving link instead.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string { return "wire: decode frame: " + e.Cause.Error() }
func (e *DecodeError) Unwrap() error { return e.Cause }
