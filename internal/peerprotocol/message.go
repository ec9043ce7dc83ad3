// Package peerprotocol implements the BEP 3 peer wire protocol: the
// fixed handshake and the length-prefixed message stream that follows
// it. Decoder.Feed is the resumable frame parser required by spec: its
// partial length prefix and partial frame body persist across calls so
// a message's bytes may arrive split across any number of reads.
package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageID identifies the payload type of a non-keepalive message.
type MessageID byte

const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// Message is the sum type for all peer wire messages, including the
// zero-length keep-alive (represented by KeepAliveMessage).
type Message interface {
	ID() (MessageID, bool) // ok=false for keep-alive
	Payload() []byte
}

// KeepAliveMessage is the zero-length frame used to hold a connection
// open. It carries no id and no payload.
type KeepAliveMessage struct{}

func (KeepAliveMessage) ID() (MessageID, bool) { return 0, false }
func (KeepAliveMessage) Payload() []byte        { return nil }

// ChokeMessage, UnchokeMessage, InterestedMessage, NotInterestedMessage
// carry no payload.
type ChokeMessage struct{}
type UnchokeMessage struct{}
type InterestedMessage struct{}
type NotInterestedMessage struct{}

func (ChokeMessage) ID() (MessageID, bool)         { return Choke, true }
func (ChokeMessage) Payload() []byte                { return nil }
func (UnchokeMessage) ID() (MessageID, bool)        { return Unchoke, true }
func (UnchokeMessage) Payload() []byte               { return nil }
func (InterestedMessage) ID() (MessageID, bool)     { return Interested, true }
func (InterestedMessage) Payload() []byte            { return nil }
func (NotInterestedMessage) ID() (MessageID, bool)  { return NotInterested, true }
func (NotInterestedMessage) Payload() []byte         { return nil }

// HaveMessage announces a newly-verified piece index.
type HaveMessage struct {
	Index uint32
}

func (m HaveMessage) ID() (MessageID, bool) { return Have, true }
func (m HaveMessage) Payload() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return b
}

// BitfieldMessage carries the sender's full piece bitfield.
type BitfieldMessage struct {
	Data []byte
}

func (m BitfieldMessage) ID() (MessageID, bool) { return Bitfield, true }
func (m BitfieldMessage) Payload() []byte        { return m.Data }

// RequestMessage and CancelMessage both carry (index, begin, length).
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (m RequestMessage) ID() (MessageID, bool) { return Request, true }
func (m RequestMessage) Payload() []byte        { return encodeIBL(m.Index, m.Begin, m.Length) }

type CancelMessage struct {
	Index, Begin, Length uint32
}

func (m CancelMessage) ID() (MessageID, bool) { return Cancel, true }
func (m CancelMessage) Payload() []byte        { return encodeIBL(m.Index, m.Begin, m.Length) }

func encodeIBL(index, begin, length uint32) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], index)
	binary.BigEndian.PutUint32(b[4:8], begin)
	binary.BigEndian.PutUint32(b[8:12], length)
	return b
}

// PieceMessage carries a block of piece data.
type PieceMessage struct {
	Index, Begin uint32
	Block        []byte
}

func (m PieceMessage) ID() (MessageID, bool) { return Piece, true }
func (m PieceMessage) Payload() []byte {
	b := make([]byte, 8+len(m.Block))
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	copy(b[8:], m.Block)
	return b
}

// Encode frames m as a 4-byte big-endian length prefix followed by its
// payload, producing exactly 4+len(payload) bytes (P6).
func Encode(m Message) []byte {
	id, ok := m.ID()
	payload := m.Payload()
	var body []byte
	if !ok {
		// keep-alive: zero-length body
		body = nil
	} else {
		body = make([]byte, 1+len(payload))
		body[0] = byte(id)
		copy(body[1:], payload)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

var (
	// ErrInvalidLength is returned when a frame's declared length is
	// impossible for its message type (e.g. too short for its fixed
	// header). This is a peer protocol violation: spec.md §7 says close
	// the peer, do not propagate past the connection.
	ErrInvalidLength = errors.New("peerprotocol: invalid message length")
	ErrUnknownID     = errors.New("peerprotocol: unknown message id")
)

// Decode parses a single fully-buffered frame body (everything after the
// 4-byte length prefix; length 0 means KeepAliveMessage with an empty
// body slice). It does not consume a length prefix itself — callers with
// raw wire bytes should use Decoder.Feed instead.
func Decode(body []byte) (Message, error) {
	if len(body) == 0 {
		return KeepAliveMessage{}, nil
	}
	id := MessageID(body[0])
	rest := body[1:]
	switch id {
	case Choke:
		return ChokeMessage{}, nil
	case Unchoke:
		return UnchokeMessage{}, nil
	case Interested:
		return InterestedMessage{}, nil
	case NotInterested:
		return NotInterestedMessage{}, nil
	case Have:
		if len(rest) != 4 {
			return nil, ErrInvalidLength
		}
		return HaveMessage{Index: binary.BigEndian.Uint32(rest)}, nil
	case Bitfield:
		data := make([]byte, len(rest))
		copy(data, rest)
		return BitfieldMessage{Data: data}, nil
	case Request:
		if len(rest) != 12 {
			return nil, ErrInvalidLength
		}
		return RequestMessage{
			Index:  binary.BigEndian.Uint32(rest[0:4]),
			Begin:  binary.BigEndian.Uint32(rest[4:8]),
			Length: binary.BigEndian.Uint32(rest[8:12]),
		}, nil
	case Piece:
		if len(rest) < 8 {
			return nil, ErrInvalidLength
		}
		block := make([]byte, len(rest)-8)
		copy(block, rest[8:])
		return PieceMessage{
			Index: binary.BigEndian.Uint32(rest[0:4]),
			Begin: binary.BigEndian.Uint32(rest[4:8]),
			Block: block,
		}, nil
	case Cancel:
		if len(rest) != 12 {
			return nil, ErrInvalidLength
		}
		return CancelMessage{
			Index:  binary.BigEndian.Uint32(rest[0:4]),
			Begin:  binary.BigEndian.Uint32(rest[4:8]),
			Length: binary.BigEndian.Uint32(rest[8:12]),
		}, nil
	default:
		return nil, ErrUnknownID
	}
}
