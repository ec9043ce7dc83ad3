package peerprotocol

import (
	"errors"
	"io"
)

// Protocol name and fixed handshake layout from BEP 3 / spec.md §4.2.
const (
	ProtocolString = "BitTorrent protocol"
	HandshakeLen   = 1 + 19 + 8 + 20 + 20
)

// ErrBadHandshake is returned when the pstrlen/pstr of a peer's
// handshake doesn't match the BitTorrent protocol string.
var ErrBadHandshake = errors.New("peerprotocol: bad handshake")

// Handshake is the fixed 68-byte frame exchanged before any length-
// prefixed messages.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// Encode renders the handshake as the exact wire bytes.
func (h Handshake) Encode() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = 19
	copy(buf[1:20], ProtocolString)
	copy(buf[20:28], h.Reserved[:])
	copy(buf[28:48], h.InfoHash[:])
	copy(buf[48:68], h.PeerID[:])
	return buf
}

// DecodeHandshake reads exactly HandshakeLen bytes from r and parses
// them. It blocks until the full handshake arrives or r errors/EOFs,
// which is acceptable per spec.md §9: handshake reads are the one
// resumable-but-small read that may be done with a blocking helper
// rather than a byte-by-byte state machine, since its length is fixed
// and small.
func DecodeHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, err
	}
	return ParseHandshake(buf)
}

// ParseHandshake validates and decodes an already-read 68-byte buffer.
func ParseHandshake(buf []byte) (Handshake, error) {
	if len(buf) != HandshakeLen || buf[0] != 19 || string(buf[1:20]) != ProtocolString {
		return Handshake{}, ErrBadHandshake
	}
	var h Handshake
	copy(h.Reserved[:], buf[20:28])
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return h, nil
}
