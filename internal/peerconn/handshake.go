package peerconn

import (
	"errors"
	"net"
	"time"

	"github.com/gopeers/bitclient/internal/logger"
	"github.com/gopeers/bitclient/internal/peerprotocol"
)

// Errors surfaced by Dial/Accept, named after the teacher's
// internal/btconn dial/accept error set.
var (
	ErrInvalidInfoHash = errors.New("peerconn: info hash mismatch")
	ErrOwnConnection   = errors.New("peerconn: dropped own connection")
)

// handshakeTimeout bounds the blocking handshake exchange; it is the
// one allowed blocking I/O per spec.md §4.2's DecodeHandshake note.
const handshakeTimeout = 30 * time.Second

// Dial opens an outbound TCP connection to addr and performs the
// active side of the handshake, verifying the remote's info-hash and
// rejecting a self-connection (remote peer-id equal to ourID).
func Dial(addr string, infoHash, ourID [20]byte, l logger.Logger) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	c, err := handshake(nc, infoHash, ourID, l)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Accept performs the passive side of the handshake over an already-
// accepted inbound connection.
func Accept(nc net.Conn, infoHash, ourID [20]byte, l logger.Logger) (*Conn, error) {
	c, err := handshake(nc, infoHash, ourID, l)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// handshake runs the blocking read/write exchange common to both
// sides: write our handshake, read the remote's, validate info-hash
// and self-connection, and return a ready PeerSession. Both sides send
// first (spec.md does not require waiting for the remote to speak
// first on the passive side, since the remote already knows our
// address from the tracker response that led to this accept).
func handshake(nc net.Conn, infoHash, ourID [20]byte, l logger.Logger) (*Conn, error) {
	nc.SetDeadline(time.Now().Add(handshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	ours := peerprotocol.Handshake{InfoHash: infoHash, PeerID: ourID}
	if _, err := nc.Write(ours.Encode()); err != nil {
		return nil, err
	}
	theirs, err := peerprotocol.DecodeHandshake(nc)
	if err != nil {
		return nil, err
	}
	if theirs.InfoHash != infoHash {
		return nil, ErrInvalidInfoHash
	}
	if theirs.PeerID == ourID {
		return nil, ErrOwnConnection
	}
	return New(nc, theirs.PeerID, l), nil
}
