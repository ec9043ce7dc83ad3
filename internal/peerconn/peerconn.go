// Package peerconn implements PeerSession (spec.md §3, §4.4): the
// handshake plus the reader/writer goroutine pair that turns a raw
// net.Conn into a stream of decoded peerprotocol.Message values, with
// the per-peer flags, in-flight request, and speed/contribution
// counters the scheduler reads and mutates. Construction and the
// Run/Close lifecycle are adapted from the teacher's
// torrent/internal/peerconn/peer.go; only one goroutine (the engine's
// run loop) ever reads or writes the exported fields, matching
// spec.md §5's single-threaded ownership rule.
package peerconn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gopeers/bitclient/internal/bitfield"
	"github.com/gopeers/bitclient/internal/logger"
	"github.com/gopeers/bitclient/internal/peerprotocol"
	metrics "github.com/rcrowley/go-metrics"
)

// InFlight is the single outstanding request a PeerSession may have at
// a time (spec.md §3: pipeline depth 1).
type InFlight struct {
	Index, Begin uint32
	Active       bool
	StartedAt    time.Time
}

// Conn is a handshaked peer session. Its flags and counters are plain
// fields, not mutex-protected, because only the engine's run-loop
// goroutine reads or writes them once Run has been started; the
// reader/writer goroutines only move bytes across sendC/MessagesC.
type Conn struct {
	conn net.Conn
	id   [20]byte
	log  logger.Logger

	closeC   chan struct{}
	closeOnce sync.Once
	closedC  chan struct{}
	sendC    chan peerprotocol.Message
	MessagesC chan peerprotocol.Message

	// Flags, initial values per spec.md §3.
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	PeerBitfield *bitfield.Bitfield

	InFlight     InFlight
	Contribution uint64
	speed        metrics.EWMA
}

// New wraps an already-handshaked connection. id is the remote peer's
// 20-byte peer-id, already validated by the caller (not self, not a
// duplicate).
func New(conn net.Conn, id [20]byte, l logger.Logger) *Conn {
	return &Conn{
		conn:   conn,
		id:     id,
		log:    l,
		closeC: make(chan struct{}),
		closedC: make(chan struct{}),
		// Unbuffered: a Send blocks the caller until the writer
		// goroutine has taken the message, so a slow peer applies
		// backpressure rather than letting sends pile up unboundedly
		// (spec.md §4.4: "this implementation does not buffer
		// outbound").
		sendC: make(chan peerprotocol.Message),
		MessagesC: make(chan peerprotocol.Message, 16),

		AmChoking:    false,
		AmInterested: true,
		PeerChoking:  true,
		speed:        metrics.NewEWMA1(),
	}
}

// ID returns the remote peer's 20-byte peer-id.
func (c *Conn) ID() [20]byte { return c.id }

// String identifies the peer by remote address for logging.
func (c *Conn) String() string { return c.conn.RemoteAddr().String() }

// Send queues msg for the writer goroutine. It must not be called
// after Close has returned.
func (c *Conn) Send(msg peerprotocol.Message) {
	select {
	case c.sendC <- msg:
	case <-c.closeC:
	}
}

// Contribute records block bytes received from this peer and updates
// its speed estimate. elapsed is the duration since the request that
// produced block was sent.
func (c *Conn) Contribute(n uint32, elapsed time.Duration) {
	c.Contribution += uint64(n)
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	c.speed.Update(int64(float64(n) / elapsed.Seconds()))
	c.speed.Tick()
}

// Speed returns the current EWMA download rate in bytes/sec from this
// peer, as reported by the engine's per-peer stats.
func (c *Conn) Speed() float64 { return c.speed.Rate() }

// Close tears down both goroutines and the underlying socket,
// blocking until Run has fully returned.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.closeC) })
	<-c.closedC
}

// Run starts the reader and writer goroutines and blocks until either
// one exits (read error, write error, or Close was called), then
// closes the connection and waits for the other to finish. MessagesC
// is closed when Run returns, signalling disconnect to the engine.
func (c *Conn) Run() {
	defer close(c.closedC)
	defer close(c.MessagesC)

	readerDone := make(chan struct{})
	go func() {
		c.readLoop()
		close(readerDone)
	}()

	writerDone := make(chan struct{})
	go func() {
		c.writeLoop()
		close(writerDone)
	}()

	select {
	case <-c.closeC:
	case <-readerDone:
	case <-writerDone:
	}
	// Wakes whichever goroutine is still running and makes later Sends
	// return instead of blocking.
	c.closeOnce.Do(func() { close(c.closeC) })
	c.conn.Close()
	<-readerDone
	<-writerDone
}

func (c *Conn) readLoop() {
	var dec peerprotocol.Decoder
	buf := make([]byte, 32*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			msgs, decErr := dec.Feed(buf[:n])
			for _, m := range msgs {
				select {
				case c.MessagesC <- m:
				case <-c.closeC:
					return
				}
			}
			if decErr != nil {
				c.log.Debugln("peer protocol error:", decErr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.sendC:
			b := peerprotocol.Encode(msg)
			n, err := c.conn.Write(b)
			if err != nil || n != len(b) {
				c.log.Debugln(fmt.Sprintf("short or failed write to %s: %v", c, err))
				return
			}
		case <-c.closeC:
			return
		}
	}
}
