// Package engine implements Session (spec.md §3) and the EventLoop
// (spec.md §4.7): the single goroutine that owns every piece of
// mutable state and the channels that feed it. Split into engine.go
// (construction and helpers) and run.go (the select loop itself),
// mirroring the teacher's session.go/run.go split.
package engine

import (
	"context"
	"fmt"
	"net"

	"github.com/gopeers/bitclient/internal/bitfield"
	"github.com/gopeers/bitclient/internal/config"
	"github.com/gopeers/bitclient/internal/logger"
	"github.com/gopeers/bitclient/internal/metainfo"
	"github.com/gopeers/bitclient/internal/peerconn"
	"github.com/gopeers/bitclient/internal/peerprotocol"
	"github.com/gopeers/bitclient/internal/piecestore"
	"github.com/gopeers/bitclient/internal/scheduler"
	"github.com/gopeers/bitclient/internal/tracker"
)

type peerMsg struct {
	peer *peerconn.Conn
	msg  peerprotocol.Message
}

type dialResult struct {
	addr string
	conn *peerconn.Conn
	err  error
}

type acceptResult struct {
	conn *peerconn.Conn
	err  error
}

type announceResult struct {
	tr   *tracker.Tracker
	resp tracker.Response
	err  error
}

// Session is the engine root: it holds MetaInfo, the scheduler
// (bitfield + piece state), the PeerSession registry, the tracker
// list, and the listening socket, and drives everything from the
// single Run goroutine (spec.md §5).
type Session struct {
	cfg    config.Config
	mi     *metainfo.MetaInfo
	peerID [20]byte
	store  *piecestore.Store
	sched  *scheduler.Scheduler
	log    logger.Logger

	trackers []*tracker.Tracker
	listener net.Listener

	peers       map[*peerconn.Conn]struct{}
	peerIDs     map[[20]byte]struct{}
	knownAddrs  map[string]struct{}
	uploaded    int64

	peerMsgC        chan peerMsg
	peerDisconnectC chan *peerconn.Conn
	incomingConnC   chan net.Conn
	dialResultC     chan dialResult
	acceptResultC   chan acceptResult
	announceResultC chan announceResult
}

// New builds a Session ready to Run. trackers, store, and sched must
// already be constructed by the Driver (cmd/bitclient).
func New(cfg config.Config, mi *metainfo.MetaInfo, peerID [20]byte, store *piecestore.Store, sched *scheduler.Scheduler, trackers []*tracker.Tracker, listener net.Listener, log logger.Logger) *Session {
	return &Session{
		cfg:      cfg,
		mi:       mi,
		peerID:   peerID,
		store:    store,
		sched:    sched,
		log:      log,
		trackers: trackers,
		listener: listener,

		peers:      make(map[*peerconn.Conn]struct{}),
		peerIDs:    make(map[[20]byte]struct{}),
		knownAddrs: make(map[string]struct{}),

		peerMsgC:        make(chan peerMsg, 64),
		peerDisconnectC: make(chan *peerconn.Conn, 8),
		incomingConnC:   make(chan net.Conn, 8),
		dialResultC:     make(chan dialResult, 8),
		acceptResultC:   make(chan acceptResult, 8),
		announceResultC: make(chan announceResult, 4),
	}
}

func (s *Session) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.incomingConnC <- conn
	}
}

// handshakeInbound runs the passive handshake in its own goroutine so
// a slow or hostile peer can never block the run loop.
func (s *Session) handshakeInbound(raw net.Conn) {
	c, err := peerconn.Accept(raw, s.mi.InfoHash, s.peerID, s.log)
	s.acceptResultC <- acceptResult{conn: c, err: err}
}

// dial connects to addr in its own goroutine.
func (s *Session) dial(addr string) {
	c, err := peerconn.Dial(addr, s.mi.InfoHash, s.peerID, s.log)
	s.dialResultC <- dialResult{addr: addr, conn: c, err: err}
}

// announce runs one tracker GET in its own goroutine, satisfying
// spec.md §5's requirement that DNS/connect never block the loop.
func (s *Session) announce(tr *tracker.Tracker, event tracker.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TrackerHTTPTimeout)
	defer cancel()
	req := tracker.Request{
		InfoHash:   s.mi.InfoHash,
		PeerID:     s.peerID,
		Port:       s.listenPort(),
		Uploaded:   s.uploaded,
		Downloaded: s.sched.Downloaded(),
		Left:       s.sched.Left(),
		Event:      event,
	}
	resp, err := tr.Announce(ctx, req)
	s.announceResultC <- announceResult{tr: tr, resp: resp, err: err}
}

func (s *Session) listenPort() int {
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// addPeer promotes a handshaked connection to the registry, rejecting
// a second connection from a peer-id we already have (spec.md §7).
func (s *Session) addPeer(c *peerconn.Conn) {
	if _, dup := s.peerIDs[c.ID()]; dup {
		s.log.Debugln("duplicate peer-id, dropping:", c)
		go c.Run() // Close waits for Run to return
		c.Close()
		return
	}
	s.peerIDs[c.ID()] = struct{}{}
	s.peers[c] = struct{}{}
	go func() {
		c.Run()
		s.peerDisconnectC <- c
	}()
	go s.pumpMessages(c)

	// Initial outbound sequence (spec.md §4.4): BITFIELD, then
	// UNCHOKE, then INTERESTED, unconditionally.
	bf := s.sched.Bitfield()
	c.Send(peerprotocol.BitfieldMessage{Data: append([]byte(nil), bf.Bytes()...)})
	c.AmChoking = false
	c.Send(peerprotocol.UnchokeMessage{})
	c.AmInterested = true
	c.Send(peerprotocol.InterestedMessage{})
}

func (s *Session) pumpMessages(c *peerconn.Conn) {
	for msg := range c.MessagesC {
		s.peerMsgC <- peerMsg{peer: c, msg: msg}
	}
}

func (s *Session) removePeer(c *peerconn.Conn) {
	if _, ok := s.peers[c]; !ok {
		return
	}
	delete(s.peers, c)
	delete(s.peerIDs, c.ID())
	c.Close()
}

// dialFromAnnounce dials addresses from a tracker's returned peer list,
// skipping addresses already known, until connected peers plus the
// dials started here reach the configured outbound peer limit.
func (s *Session) dialFromAnnounce(addrs []string) {
	dialing := 0
	for _, addr := range addrs {
		if len(s.peers)+dialing >= s.cfg.MaxOutboundPeers {
			return
		}
		if _, known := s.knownAddrs[addr]; known {
			continue
		}
		s.knownAddrs[addr] = struct{}{}
		dialing++
		go s.dial(addr)
	}
}

// handlePeerMessage applies spec.md §4.4's inbound state transitions
// for every message except PIECE, which the scheduler owns.
func (s *Session) handlePeerMessage(p *peerconn.Conn, msg peerprotocol.Message) {
	switch m := msg.(type) {
	case peerprotocol.ChokeMessage:
		p.PeerChoking = true
	case peerprotocol.UnchokeMessage:
		p.PeerChoking = false
	case peerprotocol.InterestedMessage:
		p.PeerInterested = true
	case peerprotocol.NotInterestedMessage:
		p.PeerInterested = false
	case peerprotocol.HaveMessage:
		if m.Index >= uint32(s.mi.Info.NumPieces) {
			s.log.Debugln("protocol violation, have index out of range, dropping peer:", p, m.Index)
			s.removePeer(p)
			return
		}
		if p.PeerBitfield == nil {
			p.PeerBitfield = bitfield.New(uint32(s.mi.Info.NumPieces))
		}
		p.PeerBitfield.Set(m.Index)
		s.sched.AddOwner(m.Index)
	case peerprotocol.BitfieldMessage:
		if uint32(len(m.Data)) != (uint32(s.mi.Info.NumPieces)+7)/8 {
			s.log.Debugln("protocol violation, bad bitfield length, dropping peer:", p, len(m.Data))
			s.removePeer(p)
			return
		}
		p.PeerBitfield = bitfield.NewBytes(m.Data, uint32(s.mi.Info.NumPieces))
		s.sched.AddOwners(p.PeerBitfield)
	case peerprotocol.RequestMessage:
		s.serveRequest(p, m)
	case peerprotocol.CancelMessage:
		// Pipeline depth of 1 makes cancellation cosmetic (spec.md §4.4).
	case peerprotocol.KeepAliveMessage:
		// Parse-safe no-op at any point (spec.md §5).
	case peerprotocol.PieceMessage:
		s.handlePieceMessage(p, m)
	}
}

func (s *Session) serveRequest(p *peerconn.Conn, m peerprotocol.RequestMessage) {
	if !s.sched.IsVerified(m.Index) {
		return // silently drop, spec.md §4.4
	}
	block, err := s.store.ReadBlock(m.Index, m.Begin, m.Length)
	if err != nil {
		s.log.Errorln("serving request failed:", err)
		return
	}
	p.Send(peerprotocol.PieceMessage{Index: m.Index, Begin: m.Begin, Block: block})
	s.uploaded += int64(len(block))
}

func (s *Session) handlePieceMessage(p *peerconn.Conn, m peerprotocol.PieceMessage) {
	verifiedIndex, verified := s.sched.OnPiece(p, m)
	if !verified {
		return
	}
	for peer := range s.peers {
		if peer.PeerBitfield != nil && peer.PeerBitfield.Test(verifiedIndex) {
			continue // recipient already claims the piece (spec.md §9 corrected predicate)
		}
		peer.Send(peerprotocol.HaveMessage{Index: verifiedIndex})
	}
}

// String identifies the session for logging.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.mi.Info.Name)
}

// PeerStat is a snapshot of one PeerSession's choke/interest state and
// contribution, the fields the original driver's per-peer status line
// printed (original_source/peer.c).
type PeerStat struct {
	Peer           string
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool
	Contribution   uint64
	Speed          float64
}

// Stats snapshots every connected PeerSession, giving contribution a
// consumer beyond the scheduler (SPEC_FULL.md's engine section).
func (s *Session) Stats() []PeerStat {
	out := make([]PeerStat, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, PeerStat{
			Peer:           p.String(),
			AmChoking:      p.AmChoking,
			AmInterested:   p.AmInterested,
			PeerChoking:    p.PeerChoking,
			PeerInterested: p.PeerInterested,
			Contribution:   p.Contribution,
			Speed:          p.Speed(),
		})
	}
	return out
}

// logStatus reproduces the original driver's per-tick status print
// (original_source/driver.c) as a Debug-level log line so it doesn't
// spam by default.
func (s *Session) logStatus() {
	for _, st := range s.Stats() {
		s.log.Debugf("peer %s: amChoking=%v amInterested=%v peerChoking=%v peerInterested=%v contribution=%d speed=%.1f",
			st.Peer, st.AmChoking, st.AmInterested, st.PeerChoking, st.PeerInterested, st.Contribution, st.Speed)
	}
}
