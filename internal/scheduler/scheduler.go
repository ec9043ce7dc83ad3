// Package scheduler implements spec.md §4.6: rarest-first piece/
// sub-piece selection with sticky endgame, the sub-piece timeout
// sweep, PIECE-arrival verification, and HAVE broadcast. It is
// grounded on the dynamic bookkeeping held by original_source's
// driver.c (select_piece/select_peer/send_request/handle_piece),
// recombined here with the teacher's piecedownloader.go naming (its
// allDone, with firstSelectableSub in the role of its nextBlock) into
// a single package sized for one torrent at a time.
package scheduler

import (
	"sort"
	"time"

	"github.com/gopeers/bitclient/internal/bitfield"
	"github.com/gopeers/bitclient/internal/logger"
	"github.com/gopeers/bitclient/internal/peerconn"
	"github.com/gopeers/bitclient/internal/peerprotocol"
	"github.com/gopeers/bitclient/internal/piece"
	"github.com/gopeers/bitclient/internal/piecestore"
)

// SubState is one sub-piece's lifecycle state.
type SubState int

const (
	Missing SubState = iota
	InFlight
	Done
)

type pieceState struct {
	piece       piece.Piece
	owners      int
	verified    bool
	subState    []SubState
	subDeadline []time.Time
}

// Scheduler owns every PieceState, the local bitfield, and the
// downloaded/left accounting invariant (spec.md §3, P1).
type Scheduler struct {
	pieces      []pieceState
	local       *bitfield.Bitfield
	store       *piecestore.Store
	blockLength uint32
	subTimeout  time.Duration
	endgame     bool
	totalLength int64
	downloaded  int64
	left        int64
	log         logger.Logger
}

// New builds a Scheduler from the static piece table and the result of
// the startup resume scan.
func New(pieces []piece.Piece, totalLength int64, blockLength uint32, subTimeout time.Duration, store *piecestore.Store, resume piecestore.ResumeResult, log logger.Logger) *Scheduler {
	s := &Scheduler{
		pieces:      make([]pieceState, len(pieces)),
		local:       bitfield.New(uint32(len(pieces))),
		store:       store,
		blockLength: blockLength,
		subTimeout:  subTimeout,
		totalLength: totalLength,
		left:        totalLength,
		log:         log,
	}
	for i, p := range pieces {
		s.pieces[i] = pieceState{
			piece:       p,
			subState:    make([]SubState, len(p.Blocks)),
			subDeadline: make([]time.Time, len(p.Blocks)),
		}
		if i < len(resume.Verified) && resume.Verified[i] {
			s.markVerified(i)
		}
	}
	s.downloaded = resume.Downloaded
	s.left = totalLength - resume.Downloaded
	return s
}

func (s *Scheduler) markVerified(i int) {
	ps := &s.pieces[i]
	ps.verified = true
	for j := range ps.subState {
		ps.subState[j] = Done
	}
	s.local.Set(uint32(i))
}

// Bitfield returns the local verified-piece bitfield, sent to peers
// right after handshake.
func (s *Scheduler) Bitfield() *bitfield.Bitfield { return s.local }

// Downloaded, Left, and TotalLength report the accounting counters
// that must satisfy Downloaded()+Left() == TotalLength() (spec P1).
func (s *Scheduler) Downloaded() int64   { return s.downloaded }
func (s *Scheduler) Left() int64         { return s.left }
func (s *Scheduler) TotalLength() int64  { return s.totalLength }
func (s *Scheduler) Complete() bool      { return s.left == 0 }
func (s *Scheduler) IsVerified(i uint32) bool {
	return int(i) < len(s.pieces) && s.pieces[i].verified
}
func (s *Scheduler) PieceLength(i uint32) uint32 { return s.pieces[i].piece.Length }

// AddOwners increments PieceState.owners for every piece pb claims,
// used for an inbound BITFIELD (spec.md §4.4).
func (s *Scheduler) AddOwners(pb *bitfield.Bitfield) {
	for i := range s.pieces {
		if pb.Test(uint32(i)) {
			s.pieces[i].owners++
		}
	}
}

// AddOwner records a single HAVE(i).
func (s *Scheduler) AddOwner(i uint32) {
	if int(i) < len(s.pieces) {
		s.pieces[i].owners++
	}
}

// sweepTimeouts is phase (c): any IN_FLIGHT sub-piece older than
// subTimeout becomes MISSING again. The peer holding it is left alone.
func (s *Scheduler) sweepTimeouts(now time.Time) {
	for i := range s.pieces {
		ps := &s.pieces[i]
		if ps.verified {
			continue
		}
		for j, st := range ps.subState {
			if st == InFlight && now.After(ps.subDeadline[j]) {
				ps.subState[j] = Missing
			}
		}
	}
}

// Tick runs one full scheduler pass: the timeout sweep (phase c) then
// selection (phases a-b). peers is the current PeerSession registry;
// Tick mutates the InFlight field of any peer it assigns a request to.
func (s *Scheduler) Tick(peers []*peerconn.Conn) {
	s.sweepTimeouts(time.Now())
	s.assign(peers)
}

func (s *Scheduler) assign(peers []*peerconn.Conn) {
	for _, idx := range s.rarestFirstOrder() {
		if !anyIdle(peers) {
			return // code 2: no eligible peers at all, abandon this pass
		}
		ps := &s.pieces[idx]
		subIdx, ok := firstSelectableSub(ps, s.endgame)
		if !ok {
			continue // every sub-piece of this piece already IN_FLIGHT/DONE and not in endgame
		}
		peer := selectPeer(peers, uint32(idx))
		if peer == nil {
			continue // code 1: no eligible peer for this piece, try the next one
		}
		s.sendRequest(peer, ps, subIdx)
	}
	if !s.endgame && anyIdle(peers) && s.allInFlightOrDone() {
		s.endgame = true
		s.assign(peers)
	}
}

func (s *Scheduler) sendRequest(peer *peerconn.Conn, ps *pieceState, subIdx int) {
	block := ps.piece.Blocks[subIdx]
	ps.subState[subIdx] = InFlight
	ps.subDeadline[subIdx] = time.Now().Add(s.subTimeout)
	peer.InFlight = peerconn.InFlight{Index: ps.piece.Index, Begin: block.Begin, Active: true, StartedAt: time.Now()}
	peer.Send(peerprotocol.RequestMessage{Index: ps.piece.Index, Begin: block.Begin, Length: block.Length})
}

// rarestFirstOrder returns unverified piece indices sorted ascending
// by owner count (spec.md §4.6 phase a).
func (s *Scheduler) rarestFirstOrder() []int {
	order := make([]int, 0, len(s.pieces))
	for i, ps := range s.pieces {
		if !ps.verified {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool { return s.pieces[order[a]].owners < s.pieces[order[b]].owners })
	return order
}

func (s *Scheduler) allInFlightOrDone() bool {
	for i := range s.pieces {
		ps := &s.pieces[i]
		if ps.verified {
			continue
		}
		for _, st := range ps.subState {
			if st == Missing {
				return false
			}
		}
	}
	return true
}

// firstSelectableSub returns the first MISSING sub-piece, or, once
// endgame is sticky-on, the first IN_FLIGHT one if no MISSING
// sub-piece remains in this piece.
func firstSelectableSub(ps *pieceState, endgame bool) (int, bool) {
	for i, st := range ps.subState {
		if st == Missing {
			return i, true
		}
	}
	if endgame {
		for i, st := range ps.subState {
			if st == InFlight {
				return i, true
			}
		}
	}
	return 0, false
}

func anyIdle(peers []*peerconn.Conn) bool {
	for _, p := range peers {
		if !p.InFlight.Active && !p.PeerChoking {
			return true
		}
	}
	return false
}

// selectPeer is phase (b): the first-eligible variant named as
// acceptable by spec.md §9 ("either is acceptable, pick one").
func selectPeer(peers []*peerconn.Conn, index uint32) *peerconn.Conn {
	for _, p := range peers {
		if !p.InFlight.Active && !p.PeerChoking && p.PeerBitfield != nil && p.PeerBitfield.Test(index) {
			return p
		}
	}
	return nil
}

// OnPiece is phase (d): handles an inbound PIECE message. It returns
// the verified piece index and true only in the same call that sets
// verified=true, which the caller uses to drive the HAVE broadcast
// (phase e, P4).
func (s *Scheduler) OnPiece(peer *peerconn.Conn, msg peerprotocol.PieceMessage) (verifiedIndex uint32, verified bool) {
	if !peer.InFlight.Active || peer.InFlight.Index != msg.Index || peer.InFlight.Begin != msg.Begin {
		return 0, false // not what we requested from this peer; ignore (spec.md §4.6 simplification)
	}
	ps := &s.pieces[msg.Index]
	subIdx := int(msg.Begin / s.blockLength)
	if subIdx >= len(ps.subState) {
		peer.InFlight.Active = false
		return 0, false
	}
	if ps.subState[subIdx] == Done {
		peer.InFlight.Active = false
		return 0, false
	}

	elapsed := time.Since(peer.InFlight.StartedAt)
	if err := s.store.WriteBlock(msg.Index, msg.Begin, msg.Block); err != nil {
		s.log.Errorln("piecestore write failed:", err)
		peer.InFlight.Active = false
		return 0, false
	}
	ps.subState[subIdx] = Done
	n := uint32(len(msg.Block))
	peer.Contribute(n, elapsed)
	s.downloaded += int64(n)
	s.left -= int64(n)
	peer.InFlight.Active = false

	if !allDone(ps) {
		return 0, false
	}
	ok, err := s.store.VerifyPiece(msg.Index, ps.piece.Length, ps.piece.Hash)
	if err != nil {
		s.log.Errorln("piecestore verify failed:", err)
	}
	if !ok {
		s.resetPiece(ps)
		return 0, false
	}
	ps.verified = true
	s.local.Set(msg.Index)
	return msg.Index, true
}

func allDone(ps *pieceState) bool {
	for _, st := range ps.subState {
		if st != Done {
			return false
		}
	}
	return true
}

// resetPiece restores exactly the bytes credited for this piece,
// per spec.md §9's restatement of the source's fragile counter
// arithmetic ("restore exactly the bytes credited for this piece").
func (s *Scheduler) resetPiece(ps *pieceState) {
	var restored int64
	for i, st := range ps.subState {
		if st == Done {
			restored += int64(ps.piece.Blocks[i].Length)
		}
		ps.subState[i] = Missing
	}
	s.downloaded -= restored
	s.left += restored
}
