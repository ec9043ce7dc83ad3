package engine

import (
	"context"
	"time"

	"github.com/gopeers/bitclient/internal/peerconn"
	"github.com/gopeers/bitclient/internal/peerprotocol"
	"github.com/gopeers/bitclient/internal/tracker"
)

// idleTickInterval drives the scheduler's timeout sweep during periods
// with no peer or tracker activity; Tick is also called after every
// peer message, disconnect, new peer and tracker response, and this
// ticker keeps a stalled sub-piece from sitting more than this long
// past its deadline before being retried.
const idleTickInterval = time.Second

// Run is the EventLoop (spec.md §4.7): the one goroutine that reads
// every channel and is therefore the sole mutator of Session state.
// ctx.Done() is the self-pipe translation of SIGINT (spec.md §9):
// signal.NotifyContext's internal signal.Notify channel plays exactly
// the role the spec asks for — the signal handler only ever closes a
// channel the loop itself drains, never touching Session state from
// another goroutine.
func (s *Session) Run(ctx context.Context) {
	go s.acceptLoop()

	trackerReachable := make(map[*tracker.Tracker]bool, len(s.trackers))
	trackerInterval := make(map[*tracker.Tracker]time.Duration, len(s.trackers))
	for _, tr := range s.trackers {
		go s.announce(tr, tr.NextEvent(s.sched.Downloaded(), s.sched.Left(), s.sched.TotalLength()))
	}

	keepalive := time.NewTicker(s.cfg.KeepAliveInterval)
	defer keepalive.Stop()
	idleTick := time.NewTicker(idleTickInterval)
	defer idleTick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(trackerReachable)
			return

		case conn := <-s.incomingConnC:
			go s.handshakeInbound(conn)

		case res := <-s.acceptResultC:
			if res.err != nil {
				s.log.Debugln("inbound handshake failed:", res.err)
				break
			}
			s.addPeer(res.conn)
			s.tick()

		case res := <-s.dialResultC:
			if res.err != nil {
				s.log.Debugln("dial failed:", res.addr, res.err)
				break
			}
			s.addPeer(res.conn)
			s.tick()

		case res := <-s.announceResultC:
			if res.err != nil {
				s.log.Debugln("announce failed:", res.tr.URL(), res.err)
				// Keep announcing at the last interval this tracker gave.
				if interval, ok := trackerInterval[res.tr]; ok {
					tr := res.tr
					time.AfterFunc(interval, func() {
						go s.announce(tr, tr.NextEvent(s.sched.Downloaded(), s.sched.Left(), s.sched.TotalLength()))
					})
				}
				break
			}
			trackerReachable[res.tr] = true
			s.dialFromAnnounce(res.resp.Peers)
			interval := res.resp.Interval
			tr := res.tr
			trackerInterval[tr] = interval
			time.AfterFunc(interval, func() {
				go s.announce(tr, tr.NextEvent(s.sched.Downloaded(), s.sched.Left(), s.sched.TotalLength()))
			})
			s.tick()

		case pm := <-s.peerMsgC:
			s.handlePeerMessage(pm.peer, pm.msg)
			s.tick()

		case p := <-s.peerDisconnectC:
			s.removePeer(p)
			s.tick()

		case <-keepalive.C:
			for p := range s.peers {
				p.Send(peerprotocol.KeepAliveMessage{})
			}

		case <-idleTick.C:
			s.tick()
		}
	}
}

func (s *Session) tick() {
	peers := make([]*peerconn.Conn, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.sched.Tick(peers)
	s.logStatus()
}

// shutdown is the graceful-SIGINT path (spec.md §5): announce stopped,
// with the sentinel downloaded=left=totalLength, to every tracker
// that has proven reachable this run, then close every peer and the
// listener.
func (s *Session) shutdown(trackerReachable map[*tracker.Tracker]bool) {
	total := s.sched.TotalLength()
	for _, tr := range s.trackers {
		if !trackerReachable[tr] {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TrackerHTTPTimeout)
		req := tracker.Request{
			InfoHash:   s.mi.InfoHash,
			PeerID:     s.peerID,
			Port:       s.listenPort(),
			Uploaded:   s.uploaded,
			Downloaded: total,
			Left:       total,
			Event:      tracker.Stopped,
		}
		if _, err := tr.Announce(ctx, req); err != nil {
			s.log.Debugln("stopped announce failed:", tr.URL(), err)
		}
		cancel()
	}
	for p := range s.peers {
		p.Close()
	}
	s.listener.Close()
}
