package scheduler

import (
	"crypto/sha1"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopeers/bitclient/internal/bitfield"
	"github.com/gopeers/bitclient/internal/logger"
	"github.com/gopeers/bitclient/internal/peerconn"
	"github.com/gopeers/bitclient/internal/peerprotocol"
	"github.com/gopeers/bitclient/internal/piece"
	"github.com/gopeers/bitclient/internal/piecestore"
	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T, bf *bitfield.Bitfield) *peerconn.Conn {
	t.Helper()
	a, b := net.Pipe()
	c := peerconn.New(a, [20]byte{1}, logger.New("test"))
	// Send blocks until the writer goroutine takes the message, so the
	// peer must be running and its remote end drained.
	go c.Run()
	go io.Copy(io.Discard, b)
	t.Cleanup(func() {
		c.Close()
		b.Close()
	})
	c.PeerChoking = false
	c.PeerBitfield = bf
	return c
}

func newTestScheduler(t *testing.T, data []byte, pieceLen int64) (*Scheduler, []piece.Piece) {
	t.Helper()
	dir := t.TempDir()
	store, err := piecestore.Open(filepath.Join(dir, "data.bin"), int64(len(data)), pieceLen)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	n := (len(data) + int(pieceLen) - 1) / int(pieceLen)
	hashes := make([]byte, 0, n*20)
	for i := 0; i < n; i++ {
		end := (i + 1) * int(pieceLen)
		if end > len(data) {
			end = len(data)
		}
		h := sha1.Sum(data[i*int(pieceLen) : end])
		hashes = append(hashes, h[:]...)
	}
	pieces := piece.NewPieces(int64(len(data)), pieceLen, hashes, piece.DefaultBlockLength)
	s := New(pieces, int64(len(data)), piece.DefaultBlockLength, 50*time.Millisecond, store, piecestore.ResumeResult{Verified: make([]bool, n)}, logger.New("test"))
	return s, pieces
}

func TestTwoPeerTwoPieceDownload(t *testing.T) {
	data := make([]byte, 2*piece.DefaultBlockLength)
	for i := range data {
		data[i] = byte(i)
	}
	s, _ := newTestScheduler(t, data, piece.DefaultBlockLength)

	full := bitfield.New(2)
	full.Set(0)
	full.Set(1)
	s.AddOwners(full)
	peerA := newTestPeer(t, full)
	peerB := newTestPeer(t, full)

	s.Tick([]*peerconn.Conn{peerA, peerB})
	require.True(t, peerA.InFlight.Active)
	require.True(t, peerB.InFlight.Active)
	require.NotEqual(t, peerA.InFlight.Index, peerB.InFlight.Index)

	for _, p := range []*peerconn.Conn{peerA, peerB} {
		idx := p.InFlight.Index
		block := data[idx*piece.DefaultBlockLength : (idx+1)*piece.DefaultBlockLength]
		verifiedIdx, verified := s.OnPiece(p, peerprotocol.PieceMessage{Index: idx, Begin: 0, Block: block})
		require.True(t, verified)
		require.Equal(t, idx, verifiedIdx)
	}
	require.Equal(t, int64(0), s.Left())
	require.True(t, s.IsVerified(0))
	require.True(t, s.IsVerified(1))
}

func TestHashMismatchResetsAndRestoresCounters(t *testing.T) {
	data := make([]byte, piece.DefaultBlockLength)
	for i := range data {
		data[i] = 0xAB
	}
	s, _ := newTestScheduler(t, data, piece.DefaultBlockLength)
	full := bitfield.New(1)
	full.Set(0)
	s.AddOwners(full)
	peerA := newTestPeer(t, full)

	s.Tick([]*peerconn.Conn{peerA})
	require.True(t, peerA.InFlight.Active)

	wrong := make([]byte, piece.DefaultBlockLength) // zeros: wrong hash
	_, verified := s.OnPiece(peerA, peerprotocol.PieceMessage{Index: 0, Begin: 0, Block: wrong})
	require.False(t, verified)
	require.Equal(t, int64(0), s.Downloaded())
	require.Equal(t, s.TotalLength(), s.Left())
	require.False(t, s.IsVerified(0))

	peerA.InFlight.Active = false
	s.Tick([]*peerconn.Conn{peerA})
	require.True(t, peerA.InFlight.Active)
	_, verified = s.OnPiece(peerA, peerprotocol.PieceMessage{Index: 0, Begin: 0, Block: data})
	require.True(t, verified)
	require.Equal(t, int64(0), s.Left())
}

func TestTimedOutSubpieceIsReissued(t *testing.T) {
	data := make([]byte, 3*piece.DefaultBlockLength)
	for i := range data {
		data[i] = byte(i)
	}
	s, _ := newTestScheduler(t, data, piece.DefaultBlockLength)
	full := bitfield.New(3)
	full.Set(0)
	full.Set(1)
	full.Set(2)
	s.AddOwners(full)
	a := newTestPeer(t, full)
	b := newTestPeer(t, full)
	c := newTestPeer(t, full)

	s.Tick([]*peerconn.Conn{a, b, c})
	require.True(t, a.InFlight.Active && b.InFlight.Active && c.InFlight.Active)

	time.Sleep(60 * time.Millisecond) // past subTimeout: all three sub-pieces time out

	d := newTestPeer(t, full)
	s.Tick([]*peerconn.Conn{a, b, c, d})
	require.True(t, d.InFlight.Active, "timed-out sub-piece becomes selectable again")
}

func TestAllInFlightOrDoneEntersStickyEndgame(t *testing.T) {
	data := make([]byte, piece.DefaultBlockLength)
	s, _ := newTestScheduler(t, data, piece.DefaultBlockLength)
	full := bitfield.New(1)
	full.Set(0)
	s.AddOwners(full)
	a := newTestPeer(t, full)
	b := newTestPeer(t, full)

	s.Tick([]*peerconn.Conn{a, b})
	require.True(t, a.InFlight.Active)
	require.True(t, b.InFlight.Active, "second peer gets a duplicate endgame request for the sole sub-piece")
	require.True(t, s.endgame)
}
