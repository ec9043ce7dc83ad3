package peerconn

import (
	"net"
	"testing"
	"time"

	"github.com/gopeers/bitclient/internal/logger"
	"github.com/gopeers/bitclient/internal/peerprotocol"
	"github.com/stretchr/testify/require"
)

func TestInitialFlagsMatchSpec(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := New(a, [20]byte{1}, logger.New("test"))
	require.False(t, c.AmChoking)
	require.True(t, c.AmInterested)
	require.True(t, c.PeerChoking)
	require.False(t, c.PeerInterested)
}

func TestRunDeliversDecodedMessagesAndClosesOnEOF(t *testing.T) {
	a, b := net.Pipe()
	c := New(a, [20]byte{1}, logger.New("test"))
	go c.Run()

	go func() {
		b.Write(peerprotocol.Encode(peerprotocol.UnchokeMessage{}))
		b.Write(peerprotocol.Encode(peerprotocol.HaveMessage{Index: 3}))
		b.Close()
	}()

	var got []peerprotocol.Message
	for m := range c.MessagesC {
		got = append(got, m)
	}
	require.Len(t, got, 2)
	id, ok := got[0].ID()
	require.True(t, ok)
	require.Equal(t, peerprotocol.Unchoke, id)
	have, ok := got[1].(peerprotocol.HaveMessage)
	require.True(t, ok)
	require.Equal(t, uint32(3), have.Index)
}

func TestSendWritesEncodedMessage(t *testing.T) {
	a, b := net.Pipe()
	c := New(a, [20]byte{1}, logger.New("test"))
	go c.Run()
	defer c.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := b.Read(buf)
		done <- buf[:n]
	}()

	c.Send(peerprotocol.InterestedMessage{})
	select {
	case got := <-done:
		require.Equal(t, peerprotocol.Encode(peerprotocol.InterestedMessage{}), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestContributeUpdatesSpeedAndContribution(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	c := New(a, [20]byte{1}, logger.New("test"))
	c.Contribute(16384, 100*time.Millisecond)
	require.Equal(t, uint64(16384), c.Contribution)
	require.Greater(t, c.Speed(), float64(0))
}
