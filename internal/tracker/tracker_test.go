package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func TestPercentEncodeAllEscapesEveryByte(t *testing.T) {
	got := percentEncodeAll([]byte{0x00, 0x41, 0xFF})
	require.Equal(t, "%00%41%FF", got)
}

func TestNextEventFollowsSpecTable(t *testing.T) {
	tr := New("http://example.invalid/announce", time.Second)
	require.Equal(t, Started, tr.NextEvent(0, 100, 100))
	require.Equal(t, None, tr.NextEvent(50, 50, 100))
	require.Equal(t, Completed, tr.NextEvent(100, 0, 100))
	require.Equal(t, None, tr.NextEvent(100, 0, 100), "completed is reported at most once")
	require.Equal(t, Stopped, tr.NextEvent(100, 100, 100), "SIGINT sentinel downloaded=left=L")
}

func TestNextEventResumedCompleteFileOmitsEvent(t *testing.T) {
	tr := New("http://example.invalid/announce", time.Second)
	require.Equal(t, None, tr.NextEvent(100, 0, 100), "first contact with left=0 carries no event")
}

func TestAnnounceParsesCompactPeersAndInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.RawQuery, "info_hash=%01%02")
		body, _ := bencode.EncodeBytes(map[string]interface{}{
			"interval": 1800,
			"peers":    string([]byte{127, 0, 0, 1, 0x1A, 0xE1}),
		})
		w.Write(body)
	}))
	defer srv.Close()

	tr := New(srv.URL, time.Second)
	var infoHash, peerID [20]byte
	infoHash[0], infoHash[1] = 1, 2
	resp, err := tr.Announce(context.Background(), Request{InfoHash: infoHash, PeerID: peerID, Port: 6881, Left: 100})
	require.NoError(t, err)
	require.Equal(t, 1800*time.Second, resp.Interval)
	require.Equal(t, []string{"127.0.0.1:6881"}, resp.Peers)
}

func TestAnnounceRejectsHTMLResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>error</html>"))
	}))
	defer srv.Close()

	tr := New(srv.URL, time.Second)
	_, err := tr.Announce(context.Background(), Request{Port: 1})
	require.ErrorIs(t, err, ErrNonBencodedResponse)
}
