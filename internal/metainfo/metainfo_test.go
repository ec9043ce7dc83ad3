package metainfo

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTorrent hand-encodes a minimal single-file .torrent bencode dict
// so the info-hash computation can be checked against a value computed
// independently from the exact info-dict bytes.
func buildTorrent(t *testing.T, announce string, announceList [][]string, name string, length, pieceLength int64, pieces []byte) ([]byte, [20]byte) {
	t.Helper()
	infoDict := bytes.Buffer{}
	infoDict.WriteString("d")
	infoDict.WriteString("6:lengthi")
	infoDict.WriteString(itoa(length))
	infoDict.WriteString("e")
	infoDict.WriteString("4:name")
	infoDict.WriteString(itoa(int64(len(name))))
	infoDict.WriteString(":")
	infoDict.WriteString(name)
	infoDict.WriteString("12:piece lengthi")
	infoDict.WriteString(itoa(pieceLength))
	infoDict.WriteString("e")
	infoDict.WriteString("6:pieces")
	infoDict.WriteString(itoa(int64(len(pieces))))
	infoDict.WriteString(":")
	infoDict.Write(pieces)
	infoDict.WriteString("e")
	infoBytes := infoDict.Bytes()
	infoHash := sha1.Sum(infoBytes)

	top := bytes.Buffer{}
	top.WriteString("d")
	if announce != "" {
		top.WriteString("8:announce")
		top.WriteString(itoa(int64(len(announce))))
		top.WriteString(":")
		top.WriteString(announce)
	}
	if len(announceList) > 0 {
		top.WriteString("13:announce-list")
		top.WriteString("l")
		for _, tier := range announceList {
			top.WriteString("l")
			for _, url := range tier {
				top.WriteString(itoa(int64(len(url))))
				top.WriteString(":")
				top.WriteString(url)
			}
			top.WriteString("e")
		}
		top.WriteString("e")
	}
	top.WriteString("4:info")
	top.Write(infoBytes)
	top.WriteString("e")
	return top.Bytes(), infoHash
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestInfoHashMatchesRawInfoBytes(t *testing.T) {
	pieces := make([]byte, 40) // two fake 20-byte digests
	raw, wantHash := buildTorrent(t, "http://tracker.example/announce", nil, "file.bin", 32768, 16384, pieces)
	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, wantHash, mi.InfoHash)
	require.Equal(t, "file.bin", mi.Info.Name)
	require.Equal(t, int64(32768), mi.Info.Length)
	require.Equal(t, 2, mi.Info.NumPieces)
	require.Equal(t, []string{"http://tracker.example/announce"}, mi.Announces)
}

func TestAnnounceListTakesFirstOfEachTier(t *testing.T) {
	list := [][]string{
		{"http://a1/announce", "http://a2/announce"},
		{"http://b1/announce"},
	}
	raw, _ := buildTorrent(t, "http://fallback/announce", list, "f", 16384, 16384, make([]byte, 20))
	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, []string{"http://a1/announce", "http://b1/announce"}, mi.Announces)
}

func TestRejectsBadPiecesLength(t *testing.T) {
	raw, _ := buildTorrent(t, "http://t/announce", nil, "f", 16384, 16384, make([]byte, 19))
	_, err := New(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrBadPieces)
}

func TestPieceHash(t *testing.T) {
	pieces := make([]byte, 40)
	pieces[20] = 0xAB
	raw, _ := buildTorrent(t, "http://t/announce", nil, "f", 32768, 16384, pieces)
	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)
	h := mi.PieceHash(1)
	require.Equal(t, byte(0xAB), h[0])
}
