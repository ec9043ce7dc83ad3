// Package metainfo reads BEP 3 .torrent files: bencode decoding, the
// info-hash (SHA-1 over the exact byte range of the "info" dict), and
// announce URL extraction. Single-file torrents only (spec.md §1).
package metainfo

import (
	"crypto/sha1"
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

// rawTorrent mirrors the .torrent file's top-level dict. RawInfo keeps
// the info dict as the exact bytes the decoder consumed, which is what
// the info-hash must be computed over (spec.md §6) — decoding Info
// further would lose the original byte range.
type rawTorrent struct {
	RawInfo      bencode.RawMessage `bencode:"info"`
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
}

type rawInfo struct {
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
}

// Info is the decoded "info" dictionary of a single-file torrent.
type Info struct {
	Name        string
	Length      int64
	PieceLength int64
	Pieces      []byte // concatenated 20-byte SHA-1 digests
	NumPieces   int
}

// MetaInfo is a fully-parsed .torrent file.
type MetaInfo struct {
	Info      Info
	InfoHash  [20]byte
	Announces []string // flattened announce-list, or [announce] if absent
}

var (
	ErrNoInfoDict = errors.New("metainfo: no info dict in torrent file")
	ErrMultiFile  = errors.New("metainfo: multi-file torrents are not supported")
	ErrBadPieces  = errors.New("metainfo: pieces length is not a multiple of 20")
)

// New parses a .torrent file from r.
func New(r io.Reader) (*MetaInfo, error) {
	var raw rawTorrent
	if err := bencode.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	if len(raw.RawInfo) == 0 {
		return nil, ErrNoInfoDict
	}
	var ri rawInfo
	if err := bencode.DecodeBytes(raw.RawInfo, &ri); err != nil {
		return nil, err
	}
	if ri.Length == 0 {
		return nil, ErrMultiFile
	}
	if len(ri.Pieces)%20 != 0 {
		return nil, ErrBadPieces
	}
	info := Info{
		Name:        ri.Name,
		Length:      ri.Length,
		PieceLength: ri.PieceLength,
		Pieces:      []byte(ri.Pieces),
		NumPieces:   len(ri.Pieces) / 20,
	}
	mi := &MetaInfo{
		Info:      info,
		InfoHash:  sha1.Sum(raw.RawInfo),
		Announces: announceURLs(raw),
	}
	return mi, nil
}

// announceURLs flattens announce-list (using each inner list's first
// element, per spec.md §6) or falls back to the single announce field.
func announceURLs(raw rawTorrent) []string {
	if len(raw.AnnounceList) == 0 {
		if raw.Announce == "" {
			return nil
		}
		return []string{raw.Announce}
	}
	urls := make([]string, 0, len(raw.AnnounceList))
	for _, tier := range raw.AnnounceList {
		if len(tier) == 0 {
			continue
		}
		urls = append(urls, tier[0])
	}
	return urls
}

// PieceHash returns the expected SHA-1 digest of piece index i.
func (mi *MetaInfo) PieceHash(i int) [20]byte {
	var h [20]byte
	copy(h[:], mi.Info.Pieces[i*20:i*20+20])
	return h
}
