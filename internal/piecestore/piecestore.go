// Package piecestore owns the single on-disk data file: placement of
// pieces at offset index*pieceLength+begin, per-piece SHA-1
// verification, and the startup resume scan (spec.md §4.3, §6).
package piecestore

import (
	"crypto/sha1"
	"fmt"
	"os"

	"github.com/gopeers/bitclient/internal/piece"
)

// Store is the exclusive owner of the data file. All access is via
// positional ReadAt/WriteAt so no cursor is shared and no locking is
// needed even though a single goroutine (the engine's run loop) is the
// only writer (spec.md §9).
type Store struct {
	file        *os.File
	pieceLength int64
	totalLength int64
}

// Open opens (creating if absent) the file at path, truncating only
// when it did not already exist (spec.md §6).
func Open(path string, totalLength, pieceLength int64) (*Store, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("piecestore: open %s: %w", path, err)
	}
	if !existed {
		if err := f.Truncate(totalLength); err != nil {
			f.Close()
			return nil, fmt.Errorf("piecestore: truncate %s: %w", path, err)
		}
	}
	return &Store{file: f, pieceLength: pieceLength, totalLength: totalLength}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}

// ReadBlock reads length bytes of piece index at byte offset begin
// within the piece.
func (s *Store) ReadBlock(index uint32, begin, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	off := int64(index)*s.pieceLength + int64(begin)
	_, err := s.file.ReadAt(buf, off)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBlock writes block at the position for (index, begin) and
// flushes it durably before returning, so a sub-piece is never marked
// DONE before its bytes have reached disk (spec.md §4.3).
func (s *Store) WriteBlock(index uint32, begin uint32, block []byte) error {
	off := int64(index)*s.pieceLength + int64(begin)
	if _, err := s.file.WriteAt(block, off); err != nil {
		return err
	}
	return s.file.Sync()
}

// VerifyPiece reads piece index's full byte range and reports whether
// its SHA-1 digest matches want.
func (s *Store) VerifyPiece(index uint32, length uint32, want [20]byte) (bool, error) {
	buf := make([]byte, length)
	off := int64(index) * s.pieceLength
	_, err := s.file.ReadAt(buf, off)
	if err != nil {
		return false, err
	}
	got := sha1.Sum(buf)
	return got == want, nil
}

// ResumeResult reports the outcome of the startup hash scan.
type ResumeResult struct {
	Verified   []bool // per piece index
	Downloaded int64  // total bytes contributed by verified pieces
}

// Scan hashes every piece against pieces and reports which already
// verify, used at startup to resume a partially- or fully-downloaded
// file (spec.md §4.3, P8). A freshly truncated file (all zero bytes)
// will simply fail every hash check, which is the correct behavior: a
// same-length file that doesn't hash-match is overwritten piece by
// piece rather than trusted (spec.md §1 Non-goals).
func (s *Store) Scan(pieces []piece.Piece) (ResumeResult, error) {
	res := ResumeResult{Verified: make([]bool, len(pieces))}
	for _, p := range pieces {
		ok, err := s.VerifyPiece(p.Index, p.Length, p.Hash)
		if err != nil {
			return res, fmt.Errorf("piecestore: scan piece %d: %w", p.Index, err)
		}
		res.Verified[p.Index] = ok
		if ok {
			res.Downloaded += int64(p.Length)
		}
	}
	return res, nil
}
