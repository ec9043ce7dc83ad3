// Package piece describes the static, immutable geometry of torrent
// pieces and their sub-piece (block) layout. Dynamic per-run state
// (what has been downloaded, what is in flight) lives in
// internal/scheduler, not here.
package piece

// DefaultBlockLength is the sub-piece size B used unless overridden
// by config (spec default: 16384 bytes).
const DefaultBlockLength = 16 * 1024

// Block is one request/piece-sized unit within a Piece.
type Block struct {
	Index  uint32 // block index within the piece, 0-based
	Begin  uint32 // byte offset within the piece
	Length uint32 // byte length of this block
}

// Piece is the static description of one torrent piece.
type Piece struct {
	Index  uint32
	Length uint32 // byte length of this piece (last piece may be shorter than P)
	Hash   [20]byte
	Blocks []Block
}

// NewPieces builds the static piece table for a torrent of total length
// totalLength, piece length pieceLength, and per-piece SHA-1 digests
// hashes (20 bytes each, concatenated as in the .torrent "pieces" field).
func NewPieces(totalLength, pieceLength int64, hashes []byte, blockLength uint32) []Piece {
	if blockLength == 0 {
		blockLength = DefaultBlockLength
	}
	n := numPieces(totalLength, pieceLength)
	pieces := make([]Piece, n)
	for i := 0; i < n; i++ {
		length := pieceByteLength(totalLength, pieceLength, i, n)
		var h [20]byte
		copy(h[:], hashes[i*20:i*20+20])
		pieces[i] = Piece{
			Index:  uint32(i),
			Length: length,
			Hash:   h,
			Blocks: blocksFor(length, blockLength),
		}
	}
	return pieces
}

func numPieces(totalLength, pieceLength int64) int {
	return int((totalLength + pieceLength - 1) / pieceLength)
}

// pieceByteLength returns the byte length of piece index i, accounting
// for the final, possibly-short, piece.
func pieceByteLength(totalLength, pieceLength int64, i, n int) uint32 {
	if i < n-1 {
		return uint32(pieceLength)
	}
	last := totalLength - pieceLength*int64(n-1)
	return uint32(last)
}

func blocksFor(pieceLength, blockLength uint32) []Block {
	count := (pieceLength + blockLength - 1) / blockLength
	blocks := make([]Block, count)
	var begin uint32
	for i := uint32(0); i < count; i++ {
		length := blockLength
		if begin+length > pieceLength {
			length = pieceLength - begin
		}
		blocks[i] = Block{Index: i, Begin: begin, Length: length}
		begin += length
	}
	return blocks
}
