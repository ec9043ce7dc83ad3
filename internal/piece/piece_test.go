package piece

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLastPieceShortAndBlockCount(t *testing.T) {
	// L=32768+1, P=16384 -> 3 pieces, last piece is 1 byte -> 1 block.
	const P = 16384
	L := int64(2*P + 1)
	hashes := make([]byte, 20*3)
	pieces := NewPieces(L, P, hashes, 16384)
	require.Len(t, pieces, 3)
	require.Equal(t, uint32(P), pieces[0].Length)
	require.Equal(t, uint32(P), pieces[1].Length)
	require.Equal(t, uint32(1), pieces[2].Length)
	require.Len(t, pieces[2].Blocks, 1)
	require.Equal(t, uint32(1), pieces[2].Blocks[0].Length)
}

func TestBlockLayoutNonMultipleOfBlockLength(t *testing.T) {
	// piece length 40000, block length 16384 -> blocks of 16384,16384,7232
	pieces := NewPieces(40000, 40000, make([]byte, 20), 16384)
	require.Len(t, pieces, 1)
	blocks := pieces[0].Blocks
	require.Len(t, blocks, 3)
	require.Equal(t, uint32(16384), blocks[0].Length)
	require.Equal(t, uint32(16384), blocks[1].Length)
	require.Equal(t, uint32(40000-2*16384), blocks[2].Length)
	require.Equal(t, uint32(32768), blocks[2].Begin)
}
