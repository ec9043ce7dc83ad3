package bitfield

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetTestMSBFirst(t *testing.T) {
	bf := New(10)
	bf.Set(0)
	require.Equal(t, byte(0x80), bf.Bytes()[0], "piece 0 must be the high bit of byte 0")
	bf.Set(7)
	require.Equal(t, byte(0x81), bf.Bytes()[0])
	bf.Set(8)
	require.Equal(t, byte(0x80), bf.Bytes()[1])
}

func TestTrailingBitsClearedOnWrap(t *testing.T) {
	// 10 bits -> 2 bytes, 6 trailing bits in byte 1 must read as zero.
	raw := []byte{0xFF, 0xFF}
	bf := NewBytes(raw, 10)
	require.Equal(t, byte(0xC0), bf.Bytes()[1])
	require.True(t, bf.Test(8))
	require.True(t, bf.Test(9))
}

func TestCountAndAll(t *testing.T) {
	bf := New(3)
	require.False(t, bf.All())
	bf.Set(0)
	bf.Set(1)
	bf.Set(2)
	require.Equal(t, uint32(3), bf.Count())
	require.True(t, bf.All())
}

func TestIterateMissing(t *testing.T) {
	bf := New(5)
	bf.Set(1)
	bf.Set(3)
	var got []uint32
	bf.IterateMissing(func(i uint32) bool {
		got = append(got, i)
		return true
	})
	require.Equal(t, []uint32{0, 2, 4}, got)
}

func TestCopyIsIndependent(t *testing.T) {
	bf := New(8)
	bf.Set(0)
	c := bf.Copy()
	c.Set(1)
	require.False(t, bf.Test(1))
	require.True(t, c.Test(1))
}
