package peerid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsPrintableAndPrefixed(t *testing.T) {
	id, err := New()
	require.NoError(t, err)
	require.Equal(t, ClientPrefix, string(id[:len(ClientPrefix)]))
	for _, b := range id {
		require.True(t, b >= 0x20 && b < 0x7F, "peer id must be printable ASCII")
	}
}

func TestNewIsRandom(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
