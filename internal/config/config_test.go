package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestLoadOverlaysPartialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bitclient.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_outbound_peers: 7\n"), 0644))
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, c.MaxOutboundPeers)
	require.Equal(t, Default().SubPieceLength, c.SubPieceLength)
	require.Equal(t, Default().SubPieceTimeout, c.SubPieceTimeout)
}

func TestDefaultsMatchSpec(t *testing.T) {
	d := Default()
	require.Equal(t, uint32(16384), d.SubPieceLength)
	require.Equal(t, 10*time.Second, d.SubPieceTimeout)
	require.Equal(t, 60*time.Second, d.KeepAliveInterval)
}
