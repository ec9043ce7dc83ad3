// Package config holds the engine's tunable constants: sub-piece size,
// timeouts, and dial limits. These are not part of the CLI contract
// (spec.md §6, always "<program> <torrent-path> <listen-port>"); they
// are optional overrides read from bitclient.yaml in the working
// directory, defaulting otherwise, following the teacher's own
// LoadConfig behavior ("absent file is not an error").
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every engine tunable named by spec.md.
type Config struct {
	// SubPieceLength is B, the block/request size (spec default 16384).
	SubPieceLength uint32 `yaml:"sub_piece_length"`
	// SubPieceTimeout is T_sub: an IN_FLIGHT sub-piece older than this
	// is reset to MISSING (spec default 10s).
	SubPieceTimeout time.Duration `yaml:"sub_piece_timeout"`
	// KeepAliveInterval is how often a zero-length frame is sent to
	// every connected peer (spec default 60s).
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	// MaxOutboundPeers caps outbound dialing: a tracker response starts
	// no further dials once connected peers plus the dials it has
	// started reach this number.
	MaxOutboundPeers int `yaml:"max_outbound_peers"`
	// TrackerHTTPTimeout bounds a single tracker announce GET.
	TrackerHTTPTimeout time.Duration `yaml:"tracker_http_timeout"`
}

// Default returns the spec-mandated defaults.
func Default() Config {
	return Config{
		SubPieceLength:     16 * 1024,
		SubPieceTimeout:     10 * time.Second,
		KeepAliveInterval:   60 * time.Second,
		MaxOutboundPeers:    40,
		TrackerHTTPTimeout:  30 * time.Second,
	}
}

// applyDefaults fills any zero-value field of c with the spec default,
// mirroring uber-kraken's Config.applyDefaults() convention.
func (c Config) applyDefaults() Config {
	d := Default()
	if c.SubPieceLength == 0 {
		c.SubPieceLength = d.SubPieceLength
	}
	if c.SubPieceTimeout == 0 {
		c.SubPieceTimeout = d.SubPieceTimeout
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.MaxOutboundPeers == 0 {
		c.MaxOutboundPeers = d.MaxOutboundPeers
	}
	if c.TrackerHTTPTimeout == 0 {
		c.TrackerHTTPTimeout = d.TrackerHTTPTimeout
	}
	return c
}

// Load reads filename if present and overlays it onto the defaults. A
// missing file is not an error — it simply yields Default().
func Load(filename string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return Config{}, err
	}
	var overlay Config
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return Config{}, err
	}
	return overlay.applyDefaults(), nil
}
