// Package peerid generates the 20-byte self peer-id spec.md §6 requires:
// generated at startup from a cryptographic random source and mapped to
// a printable alphabet.
package peerid

import (
	"crypto/rand"
	"fmt"
)

// ClientPrefix is embedded at the front of the generated id, Azureus-style
// ("-XX0001-" + 12 random printable bytes), so the id is recognizable in
// logs and trivially distinguishable from a peer's own id.
const ClientPrefix = "-GP0001-"

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// New returns a fresh 20-byte peer id.
func New() ([20]byte, error) {
	var id [20]byte
	copy(id[:], ClientPrefix)
	randomTail := id[len(ClientPrefix):]
	raw := make([]byte, len(randomTail))
	if _, err := rand.Read(raw); err != nil {
		return id, fmt.Errorf("peerid: %w", err)
	}
	for i, b := range raw {
		randomTail[i] = alphabet[int(b)%len(alphabet)]
	}
	return id, nil
}
