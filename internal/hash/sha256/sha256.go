// Package sha256 fingerprints raw race pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements race.Hasher using SHA-256. Digests are lowercase hex
// and stored in race_ingestions.content_hash.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of a page body.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
