// Package sha256 provides content digests for artifact naming.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces SHA-256 hex digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Digest returns the hex digest of data. Identical screenshot bytes
// map to identical object names, so re-uploads overwrite in place
// instead of accumulating duplicates.
func (h *Hasher) Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ShortDigest returns the first n hex characters of the digest.
func (h *Hasher) ShortDigest(data []byte, n int) string {
	d := h.Digest(data)
	if n <= 0 || n > len(d) {
		return d
	}
	return d[:n]
}
