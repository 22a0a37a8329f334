// Package sha256 computes report digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hasher streams content through SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Digest consumes r and returns its hex digest and byte count.
func (h *Hasher) Digest(r io.Reader) (string, int64, error) {
	sum := sha256.New()
	n, err := io.Copy(sum, r)
	if err != nil {
		return "", n, fmt.Errorf("digest report: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), n, nil
}
