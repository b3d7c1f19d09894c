package encryption

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// DigestSize is the length of a hex digest.
const DigestSize = sha256.Size * 2

// Digest returns the lowercase hex SHA-256 of everything read from r.
func Digest(r io.Reader) (string, error) {
	h := NewHasher()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hashing: %w", err)
	}

	return h.Sum(), nil
}

// Hasher accumulates a digest while content streams through it.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the hex digest of everything written so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// DigestEqual compares two hex digests in constant time.
func DigestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// verifyDigest returns an IntegrityMismatchError unless actual equals expected.
func verifyDigest(expected, actual string) error {
	if !DigestEqual(expected, actual) {
		return &IntegrityMismatchError{Expected: expected, Actual: actual}
	}

	return nil
}
