package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hasher digests document content with BLAKE2b-256.
type Hasher struct{}

func DefaultHasher() *Hasher { return &Hasher{} }

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint identifies an upload by its thread and content, so the same
// file sent twice to one thread is recognized while the same file in
// another thread is not. The thread digest keys the content MAC.
func (h *Hasher) Fingerprint(threadID string, content []byte) string {
	key := blake2b.Sum256([]byte(threadID))
	mac, err := blake2b.New256(key[:])
	if err != nil {
		// Unreachable: a 32-byte key is always accepted.
		panic(err)
	}
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil))
}

// Short returns the first 8 characters of a digest for display.
func Short(digest string) string {
	if len(digest) < 8 {
		return digest
	}
	return digest[:8]
}
