package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashWithDomain computes SHA-256(domain || 0x00 || data).
// The null separator prevents ambiguity at the domain/data boundary.
func HashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Hash marshals v canonically and returns the hex-encoded domain hash.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: %w", err)
	}
	sum := HashWithDomain(domain, data)
	return hex.EncodeToString(sum[:]), nil
}
