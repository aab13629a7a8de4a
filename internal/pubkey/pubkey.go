// Package pubkey defines the 32-byte identities used for parties and
// records, ed25519 keypairs, and deterministic address derivation.
package pubkey

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/roach88/escrow/internal/canonical"
)

// Size is the length of a Key in bytes.
const Size = 32

// DomainDerive separates derived record addresses from every other hash.
const DomainDerive = "escrow/pda/v1"

// ErrInvalidKey is returned when a key cannot be parsed.
var ErrInvalidKey = errors.New("invalid key")

// Key identifies a party (an ed25519 public key) or a record address.
// The zero Key is the sentinel "none".
type Key [Size]byte

// Zero is the "none" identity.
var Zero Key

// String returns the lowercase hex encoding.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns the first eight hex characters, for logs.
func (k Key) Short() string {
	return k.String()[:8]
}

// IsZero reports whether k is the "none" identity.
func (k Key) IsZero() bool {
	return k == Zero
}

// Bytes returns a copy of the key bytes.
func (k Key) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, k[:])
	return out
}

// PublicKey returns k as an ed25519 public key.
func (k Key) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(k.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Parse decodes a 64-character hex string.
func Parse(s string) (Key, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return FromBytes(raw)
}

// FromBytes copies a 32-byte slice into a Key.
func FromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != Size {
		return Zero, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, Size, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Derive computes a deterministic record address from seeds.
// Each seed is length-prefixed so ("ab","c") and ("a","bc") differ.
func Derive(seeds ...[]byte) Key {
	var data []byte
	for _, seed := range seeds {
		data = binary.LittleEndian.AppendUint32(data, uint32(len(seed)))
		data = append(data, seed...)
	}
	return Key(canonical.HashWithDomain(DomainDerive, data))
}
