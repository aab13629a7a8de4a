package pubkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Keypair is an ed25519 signing key and its identity.
type Keypair struct {
	private ed25519.PrivateKey
	key     Key
}

// Generate creates a new random keypair.
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return fromPrivate(priv), nil
}

// FromSeed derives a keypair from an arbitrary seed phrase.
// The same seed always yields the same keypair; scenarios use party names.
func FromSeed(seed string) *Keypair {
	sum := sha256.Sum256([]byte(seed))
	return fromPrivate(ed25519.NewKeyFromSeed(sum[:]))
}

func fromPrivate(priv ed25519.PrivateKey) *Keypair {
	var k Key
	copy(k[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{private: priv, key: k}
}

// Key returns the public identity.
func (kp *Keypair) Key() Key {
	return kp.key
}

// Sign signs msg with the private key.
func (kp *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.private, msg)
}

// Save writes the private key as hex with 0600 permissions.
func (kp *Keypair) Save(path string) error {
	if err := os.WriteFile(path, []byte(hex.EncodeToString(kp.private)), 0600); err != nil {
		return fmt.Errorf("save keypair: %w", err)
	}
	return nil
}

// LoadKeypair reads a hex-encoded ed25519 private key file.
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("load keypair %s: invalid private key size %d", path, len(raw))
	}
	return fromPrivate(ed25519.PrivateKey(raw)), nil
}

// Verify checks an ed25519 signature made by k over msg.
func Verify(k Key, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(k.PublicKey(), msg, sig)
}

// Resolve accepts either a hex identity or a path to a keypair file.
func Resolve(arg string) (Key, error) {
	if k, err := Parse(arg); err == nil {
		return k, nil
	}
	kp, err := LoadKeypair(arg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Zero, fmt.Errorf("%q is neither an identity nor a key file", arg)
		}
		return Zero, err
	}
	return kp.Key(), nil
}
