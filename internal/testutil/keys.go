package testutil

import "github.com/roach88/escrow/internal/pubkey"

// Party returns the deterministic keypair of a named party. Scenarios
// refer to identities by name; the same name always signs with the same key.
func Party(name string) *pubkey.Keypair {
	return pubkey.FromSeed("party:" + name)
}

// Parties returns the keypairs of names, keyed by name.
func Parties(names ...string) map[string]*pubkey.Keypair {
	out := make(map[string]*pubkey.Keypair, len(names))
	for _, name := range names {
		out[name] = Party(name)
	}
	return out
}
