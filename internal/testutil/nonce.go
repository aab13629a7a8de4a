package testutil

import (
	"fmt"
	"sync"
)

// SequenceNonces issues "<prefix>-0001", "<prefix>-0002", ... so journal IDs
// are stable across runs. It satisfies host.NonceGenerator.
type SequenceNonces struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceNonces creates a generator. An empty prefix means "nonce".
func NewSequenceNonces(prefix string) *SequenceNonces {
	if prefix == "" {
		prefix = "nonce"
	}
	return &SequenceNonces{prefix: prefix}
}

// Generate returns the next nonce.
func (g *SequenceNonces) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
