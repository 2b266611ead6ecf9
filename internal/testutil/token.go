package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokenGenerator yields "batch-000001", "batch-000002", ... so
// scenarios that run an unknown number of batches still produce stable,
// readable tokens in logs and golden traces.
//
// Unlike engine.FixedGenerator it never exhausts; use FixedGenerator when
// a test must fail on an unexpected extra batch.
//
// Thread-safety: safe for concurrent use via an internal mutex.
type SequenceTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokenGenerator creates a generator with the given token
// prefix. An empty prefix defaults to "batch".
func NewSequenceTokenGenerator(prefix string) *SequenceTokenGenerator {
	if prefix == "" {
		prefix = "batch"
	}
	return &SequenceTokenGenerator{prefix: prefix}
}

// Generate returns the next token in the sequence.
//
// Implements engine.TokenGenerator.
func (g *SequenceTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}

// Count returns how many tokens have been generated.
func (g *SequenceTokenGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts the sequence. After Reset the next Generate() returns
// "<prefix>-000001" again.
func (g *SequenceTokenGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
