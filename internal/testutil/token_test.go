package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceTokenGenerator_NumbersFromOne(t *testing.T) {
	gen := NewSequenceTokenGenerator("batch")

	assert.Equal(t, "batch-000001", gen.Generate())
	assert.Equal(t, "batch-000002", gen.Generate())
	assert.Equal(t, "batch-000003", gen.Generate())
	assert.Equal(t, 3, gen.Count())
}

func TestSequenceTokenGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequenceTokenGenerator("")
	assert.Equal(t, "batch-000001", gen.Generate())
}

func TestSequenceTokenGenerator_CustomPrefix(t *testing.T) {
	gen := NewSequenceTokenGenerator("scenario-a")
	assert.Equal(t, "scenario-a-000001", gen.Generate())
}

func TestSequenceTokenGenerator_Reset(t *testing.T) {
	gen := NewSequenceTokenGenerator("batch")
	gen.Generate()
	gen.Generate()
	assert.Equal(t, 2, gen.Count())

	gen.Reset()
	assert.Equal(t, 0, gen.Count())
	assert.Equal(t, "batch-000001", gen.Generate())
}

func TestSequenceTokenGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceTokenGenerator("batch")
	const goroutines = 20
	const callsEach = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	tokens := make(chan string, goroutines*callsEach)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsEach; j++ {
				tokens <- gen.Generate()
			}
		}()
	}
	wg.Wait()
	close(tokens)

	unique := make(map[string]bool)
	for tok := range tokens {
		assert.False(t, unique[tok], "token %s issued twice", tok)
		unique[tok] = true
	}
	assert.Len(t, unique, goroutines*callsEach)
}
