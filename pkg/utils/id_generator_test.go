package utils

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefGenerator_Prefixes(t *testing.T) {
	g := NewRefGenerator()

	assert.True(t, strings.HasPrefix(g.TransferRef(), "TRF-"))
	assert.True(t, strings.HasPrefix(g.ReversalRef(), "RVS-"))
	assert.True(t, strings.HasPrefix(g.ReversalRecordID(), "REV-"))
	assert.True(t, strings.HasPrefix(g.AccountNumber("", "ngn"), "ACC-NGN-"))
	assert.True(t, strings.HasPrefix(g.AccountNumber("wal", "usd"), "WAL-USD-"))

	for _, ref := range []string{g.TransferRef(), g.ReversalRef(), g.TransactionID()} {
		assert.True(t, IsValidRef(ref), "%s should parse", ref)
	}
	assert.False(t, IsValidRef("TRF-not-a-ulid"))
}

func TestRefGenerator_UniqueUnderConcurrency(t *testing.T) {
	g := NewRefGenerator()

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := g.TransactionID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}
