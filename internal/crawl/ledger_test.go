package crawl

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbcrawl/kbcrawl/internal/kb"
)

func TestLedgerClaimIsExactlyOnce(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	ref := kb.ItemRef{Service: kb.ServiceJira, ID: "KB-1"}

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Claim(ref) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, l.Visited(ref))
}

func TestLedgerInsertIsIdempotent(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	ref := kb.ItemRef{Service: kb.ServiceConfluence, ID: "42"}

	first := &kb.Record{Ref: ref, Title: "first"}
	second := &kb.Record{Ref: ref, Title: "second"}

	assert.True(t, l.Insert(first))
	assert.False(t, l.Insert(second))

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "first", records[0].Title)
}

func TestLedgerRecordsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	for _, id := range []string{"c", "a", "b"} {
		require.True(t, l.Insert(&kb.Record{Ref: kb.ItemRef{Service: kb.ServiceDrive, ID: id}}))
	}

	records := l.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[0].Ref.ID)
	assert.Equal(t, "a", records[1].Ref.ID)
	assert.Equal(t, "b", records[2].Ref.ID)
}

func TestLedgerInsertClaimsRef(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	ref := kb.ItemRef{Service: kb.ServiceJira, ID: "KB-9"}

	require.True(t, l.Insert(&kb.Record{Ref: ref}))
	assert.False(t, l.Claim(ref))
}
