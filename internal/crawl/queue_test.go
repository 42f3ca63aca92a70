package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbcrawl/kbcrawl/internal/kb"
)

func TestMemoryQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, q.Enqueue(ctx, kb.WorkItem{Ref: kb.ItemRef{Service: kb.ServiceJira, ID: id}}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.Ref.ID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueDequeueUnblocksOnCancel(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueDequeueWaitsForWork(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, kb.WorkItem{Ref: kb.ItemRef{Service: kb.ServiceDrive, ID: "late"}})
	}()

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", item.Ref.ID)
}
