package crawl

import (
	"context"
	"sync"
	"time"

	"github.com/kbcrawl/kbcrawl/internal/kb"
	"github.com/kbcrawl/kbcrawl/internal/metrics"
)

// dequeuePoll is how often an idle Dequeue re-checks for work.
const dequeuePoll = 5 * time.Millisecond

// MemoryQueue is an unbounded in-process FIFO. Workers both consume from and
// feed the queue; a bounded queue can deadlock the pool once every worker
// blocks on a full Enqueue.
type MemoryQueue struct {
	mu    sync.Mutex
	items []kb.WorkItem
}

// NewMemoryQueue constructs an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue appends an item. It never blocks.
func (q *MemoryQueue) Enqueue(ctx context.Context, item kb.WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()
	metrics.SetQueueDepth(depth)
	return nil
}

// Dequeue pops the oldest item, polling until one is available or the
// context is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (kb.WorkItem, error) {
	ticker := time.NewTicker(dequeuePoll)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()
			metrics.SetQueueDepth(depth)
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return kb.WorkItem{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Len reports the current queue depth.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
