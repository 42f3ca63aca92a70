package crawl

import (
	"sync"

	"github.com/kbcrawl/kbcrawl/internal/kb"
)

// Ledger tracks which items have been claimed for fetching and stores the
// finished records. A single mutex covers both maps so a claim and its
// matching insert can never interleave with another worker's view.
type Ledger struct {
	mu      sync.Mutex
	visited map[string]struct{}
	records map[string]*kb.Record
	order   []string
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		visited: map[string]struct{}{},
		records: map[string]*kb.Record{},
	}
}

// Claim marks ref as owned by the caller. It returns true exactly once per
// ref; later claims for the same ref return false.
func (l *Ledger) Claim(ref kb.ItemRef) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ref.Key()
	if _, seen := l.visited[key]; seen {
		return false
	}
	l.visited[key] = struct{}{}
	return true
}

// Visited reports whether ref has been claimed.
func (l *Ledger) Visited(ref kb.ItemRef) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, seen := l.visited[ref.Key()]
	return seen
}

// Insert stores the record under its ref, claiming the ref if it was not
// claimed yet. Insertion is idempotent: the first record for a ref wins and
// repeat inserts return false without overwriting.
func (l *Ledger) Insert(rec *kb.Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := rec.Ref.Key()
	if _, exists := l.records[key]; exists {
		return false
	}
	l.visited[key] = struct{}{}
	l.records[key] = rec
	l.order = append(l.order, key)
	return true
}

// Records returns the stored records in insertion order.
func (l *Ledger) Records() []*kb.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*kb.Record, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.records[key])
	}
	return out
}

// Len reports how many records have been stored.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
