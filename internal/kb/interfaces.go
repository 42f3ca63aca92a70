package kb

import "context"

// Fetcher resolves items for one remote service.
type Fetcher interface {
	// Service names the remote system this fetcher talks to.
	Service() Service

	// FetchItem fetches the full payload for one id. Hierarchical services
	// resolve child content inline; flat services report children through
	// the record's References.
	FetchItem(ctx context.Context, id string) (*Record, error)

	// FetchRelated lists the direct related-item references for id,
	// paginating until the remote set is exhausted. A missing item (404)
	// yields an empty list, not an error.
	FetchRelated(ctx context.Context, id string) ([]Reference, error)
}

// BatchFetcher is an optional Fetcher capability: resolve a set of ids with
// one batched query instead of N point fetches.
type BatchFetcher interface {
	FetchByIDBatch(ctx context.Context, ids []string) ([]*Record, error)
}

// Queue provides enqueue/dequeue semantics for crawl work items.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
	Len() int
}
