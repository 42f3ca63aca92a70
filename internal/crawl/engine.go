// Package crawl runs the worker pool that drains the work queue and builds
// the result ledger.
package crawl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kbcrawl/kbcrawl/internal/kb"
	"github.com/kbcrawl/kbcrawl/internal/metrics"
)

// Options tunes the engine.
type Options struct {
	// Workers sets the pool size. Defaults to 10.
	Workers int

	// SkipRemoteContent keeps cross-service remote links as opaque
	// references instead of fetching their targets.
	SkipRemoteContent bool

	// SettleDelay is how long an apparently idle crawl must stay idle
	// before the engine declares it finished. Defaults to 50ms.
	SettleDelay time.Duration

	// Resolver classifies raw link URLs into service references. Without
	// one, URL-only references stay opaque.
	Resolver Classifier
}

// Classifier turns a raw link URL into a reference the crawl can follow.
type Classifier interface {
	Classify(rawURL, title string) (kb.Reference, bool)
}

// Engine coordinates fetchers, the queue and the ledger for one crawl run.
type Engine struct {
	fetchers map[kb.Service]kb.Fetcher
	queue    kb.Queue
	ledger   *Ledger
	opts     Options
	logger   *zap.Logger

	active atomic.Int64
}

// New constructs an Engine over the given fetchers.
func New(fetchers []kb.Fetcher, queue kb.Queue, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 50 * time.Millisecond
	}
	byService := make(map[kb.Service]kb.Fetcher, len(fetchers))
	for _, f := range fetchers {
		byService[f.Service()] = f
	}
	return &Engine{
		fetchers: byService,
		queue:    queue,
		ledger:   NewLedger(),
		opts:     opts,
		logger:   logger,
	}
}

// Run crawls from the given seeds until the queue drains and every worker is
// idle, then returns the collected records in completion order. A canceled
// context stops the run early and returns whatever was collected so far
// along with the context error.
func (e *Engine) Run(ctx context.Context, seeds []kb.WorkItem) ([]*kb.Record, error) {
	for _, seed := range seeds {
		if seed.Ref.Zero() {
			continue
		}
		if !e.ledger.Claim(seed.Ref) {
			continue
		}
		if err := e.queue.Enqueue(ctx, seed); err != nil {
			return e.ledger.Records(), err
		}
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.workerLoop(workerCtx, id)
		}(i)
	}

	runErr := e.awaitDrain(ctx)
	stopWorkers()
	wg.Wait()

	e.logger.Info("crawl finished",
		zap.Int("records", e.ledger.Len()),
		zap.Int("queue_remaining", e.queue.Len()))
	return e.ledger.Records(), runErr
}

// awaitDrain blocks until the crawl is quiescent: the queue is empty, no
// worker is mid-item, and both stay true across the settle delay. The delay
// covers the window where a worker has dequeued the last item but not yet
// enqueued its discoveries.
func (e *Engine) awaitDrain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !e.idle() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.SettleDelay):
		}
		if e.idle() {
			return nil
		}
	}
}

// Stats is a point-in-time view of the crawl for status reporting.
type Stats struct {
	Records       int   `json:"records"`
	QueueDepth    int   `json:"queue_depth"`
	ActiveWorkers int64 `json:"active_workers"`
}

// Stats reports current progress. Safe to call while Run is in flight.
func (e *Engine) Stats() Stats {
	return Stats{
		Records:       e.ledger.Len(),
		QueueDepth:    e.queue.Len(),
		ActiveWorkers: e.active.Load(),
	}
}

func (e *Engine) idle() bool {
	return e.queue.Len() == 0 && e.active.Load() == 0
}

func (e *Engine) workerLoop(ctx context.Context, id int) {
	logger := e.logger.With(zap.Int("worker", id))
	for {
		item, err := e.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		e.active.Add(1)
		metrics.IncActiveWorkers()
		e.process(ctx, item, logger)
		metrics.DecActiveWorkers()
		e.active.Add(-1)
	}
}

// process resolves one work item and enqueues whatever it references. A
// failing or panicking fetch is recorded as a failure placeholder so one bad
// item never takes down the run.
func (e *Engine) process(ctx context.Context, item kb.WorkItem, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic recovered",
				zap.String("item", item.Ref.Key()), zap.Any("panic", r))
			e.ledger.Insert(kb.FailedRecord(item.Ref, fmt.Errorf("panic: %v", r)))
			metrics.ObserveItem(string(item.Ref.Service), "failed")
		}
	}()

	rec := item.Record
	if rec == nil {
		fetcher, ok := e.fetchers[item.Ref.Service]
		if !ok {
			logger.Warn("no fetcher for service", zap.String("item", item.Ref.Key()))
			e.ledger.Insert(kb.FailedRecord(item.Ref, fmt.Errorf("no fetcher for service %q", item.Ref.Service)))
			metrics.ObserveItem(string(item.Ref.Service), "failed")
			return
		}
		var err error
		rec, err = fetcher.FetchItem(ctx, item.Ref.ID)
		if err != nil {
			logger.Warn("fetch failed",
				zap.String("item", item.Ref.Key()), zap.Error(err))
			e.ledger.Insert(kb.FailedRecord(item.Ref, err))
			metrics.ObserveItem(string(item.Ref.Service), "failed")
			return
		}
	}

	if !e.ledger.Insert(rec) {
		logger.Debug("duplicate record dropped", zap.String("item", item.Ref.Key()))
		return
	}
	metrics.ObserveItem(string(item.Ref.Service), "ok")

	targets := e.collectTargets(rec)
	e.enqueueTargets(ctx, targets, logger)
}

// collectTargets walks the record tree, claims inline children so no other
// path re-fetches them, and claims every followable reference target. The
// returned refs are the ones this worker won the claim for.
func (e *Engine) collectTargets(rec *kb.Record) []kb.ItemRef {
	var targets []kb.ItemRef
	var walk func(r *kb.Record, isRoot bool)
	walk = func(r *kb.Record, isRoot bool) {
		if !isRoot && !r.Ref.Zero() {
			// Inline child: content already captured in the tree.
			e.ledger.Claim(r.Ref)
		}
		for i := range r.References {
			ref := r.References[i]
			if !ref.Opaque && ref.Target.Zero() && ref.URL != "" && e.opts.Resolver != nil {
				classified, ok := e.opts.Resolver.Classify(ref.URL, ref.Title)
				if !ok {
					continue
				}
				r.References[i] = classified
				ref = classified
			}
			if ref.Opaque || ref.Target.Zero() {
				continue
			}
			if e.opts.SkipRemoteContent && ref.Kind == kb.RelationRemoteLink {
				continue
			}
			if e.ledger.Claim(ref.Target) {
				targets = append(targets, ref.Target)
			}
		}
		for _, child := range r.Children {
			walk(child, false)
		}
	}
	walk(rec, true)
	return targets
}

// enqueueTargets hands claimed refs to the queue. Issue refs are prefetched
// in one batched query when the tracker fetcher supports it; batch failure
// falls back to per-item fetches.
func (e *Engine) enqueueTargets(ctx context.Context, targets []kb.ItemRef, logger *zap.Logger) {
	var issueIDs []string
	for _, ref := range targets {
		if ref.Service == kb.ServiceJira {
			issueIDs = append(issueIDs, ref.ID)
			continue
		}
		e.enqueue(ctx, kb.WorkItem{Ref: ref}, logger)
	}
	if len(issueIDs) == 0 {
		return
	}

	batcher, ok := e.fetchers[kb.ServiceJira].(kb.BatchFetcher)
	if !ok || len(issueIDs) == 1 {
		for _, id := range issueIDs {
			e.enqueue(ctx, kb.WorkItem{Ref: kb.ItemRef{Service: kb.ServiceJira, ID: id}}, logger)
		}
		return
	}

	records, err := batcher.FetchByIDBatch(ctx, issueIDs)
	if err != nil {
		logger.Warn("batch fetch failed, falling back to point fetches",
			zap.Int("ids", len(issueIDs)), zap.Error(err))
		for _, id := range issueIDs {
			e.enqueue(ctx, kb.WorkItem{Ref: kb.ItemRef{Service: kb.ServiceJira, ID: id}}, logger)
		}
		return
	}

	prefetched := make(map[string]*kb.Record, len(records))
	for _, rec := range records {
		prefetched[rec.Ref.ID] = rec
	}
	for _, id := range issueIDs {
		item := kb.WorkItem{Ref: kb.ItemRef{Service: kb.ServiceJira, ID: id}}
		if rec, found := prefetched[id]; found {
			item.Record = rec
		}
		e.enqueue(ctx, item, logger)
	}
}

func (e *Engine) enqueue(ctx context.Context, item kb.WorkItem, logger *zap.Logger) {
	if err := e.queue.Enqueue(ctx, item); err != nil {
		logger.Warn("enqueue failed", zap.String("item", item.Ref.Key()), zap.Error(err))
	}
}
