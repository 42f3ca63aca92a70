// Package confluence fetches wiki pages and their child trees.
package confluence

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kbcrawl/kbcrawl/internal/kb"
	"github.com/kbcrawl/kbcrawl/internal/remote"
)

const defaultPageSize = 100

// Options tunes the fetcher.
type Options struct {
	// PageSize caps child pages per listing call. Defaults to 100.
	PageSize int
}

// Fetcher resolves wiki pages through the shared rate-limited client.
//
// Page trees are resolved inline: FetchItem descends into children
// recursively, bounded by a per-traversal visited set so cross-linked pages
// cannot loop the descent.
type Fetcher struct {
	client   *remote.Client
	pageSize int
	logger   *zap.Logger
}

// New constructs a Fetcher.
func New(client *remote.Client, opts Options, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Fetcher{
		client:   client,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Service implements kb.Fetcher.
func (f *Fetcher) Service() kb.Service {
	return kb.ServiceConfluence
}

// FetchItem fetches the page and its whole child subtree inline.
func (f *Fetcher) FetchItem(ctx context.Context, pageID string) (*kb.Record, error) {
	return f.fetchTree(ctx, pageID, map[string]struct{}{})
}

// FetchRelated lists the direct child pages of pageID, paginating with
// start/limit until a short page. A 404 yields an empty list.
func (f *Fetcher) FetchRelated(ctx context.Context, pageID string) ([]kb.Reference, error) {
	var refs []kb.Reference
	start := 0
	for {
		query := url.Values{
			"start": {strconv.Itoa(start)},
			"limit": {strconv.Itoa(f.pageSize)},
		}
		path := "/rest/api/content/" + url.PathEscape(pageID) + "/child/page"
		var page childPageJSON
		if err := f.client.GetJSON(ctx, path, query, &page); err != nil {
			if remote.IsNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("list children of page %s: %w", pageID, err)
		}
		for _, child := range page.Results {
			if child.ID == "" {
				continue
			}
			refs = append(refs, kb.Reference{
				Target: kb.ItemRef{Service: kb.ServiceConfluence, ID: child.ID},
				Kind:   kb.RelationChild,
				Title:  child.Title,
				URL:    child.Links.WebUI,
			})
		}
		if len(page.Results) < f.pageSize {
			return refs, nil
		}
		start += len(page.Results)
	}
}

// fetchTree resolves one page and recurses into its children. Visited is
// scoped to the traversal; a repeated id produces a sentinel record instead
// of descending again.
func (f *Fetcher) fetchTree(ctx context.Context, pageID string, visited map[string]struct{}) (*kb.Record, error) {
	ref := kb.ItemRef{Service: kb.ServiceConfluence, ID: pageID}
	if _, seen := visited[pageID]; seen {
		f.logger.Debug("skipping already visited page", zap.String("page_id", pageID))
		return &kb.Record{Ref: ref, Revisited: true}, nil
	}
	visited[pageID] = struct{}{}

	rec, err := f.fetchPage(ctx, pageID)
	if err != nil {
		return nil, err
	}

	children, err := f.FetchRelated(ctx, pageID)
	if err != nil {
		// A failed child listing leaves the page itself intact.
		f.logger.Warn("child listing failed",
			zap.String("page_id", pageID), zap.Error(err))
		return rec, nil
	}
	if len(children) > 0 {
		f.logger.Debug("descending into child pages",
			zap.String("page_id", pageID), zap.Int("children", len(children)))
	}
	for _, childRef := range children {
		child, childErr := f.fetchTree(ctx, childRef.Target.ID, visited)
		if childErr != nil {
			rec.Children = append(rec.Children, kb.FailedRecord(childRef.Target, childErr))
			continue
		}
		rec.Children = append(rec.Children, child)
	}
	return rec, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, pageID string) (*kb.Record, error) {
	query := url.Values{"expand": {"body.storage,space,version,metadata.labels"}}
	path := "/rest/api/content/" + url.PathEscape(pageID)
	var page pageJSON
	if err := f.client.GetJSON(ctx, path, query, &page); err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", pageID, err)
	}

	rec := &kb.Record{
		Ref:       kb.ItemRef{Service: kb.ServiceConfluence, ID: pageID},
		Title:     page.Title,
		Body:      page.Body.Storage.Value,
		Space:     page.Space.Key,
		Version:   page.Version.Number,
		URL:       f.client.BaseURL() + page.Links.WebUI,
		FetchedAt: time.Now().UTC(),
	}
	for _, label := range page.Metadata.Labels.Results {
		if label.Name != "" {
			rec.Labels = append(rec.Labels, label.Name)
		}
	}
	return rec, nil
}
