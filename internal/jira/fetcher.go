// Package jira fetches tracker issues and their related items.
package jira

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kbcrawl/kbcrawl/internal/kb"
	"github.com/kbcrawl/kbcrawl/internal/remote"
)

const defaultPageSize = 100

// Options tunes the fetcher.
type Options struct {
	// PageSize caps issues per search page. Defaults to 100.
	PageSize int
}

// Fetcher resolves Jira issues through the shared rate-limited client.
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
	return kb.ServiceJira
}

// FetchItem fetches one issue with full field expansion and extracts its
// related-item references (subtasks, issue links, epic children, remote
// links).
func (f *Fetcher) FetchItem(ctx context.Context, key string) (*kb.Record, error) {
	var iss issueJSON
	query := url.Values{"expand": {"remotelink"}}
	path := "/rest/api/2/issue/" + url.PathEscape(key)
	if err := f.client.GetJSON(ctx, path, query, &iss); err != nil {
		return nil, fmt.Errorf("fetch issue %s: %w", key, err)
	}
	rec := f.toRecord(iss)
	refs, err := f.extractReferences(ctx, iss)
	if err != nil {
		// Reference extraction failing must not lose the issue itself.
		f.logger.Warn("reference extraction incomplete",
			zap.String("issue", key), zap.Error(err))
	}
	rec.References = refs
	return rec, nil
}

// FetchRelated lists the child issues of key (direct children plus epic
// children), paginating the search until the remote set is exhausted.
func (f *Fetcher) FetchRelated(ctx context.Context, key string) ([]kb.Reference, error) {
	jql := fmt.Sprintf("parent = %q OR \"Epic Link\" = %q", key, key)
	issues, err := f.search(ctx, jql)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch related for %s: %w", key, err)
	}
	refs := make([]kb.Reference, 0, len(issues))
	for _, child := range issues {
		refs = append(refs, kb.Reference{
			Target: kb.ItemRef{Service: kb.ServiceJira, ID: child.Key},
			Kind:   kb.RelationChild,
			Title:  child.Fields.Summary,
		})
	}
	return refs, nil
}

// FetchByIDBatch resolves a set of issue keys with a single batched search
// ("key in (...)") instead of one fetch per key.
func (f *Fetcher) FetchByIDBatch(ctx context.Context, keys []string) ([]*kb.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	jql := fmt.Sprintf("key in (%s) ORDER BY created DESC", strings.Join(keys, ", "))
	issues, err := f.search(ctx, jql)
	if err != nil {
		return nil, fmt.Errorf("batch fetch %d issues: %w", len(keys), err)
	}
	records := make([]*kb.Record, 0, len(issues))
	for _, iss := range issues {
		rec := f.toRecord(iss)
		refs, refErr := f.extractReferences(ctx, iss)
		if refErr != nil {
			f.logger.Warn("reference extraction incomplete",
				zap.String("issue", iss.Key), zap.Error(refErr))
		}
		rec.References = refs
		records = append(records, rec)
	}
	return records, nil
}

// relationExtractors maps each relation kind to the function that discovers
// it on a fetched issue. Adding a relation kind means adding a row here, not
// a branch in the fetch path.
var relationExtractors = []struct {
	kind    kb.RelationKind
	extract func(ctx context.Context, f *Fetcher, iss issueJSON) ([]kb.Reference, error)
}{
	{kb.RelationSubtask, extractSubtasks},
	{kb.RelationLink, extractIssueLinks},
	{kb.RelationEpicChild, extractEpicChildren},
	{kb.RelationRemoteLink, extractRemoteLinks},
}

func (f *Fetcher) extractReferences(ctx context.Context, iss issueJSON) ([]kb.Reference, error) {
	var refs []kb.Reference
	var firstErr error
	for _, ex := range relationExtractors {
		found, err := ex.extract(ctx, f, iss)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("extract %s references: %w", ex.kind, err)
		}
		refs = append(refs, found...)
	}
	return refs, firstErr
}

func extractSubtasks(_ context.Context, _ *Fetcher, iss issueJSON) ([]kb.Reference, error) {
	refs := make([]kb.Reference, 0, len(iss.Fields.Subtasks))
	for _, sub := range iss.Fields.Subtasks {
		if sub.Key == "" {
			continue
		}
		refs = append(refs, kb.Reference{
			Target: kb.ItemRef{Service: kb.ServiceJira, ID: sub.Key},
			Kind:   kb.RelationSubtask,
			Title:  sub.Fields.Summary,
		})
	}
	return refs, nil
}

func extractIssueLinks(_ context.Context, _ *Fetcher, iss issueJSON) ([]kb.Reference, error) {
	var refs []kb.Reference
	seen := map[string]struct{}{}
	for _, link := range iss.Fields.IssueLinks {
		for _, linked := range []*linkedIssueJSON{link.InwardIssue, link.OutwardIssue} {
			if linked == nil || linked.Key == "" {
				continue
			}
			if _, dup := seen[linked.Key]; dup {
				continue
			}
			seen[linked.Key] = struct{}{}
			refs = append(refs, kb.Reference{
				Target: kb.ItemRef{Service: kb.ServiceJira, ID: linked.Key},
				Kind:   kb.RelationLink,
				Title:  linked.Fields.Summary,
			})
		}
	}
	return refs, nil
}

func extractEpicChildren(ctx context.Context, f *Fetcher, iss issueJSON) ([]kb.Reference, error) {
	if !strings.EqualFold(iss.Fields.IssueType.Name, "Epic") {
		return nil, nil
	}
	jql := fmt.Sprintf("parent = %q OR \"Epic Link\" = %q", iss.Key, iss.Key)
	children, err := f.search(ctx, jql)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	refs := make([]kb.Reference, 0, len(children))
	for _, child := range children {
		refs = append(refs, kb.Reference{
			Target: kb.ItemRef{Service: kb.ServiceJira, ID: child.Key},
			Kind:   kb.RelationEpicChild,
			Title:  child.Fields.Summary,
		})
	}
	return refs, nil
}

// extractRemoteLinks lists the issue's remote links (wiki pages, drive
// files). A 404 means the issue simply has none. The raw URLs are carried on
// the references; the resolver classifies them later.
func extractRemoteLinks(ctx context.Context, f *Fetcher, iss issueJSON) ([]kb.Reference, error) {
	path := "/rest/api/2/issue/" + url.PathEscape(iss.Key) + "/remotelink"
	var links []remoteLinkJSON
	if err := f.client.GetJSON(ctx, path, nil, &links); err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	refs := make([]kb.Reference, 0, len(links))
	for _, link := range links {
		if link.Object.URL == "" {
			continue
		}
		refs = append(refs, kb.Reference{
			Kind:  kb.RelationRemoteLink,
			Title: link.Object.Title,
			URL:   link.Object.URL,
		})
	}
	return refs, nil
}

// SearchIssues runs a JQL query and returns the matching issues as records,
// references extracted. Used for the query and project seed modes.
func (f *Fetcher) SearchIssues(ctx context.Context, jql string) ([]*kb.Record, error) {
	issues, err := f.search(ctx, jql)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", jql, err)
	}
	records := make([]*kb.Record, 0, len(issues))
	for _, iss := range issues {
		rec := f.toRecord(iss)
		refs, refErr := f.extractReferences(ctx, iss)
		if refErr != nil {
			f.logger.Warn("reference extraction incomplete",
				zap.String("issue", iss.Key), zap.Error(refErr))
		}
		rec.References = refs
		records = append(records, rec)
	}
	return records, nil
}

// search pages through /search with increasing startAt until a page comes
// back short or the reported total is reached. Pagination state is local to
// the call.
func (f *Fetcher) search(ctx context.Context, jql string) ([]issueJSON, error) {
	var all []issueJSON
	startAt := 0
	for {
		query := url.Values{
			"jql":        {jql},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(f.pageSize)},
			"fields":     {"*all"},
			"expand":     {"remotelink"},
		}
		var page searchPageJSON
		if err := f.client.GetJSON(ctx, "/rest/api/2/search", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Issues...)
		if len(page.Issues) == 0 || len(page.Issues) < f.pageSize {
			break
		}
		if page.Total > 0 && startAt+len(page.Issues) >= page.Total {
			break
		}
		startAt += len(page.Issues)
	}
	return all, nil
}

func (f *Fetcher) toRecord(iss issueJSON) *kb.Record {
	rec := &kb.Record{
		Ref:       kb.ItemRef{Service: kb.ServiceJira, ID: iss.Key},
		Title:     iss.Fields.Summary,
		Body:      iss.Fields.Description,
		Status:    iss.Fields.Status.Name,
		IssueType: iss.Fields.IssueType.Name,
		Labels:    iss.Fields.Labels,
		URL:       f.client.BaseURL() + "/browse/" + iss.Key,
		FetchedAt: time.Now().UTC(),
	}
	if iss.Fields.Assignee != nil {
		rec.Assignee = iss.Fields.Assignee.DisplayName
	}
	if iss.Fields.Reporter != nil {
		rec.Reporter = iss.Fields.Reporter.DisplayName
	}
	return rec
}
