// Package kb defines the core crawl types shared across subsystems.
package kb

import "time"

// Service identifies one of the remote systems the crawler talks to.
type Service string

// Known remote services.
const (
	ServiceJira       Service = "jira"
	ServiceConfluence Service = "confluence"
	ServiceDrive      Service = "drive"
)

// ItemRef uniquely identifies one remote object as (service, id).
type ItemRef struct {
	Service Service `json:"service"`
	ID      string  `json:"id"`
}

// Key returns the canonical dedup key for the reference.
func (r ItemRef) Key() string {
	return string(r.Service) + ":" + r.ID
}

// Zero reports whether the reference is empty.
func (r ItemRef) Zero() bool {
	return r.Service == "" || r.ID == ""
}

// RelationKind classifies how a reference hangs off its parent record.
type RelationKind string

// Relation kinds discovered by the fetchers and the resolver.
const (
	RelationChild      RelationKind = "child"
	RelationSubtask    RelationKind = "subtask"
	RelationLink       RelationKind = "link"
	RelationEpicChild  RelationKind = "epic-child"
	RelationRemoteLink RelationKind = "remote-link"
)

// Reference is an unresolved pointer from one record to another item,
// possibly in a different service. Opaque references carry only the raw URL
// and are recorded without any further fetch.
type Reference struct {
	Target ItemRef      `json:"target,omitempty"`
	Kind   RelationKind `json:"kind"`
	Title  string       `json:"title,omitempty"`
	URL    string       `json:"url,omitempty"`
	Opaque bool         `json:"opaque,omitempty"`
}

// Record is the fully resolved content for one work item.
//
// Children holds nested records resolved inline by the hierarchical fetchers
// (wiki page trees, drive folders). References holds pointers that must be
// resolved separately through the crawl queue.
type Record struct {
	Ref        ItemRef     `json:"ref"`
	Title      string      `json:"title,omitempty"`
	Body       string      `json:"body,omitempty"`
	Status     string      `json:"status,omitempty"`
	IssueType  string      `json:"issue_type,omitempty"`
	Assignee   string      `json:"assignee,omitempty"`
	Reporter   string      `json:"reporter,omitempty"`
	Labels     []string    `json:"labels,omitempty"`
	Space      string      `json:"space,omitempty"`
	Version    int         `json:"version,omitempty"`
	MimeType   string      `json:"mime_type,omitempty"`
	URL        string      `json:"url,omitempty"`
	FetchedAt  time.Time   `json:"fetched_at,omitempty"`
	Children   []*Record   `json:"children,omitempty"`
	References []Reference `json:"references,omitempty"`

	// Revisited marks the sentinel returned when a hierarchical descent
	// reaches an id already fetched in the same traversal.
	Revisited bool `json:"revisited,omitempty"`

	// Failed records are placeholders for items whose fetch did not succeed.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FailedRecord builds the placeholder stored when fetching ref fails.
func FailedRecord(ref ItemRef, err error) *Record {
	msg := "fetch failed"
	if err != nil {
		msg = err.Error()
	}
	return &Record{
		Ref:       ref,
		Failed:    true,
		Error:     msg,
		FetchedAt: time.Now().UTC(),
	}
}

// WorkItem is one unit of crawl work. Record is nil until the item has been
// fetched; batch discovery may attach a prefetched payload so the worker can
// skip the point fetch.
type WorkItem struct {
	Ref    ItemRef
	Record *Record
}
