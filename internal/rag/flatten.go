package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbcrawl/kbcrawl/internal/kb"
)

// Document is one flat retrieval unit distilled from a crawled record.
type Document struct {
	ID        string            `json:"id"`
	Service   string            `json:"service"`
	Title     string            `json:"title,omitempty"`
	Text      string            `json:"text"`
	URL       string            `json:"url,omitempty"`
	Labels    []string          `json:"labels,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	FetchedAt time.Time         `json:"fetched_at,omitempty"`
}

// Flatten walks every record tree and emits one document per item with
// content. Revisited sentinels and failed placeholders are skipped; inline
// children become their own documents with the parent noted in metadata.
func Flatten(records []*kb.Record) []Document {
	var docs []Document
	for _, rec := range records {
		docs = appendRecord(docs, rec, "")
	}
	return docs
}

func appendRecord(docs []Document, rec *kb.Record, parentKey string) []Document {
	if rec == nil || rec.Revisited || rec.Failed {
		return docs
	}

	doc := Document{
		ID:        rec.Ref.Key(),
		Service:   string(rec.Ref.Service),
		Title:     rec.Title,
		Text:      buildText(rec),
		URL:       rec.URL,
		Labels:    rec.Labels,
		FetchedAt: rec.FetchedAt,
	}
	doc.Metadata = buildMetadata(rec, parentKey)
	docs = append(docs, doc)

	for _, child := range rec.Children {
		docs = appendRecord(docs, child, rec.Ref.Key())
	}
	return docs
}

// buildText assembles the retrieval text for one record. Wiki bodies get the
// storage-format cleanup; child titles and labels are appended so a search
// over the document surfaces its surroundings.
func buildText(rec *kb.Record) string {
	var b strings.Builder
	if rec.Title != "" {
		b.WriteString(rec.Title)
		b.WriteString("\n\n")
	}

	body := rec.Body
	if rec.Ref.Service == kb.ServiceConfluence {
		body = CleanStorageBody(body)
	}
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}

	if rec.Ref.Service == kb.ServiceJira {
		writeIssueFields(&b, rec)
	}

	var childTitles []string
	for _, child := range rec.Children {
		if child.Title != "" && !child.Revisited && !child.Failed {
			childTitles = append(childTitles, child.Title)
		}
	}
	if len(childTitles) > 0 {
		fmt.Fprintf(&b, "\nChild pages: %s\n", strings.Join(childTitles, ", "))
	}
	if len(rec.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(rec.Labels, ", "))
	}
	return strings.TrimSpace(b.String())
}

func writeIssueFields(b *strings.Builder, rec *kb.Record) {
	if rec.Status != "" {
		fmt.Fprintf(b, "Status: %s\n", rec.Status)
	}
	if rec.IssueType != "" {
		fmt.Fprintf(b, "Type: %s\n", rec.IssueType)
	}
	if rec.Assignee != "" {
		fmt.Fprintf(b, "Assignee: %s\n", rec.Assignee)
	}
	if rec.Reporter != "" {
		fmt.Fprintf(b, "Reporter: %s\n", rec.Reporter)
	}
}

func buildMetadata(rec *kb.Record, parentKey string) map[string]string {
	meta := map[string]string{}
	if parentKey != "" {
		meta["parent"] = parentKey
	}
	if rec.Space != "" {
		meta["space"] = rec.Space
	}
	if rec.Version > 0 {
		meta["version"] = fmt.Sprintf("%d", rec.Version)
	}
	if rec.MimeType != "" {
		meta["mime_type"] = rec.MimeType
	}
	if rec.Status != "" {
		meta["status"] = rec.Status
	}
	if rec.IssueType != "" {
		meta["issue_type"] = rec.IssueType
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
