// Package resolver classifies raw link URLs into service references.
package resolver

import (
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/kbcrawl/kbcrawl/internal/kb"
)

var (
	wikiPagePath  = regexp.MustCompile(`/pages/(\d+)(?:/|$)`)
	driveFilePath = regexp.MustCompile(`/(?:file/)?d/([A-Za-z0-9_-]+)`)
	driveFolder   = regexp.MustCompile(`/folders/([A-Za-z0-9_-]+)`)
	issueBrowse   = regexp.MustCompile(`/browse/([A-Z][A-Z0-9]+-\d+)(?:[/?#]|$)`)
)

// Resolver maps remote-link URLs onto the services the crawler knows.
type Resolver struct {
	logger *zap.Logger
}

// New constructs a Resolver.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// IsKnownService reports whether rawURL points at a service the crawler can
// fetch from.
func (r *Resolver) IsKnownService(rawURL string) bool {
	return isWikiURL(rawURL) || isDriveURL(rawURL) || issueBrowse.MatchString(rawURL)
}

// Classify turns a raw link into a reference. Links into a known service
// yield a target the crawl can fetch; anything else is recorded as an opaque
// reference. Links that look like a known service but carry no extractable
// id are dropped (ok=false) after logging.
func (r *Resolver) Classify(rawURL, title string) (kb.Reference, bool) {
	ref := kb.Reference{
		Kind:  kb.RelationRemoteLink,
		Title: title,
		URL:   rawURL,
	}
	if rawURL == "" {
		return kb.Reference{}, false
	}
	if _, err := url.Parse(rawURL); err != nil {
		r.logger.Warn("dropping unparseable link", zap.String("url", rawURL), zap.Error(err))
		return kb.Reference{}, false
	}

	switch {
	case isWikiURL(rawURL):
		id := extractWikiPageID(rawURL)
		if id == "" {
			r.logger.Warn("could not extract page id from wiki link", zap.String("url", rawURL))
			return kb.Reference{}, false
		}
		ref.Target = kb.ItemRef{Service: kb.ServiceConfluence, ID: id}
		return ref, true

	case isDriveURL(rawURL):
		id := extractDriveID(rawURL)
		if id == "" {
			r.logger.Warn("could not extract file id from drive link", zap.String("url", rawURL))
			return kb.Reference{}, false
		}
		ref.Target = kb.ItemRef{Service: kb.ServiceDrive, ID: id}
		return ref, true

	case issueBrowse.MatchString(rawURL):
		ref.Target = kb.ItemRef{Service: kb.ServiceJira, ID: issueBrowse.FindStringSubmatch(rawURL)[1]}
		return ref, true
	}

	// Not one of ours: keep the link on the record, fetch nothing.
	ref.Opaque = true
	return ref, true
}

func isWikiURL(rawURL string) bool {
	return strings.Contains(rawURL, "/wiki/spaces/") ||
		strings.Contains(rawURL, "/wiki/pages/") ||
		strings.Contains(rawURL, "atlassian.net/wiki")
}

func isDriveURL(rawURL string) bool {
	return strings.Contains(rawURL, "drive.google.com/") ||
		strings.Contains(rawURL, "docs.google.com/")
}

// extractWikiPageID handles both the query-parameter form
// (viewpage.action?pageId=123) and the path form (/spaces/X/pages/123/Title).
func extractWikiPageID(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if id := u.Query().Get("pageId"); id != "" {
			return id
		}
	}
	if m := wikiPagePath.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

// extractDriveID handles open?id=..., /file/d/<id>, /d/<id> and
// /folders/<id> link shapes.
func extractDriveID(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if id := u.Query().Get("id"); id != "" {
			return id
		}
	}
	if m := driveFilePath.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := driveFolder.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}
