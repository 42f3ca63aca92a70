// Package drive fetches file-storage items and folder trees.
package drive

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kbcrawl/kbcrawl/internal/kb"
	"github.com/kbcrawl/kbcrawl/internal/remote"
)

const (
	folderMimeType       = "application/vnd.google-apps.folder"
	documentMimeType     = "application/vnd.google-apps.document"
	spreadsheetMimeType  = "application/vnd.google-apps.spreadsheet"
	presentationMimeType = "application/vnd.google-apps.presentation"

	defaultPageSize = 100
	metadataFields  = "id, name, mimeType, webViewLink"
)

// Options tunes the fetcher.
type Options struct {
	// PageSize caps folder entries per listing call. Defaults to 100.
	PageSize int
}

// Fetcher resolves drive files and folders through the shared rate-limited
// client. Folder trees are resolved inline with a per-traversal visited set.
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
	return kb.ServiceDrive
}

// FetchItem fetches one file, or a folder and its whole subtree inline.
func (f *Fetcher) FetchItem(ctx context.Context, fileID string) (*kb.Record, error) {
	return f.fetchTree(ctx, fileID, map[string]struct{}{})
}

// FetchRelated lists the direct children of a folder. A 404 or a non-folder
// id yields an empty list.
func (f *Fetcher) FetchRelated(ctx context.Context, fileID string) ([]kb.Reference, error) {
	var refs []kb.Reference
	pageToken := ""
	for {
		query := url.Values{
			"q":                         {fmt.Sprintf("'%s' in parents and trashed=false", fileID)},
			"pageSize":                  {fmt.Sprintf("%d", f.pageSize)},
			"fields":                    {"nextPageToken, files(" + metadataFields + ")"},
			"supportsAllDrives":         {"true"},
			"includeItemsFromAllDrives": {"true"},
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var page fileListJSON
		if err := f.client.GetJSON(ctx, "/drive/v3/files", query, &page); err != nil {
			if remote.IsNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("list folder %s: %w", fileID, err)
		}
		for _, child := range page.Files {
			if child.ID == "" {
				continue
			}
			refs = append(refs, kb.Reference{
				Target: kb.ItemRef{Service: kb.ServiceDrive, ID: child.ID},
				Kind:   kb.RelationChild,
				Title:  child.Name,
				URL:    child.WebViewLink,
			})
		}
		if page.NextPageToken == "" {
			return refs, nil
		}
		pageToken = page.NextPageToken
	}
}

func (f *Fetcher) fetchTree(ctx context.Context, fileID string, visited map[string]struct{}) (*kb.Record, error) {
	ref := kb.ItemRef{Service: kb.ServiceDrive, ID: fileID}
	if _, seen := visited[fileID]; seen {
		f.logger.Debug("skipping already visited drive item", zap.String("file_id", fileID))
		return &kb.Record{Ref: ref, Revisited: true}, nil
	}
	visited[fileID] = struct{}{}

	meta, err := f.fetchMetadata(ctx, fileID)
	if err != nil {
		return nil, err
	}

	rec := &kb.Record{
		Ref:       ref,
		Title:     meta.Name,
		MimeType:  meta.MimeType,
		URL:       meta.WebViewLink,
		FetchedAt: time.Now().UTC(),
	}

	if meta.MimeType == folderMimeType {
		children, listErr := f.FetchRelated(ctx, fileID)
		if listErr != nil {
			f.logger.Warn("folder listing failed",
				zap.String("file_id", fileID), zap.Error(listErr))
			return rec, nil
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

	body, bodyErr := f.fetchContent(ctx, fileID, meta.MimeType)
	if bodyErr != nil {
		// Content download failing still leaves a useful metadata record.
		f.logger.Warn("content download failed",
			zap.String("file_id", fileID), zap.Error(bodyErr))
		return rec, nil
	}
	rec.Body = body
	return rec, nil
}

func (f *Fetcher) fetchMetadata(ctx context.Context, fileID string) (*fileJSON, error) {
	query := url.Values{
		"fields":            {metadataFields},
		"supportsAllDrives": {"true"},
	}
	path := "/drive/v3/files/" + url.PathEscape(fileID)
	var meta fileJSON
	if err := f.client.GetJSON(ctx, path, query, &meta); err != nil {
		return nil, fmt.Errorf("fetch drive metadata %s: %w", fileID, err)
	}
	return &meta, nil
}

// fetchContent downloads or exports the file body. Native workspace types
// are exported to text, plain text types downloaded directly, and binary
// types recorded metadata-only.
func (f *Fetcher) fetchContent(ctx context.Context, fileID, mimeType string) (string, error) {
	path := "/drive/v3/files/" + url.PathEscape(fileID)
	var raw []byte
	var err error
	switch {
	case mimeType == documentMimeType || mimeType == presentationMimeType:
		raw, err = f.client.GetRaw(ctx, path+"/export", url.Values{"mimeType": {"text/plain"}})
	case mimeType == spreadsheetMimeType:
		raw, err = f.client.GetRaw(ctx, path+"/export", url.Values{"mimeType": {"text/csv"}})
	case strings.HasPrefix(mimeType, "text/") || mimeType == "application/json" || mimeType == "application/csv":
		raw, err = f.client.GetRaw(ctx, path, url.Values{"alt": {"media"}})
	default:
		return fmt.Sprintf("file type %s not configured for content extraction", mimeType), nil
	}
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "binary content not decodable as UTF-8", nil
	}
	return string(raw), nil
}
