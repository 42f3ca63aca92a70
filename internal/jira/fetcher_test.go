package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kbcrawl/kbcrawl/internal/kb"
	"github.com/kbcrawl/kbcrawl/internal/remote"
)

func newClient(t *testing.T, srv *httptest.Server) *remote.Client {
	t.Helper()
	c, err := remote.New(remote.Config{
		Service:   "jira",
		BaseURL:   srv.URL,
		CallDelay: time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFetchItemMapsFieldsAndReferences(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/issue/KB-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"key": "KB-1",
			"fields": map[string]any{
				"summary":     "Rollout plan",
				"description": "Plan body",
				"labels":      []string{"infra"},
				"status":      map[string]string{"name": "In Progress"},
				"issuetype":   map[string]string{"name": "Story"},
				"assignee":    map[string]string{"displayName": "Sam Doe"},
				"subtasks": []map[string]any{
					{"key": "KB-2", "fields": map[string]string{"summary": "Subtask two"}},
				},
				"issuelinks": []map[string]any{
					{"outwardIssue": map[string]any{"key": "KB-3", "fields": map[string]string{"summary": "Linked three"}}},
				},
			},
		})
	})
	mux.HandleFunc("/rest/api/2/issue/KB-1/remotelink", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"object": map[string]string{"url": "https://team.example.com/wiki/spaces/KB/pages/42/Design", "title": "Design"}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(newClient(t, srv), Options{}, zap.NewNop())

	rec, err := f.FetchItem(context.Background(), "KB-1")
	require.NoError(t, err)
	require.Equal(t, kb.ItemRef{Service: kb.ServiceJira, ID: "KB-1"}, rec.Ref)
	require.Equal(t, "Rollout plan", rec.Title)
	require.Equal(t, "Plan body", rec.Body)
	require.Equal(t, "In Progress", rec.Status)
	require.Equal(t, "Sam Doe", rec.Assignee)

	kinds := map[kb.RelationKind][]string{}
	for _, ref := range rec.References {
		kinds[ref.Kind] = append(kinds[ref.Kind], ref.Target.ID+ref.URL)
	}
	require.Equal(t, []string{"KB-2"}, kinds[kb.RelationSubtask])
	require.Equal(t, []string{"KB-3"}, kinds[kb.RelationLink])
	require.Len(t, kinds[kb.RelationRemoteLink], 1)
}

func TestFetchItemRemoteLinks404IsEmpty(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/issue/KB-9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"key":    "KB-9",
			"fields": map[string]any{"summary": "No links"},
		})
	})
	mux.HandleFunc("/rest/api/2/issue/KB-9/remotelink", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(newClient(t, srv), Options{}, zap.NewNop())

	rec, err := f.FetchItem(context.Background(), "KB-9")
	require.NoError(t, err)
	require.False(t, rec.Failed)
	for _, ref := range rec.References {
		require.NotEqual(t, kb.RelationRemoteLink, ref.Kind)
	}
}

func TestFetchRelatedPaginates(t *testing.T) {
	t.Parallel()

	const total = 250
	var searches atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		require.Equal(t, 100, maxResults)

		end := startAt + maxResults
		if end > total {
			end = total
		}
		issues := make([]map[string]any, 0, end-startAt)
		for i := startAt; i < end; i++ {
			issues = append(issues, map[string]any{
				"key":    fmt.Sprintf("KB-%d", i+1),
				"fields": map[string]any{"summary": fmt.Sprintf("child %d", i+1)},
			})
		}
		writeJSON(t, w, map[string]any{
			"startAt":    startAt,
			"maxResults": maxResults,
			"total":      total,
			"issues":     issues,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(newClient(t, srv), Options{}, zap.NewNop())

	refs, err := f.FetchRelated(context.Background(), "KB-EPIC")
	require.NoError(t, err)
	require.Len(t, refs, total)
	require.Equal(t, int32(3), searches.Load())

	seen := map[string]struct{}{}
	for _, ref := range refs {
		_, dup := seen[ref.Target.ID]
		require.False(t, dup, "duplicate reference %s", ref.Target.ID)
		seen[ref.Target.ID] = struct{}{}
	}
}

func TestFetchByIDBatchUsesSingleSearch(t *testing.T) {
	t.Parallel()

	var searches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		require.Contains(t, r.URL.Query().Get("jql"), "key in (KB-1, KB-2, KB-3)")
		writeJSON(t, w, map[string]any{
			"total": 3,
			"issues": []map[string]any{
				{"key": "KB-1", "fields": map[string]any{"summary": "one"}},
				{"key": "KB-2", "fields": map[string]any{"summary": "two"}},
				{"key": "KB-3", "fields": map[string]any{"summary": "three"}},
			},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Remote-link lookups for the batched issues are out of scope here.
		http.Error(w, "not found", http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(newClient(t, srv), Options{}, zap.NewNop())

	records, err := f.FetchByIDBatch(context.Background(), []string{"KB-1", "KB-2", "KB-3"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, int32(1), searches.Load())
}

func TestEpicChildrenDiscoveredViaSearch(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/issue/KB-EPIC", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"key": "KB-EPIC",
			"fields": map[string]any{
				"summary":   "The epic",
				"issuetype": map[string]string{"name": "Epic"},
			},
		})
	})
	mux.HandleFunc("/rest/api/2/issue/KB-EPIC/remotelink", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Query().Get("jql"), "Epic Link")
		writeJSON(t, w, map[string]any{
			"total": 1,
			"issues": []map[string]any{
				{"key": "KB-10", "fields": map[string]any{"summary": "epic child"}},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(newClient(t, srv), Options{}, zap.NewNop())

	rec, err := f.FetchItem(context.Background(), "KB-EPIC")
	require.NoError(t, err)

	var epicChildren []string
	for _, ref := range rec.References {
		if ref.Kind == kb.RelationEpicChild {
			epicChildren = append(epicChildren, ref.Target.ID)
		}
	}
	require.Equal(t, []string{"KB-10"}, epicChildren)
}
