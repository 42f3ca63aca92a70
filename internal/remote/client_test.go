package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, srv *httptest.Server, maxConcurrent int) *Client {
	t.Helper()
	c, err := New(Config{
		Service:       "jira",
		BaseURL:       srv.URL,
		Username:      "bot@example.com",
		APIToken:      "token",
		MaxConcurrent: maxConcurrent,
		CallDelay:     time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestGetJSONDecodesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/issue/KB-1", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "bot@example.com", user)
		require.Equal(t, "token", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"key": "KB-1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)

	var out struct {
		Key string `json:"key"`
	}
	err := c.GetJSON(context.Background(), "/rest/api/2/issue/KB-1", nil, &out)
	require.NoError(t, err)
	require.Equal(t, "KB-1", out.Key)
}

func TestGetJSONReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)

	err := c.GetJSON(context.Background(), "/anything", nil, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, StatusCode(err))
	require.False(t, IsNotFound(err))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)

	err := c.GetJSON(context.Background(), "/rest/api/2/issue/KB-404/remotelink", nil, nil)
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestPermitPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- c.GetJSON(context.Background(), "/busy", nil, nil)
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPermitReleasedAfterFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 1)

	require.Error(t, c.GetJSON(context.Background(), "/a", nil, nil))

	// With a single permit, a leaked permit would make this call hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.GetJSON(ctx, "/b", nil, nil))
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Service: "jira"}, zap.NewNop())
	require.Error(t, err)
}
