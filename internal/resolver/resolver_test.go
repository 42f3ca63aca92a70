package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kbcrawl/kbcrawl/internal/kb"
)

func TestClassifyWikiLinks(t *testing.T) {
	t.Parallel()

	r := New(zap.NewNop())

	cases := []struct {
		name string
		url  string
		id   string
	}{
		{"path form", "https://team.atlassian.net/wiki/spaces/KB/pages/5252907051/Some+Title", "5252907051"},
		{"query form", "https://team.atlassian.net/wiki/pages/viewpage.action?pageId=99887", "99887"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ref, ok := r.Classify(tc.url, "doc")
			require.True(t, ok)
			assert.Equal(t, kb.ServiceConfluence, ref.Target.Service)
			assert.Equal(t, tc.id, ref.Target.ID)
			assert.False(t, ref.Opaque)
		})
	}
}

func TestClassifyDriveLinks(t *testing.T) {
	t.Parallel()

	r := New(zap.NewNop())

	cases := []struct {
		name string
		url  string
		id   string
	}{
		{"file form", "https://drive.google.com/file/d/1AbC_d-92xYz/edit", "1AbC_d-92xYz"},
		{"open form", "https://drive.google.com/open?id=XYZ123&usp=sharing", "XYZ123"},
		{"folder form", "https://drive.google.com/drive/folders/F0LD3R?usp=x", "F0LD3R"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ref, ok := r.Classify(tc.url, "file")
			require.True(t, ok)
			assert.Equal(t, kb.ServiceDrive, ref.Target.Service)
			assert.Equal(t, tc.id, ref.Target.ID)
		})
	}
}

func TestClassifyIssueBrowseLink(t *testing.T) {
	t.Parallel()

	r := New(zap.NewNop())

	ref, ok := r.Classify("https://team.atlassian.net/browse/KB-612", "ticket")
	require.True(t, ok)
	assert.Equal(t, kb.ItemRef{Service: kb.ServiceJira, ID: "KB-612"}, ref.Target)
}

func TestClassifyUnknownServiceIsOpaque(t *testing.T) {
	t.Parallel()

	r := New(zap.NewNop())

	ref, ok := r.Classify("https://dashboards.example.com/board/7", "dashboard")
	require.True(t, ok)
	assert.True(t, ref.Opaque)
	assert.True(t, ref.Target.Zero())
	assert.Equal(t, "https://dashboards.example.com/board/7", ref.URL)
}

func TestClassifyFailsSoftOnBadWikiLink(t *testing.T) {
	t.Parallel()

	r := New(zap.NewNop())

	// Wiki-shaped link with a non-numeric page segment: drop, don't abort.
	_, ok := r.Classify("https://team.atlassian.net/wiki/spaces/KB/pages/not-a-number", "broken")
	assert.False(t, ok)

	_, ok = r.Classify("", "")
	assert.False(t, ok)
}

func TestIsKnownService(t *testing.T) {
	t.Parallel()

	r := New(zap.NewNop())

	assert.True(t, r.IsKnownService("https://x.atlassian.net/wiki/spaces/A/pages/1/B"))
	assert.True(t, r.IsKnownService("https://drive.google.com/open?id=1"))
	assert.True(t, r.IsKnownService("https://x.atlassian.net/browse/KB-1"))
	assert.False(t, r.IsKnownService("https://example.com/"))
}
