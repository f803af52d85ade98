package subscriptions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/newsfeed/internal/models"
)

const sampleOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="1.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="World" title="World">
      <outline type="rss" text="BBC" title="BBC News" xmlUrl="https://feeds.bbci.co.uk/news/rss.xml" htmlUrl="https://www.bbc.co.uk/news"/>
      <outline type="rss" text="Reuters" xmlUrl="https://example.com/reuters.xml"/>
      <outline type="rss" text="Broken"/>
      <outline type="atom" text="Atom only" xmlUrl="https://example.com/atom.xml"/>
    </outline>
    <outline text="Tech">
      <outline type="RSS" title="Ars" xmlUrl="https://example.com/ars.xml"/>
    </outline>
    <outline text="Empty group"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	feeds, err := Parse(strings.NewReader(sampleOPML))
	require.NoError(t, err)

	assert.Equal(t, []models.FeedDescriptor{
		{Group: "World", SourceLabel: "BBC", FeedURL: "https://feeds.bbci.co.uk/news/rss.xml"},
		{Group: "World", SourceLabel: "Reuters", FeedURL: "https://example.com/reuters.xml"},
		{Group: "Tech", SourceLabel: "Ars", FeedURL: "https://example.com/ars.xml"},
	}, feeds)
}

func TestParseKeepsSingletonGroups(t *testing.T) {
	doc := `<opml version="2.0"><body>
	  <outline text="Local">
	    <outline type="rss" text="City paper" xmlUrl="https://example.com/city.xml"/>
	  </outline>
	  <outline type="rss" text="Loose feed" xmlUrl="https://example.com/loose.xml"/>
	</body></opml>`

	feeds, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "https://example.com/city.xml", feeds[0].FeedURL)
	assert.Equal(t, "Loose feed", feeds[1].SourceLabel)
	assert.Equal(t, "https://example.com/loose.xml", feeds[1].FeedURL)
}

func TestParseLabelFallsBackToHost(t *testing.T) {
	doc := `<opml><body><outline text="G"><outline type="rss" xmlUrl="https://news.example.org/feed"/></outline></body></opml>`

	feeds, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "news.example.org", feeds[0].SourceLabel)
}

func TestParseMalformed(t *testing.T) {
	tests := map[string]string{
		"truncated":    `<opml><body><outline text="x">`,
		"not opml":     `<html><body></body></html>`,
		"missing body": `<opml version="1.0"><head/></opml>`,
		"not xml":      `just some text`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			feeds, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
			assert.Nil(t, feeds)

			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
		})
	}
}

func TestLoaderReadsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.opml")
	require.NoError(t, os.WriteFile(path, []byte(sampleOPML), 0o644))

	feeds, err := NewLoader(path, "").Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, feeds, 3)
}

func TestLoaderDownloadsWhenMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleOPML))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "subscriptions.opml")
	feeds, err := NewLoader(path, server.URL).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, feeds, 3)

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleOPML, string(saved))
}

func TestLoaderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	tests := map[string]*Loader{
		"missing without remote": NewLoader(filepath.Join(dir, "none.opml"), ""),
		"remote not found":       NewLoader(filepath.Join(dir, "none.opml"), server.URL),
	}

	for name, loader := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loader.Load(context.Background())
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.NotEmpty(t, pe.Source)
		})
	}

	badPath := filepath.Join(dir, "bad.opml")
	require.NoError(t, os.WriteFile(badPath, []byte("<opml>"), 0o644))
	_, err := NewLoader(badPath, "").Load(context.Background())
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, badPath, pe.Source)
}
