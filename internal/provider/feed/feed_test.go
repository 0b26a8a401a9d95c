package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/crossread/internal/config"
	"github.com/pders01/crossread/internal/provider"
)

const searchFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
	<channel>
		<title>Search results</title>
		<item>
			<title>Solo Leveling</title>
			<link>https://feeds.example/series/solo-leveling</link>
			<enclosure url="https://feeds.example/covers/solo.jpg" type="image/jpeg"/>
		</item>
		<item>
			<title>Solo Leveling: Ragnarok</title>
			<link>https://feeds.example/series/ragnarok</link>
			<description><![CDATA[<img src="https://feeds.example/covers/rag.jpg">]]></description>
		</item>
		<item>
			<title>  </title>
			<link>https://feeds.example/series/blank</link>
		</item>
	</channel>
</rss>`

const seriesFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
	<channel>
		<title>Solo Leveling</title>
		<link>https://feeds.example/series/solo-leveling</link>
		<item>
			<title>Solo Leveling Chapter 12.5</title>
			<link>https://feeds.example/read/12-5</link>
			<pubDate>Thu, 02 Jan 2025 12:00:00 GMT</pubDate>
		</item>
		<item>
			<title>Solo Leveling 11</title>
			<link>https://feeds.example/read/11</link>
			<pubDate>Wed, 01 Jan 2025 12:00:00 GMT</pubDate>
		</item>
		<item>
			<title>Announcement</title>
			<link>https://feeds.example/read/news</link>
		</item>
	</channel>
</rss>`

func newProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	return New(config.FeedConfig{
		Name:      "rss",
		SearchURL: srv.URL + "/search?q={query}&p={page}",
		SeriesURL: srv.URL + "/series/{id}.xml",
	}, provider.NewClient(5*time.Second, "crossread-test/1.0"))
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "solo leveling", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("p"))
		_, _ = w.Write([]byte(searchFeed))
	}))
	defer srv.Close()

	entries, err := newProvider(t, srv).Search(context.Background(), "solo leveling", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "rss", entries[0].Provider)
	assert.Equal(t, "https://feeds.example/series/solo-leveling", entries[0].ID)
	assert.Equal(t, "https://feeds.example/covers/solo.jpg", entries[0].Image)
	assert.Equal(t, "https://feeds.example/covers/rag.jpg", entries[1].Image)
}

func TestDetailsFromTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/solo-leveling.xml", r.URL.Path)
		_, _ = w.Write([]byte(seriesFeed))
	}))
	defer srv.Close()

	entry, err := newProvider(t, srv).Details(context.Background(), "solo-leveling")
	require.NoError(t, err)

	assert.Equal(t, "Solo Leveling", entry.Title)
	assert.Equal(t, "solo-leveling", entry.ID)
	require.Len(t, entry.Chapters, 3)
	assert.Equal(t, "12.5", entry.Chapters[0].Number)
	assert.Equal(t, "11", entry.Chapters[1].Number)
	assert.Equal(t, "", entry.Chapters[2].Number)
	assert.Equal(t, 2025, entry.Chapters[0].Date.Year())
}

func TestDetailsConditionalRequest(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"abc"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(seriesFeed))
	}))
	defer srv.Close()

	p := newProvider(t, srv)
	ctx := context.Background()

	first, err := p.Details(ctx, srv.URL+"/custom.xml")
	require.NoError(t, err)
	second, err := p.Details(ctx, srv.URL+"/custom.xml")
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
	assert.Equal(t, first.Chapters, second.Chapters)
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newProvider(t, srv).Search(context.Background(), "x", 1)
	var httpErr *provider.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestChapterNumber(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Chapter 12", "12"},
		{"Ch. 7.5 - Extra", "7.5"},
		{"Tower of God S3 Episode 140", "140"},
		{"Volume 3 104", "104"},
		{"Notice", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, chapterNumber(tt.title))
		})
	}
}
