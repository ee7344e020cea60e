package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaterTotterson/Tater/internal/webtext"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Spud Weekly</title><link>https://spud.example</link><description>all things potato</description>
<item><title>One</title><link>https://spud.example/1</link><guid>g-1</guid>
<pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate><description>&lt;p&gt;Hello &lt;b&gt;spuds&lt;/b&gt;&lt;/p&gt;</description></item>
<item><title>Two</title><link>https://spud.example/2</link></item>
<item><title>Three</title></item>
</channel></rss>`

func TestHTTPFetcher_RSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rss" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5 * time.Second)
	doc, err := f.Fetch(context.Background(), srv.URL+"/rss")
	require.NoError(t, err)

	assert.Equal(t, "Spud Weekly", doc.Title)
	require.Len(t, doc.Items, 3)
	assert.Equal(t, "g-1", doc.Items[0].ID)
	assert.True(t, doc.Items[0].Published.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Hello spuds", webtext.StripHTML(doc.Items[0].Description))
	assert.Equal(t, "https://spud.example/2", doc.Items[1].ID)
	assert.True(t, strings.HasPrefix(doc.Items[2].ID, "sha1:"))
	assert.True(t, doc.Items[2].Published.IsZero())

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 404, fe.StatusCode)
}

func TestItemID_HashIsStable(t *testing.T) {
	it := Item{Title: "Untitled potato", Published: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, itemID("", it), itemID("", it))

	other := it
	other.Published = it.Published.Add(time.Hour)
	assert.NotEqual(t, itemID("", it), itemID("", other))
	assert.Equal(t, "guid", itemID("guid", it))
}

type fakeModel struct {
	reply string
	err   error
	input string
}

func (m *fakeModel) Summarize(_ context.Context, _, text string) (string, error) {
	m.input = text
	return m.reply, m.err
}

type fakeArticles struct {
	text  string
	err   error
	calls int
}

func (a *fakeArticles) Fetch(_ context.Context, url string, _ int) (webtext.Page, error) {
	a.calls++
	return webtext.Page{URL: url, Text: a.text}, a.err
}

func TestSummarizer(t *testing.T) {
	long := strings.Repeat("Potatoes are tubers. ", 30)

	t.Run("model summary", func(t *testing.T) {
		m := &fakeModel{reply: "  A short summary.  "}
		s := NewSummarizer(m, nil)
		got := s.Summarize(context.Background(), Item{Title: "Spuds", Description: "<p>" + long + "</p>"})
		assert.Equal(t, "A short summary.", got)
		assert.True(t, strings.HasPrefix(m.input, "Title: Spuds\n\n"))
	})

	t.Run("model failure falls back to excerpt", func(t *testing.T) {
		s := NewSummarizer(&fakeModel{err: errors.New("model down")}, nil)
		got := s.Summarize(context.Background(), Item{Description: long})
		assert.Equal(t, webtext.Truncate(strings.TrimSpace(long), fallbackChars), got)
		assert.True(t, strings.HasSuffix(got, "..."))
	})

	t.Run("short description reads the article", func(t *testing.T) {
		m := &fakeModel{reply: "ok"}
		a := &fakeArticles{text: long}
		s := NewSummarizer(m, a)
		s.Summarize(context.Background(), Item{Link: "https://spud.example/1", Description: "tiny"})
		assert.Equal(t, 1, a.calls)
		assert.Contains(t, m.input, "Potatoes are tubers.")
	})

	t.Run("nothing to summarize", func(t *testing.T) {
		s := NewSummarizer(nil, &fakeArticles{err: errors.New("404")})
		assert.Equal(t, noSummary, s.Summarize(context.Background(), Item{Link: "https://spud.example/x"}))
	})
}

func TestSortForAnnouncement(t *testing.T) {
	items := []Item{
		{ID: "u1"},
		{ID: "late", Published: t0.Add(time.Hour)},
		{ID: "u2"},
		{ID: "early", Published: t0},
	}
	sortForAnnouncement(items)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"early", "late", "u1", "u2"}, ids)
}
