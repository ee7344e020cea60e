package feeds

import (
	"cmp"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Item is one entry of a fetched feed.
type Item struct {
	ID          string
	Title       string
	Link        string
	Description string
	Content     string
	Published   time.Time // zero when the feed gives no date
}

// Document is a parsed feed.
type Document struct {
	Title string
	Items []Item
}

// Fetcher reads and parses a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// HTTPFetcher fetches RSS, Atom and JSON feeds with gofeed.
type HTTPFetcher struct {
	parser  *gofeed.Parser
	timeout time.Duration
}

// NewHTTPFetcher creates an HTTPFetcher whose fetches give up after
// timeout. A zero timeout leaves the deadline to the caller's context.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	p := gofeed.NewParser()
	p.Client = &http.Client{}
	p.UserAgent = "Tater/1.0 (+feed watcher)"
	return &HTTPFetcher{parser: p, timeout: timeout}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Document, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	feed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		fe := &FetchError{URL: url, Err: err}
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			fe.StatusCode = he.StatusCode
		}
		return Document{}, fe
	}
	return fromGofeed(feed), nil
}

func fromGofeed(feed *gofeed.Feed) Document {
	doc := Document{Title: strings.TrimSpace(feed.Title)}
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		item := Item{
			Title:       strings.TrimSpace(it.Title),
			Link:        strings.TrimSpace(it.Link),
			Description: it.Description,
			Content:     it.Content,
		}
		switch {
		case it.PublishedParsed != nil:
			item.Published = it.PublishedParsed.UTC()
		case it.UpdatedParsed != nil:
			item.Published = it.UpdatedParsed.UTC()
		}
		item.ID = itemID(strings.TrimSpace(it.GUID), item)
		doc.Items = append(doc.Items, item)
	}
	return doc
}

// itemID is the GUID, else the link, else a hash of title and date.
func itemID(guid string, it Item) string {
	if guid != "" {
		return guid
	}
	if it.Link != "" {
		return it.Link
	}
	var ts string
	if !it.Published.IsZero() {
		ts = it.Published.Format(time.RFC3339)
	}
	sum := sha1.Sum([]byte(it.Title + "\x00" + ts))
	return "sha1:" + hex.EncodeToString(sum[:])
}

// sortForAnnouncement orders items oldest first. Undated items follow the
// dated ones in feed order.
func sortForAnnouncement(items []Item) {
	slices.SortStableFunc(items, func(a, b Item) int {
		switch {
		case a.Published.IsZero() && b.Published.IsZero():
			return 0
		case a.Published.IsZero():
			return 1
		case b.Published.IsZero():
			return -1
		}
		return cmp.Compare(a.Published.UnixNano(), b.Published.UnixNano())
	})
}
