// Package notify delivers new feed items to external destinations: chat
// channels, webhooks, push topics and CMS posts.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Item is one feed entry ready for announcement.
type Item struct {
	Feed      string    `json:"feed"`
	FeedURL   string    `json:"feed_url"`
	Category  string    `json:"category,omitempty"`
	Scope     string    `json:"scope"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Summary   string    `json:"summary"`
	Published time.Time `json:"published,omitzero"`
}

// Announcement renders the chat message for it.
func (it Item) Announcement() string {
	feed := it.Feed
	if feed == "" {
		feed = it.FeedURL
	}
	title := it.Title
	if title == "" {
		title = "No Title"
	}
	return fmt.Sprintf("New article from %s\n%s\n%s\n\n%s", feed, title, it.Link, it.Summary)
}

// Sink is one publishing destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, item Item) error
}

// DeliveryError is a failed delivery to one sink.
type DeliveryError struct {
	Sink string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering to %s: %v", e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Split breaks msg into chunks of at most size bytes, preferring a newline
// and then a space as the cut point.
func Split(msg string, size int) []string {
	if size <= 0 {
		return []string{msg}
	}
	var parts []string
	for len(msg) > size {
		cut := strings.LastIndex(msg[:size], "\n")
		if cut <= 0 {
			cut = strings.LastIndex(msg[:size], " ")
		}
		if cut <= 0 {
			cut = runeBoundary(msg, size)
		}
		parts = append(parts, strings.TrimRight(msg[:cut], " \n"))
		msg = strings.TrimSpace(msg[cut:])
	}
	return append(parts, msg)
}

// runeBoundary moves n back to the start of the UTF-8 sequence containing it.
func runeBoundary(s string, n int) int {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	if n == 0 {
		return len(s)
	}
	return n
}
