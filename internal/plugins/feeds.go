package plugins

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TaterTotterson/Tater/internal/engine"
	"github.com/TaterTotterson/Tater/internal/feeds"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

var feedPlatforms = []string{
	toolreg.PlatformWebUI, toolreg.PlatformDiscord, toolreg.PlatformIRC,
	toolreg.PlatformMatrix, toolreg.PlatformMCP, toolreg.PlatformCLI,
}

func feedURLParam() engine.SchemaProperty {
	return engine.SchemaProperty{Type: "string", Description: "The RSS, Atom or JSON feed URL"}
}

// The watch scope of a tool call is the conversation it came from, so
// announcements go back to the channel that asked for them.
func watchFeed(w FeedWatcher) toolreg.Descriptor {
	return toolreg.Descriptor{
		Name:        "watch_feed",
		Description: "Add an RSS/Atom feed to this channel's watch list. New articles are announced here.",
		Parameters: &engine.Schema{
			Type: "object",
			Properties: map[string]engine.SchemaProperty{
				"feed_url": feedURLParam(),
				"category": {Type: "string", Description: "Optional label such as news or tech"},
			},
			Required: []string{"feed_url"},
		},
		Platforms: feedPlatforms,
		Handler: func(ctx context.Context, inv toolreg.Invocation) (string, error) {
			url := strings.TrimSpace(inv.Args.String("feed_url"))
			f, err := w.Watch(ctx, feeds.WatchRequest{
				Scope:    inv.Conversation,
				URL:      url,
				Category: inv.Args.String("category"),
			})
			switch {
			case errors.Is(err, feeds.ErrFeedExists):
				return fmt.Sprintf("Already watching %s here.", url), nil
			case errors.Is(err, feeds.ErrInvalidURL):
				return "", toolreg.InvalidArgument(err)
			case err != nil:
				return "", toolreg.UpstreamUnavailable(err)
			}
			name := f.URL
			if f.Title != "" {
				name = fmt.Sprintf("%s (%s)", f.Title, f.URL)
			}
			return "Now watching feed: " + name, nil
		},
	}
}

func unwatchFeed(w FeedWatcher) toolreg.Descriptor {
	return toolreg.Descriptor{
		Name:        "unwatch_feed",
		Description: "Remove a feed from this channel's watch list.",
		Parameters: &engine.Schema{
			Type:       "object",
			Properties: map[string]engine.SchemaProperty{"feed_url": feedURLParam()},
			Required:   []string{"feed_url"},
		},
		Platforms: feedPlatforms,
		Handler: func(ctx context.Context, inv toolreg.Invocation) (string, error) {
			url := strings.TrimSpace(inv.Args.String("feed_url"))
			err := w.Unwatch(ctx, inv.Conversation, url)
			switch {
			case errors.Is(err, feeds.ErrFeedNotWatched):
				return fmt.Sprintf("%s is not on the watch list here.", url), nil
			case err != nil:
				return "", toolreg.UpstreamUnavailable(err)
			}
			return "Stopped watching feed: " + url, nil
		},
	}
}

func listFeeds(w FeedWatcher) toolreg.Descriptor {
	return toolreg.Descriptor{
		Name:        "list_feeds",
		Description: "List the feeds watched in this channel.",
		Platforms:   feedPlatforms,
		Handler: func(ctx context.Context, inv toolreg.Invocation) (string, error) {
			list, err := w.List(ctx, inv.Conversation)
			if err != nil {
				return "", toolreg.UpstreamUnavailable(err)
			}
			if len(list) == 0 {
				return "No feeds are being watched here.", nil
			}
			var sb strings.Builder
			sb.WriteString("Watched feeds:")
			for _, f := range list {
				sb.WriteString("\n- ")
				if f.Title != "" {
					sb.WriteString(f.Title + " ")
				}
				sb.WriteString(f.URL)
				if f.Category != "" {
					fmt.Fprintf(&sb, " [%s]", f.Category)
				}
				if f.LastPoll.IsZero() {
					sb.WriteString(", not polled yet")
				} else {
					fmt.Fprintf(&sb, ", last polled %s", f.LastPoll.Format("2006-01-02 15:04 MST"))
				}
			}
			return sb.String(), nil
		},
	}
}
