// Package plugins holds the built-in tools: feed management, memory recall
// and web page summaries.
package plugins

import (
	"context"

	"github.com/TaterTotterson/Tater/internal/feeds"
	"github.com/TaterTotterson/Tater/internal/memory"
	"github.com/TaterTotterson/Tater/internal/storage"
	"github.com/TaterTotterson/Tater/internal/toolreg"
	"github.com/TaterTotterson/Tater/internal/webtext"
)

// FeedWatcher manages watched feeds. Implemented by feeds.Scheduler.
type FeedWatcher interface {
	Watch(ctx context.Context, req feeds.WatchRequest) (storage.Feed, error)
	Unwatch(ctx context.Context, scope, url string) error
	List(ctx context.Context, scope string) ([]storage.Feed, error)
}

// Recaller searches a conversation's memory. Implemented by memory.Manager.
type Recaller interface {
	Recall(ctx context.Context, conversation, query string, limit int) ([]memory.Recalled, error)
}

// Summarizer condenses text with the language model. Implemented by
// llm.Client.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, text string) (string, error)
}

// PageReader fetches a document as text. Implemented by webtext.Fetcher.
type PageReader interface {
	Fetch(ctx context.Context, url string, maxChars int) (webtext.Page, error)
}

// Deps are the collaborators of the built-in tools. A tool whose
// collaborators are nil is not registered.
type Deps struct {
	Feeds  FeedWatcher
	Memory Recaller
	Model  Summarizer
	Pages  PageReader
}

// Register adds the built-in tools to reg.
func Register(reg *toolreg.Registry, deps Deps) error {
	var tools []toolreg.Descriptor
	if deps.Feeds != nil {
		tools = append(tools, watchFeed(deps.Feeds), unwatchFeed(deps.Feeds), listFeeds(deps.Feeds))
	}
	if deps.Memory != nil {
		tools = append(tools, recallMemory(deps.Memory))
	}
	if deps.Model != nil && deps.Pages != nil {
		tools = append(tools, webSummary(deps.Pages, deps.Model))
	}
	for _, d := range tools {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
