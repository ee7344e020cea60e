package feeds

import (
	"context"
	"log/slog"
	"strings"

	"github.com/TaterTotterson/Tater/internal/webtext"
)

const (
	summaryInstruction = "Summarize this article for a chat announcement in 2 to 4 short sentences. " +
		"Plain text only, no preamble, no links."
	// fallbackChars is the excerpt length used when the model cannot summarize.
	fallbackChars = 300
	// shortDescription is the length below which the linked article is
	// fetched for a better summary.
	shortDescription = 200
	maxArticleChars  = 8000
	noSummary        = "Could not retrieve a summary for this article."
)

// Model condenses text. Implemented by llm.Client.
type Model interface {
	Summarize(ctx context.Context, instruction, text string) (string, error)
}

// ArticleReader fetches the text behind an item link. Implemented by
// webtext.Fetcher.
type ArticleReader interface {
	Fetch(ctx context.Context, url string, maxChars int) (webtext.Page, error)
}

// Summarizer produces the announcement summary of an item. It never fails:
// without a model it falls back to an excerpt.
type Summarizer struct {
	model    Model
	articles ArticleReader
	logger   *slog.Logger
}

// NewSummarizer creates a Summarizer. Either argument may be nil.
func NewSummarizer(model Model, articles ArticleReader) *Summarizer {
	return &Summarizer{model: model, articles: articles, logger: slog.Default()}
}

func (s *Summarizer) Summarize(ctx context.Context, it Item) string {
	text := webtext.StripHTML(it.Content)
	if text == "" {
		text = webtext.StripHTML(it.Description)
	}

	source := text
	if len(source) < shortDescription && it.Link != "" && s.articles != nil {
		page, err := s.articles.Fetch(ctx, it.Link, maxArticleChars)
		if err != nil {
			s.logger.Debug("article fetch failed, using description", "link", it.Link, "error", err)
		} else if len(page.Text) > len(source) {
			source = page.Text
		}
	}
	if source == "" {
		return noSummary
	}

	if s.model != nil {
		input := source
		if it.Title != "" {
			input = "Title: " + it.Title + "\n\n" + source
		}
		summary, err := s.model.Summarize(ctx, summaryInstruction, input)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary)
		}
		s.logger.Warn("item summary failed, using excerpt", "link", it.Link, "error", err)
	}
	if text == "" {
		text = source
	}
	return webtext.Truncate(text, fallbackChars)
}
