package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/TaterTotterson/Tater/internal/engine"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

const (
	maxPageChars       = 12000
	webSummaryTimeout  = 90 * time.Second
	webSummaryGuidance = "Summarize this web page for a chat user. Start with one sentence on what it is, " +
		"then the key points as short bullet points. Do not invent facts."
)

func webSummary(pages PageReader, model Summarizer) toolreg.Descriptor {
	return toolreg.Descriptor{
		Name:        "web_summary",
		Description: "Read a web page or PDF at a URL and summarize it.",
		Parameters: &engine.Schema{
			Type: "object",
			Properties: map[string]engine.SchemaProperty{
				"url": {Type: "string", Description: "The page or PDF URL"},
			},
			Required: []string{"url"},
		},
		Platforms: []string{toolreg.AllPlatforms},
		Timeout:   webSummaryTimeout,
		Handler: func(ctx context.Context, inv toolreg.Invocation) (string, error) {
			raw := strings.TrimSpace(inv.Args.String("url"))
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return "", toolreg.InvalidArgument(fmt.Errorf("not a web url: %q", raw))
			}

			page, err := pages.Fetch(ctx, raw, maxPageChars)
			if err != nil {
				return "", toolreg.UpstreamUnavailable(err)
			}
			if strings.TrimSpace(page.Text) == "" {
				return "", toolreg.UpstreamUnavailable(errors.New("the page has no readable text"))
			}

			input := page.Text
			if page.Title != "" {
				input = "Title: " + page.Title + "\n\n" + input
			}
			summary, err := model.Summarize(ctx, webSummaryGuidance, input)
			if err != nil {
				return "", toolreg.UpstreamUnavailable(err)
			}
			return strings.TrimSpace(summary) + "\n\nSource: " + raw, nil
		},
	}
}
