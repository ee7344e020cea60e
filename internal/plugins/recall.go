package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/TaterTotterson/Tater/internal/engine"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

const maxRecall = 20

func recallMemory(r Recaller) toolreg.Descriptor {
	return toolreg.Descriptor{
		Name:        "recall_memory",
		Description: "Search earlier messages of this conversation for something the user said or asked before.",
		Parameters: &engine.Schema{
			Type: "object",
			Properties: map[string]engine.SchemaProperty{
				"query": {Type: "string", Description: "What to look for"},
				"limit": {Type: "integer", Description: "Maximum number of messages (default 5)"},
			},
			Required: []string{"query"},
		},
		Platforms: []string{toolreg.AllPlatforms},
		Handler: func(ctx context.Context, inv toolreg.Invocation) (string, error) {
			limit := inv.Args.Int("limit", 5)
			if limit <= 0 || limit > maxRecall {
				limit = maxRecall
			}
			hits, err := r.Recall(ctx, inv.Conversation, inv.Args.String("query"), limit)
			if err != nil {
				return "", toolreg.UpstreamUnavailable(err)
			}
			if len(hits) == 0 {
				return "No matching earlier messages.", nil
			}
			var sb strings.Builder
			for i, h := range hits {
				if i > 0 {
					sb.WriteString("\n")
				}
				fmt.Fprintf(&sb, "[%s, %s] %s", h.Turn.Speaker, h.Turn.CreatedAt.Format("2006-01-02 15:04"), h.Turn.Text)
			}
			return sb.String(), nil
		},
	}
}
