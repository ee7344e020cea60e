package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// EnsureReady checks that the backend answers and that the chat and
// embedding models are available, pulling missing ones when the backend
// can. Progress goes to w.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("model backend is not reachable; start it or check the configured URL")
	}

	for _, model := range uniqueModels(chatModel, embedModel) {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		last := ""
		err := e.PullModel(ctx, model, func(p PullProgress) {
			line := p.Status
			if p.Total > 0 {
				line = fmt.Sprintf("%s %.0f%%", p.Status, float64(p.Completed)/float64(p.Total)*100)
			}
			if line != last {
				fmt.Fprintf(w, "  %s\n", line)
				last = line
			}
		})
		if errors.Is(err, ErrUnsupported) {
			return fmt.Errorf("model %s is not available from the backend and cannot be pulled", model)
		}
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

func uniqueModels(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		dup := false
		for _, o := range out {
			dup = dup || o == n
		}
		if !dup {
			out = append(out, n)
		}
	}
	return out
}
