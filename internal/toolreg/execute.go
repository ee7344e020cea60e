package toolreg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

type outcome struct {
	text string
	err  error
}

// Execute runs d's handler under a deadline. The descriptor's own Timeout
// wins over def; a zero budget means no deadline. A handler that ignores its
// context is abandoned at the deadline and its late result discarded. Every
// failure is returned as *Error with Tool set.
func Execute(ctx context.Context, d Descriptor, inv Invocation, def time.Duration) (string, error) {
	budget := def
	if d.Timeout > 0 {
		budget = d.Timeout
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("tool handler panicked", "tool", d.Name, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		text, err := d.Handler(ctx, inv)
		done <- outcome{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", classify(ctx, d.Name, res.err)
		}
		return res.text, nil
	case <-ctx.Done():
		return "", classify(ctx, d.Name, ctx.Err())
	}
}

func classify(ctx context.Context, tool string, err error) error {
	var te *Error
	if errors.As(err, &te) {
		out := *te
		out.Tool = tool
		return &out
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Tool: tool, Err: err}
	}
	return &Error{Kind: KindUpstreamUnavailable, Tool: tool, Err: err}
}
