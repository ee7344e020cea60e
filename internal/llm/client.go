package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/TaterTotterson/Tater/internal/engine"
)

// CorrectiveInstruction is appended as a user message after a malformed reply.
const CorrectiveInstruction = "Your previous reply could not be understood. " +
	"Either answer the user in plain text, or call exactly one tool by replying with only " +
	`{"function": "<tool name>", "arguments": {...}} and nothing else.`

// Request is one decision round: the transcript so far plus the tools the
// model may call on this platform.
type Request struct {
	Messages []engine.Message
	Tools    []engine.ToolSpec
	Platform string
}

// Client asks the model for the next step of a run and classifies the reply.
type Client struct {
	eng     engine.Engine
	model   string
	timeout time.Duration
	logger  *slog.Logger

	// textOnly is set once the backend rejects native tool schemas; tools
	// are then requested only through the JSON-in-text protocol.
	textOnly atomic.Bool
}

// New creates a Client for the given chat model. A zero timeout disables the
// per-request deadline.
func New(eng engine.Engine, model string, timeout time.Duration) *Client {
	return &Client{
		eng:     eng,
		model:   model,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// Decide sends the request and returns the classified reply. A non-nil error
// means the backend itself failed; protocol problems come back as *Malformed.
func (c *Client) Decide(ctx context.Context, req Request) (Decision, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tools := req.Tools
	if c.textOnly.Load() {
		tools = nil
	}

	reply, err := c.eng.ChatTools(ctx, c.model, req.Messages, tools)
	if err != nil && len(tools) > 0 && toolsUnsupported(err) {
		c.logger.Warn("model rejected native tools, falling back to text protocol", "model", c.model)
		c.textOnly.Store(true)
		reply, err = c.eng.ChatTools(ctx, c.model, req.Messages, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", c.model, err)
	}

	d := Parse(reply)
	if tc, ok := d.(*ToolCall); ok && tc.Ignored > 0 {
		c.logger.Debug("ignoring extra tool calls in reply", "tool", tc.Name, "ignored", tc.Ignored, "platform", req.Platform)
	}
	return d, nil
}

// Summarize runs a single plain completion, used for feed items and web pages.
func (c *Client) Summarize(ctx context.Context, instruction, text string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out, err := c.eng.Chat(ctx, c.model, []engine.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: text},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", c.model, err)
	}
	return strings.TrimSpace(out), nil
}

func toolsUnsupported(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not support tools")
}
