package engine

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by backends that cannot perform an operation,
// such as pulling models from a hosted API.
var ErrUnsupported = errors.New("operation not supported by backend")

// Engine abstracts an inference backend (Ollama or any OpenAI-compatible
// server). The orchestrator, memory and feed summarizer use this interface
// instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// ChatTools sends messages along with the advertised tools and returns
	// the raw reply. Native tool calls, if any, are in Reply.ToolCalls.
	ChatTools(ctx context.Context, model string, messages []Message, tools []ToolSpec) (Reply, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
