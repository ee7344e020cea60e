package engine

import (
	"context"

	"github.com/TaterTotterson/Tater/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	return e.client.Chat(ctx, model, toOllamaMessages(messages), toOllamaSchema(jsonSchema))
}

func (e *OllamaEngine) ChatTools(ctx context.Context, model string, messages []Message, tools []ToolSpec) (Reply, error) {
	ot := make([]ollama.Tool, len(tools))
	for i, t := range tools {
		ot[i] = ollama.Tool{
			Type: "function",
			Function: ollama.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toOllamaSchema(t.Parameters),
			},
		}
	}

	msg, err := e.client.ChatWithTools(ctx, model, toOllamaMessages(messages), ot)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return reply, nil
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return e.client.Embed(ctx, model, text)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

func toOllamaMessages(messages []Message) []ollama.Message {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		om := ollama.Message{Role: m.Role, Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollama.ToolCall{
				Function: ollama.ToolCallFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		msgs[i] = om
	}
	return msgs
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{Type: s.Type, Required: s.Required}
	if s.Properties != nil {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toOllamaProperty(v)
		}
	}
	return out
}

func toOllamaProperty(p SchemaProperty) ollama.SchemaProperty {
	op := ollama.SchemaProperty{Type: p.Type, Description: p.Description, Enum: p.Enum}
	if p.Items != nil {
		items := toOllamaProperty(*p.Items)
		op.Items = &items
	}
	return op
}
