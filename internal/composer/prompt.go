package composer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/TaterTotterson/Tater/internal/engine"
	"github.com/TaterTotterson/Tater/internal/memory"
	"github.com/TaterTotterson/Tater/internal/storage"
)

const defaultMaxRecallTokens = 1000

// Composer assembles the message list sent to the model: a system prompt
// (identity, date, tool protocol, recalled context), the recency window, and
// the new user message.
type Composer struct {
	MaxRecallTokens int
	now             func() time.Time
}

// New creates a Composer with the given token budget for recalled context.
// If maxRecallTokens <= 0, the default (1000) is used.
func New(maxRecallTokens int) *Composer {
	if maxRecallTokens <= 0 {
		maxRecallTokens = defaultMaxRecallTokens
	}
	return &Composer{MaxRecallTokens: maxRecallTokens, now: time.Now}
}

// Input is everything one prompt is built from.
type Input struct {
	AssistantName string
	Persona       string
	Platform      string
	UserName      string
	Tools         []engine.ToolSpec
	Memory        memory.Context
	UserMessage   string
}

// Compose builds the transcript for the first decision round of a run.
func (c *Composer) Compose(in Input) []engine.Message {
	msgs := make([]engine.Message, 0, len(in.Memory.Recent)+2)
	msgs = append(msgs, engine.Message{Role: "system", Content: c.systemPrompt(in)})
	for _, t := range in.Memory.Recent {
		msgs = append(msgs, HistoryMessage(t))
	}
	msgs = append(msgs, engine.Message{Role: "user", Content: in.UserMessage})
	return msgs
}

func (c *Composer) systemPrompt(in Input) string {
	var sb strings.Builder

	name := in.AssistantName
	if name == "" {
		name = "Tater"
	}
	fmt.Fprintf(&sb, "You are %s, a helpful assistant", name)
	if in.Platform != "" {
		fmt.Fprintf(&sb, " chatting on %s", in.Platform)
	}
	sb.WriteString(".\n")
	if in.UserName != "" {
		fmt.Fprintf(&sb, "You are talking with %s.\n", in.UserName)
	}
	fmt.Fprintf(&sb, "Current date and time: %s.\n", c.now().Format("Monday, January 2, 2006 15:04 MST"))
	if in.Persona != "" {
		sb.WriteString("\n")
		sb.WriteString(in.Persona)
		sb.WriteString("\n")
	}

	if len(in.Tools) > 0 {
		sb.WriteString("\n[Tools]\n")
		sb.WriteString("You can call one tool at a time. To call a tool, reply with only a JSON object of the form " +
			`{"function": "<tool name>", "arguments": {...}}` + " and nothing else. " +
			"After the tool result arrives, either call another tool or answer the user in plain text. " +
			"If no tool is needed, answer in plain text.\n")
		for _, t := range in.Tools {
			sb.WriteString(formatTool(t))
		}
	}

	if recalled := c.recallSection(in.Memory.Recalled); recalled != "" {
		sb.WriteString("\n[Relevant Earlier Messages]\n")
		sb.WriteString(recalled)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func formatTool(t engine.ToolSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s: %s", t.Name, t.Description)
	if t.Parameters != nil && len(t.Parameters.Properties) > 0 {
		args, _ := json.Marshal(t.Parameters.Properties)
		fmt.Fprintf(&sb, " Arguments: %s", args)
		if len(t.Parameters.Required) > 0 {
			fmt.Fprintf(&sb, " Required: %s.", strings.Join(t.Parameters.Required, ", "))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// recallSection renders recalled turns best-first, dropping any that would
// exceed the token budget.
func (c *Composer) recallSection(recalled []memory.Recalled) string {
	remaining := c.MaxRecallTokens
	var sb strings.Builder
	for _, r := range recalled {
		entry := fmt.Sprintf("(%s, %s) %s: %s\n",
			r.Turn.CreatedAt.Format("2006-01-02 15:04"), fmt.Sprintf("%.2f", r.Score), r.Turn.Speaker, r.Turn.Text)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		remaining -= tokens
	}
	return sb.String()
}

// HistoryMessage renders a stored turn from an earlier run. Tool exchanges
// are replayed in the text protocol so any backend accepts them.
func HistoryMessage(t storage.Turn) engine.Message {
	switch t.Speaker {
	case storage.SpeakerUser:
		return engine.Message{Role: "user", Content: t.Text}
	case storage.SpeakerTool:
		return engine.Message{Role: "user", Content: ToolResultText(t.ToolName, t.Text)}
	default:
		if t.ToolName != "" {
			return engine.Message{Role: "assistant", Content: TextCall(t.ToolName, t.ToolArgs)}
		}
		return engine.Message{Role: "assistant", Content: t.Text}
	}
}

// TextCall renders a tool call in the JSON-in-text encoding.
func TextCall(name, argsJSON string) string {
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	return fmt.Sprintf(`{"function": %q, "arguments": %s}`, name, argsJSON)
}

// ToolResultText labels a tool result for text-protocol replay.
func ToolResultText(name, result string) string {
	return fmt.Sprintf("[Result of tool %s]\n%s", name, result)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
