package llm

import (
	"encoding/json"
	"fmt"
)

// Decision is the classified outcome of one model reply. It is one of
// *ToolCall, *FinalAnswer or *Malformed.
type Decision interface {
	decision()
}

// ToolCall asks the orchestrator to run a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	// Content is any prose the model sent alongside the call.
	Content string
	// Native is set when the call came through the backend's tool-call
	// channel rather than the JSON-in-text encoding.
	Native bool
	// Ignored counts further calls in the same reply that were dropped.
	Ignored int
}

// FinalAnswer is a user-facing reply that ends the run.
type FinalAnswer struct {
	Text string
}

// Malformed is a reply that looked like structured output but could not be
// decoded, or was empty.
type Malformed struct {
	Raw string
	Err *ProtocolError
}

func (*ToolCall) decision()    {}
func (*FinalAnswer) decision() {}
func (*Malformed) decision()   {}

// ArgumentsJSON renders the call arguments as a JSON object.
func (c *ToolCall) ArgumentsJSON() string {
	if len(c.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(c.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ProtocolError reports model output that violates the tool-call protocol.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model protocol error: %s: %v", e.Reason, e.Err)
	}
	return "model protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }
