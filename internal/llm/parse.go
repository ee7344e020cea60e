package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/TaterTotterson/Tater/internal/engine"
)

// textCall is the JSON-in-text tool call encoding:
// {"function": "<name>", "arguments": {...}}
type textCall struct {
	Function  string          `json:"function"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Parse classifies a raw engine reply. Native tool calls win over content;
// only the first call is kept.
func Parse(reply engine.Reply) Decision {
	content := strings.TrimSpace(reply.Content)

	if len(reply.ToolCalls) > 0 {
		tc := reply.ToolCalls[0]
		if strings.TrimSpace(tc.Name) == "" {
			return malformed(content, "native tool call without a name", nil)
		}
		args, err := decodeArguments(tc.Arguments)
		if err != nil {
			return malformed(string(tc.Arguments), "tool call arguments are not a JSON object", err)
		}
		return &ToolCall{
			ID:        tc.ID,
			Name:      strings.TrimSpace(tc.Name),
			Arguments: args,
			Content:   content,
			Native:    true,
			Ignored:   len(reply.ToolCalls) - 1,
		}
	}

	if content == "" {
		return malformed("", "empty reply", nil)
	}

	fenced, hasFence := fencedJSON(content)
	candidate := fenced
	if !hasFence {
		candidate = outermostObject(content)
	}
	structured := hasFence || strings.HasPrefix(content, "{")

	if candidate != "" {
		var tc textCall
		err := json.Unmarshal([]byte(candidate), &tc)
		name := tc.Function
		if name == "" {
			name = tc.Name
		}
		switch {
		case err == nil && strings.TrimSpace(name) != "":
			args, aerr := decodeArguments(tc.Arguments)
			if aerr != nil {
				return malformed(content, "tool call arguments are not a JSON object", aerr)
			}
			return &ToolCall{Name: strings.TrimSpace(name), Arguments: args}
		case structured && err != nil:
			return malformed(content, "undecodable tool call", err)
		case structured:
			return malformed(content, `structured reply without a "function" field`, nil)
		}
	} else if structured {
		return malformed(content, "unterminated JSON object", nil)
	}

	return &FinalAnswer{Text: content}
}

func malformed(raw, reason string, err error) *Malformed {
	return &Malformed{Raw: raw, Err: &ProtocolError{Reason: reason, Err: err}}
}

// decodeArguments accepts an object, null/absent, or a JSON string that
// itself holds an object (some models double-encode).
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, err
		}
		if strings.TrimSpace(inner) == "" {
			return map[string]any{}, nil
		}
		trimmed = inner
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, errors.New("arguments decoded to null")
	}
	return args, nil
}

// fencedJSON returns the body of the first ```json (or bare ```) fence whose
// body is an object.
func fencedJSON(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	lang := strings.TrimSpace(rest[:nl])
	if lang != "" && !strings.EqualFold(lang, "json") {
		return "", false
	}
	body := rest[nl+1:]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	body = strings.TrimSpace(body[:end])
	if !strings.HasPrefix(body, "{") {
		return "", false
	}
	return outermostObject(body), true
}

// outermostObject returns the text from the first '{' to the last '}'.
func outermostObject(s string) string {
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j <= i {
		return ""
	}
	return s[i : j+1]
}
