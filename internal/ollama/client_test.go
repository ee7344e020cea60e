package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) string {
	var r tagsResponse
	for _, n := range names {
		r.Models = append(r.Models, struct {
			Name string `json:"name"`
		}{Name: n})
	}
	b, _ := json.Marshal(r)
	return string(b)
}

// serve starts a server answering path with handler and 404 elsewhere.
func serve(t *testing.T, path string, handler http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func reply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, body) }
}

func TestIsRunning(t *testing.T) {
	c := serve(t, "/api/tags", reply(tagsJSON("llama3.1:latest")))
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() on a closed server = true, want false")
	}
}

func TestListModels(t *testing.T) {
	c := serve(t, "/api/tags", reply(tagsJSON("llama3.1:latest", "nomic-embed-text:latest")))

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if strings.Join(models, ",") != "llama3.1:latest,nomic-embed-text:latest" {
		t.Errorf("models = %v", models)
	}
}

func TestHasModel(t *testing.T) {
	c := serve(t, "/api/tags", reply(tagsJSON("llama3.1:latest", "qwen2.5:7b")))

	tests := map[string]bool{
		"llama3.1":        true,
		"llama3.1:latest": true,
		"qwen2.5":         true,
		"qwen2.5:14b":     false,
		"llama3":          false,
	}
	for name, want := range tests {
		if got := c.HasModel(context.Background(), name); got != want {
			t.Errorf("HasModel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestChat_PlainText(t *testing.T) {
	var captured chatRequest
	c := serve(t, "/api/chat", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		io.WriteString(w, `{"message":{"role":"assistant","content":"Hello from Tater"}}`)
	})

	result, err := c.Chat(context.Background(), "llama3.1", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != "Hello from Tater" {
		t.Errorf("result = %q", result)
	}
	if captured.Stream || captured.Format != nil || len(captured.Tools) != 0 {
		t.Errorf("request = %+v, want non-streaming plain chat", captured)
	}
}

func TestChat_JSONSchemaFormat(t *testing.T) {
	var format any
	c := serve(t, "/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		format = req.Format
		io.WriteString(w, `{"message":{"role":"assistant","content":"{\"summary\":\"short\"}"}}`)
	})

	schema := &Schema{
		Type:       "object",
		Properties: map[string]SchemaProperty{"summary": {Type: "string"}},
		Required:   []string{"summary"},
	}
	if _, err := c.Chat(context.Background(), "llama3.1", []Message{{Role: "user", Content: "x"}}, schema); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	m, ok := format.(map[string]any)
	if !ok || m["type"] != "object" {
		t.Errorf("format = %#v, want the schema object", format)
	}
}

func TestEmbed(t *testing.T) {
	c := serve(t, "/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if in["model"] != "nomic-embed-text" || in["input"] != "hello world" {
			t.Errorf("embed request = %v", in)
		}
		io.WriteString(w, `{"embeddings":[[0.1,0.2,0.3]]}`)
	})

	vec, err := c.Embed(context.Background(), "nomic-embed-text", "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbed_Empty(t *testing.T) {
	c := serve(t, "/api/embed", reply(`{"embeddings":[]}`))
	if _, err := c.Embed(context.Background(), "m", "x"); err == nil {
		t.Fatal("expected error for empty embeddings")
	}
}

func TestPullModel_Progress(t *testing.T) {
	c := serve(t, "/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Name   string `json:"name"`
			Stream bool   `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		if in.Name != "llama3.1" || !in.Stream {
			t.Errorf("pull request = %+v", in)
		}
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	})

	var statuses []string
	err := c.PullModel(context.Background(), "llama3.1", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(statuses) != 3 || statuses[2] != "success" {
		t.Errorf("progress = %v", statuses)
	}
}

func TestChatWithTools_NativeCall(t *testing.T) {
	var captured chatRequest
	c := serve(t, "/api/chat", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		io.WriteString(w, `{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"watch_feed","arguments":{"feed_url":"https://example.com/rss"}}}]}}`)
	})

	tools := []Tool{{
		Type: "function",
		Function: ToolFunction{
			Name:        "watch_feed",
			Description: "Watch an RSS feed",
			Parameters: &Schema{
				Type:       "object",
				Properties: map[string]SchemaProperty{"feed_url": {Type: "string"}},
				Required:   []string{"feed_url"},
			},
		},
	}}
	msg, err := c.ChatWithTools(context.Background(), "llama3.1", []Message{
		{Role: "user", Content: "watch example.com"},
	}, tools)
	if err != nil {
		t.Fatalf("ChatWithTools: %v", err)
	}

	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "watch_feed" {
		t.Errorf("request tools = %+v", captured.Tools)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(msg.ToolCalls))
	}
	var args map[string]string
	if err := json.Unmarshal(msg.ToolCalls[0].Function.Arguments, &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["feed_url"] != "https://example.com/rss" {
		t.Errorf("feed_url = %q", args["feed_url"])
	}
}

func TestChat_StatusError(t *testing.T) {
	c := serve(t, "/api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"registry.ollama.ai/library/gemma:2b does not support tools"}`)
	})

	_, err := c.ChatWithTools(context.Background(), "gemma:2b", []Message{{Role: "user", Content: "hi"}}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadRequest || !strings.Contains(se.Body, "does not support tools") {
		t.Errorf("StatusError = %+v", se)
	}
	if !strings.Contains(err.Error(), "does not support tools") {
		t.Errorf("error text %q should carry the server message", err)
	}
}
