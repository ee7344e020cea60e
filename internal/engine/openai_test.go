package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIEngine_ChatTools_NativeCall(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"watch_feed","arguments":"{\"url\":\"https://example.com/rss\"}"}}]}}]}`)
	}))
	defer srv.Close()

	e := NewOpenAIEngine(srv.URL+"/v1", "sk-test")
	tools := []ToolSpec{{
		Name:        "watch_feed",
		Description: "Watch a feed",
		Parameters: &Schema{
			Type:       "object",
			Properties: map[string]SchemaProperty{"url": {Type: "string"}},
			Required:   []string{"url"},
		},
	}}
	reply, err := e.ChatTools(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "watch it"}}, tools)
	if err != nil {
		t.Fatalf("ChatTools: %v", err)
	}
	if len(reply.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(reply.ToolCalls))
	}
	tc := reply.ToolCalls[0]
	if tc.Name != "watch_feed" || tc.ID != "call_1" {
		t.Errorf("tool call = %+v", tc)
	}
	var args map[string]string
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["url"] != "https://example.com/rss" {
		t.Errorf("url = %q", args["url"])
	}

	rawTools, ok := got["tools"].([]any)
	if !ok || len(rawTools) != 1 {
		t.Fatalf("request tools = %v", got["tools"])
	}
}

func TestOpenAIEngine_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	e := NewOpenAIEngine(srv.URL+"/v1", "sk-test")
	vec, err := e.Embed(context.Background(), "text-embedding-3-small", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got %d floats, want 3", len(vec))
	}
}

func TestOpenAIEngine_HasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"gpt-4o-mini","object":"model"}]}`)
	}))
	defer srv.Close()

	e := NewOpenAIEngine(srv.URL+"/v1", "sk-test")
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	if !e.HasModel(context.Background(), "gpt-4o-mini") {
		t.Error("HasModel(gpt-4o-mini) = false, want true")
	}
	if e.HasModel(context.Background(), "gpt-5") {
		t.Error("HasModel(gpt-5) = true, want false")
	}
}

func TestOpenAIEngine_PullUnsupported(t *testing.T) {
	e := NewOpenAIEngine("http://localhost:1/v1", "sk-test")
	err := e.PullModel(context.Background(), "gpt-4o-mini", nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
