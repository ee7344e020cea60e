package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TaterTotterson/Tater/internal/feeds"
	"github.com/TaterTotterson/Tater/internal/orchestrator"
	"github.com/TaterTotterson/Tater/internal/storage"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

const testToken = "test-token-12345"

// --- fakes ---

type fakeChat struct {
	mu   sync.Mutex
	reqs []orchestrator.Request
	err  error
}

func (c *fakeChat) Run(_ context.Context, req orchestrator.Request) (orchestrator.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return orchestrator.Result{}, c.err
	}
	return orchestrator.Result{Reply: "hi " + req.User, Iterations: 1}, nil
}

type fakeFeeds struct {
	mu       sync.Mutex
	feeds    []storage.Feed
	watchErr error
	polled   int
}

func (f *fakeFeeds) Watch(_ context.Context, req feeds.WatchRequest) (storage.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return storage.Feed{}, f.watchErr
	}
	for _, existing := range f.feeds {
		if existing.Scope == req.Scope && existing.URL == req.URL {
			return storage.Feed{}, feeds.ErrFeedExists
		}
	}
	feed := storage.Feed{Scope: req.Scope, URL: req.URL, Category: req.Category, Title: "Example"}
	f.feeds = append(f.feeds, feed)
	return feed, nil
}

func (f *fakeFeeds) Unwatch(_ context.Context, scope, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.feeds {
		if existing.Scope == scope && existing.URL == url {
			f.feeds = append(f.feeds[:i], f.feeds[i+1:]...)
			return nil
		}
	}
	return feeds.ErrFeedNotWatched
}

func (f *fakeFeeds) List(_ context.Context, scope string) ([]storage.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Feed
	for _, existing := range f.feeds {
		if scope == "" || existing.Scope == scope {
			out = append(out, existing)
		}
	}
	return out, nil
}

func (f *fakeFeeds) PollNow() {
	f.mu.Lock()
	f.polled++
	f.mu.Unlock()
}

type fakeToolSettings struct {
	mu       sync.Mutex
	disabled map[string]bool
}

func (s *fakeToolSettings) ToolEnabled(_ context.Context, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled[name]
}

func (s *fakeToolSettings) SetToolEnabled(_ context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled == nil {
		s.disabled = make(map[string]bool)
	}
	s.disabled[name] = !enabled
	return nil
}

type fakeConversations struct {
	turns map[string][]storage.Turn
	wiped []string
}

func (c *fakeConversations) Recent(_ context.Context, conv string, limit int) ([]storage.Turn, error) {
	turns := c.turns[conv]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (c *fakeConversations) Wipe(_ context.Context, conv string) (int64, error) {
	n := int64(len(c.turns[conv]))
	delete(c.turns, conv)
	c.wiped = append(c.wiped, conv)
	return n, nil
}

// --- helpers ---

type testAPI struct {
	handler  http.Handler
	chat     *fakeChat
	feeds    *fakeFeeds
	settings *fakeToolSettings
	convs    *fakeConversations
	tools    *toolreg.Registry
}

func echoDescriptor(name string, platforms ...string) toolreg.Descriptor {
	return toolreg.Descriptor{
		Name:        name,
		Description: "echoes text",
		Platforms:   platforms,
		Handler: func(_ context.Context, inv toolreg.Invocation) (string, error) {
			return "echo: " + inv.Args.String("text"), nil
		},
	}
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	reg := toolreg.New()
	reg.MustRegister(echoDescriptor("echo", toolreg.AllPlatforms))
	reg.MustRegister(echoDescriptor("discord_only", toolreg.PlatformDiscord))

	ta := &testAPI{
		chat:     &fakeChat{},
		feeds:    &fakeFeeds{},
		settings: &fakeToolSettings{},
		convs: &fakeConversations{turns: map[string][]storage.Turn{
			"discord:#news": {
				{ID: 1, Speaker: "alice", Text: "first", CreatedAt: time.Now()},
				{ID: 2, Speaker: "assistant", Text: "second", CreatedAt: time.Now()},
			},
		}},
		tools: reg,
	}
	ta.handler = NewHandler(Deps{
		Chat:          ta.chat,
		Feeds:         ta.feeds,
		Tools:         reg,
		Settings:      ta.settings,
		Conversations: ta.convs,
		Token:         testToken,
		Version:       "test",
	})
	return ta
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (ta *testAPI) do(method, url, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ta.handler.ServeHTTP(w, authReq(method, url, body, testToken))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

// --- tests ---

func TestHealth_NoAuth(t *testing.T) {
	ta := newTestAPI(t)
	w := httptest.NewRecorder()
	ta.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode[map[string]string](t, w)
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestAuth_Required(t *testing.T) {
	ta := newTestAPI(t)
	for _, token := range []string{"", "wrong-token"} {
		w := httptest.NewRecorder()
		ta.handler.ServeHTTP(w, authReq(http.MethodPost, "/chat", `{"message":"hi"}`, token))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, w.Code)
		}
	}
	if len(ta.chat.reqs) != 0 {
		t.Error("unauthenticated request reached the orchestrator")
	}
}

func TestChat_DefaultsAndReply(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(http.MethodPost, "/chat", `{"user":"bob","message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	res := decode[orchestrator.Result](t, w)
	if res.Reply != "hi bob" {
		t.Errorf("reply = %q", res.Reply)
	}
	if res.ToolCalls == nil {
		t.Error("tool_calls should be an empty list, not null")
	}

	got := ta.chat.reqs[0]
	if got.Platform != toolreg.PlatformWebUI || got.Channel != "default" {
		t.Errorf("request = %+v, want webui/default", got)
	}
}

func TestChat_Validation(t *testing.T) {
	ta := newTestAPI(t)
	for _, body := range []string{`{"message":"  "}`, `not json`} {
		w := ta.do(http.MethodPost, "/chat", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestChat_Cancelled(t *testing.T) {
	ta := newTestAPI(t)
	ta.chat.err = context.Canceled
	w := ta.do(http.MethodPost, "/chat", `{"message":"hi"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestFeeds_WatchListUnwatch(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodPost, "/feeds", `{"url":"https://example.com/rss","category":"news","scope":"discord:#news"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("watch status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[feedView](t, w)
	if created.Title != "Example" || created.Category != "news" {
		t.Errorf("created = %+v", created)
	}

	w = ta.do(http.MethodPost, "/feeds", `{"url":"https://example.com/rss","scope":"discord:#news"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate watch status = %d, want 409", w.Code)
	}

	w = ta.do(http.MethodGet, "/feeds?scope=discord:%23news", "")
	if list := decode[[]feedView](t, w); len(list) != 1 {
		t.Fatalf("list = %+v, want one feed", list)
	}
	w = ta.do(http.MethodGet, "/feeds?scope=irc:%23other", "")
	if list := decode[[]feedView](t, w); len(list) != 0 {
		t.Errorf("other scope list = %+v, want empty", list)
	}

	w = ta.do(http.MethodDelete, "/feeds?url=https://example.com/rss&scope=discord:%23news", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("unwatch status = %d", w.Code)
	}
	w = ta.do(http.MethodDelete, "/feeds?url=https://example.com/rss&scope=discord:%23news", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second unwatch status = %d, want 404", w.Code)
	}
}

func TestFeeds_WatchErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"missing scope", nil, `{"url":"https://example.com/rss"}`, http.StatusBadRequest},
		{"invalid url", fmt.Errorf("%w: %q", feeds.ErrInvalidURL, "ftp://x"), `{"url":"ftp://x","scope":"webui:default"}`, http.StatusBadRequest},
		{"unreachable", &feeds.FetchError{URL: "https://down.example", StatusCode: 404}, `{"url":"https://down.example","scope":"webui:default"}`, http.StatusBadGateway},
		{"storage", errors.New("disk full"), `{"url":"https://example.com","scope":"webui:default"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAPI(t)
			ta.feeds.watchErr = tt.err
			w := ta.do(http.MethodPost, "/feeds", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestFeeds_Poll(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(http.MethodPost, "/feeds/poll", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if ta.feeds.polled != 1 {
		t.Errorf("PollNow called %d times, want 1", ta.feeds.polled)
	}
}

func TestTools_ListAndToggle(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodGet, "/tools", "")
	if all := decode[[]toolView](t, w); len(all) != 2 {
		t.Fatalf("all tools = %+v, want 2", all)
	}

	w = ta.do(http.MethodGet, "/tools?platform=webui", "")
	webui := decode[[]toolView](t, w)
	if len(webui) != 1 || webui[0].Name != "echo" || !webui[0].Enabled {
		t.Fatalf("webui tools = %+v", webui)
	}

	w = ta.do(http.MethodPut, "/tools/echo/enabled", `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, body = %s", w.Code, w.Body.String())
	}
	w = ta.do(http.MethodGet, "/tools?platform=webui", "")
	if webui := decode[[]toolView](t, w); webui[0].Enabled {
		t.Error("echo still reported enabled after disabling")
	}
}

func TestTools_ToggleErrors(t *testing.T) {
	ta := newTestAPI(t)
	if w := ta.do(http.MethodPut, "/tools/nope/enabled", `{"enabled":true}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown tool status = %d, want 404", w.Code)
	}
	if w := ta.do(http.MethodPut, "/tools/echo/enabled", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing flag status = %d, want 400", w.Code)
	}
}

func TestConversations_TurnsAndWipe(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodGet, "/conversations/discord:%23news/turns?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	turns := decode[[]turnView](t, w)
	if len(turns) != 1 || turns[0].Text != "second" {
		t.Errorf("turns = %+v, want only the newest", turns)
	}

	w = ta.do(http.MethodDelete, "/conversations/discord:%23news", "")
	if w.Code != http.StatusOK {
		t.Fatalf("wipe status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["deleted"] != float64(2) {
		t.Errorf("deleted = %v, want 2", body["deleted"])
	}
	if len(ta.convs.wiped) != 1 || ta.convs.wiped[0] != "discord:#news" {
		t.Errorf("wiped = %v", ta.convs.wiped)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=0", 20},
		{"limit=-3", 20},
		{"limit=abc", 20},
		{"limit=9999", 500},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 500); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
