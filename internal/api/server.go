package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/TaterTotterson/Tater/internal/feeds"
	"github.com/TaterTotterson/Tater/internal/orchestrator"
	"github.com/TaterTotterson/Tater/internal/storage"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Chatter runs one conversational turn.
type Chatter interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// FeedManager manages watched feeds.
type FeedManager interface {
	Watch(ctx context.Context, req feeds.WatchRequest) (storage.Feed, error)
	Unwatch(ctx context.Context, scope, url string) error
	List(ctx context.Context, scope string) ([]storage.Feed, error)
	PollNow()
}

// ToolSettings reads and switches tool enable flags.
type ToolSettings interface {
	ToolEnabled(ctx context.Context, name string) bool
	SetToolEnabled(ctx context.Context, name string, enabled bool) error
}

// Conversations exposes stored transcripts.
type Conversations interface {
	Recent(ctx context.Context, conversation string, limit int) ([]storage.Turn, error)
	Wipe(ctx context.Context, conversation string) (int64, error)
}

// Deps holds everything the HTTP surface serves.
type Deps struct {
	Chat          Chatter
	Feeds         FeedManager
	Tools         *toolreg.Registry
	Settings      ToolSettings
	Conversations Conversations
	// MCP, when set, is also served over streamable HTTP at /mcp.
	MCP     *server.MCPServer
	Token   string
	Version string
}

// NewHandler returns the Tater REST API. Everything except /health requires
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLog)

	r.Get("/health", handleHealth(deps.Version))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps))

		r.Get("/feeds", handleListFeeds(deps))
		r.Post("/feeds", handleWatchFeed(deps))
		r.Delete("/feeds", handleUnwatchFeed(deps))
		r.Post("/feeds/poll", handlePollFeeds(deps))

		r.Get("/tools", handleListTools(deps))
		r.Put("/tools/{name}/enabled", handleSetToolEnabled(deps))

		r.Get("/conversations/{key}/turns", handleConversationTurns(deps))
		r.Delete("/conversations/{key}", handleWipeConversation(deps))

		if deps.MCP != nil {
			r.Handle("/mcp", server.NewStreamableHTTPServer(deps.MCP))
		}
	})

	return r
}

func handleHealth(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
