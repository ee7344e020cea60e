package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

type turnView struct {
	ID        int64     `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	ToolName  string    `json:"tool_name,omitempty"`
	ToolArgs  string    `json:"tool_args,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// conversationKey returns the decoded {key} path parameter. Keys look like
// "discord:#news" and usually arrive escaped.
func conversationKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid conversation key")
		return "", false
	}
	return key, true
}

func handleConversationTurns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := conversationKey(w, r)
		if !ok {
			return
		}
		limit := parseIntParam(r, "limit", 20, 500)

		turns, err := deps.Conversations.Recent(r.Context(), key, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading conversation: %v", err)
			return
		}
		views := make([]turnView, 0, len(turns))
		for _, t := range turns {
			views = append(views, turnView{
				ID:        t.ID,
				Speaker:   t.Speaker,
				Text:      t.Text,
				ToolName:  t.ToolName,
				ToolArgs:  t.ToolArgs,
				CreatedAt: t.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleWipeConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := conversationKey(w, r)
		if !ok {
			return
		}
		n, err := deps.Conversations.Wipe(r.Context(), key)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "wiping conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversation": key, "deleted": n})
	}
}
