package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/TaterTotterson/Tater/internal/orchestrator"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

type chatRequest struct {
	Platform string `json:"platform"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Message  string `json:"message"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		run := orchestrator.Request{
			Platform: orDefault(req.Platform, toolreg.PlatformWebUI),
			Channel:  orDefault(req.Channel, "default"),
			User:     orDefault(req.User, "user"),
			Message:  req.Message,
		}
		res, err := deps.Chat.Run(r.Context(), run)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("chat request abandoned", "conversation", run.Conversation(), "error", err)
				httpError(w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
			return
		}
		if res.ToolCalls == nil {
			res.ToolCalls = []orchestrator.ToolRun{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
