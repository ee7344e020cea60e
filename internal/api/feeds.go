package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/TaterTotterson/Tater/internal/feeds"
	"github.com/TaterTotterson/Tater/internal/storage"
)

type feedView struct {
	Scope     string    `json:"scope"`
	URL       string    `json:"url"`
	Category  string    `json:"category,omitempty"`
	Title     string    `json:"title,omitempty"`
	Sinks     []string  `json:"sinks,omitempty"`
	LastPoll  time.Time `json:"last_poll,omitzero"`
	NextPoll  time.Time `json:"next_poll,omitzero"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

func toFeedView(f storage.Feed) feedView {
	return feedView{
		Scope:     f.Scope,
		URL:       f.URL,
		Category:  f.Category,
		Title:     f.Title,
		Sinks:     f.Sinks,
		LastPoll:  f.LastPoll,
		NextPoll:  f.NextPoll,
		Failures:  f.Failures,
		LastError: f.LastError,
	}
}

type watchRequest struct {
	URL      string   `json:"url"`
	Category string   `json:"category"`
	Scope    string   `json:"scope"`
	Sinks    []string `json:"sinks"`
}

func handleListFeeds(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Feeds.List(r.Context(), r.URL.Query().Get("scope"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing feeds: %v", err)
			return
		}
		views := make([]feedView, 0, len(list))
		for _, f := range list {
			views = append(views, toFeedView(f))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleWatchFeed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req watchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Scope) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "scope is required")
			return
		}

		f, err := deps.Feeds.Watch(r.Context(), feeds.WatchRequest{
			Scope:    req.Scope,
			URL:      req.URL,
			Category: req.Category,
			Sinks:    req.Sinks,
		})
		if err != nil {
			var fetchErr *feeds.FetchError
			switch {
			case errors.Is(err, feeds.ErrInvalidURL):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			case errors.Is(err, feeds.ErrFeedExists):
				httpError(w, http.StatusConflict, "conflict", "%s is already watched in %s", req.URL, req.Scope)
			case errors.As(err, &fetchErr):
				httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "watching feed: %v", err)
			}
			return
		}
		writeJSON(w, http.StatusCreated, toFeedView(f))
	}
}

func handleUnwatchFeed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		feedURL, scope := q.Get("url"), q.Get("scope")
		if feedURL == "" || scope == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url and scope are required")
			return
		}
		if err := deps.Feeds.Unwatch(r.Context(), scope, feedURL); err != nil {
			if errors.Is(err, feeds.ErrFeedNotWatched) {
				httpError(w, http.StatusNotFound, "not_found", "%s is not watched in %s", feedURL, scope)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "unwatching feed: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePollFeeds(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Feeds.PollNow()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "polling"})
	}
}
