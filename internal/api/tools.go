package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/TaterTotterson/Tater/internal/toolreg"
)

type toolView struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Platforms   []string `json:"platforms"`
	Enabled     bool     `json:"enabled"`
}

func handleListTools(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var list []toolreg.Descriptor
		if platform := r.URL.Query().Get("platform"); platform != "" {
			list = deps.Tools.ForPlatform(platform)
		} else {
			for _, name := range deps.Tools.Names() {
				d, _ := deps.Tools.Get(name)
				list = append(list, d)
			}
		}

		views := make([]toolView, 0, len(list))
		for _, d := range list {
			views = append(views, toolView{
				Name:        d.Name,
				Description: d.Description,
				Platforms:   d.Platforms,
				Enabled:     deps.Settings.ToolEnabled(r.Context(), d.Name),
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleSetToolEnabled(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := url.PathUnescape(chi.URLParam(r, "name"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid tool name")
			return
		}
		if _, ok := deps.Tools.Get(name); !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown tool %q", name)
			return
		}

		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Enabled == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "enabled is required")
			return
		}
		if err := deps.Settings.SetToolEnabled(r.Context(), name, *body.Enabled); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving tool flag: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": *body.Enabled})
	}
}
