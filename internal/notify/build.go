package notify

import (
	"fmt"
	"net/http"

	"github.com/TaterTotterson/Tater/internal/config"
)

// Build creates the routes for the configured sinks. maxLen bounds chat
// messages for sinks that split announcements.
func Build(cfg config.NotifyConfig, client *http.Client) ([]Route, error) {
	if client == nil {
		client = &http.Client{}
	}
	routes := make([]Route, 0, len(cfg.Sinks))
	for _, sc := range cfg.Sinks {
		s, err := buildSink(sc, cfg.MaxMessageLength, client)
		if err != nil {
			return nil, fmt.Errorf("notify sink %q: %w", sc.Name, err)
		}
		scopes := sc.Scopes
		if len(scopes) == 0 {
			scopes = []string{AllScopes}
		}
		routes = append(routes, Route{Sink: s, Scopes: scopes})
	}
	return routes, nil
}

func buildSink(sc config.SinkConfig, maxLen int, client *http.Client) (Sink, error) {
	switch sc.Type {
	case "webhook":
		if sc.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		return NewWebhook(sc.Name, sc.URL, sc.Token, client), nil
	case "ntfy":
		if sc.Topic == "" {
			return nil, fmt.Errorf("topic is required")
		}
		return NewNtfy(sc.Name, NtfyOptions{
			Server:   sc.URL,
			Topic:    sc.Topic,
			Priority: sc.Priority,
			Tags:     sc.Tags,
			Token:    sc.Token,
			Username: sc.Username,
			Password: sc.Password,
		}, client), nil
	case "discord":
		if sc.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		return NewDiscord(sc.Name, sc.URL, sc.Username, maxLen, client), nil
	case "wordpress":
		if sc.URL == "" || sc.Username == "" || sc.Password == "" {
			return nil, fmt.Errorf("url, username and password are required")
		}
		return NewWordPress(sc.Name, sc.URL, sc.Username, sc.Password, sc.Status, client), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", sc.Type)
	}
}
