package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
)

// WordPress creates a post per item through the WordPress REST API,
// authenticating with an application password.
type WordPress struct {
	name     string
	endpoint string
	username string
	password string
	status   string
	client   *http.Client
}

// NewWordPress creates a sink for the site at siteURL. status is the post
// status, "draft" when empty.
func NewWordPress(name, siteURL, username, password, status string, client *http.Client) *WordPress {
	if status == "" {
		status = "draft"
	}
	return &WordPress{
		name:     name,
		endpoint: strings.TrimRight(siteURL, "/") + "/wp-json/wp/v2/posts",
		username: username,
		password: password,
		status:   status,
		client:   client,
	}
}

func (w *WordPress) Name() string { return w.name }

type wpPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

func (w *WordPress) Deliver(ctx context.Context, item Item) error {
	header := http.Header{}
	header.Set("Authorization", basicAuth(w.username, w.password))

	err := postJSON(ctx, w.client, w.endpoint, wpPost{
		Title:   item.Title,
		Content: postBody(item),
		Status:  w.status,
	}, header)
	if err != nil {
		return &DeliveryError{Sink: w.name, Err: err}
	}
	return nil
}

func postBody(item Item) string {
	var sb strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(item.Summary), "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			fmt.Fprintf(&sb, "<p>%s</p>\n", html.EscapeString(para))
		}
	}
	if item.Link != "" {
		src := item.Feed
		if src == "" {
			src = "source"
		}
		fmt.Fprintf(&sb, "<p>Read more at <a href=\"%s\">%s</a></p>\n", html.EscapeString(item.Link), html.EscapeString(src))
	}
	return sb.String()
}
