package notify

import (
	"context"
	"fmt"
	"net/http"
)

// Discord posts announcements to a channel through a Discord webhook,
// splitting them to the channel's message length limit.
type Discord struct {
	name     string
	url      string
	username string
	maxLen   int
	client   *http.Client
}

func NewDiscord(name, webhookURL, username string, maxLen int, client *http.Client) *Discord {
	if maxLen <= 0 || maxLen > 2000 {
		maxLen = 1500
	}
	return &Discord{name: name, url: webhookURL, username: username, maxLen: maxLen, client: client}
}

func (d *Discord) Name() string { return d.name }

type discordMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func (d *Discord) Deliver(ctx context.Context, item Item) error {
	chunks := Split(item.Announcement(), d.maxLen)
	for i, chunk := range chunks {
		if err := postJSON(ctx, d.client, d.url, discordMessage{Content: chunk, Username: d.username}, nil); err != nil {
			return &DeliveryError{Sink: d.name, Err: fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)}
		}
	}
	return nil
}
