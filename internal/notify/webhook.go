package notify

import (
	"context"
	"net/http"
)

// Webhook POSTs each item as JSON to a fixed URL.
type Webhook struct {
	name   string
	url    string
	token  string
	client *http.Client
}

func NewWebhook(name, url, token string, client *http.Client) *Webhook {
	return &Webhook{name: name, url: url, token: token, client: client}
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Deliver(ctx context.Context, item Item) error {
	header := http.Header{}
	if w.token != "" {
		header.Set("Authorization", "Bearer "+w.token)
	}
	if err := postJSON(ctx, w.client, w.url, item, header); err != nil {
		return &DeliveryError{Sink: w.name, Err: err}
	}
	return nil
}
