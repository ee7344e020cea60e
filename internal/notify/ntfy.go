package notify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Ntfy publishes plain-text notifications to an ntfy topic.
type Ntfy struct {
	name     string
	server   string
	topic    string
	priority int
	tags     []string
	token    string
	username string
	password string
	client   *http.Client
}

// NtfyOptions configures an Ntfy sink. Token wins over basic auth.
type NtfyOptions struct {
	Server   string
	Topic    string
	Priority int
	Tags     []string
	Token    string
	Username string
	Password string
}

func NewNtfy(name string, opts NtfyOptions, client *http.Client) *Ntfy {
	server := strings.TrimRight(opts.Server, "/")
	if server == "" {
		server = "https://ntfy.sh"
	}
	prio := opts.Priority
	if prio < 1 || prio > 5 {
		prio = 3
	}
	return &Ntfy{
		name:     name,
		server:   server,
		topic:    strings.Trim(opts.Topic, "/ "),
		priority: prio,
		tags:     opts.Tags,
		token:    opts.Token,
		username: opts.Username,
		password: opts.Password,
		client:   client,
	}
}

func (n *Ntfy) Name() string { return n.name }

func (n *Ntfy) Deliver(ctx context.Context, item Item) error {
	link := StripTracking(item.Link)

	header := http.Header{}
	header.Set("Title", item.Title)
	header.Set("Priority", strconv.Itoa(n.priority))
	if len(n.tags) > 0 {
		header.Set("Tags", strings.Join(n.tags, ","))
	}
	if link != "" {
		header.Set("Click", link)
	}
	switch {
	case n.token != "":
		header.Set("Authorization", "Bearer "+n.token)
	case n.username != "" && n.password != "":
		header.Set("Authorization", basicAuth(n.username, n.password))
	}

	body := strings.TrimSpace(item.Summary)
	if link != "" {
		body += "\n\n" + link
	}
	if err := post(ctx, n.client, n.server+"/"+n.topic, "text/plain; charset=utf-8", []byte(body), header); err != nil {
		return &DeliveryError{Sink: n.name, Err: err}
	}
	return nil
}

// StripTracking removes utm_* query parameters from a URL. Unparseable input
// is returned unchanged.
func StripTracking(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
