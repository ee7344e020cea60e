// Package webtext turns fetched web documents (HTML pages and PDFs) into
// plain text for summarization.
package webtext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const (
	maxBodyBytes = 8 << 20
	userAgent    = "Mozilla/5.0 (compatible; Tater/1.0)"
)

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// ErrUnsupportedContent is returned for documents that are neither HTML,
// plain text nor PDF.
var ErrUnsupportedContent = errors.New("unsupported content type")

// Page is the extracted text of one document.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentType string
}

// Fetcher downloads documents and extracts their text.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher. A zero timeout leaves deadlines to the
// caller's context.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads rawURL and returns its text. Text is cut to maxChars runes
// when maxChars > 0.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	ct := resp.Header.Get("Content-Type")
	page := Page{URL: rawURL, ContentType: ct}
	switch {
	case strings.Contains(ct, "application/pdf") || bytes.HasPrefix(body, []byte("%PDF-")):
		page.Text, err = PDFText(body)
	case strings.Contains(ct, "text/plain") || strings.Contains(ct, "text/markdown"):
		page.Text = strings.TrimSpace(string(body))
	case ct == "" || strings.Contains(ct, "html") || strings.Contains(ct, "xml"):
		page.Title, page.Text, err = HTMLText(string(body))
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedContent, ct)
	}
	if err != nil {
		return Page{}, err
	}
	page.Text = Truncate(page.Text, maxChars)
	return page, nil
}

// HTMLText parses an HTML document and returns its title and visible text.
func HTMLText(doc string) (title, text string, err error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", "", fmt.Errorf("parsing html: %w", err)
	}
	var sb strings.Builder
	walk(root, &sb, &title, 0)
	return strings.TrimSpace(title), clean(sb.String()), nil
}

// StripHTML returns the text of an HTML fragment such as a feed item
// description. Input that fails to parse is returned trimmed.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return clean(fragment)
	}
	_, text, err := HTMLText(fragment)
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return text
}

func walk(n *html.Node, sb *strings.Builder, title *string, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "form", "button":
			return
		case "title":
			if n.FirstChild != nil && *title == "" {
				*title = n.FirstChild.Data
			}
			return
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "blockquote", "pre":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, title, depth+1)
	}
}

func clean(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PDFText extracts the plain text of a PDF document. The pdf reader panics
// on some malformed files; that is reported as an error.
func PDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extracting pdf text: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return clean(buf.String()), nil
}

// Truncate cuts s to at most n runes, appending "..." when it had to cut.
// n <= 0 returns s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
