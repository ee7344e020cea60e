package webtext

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTMLText(t *testing.T) {
	doc := `<html><head><title>Potato News</title><style>body{}</style></head>
<body><nav>Home | About</nav><h1>Big Harvest</h1><p>Farmers   report a <b>record</b> crop.</p>
<script>alert(1)</script><ul><li>one</li><li>two</li></ul></body></html>`

	title, text, err := HTMLText(doc)
	if err != nil {
		t.Fatalf("HTMLText: %v", err)
	}
	if title != "Potato News" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"Big Harvest", "Farmers report a record crop.", "- one", "- two"} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	for _, unwanted := range []string{"alert", "body{}", "About"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("text contains %q:\n%s", unwanted, text)
		}
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain   text", "plain text"},
		{"<p>Hello <a href=\"x\">world</a></p>", "Hello world"},
		{"Fish &amp; chips", "Fish & chips"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("anything", 0); got != "anything" {
		t.Errorf("Truncate(0) = %q", got)
	}
}

func TestFetch_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><head><title>T</title></head><body><p>" + strings.Repeat("word ", 50) + "</p></body></html>"))
	}))
	defer srv.Close()

	page, err := NewFetcher(0).Fetch(context.Background(), srv.URL, 20)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "T" {
		t.Errorf("Title = %q", page.Title)
	}
	if !strings.HasSuffix(page.Text, "...") || len([]rune(page.Text)) > 23 {
		t.Errorf("Text not truncated: %q", page.Text)
	}
}

func TestFetch_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 'P', 'N', 'G'})
		}
	}))
	defer srv.Close()

	f := NewFetcher(0)
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing", 0); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("missing page err = %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/image", 0); !errors.Is(err, ErrUnsupportedContent) {
		t.Errorf("image err = %v, want ErrUnsupportedContent", err)
	}
}

func TestPDFText_Invalid(t *testing.T) {
	if _, err := PDFText([]byte("%PDF-1.4 not really")); err == nil {
		t.Error("expected error for a broken pdf")
	}
}
